package services

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"receiptmanager/models"
)

// SortNames returns a display-ordered copy of names: case-insensitive and
// numeric-aware, so "Receipt 2" sorts before "receipt 10". The input is
// left untouched.
func SortNames(names []string) []string {
	sorted := append([]string(nil), names...)
	// Collators are not safe for concurrent use.
	c := collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
	sort.SliceStable(sorted, func(i, j int) bool {
		return c.CompareString(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// SortFileEntries orders entries in place by display name.
func SortFileEntries(entries []models.FileEntry) {
	c := collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
	sort.SliceStable(entries, func(i, j int) bool {
		return c.CompareString(entries[i].Name, entries[j].Name) < 0
	})
}
