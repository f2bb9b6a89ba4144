package services

import (
	"context"
	"fmt"
	"strings"

	"receiptmanager/database"
	"receiptmanager/models"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
)

type CombineMode string

const (
	CombineAnd CombineMode = "AND"
	CombineOr  CombineMode = "OR"
)

type Condition struct {
	Key      string   `json:"key" validate:"required"`
	Operator Operator `json:"operator" validate:"required,oneof=equals contains notContains"`
	Value    string   `json:"value"`
}

type SearchQuery struct {
	Conditions []Condition `json:"conditions" validate:"dive"`
	Combine    CombineMode `json:"combine" validate:"omitempty,oneof=AND OR"`
}

// SearchResult holds at most the configured number of files. Truncated
// means more matches may exist; it is not a page cursor.
type SearchResult struct {
	Files     []models.FileEntry `json:"files"`
	Strategy  string             `json:"strategy"`
	Hint      string             `json:"hint,omitempty"`
	Truncated bool               `json:"truncated"`
}

// SearchStrategy is one way of evaluating a query.
type SearchStrategy interface {
	Name() string
	Applicable(q SearchQuery) bool
	Search(ctx context.Context, q SearchQuery, limit int) ([]models.FileEntry, bool, error)
}

// IndexedStrategy pushes all-equals AND queries down to the metadata store
// as field equality filters on tags.<key>.
type IndexedStrategy struct {
	meta database.MetadataStore
}

func NewIndexedStrategy(meta database.MetadataStore) *IndexedStrategy {
	return &IndexedStrategy{meta: meta}
}

func (s *IndexedStrategy) Name() string { return "indexed" }

func (s *IndexedStrategy) Applicable(q SearchQuery) bool {
	if q.Combine != CombineAnd || len(q.Conditions) == 0 {
		return false
	}
	for _, c := range q.Conditions {
		if c.Operator != OpEquals {
			return false
		}
	}
	return true
}

func (s *IndexedStrategy) Search(ctx context.Context, q SearchQuery, limit int) ([]models.FileEntry, bool, error) {
	filters := make([]database.FieldFilter, 0, len(q.Conditions))
	for _, c := range q.Conditions {
		filters = append(filters, database.FieldFilter{Field: "tags." + c.Key, Value: c.Value})
	}

	docs, err := s.meta.QueryEquals(ctx, database.CollectionFiles, filters, limit+1)
	if err != nil {
		return nil, false, err
	}
	truncated := len(docs) > limit
	if truncated {
		docs = docs[:limit]
	}
	return decodeFileEntries(docs), truncated, nil
}

// ScanStrategy reads a bounded page of all file documents and evaluates
// the query in process. It handles every query shape.
type ScanStrategy struct {
	meta      database.MetadataStore
	pageLimit int
}

func NewScanStrategy(meta database.MetadataStore, pageLimit int) *ScanStrategy {
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	return &ScanStrategy{meta: meta, pageLimit: pageLimit}
}

func (s *ScanStrategy) Name() string { return "scan" }

func (s *ScanStrategy) Applicable(SearchQuery) bool { return true }

func (s *ScanStrategy) Search(ctx context.Context, q SearchQuery, limit int) ([]models.FileEntry, bool, error) {
	docs, err := s.meta.QueryEquals(ctx, database.CollectionFiles, nil, s.pageLimit)
	if err != nil {
		return nil, false, err
	}
	truncated := len(docs) >= s.pageLimit

	var matched []models.FileEntry
	for _, entry := range decodeFileEntries(docs) {
		if !Matches(entry.Tags, q.Conditions, q.Combine) {
			continue
		}
		if len(matched) == limit {
			truncated = true
			break
		}
		matched = append(matched, entry)
	}
	return matched, truncated, nil
}

// Matches evaluates conditions against a tag map, case-insensitively. A
// missing tag reads as the empty string; no conditions match everything.
func Matches(tags map[string]string, conditions []Condition, combine CombineMode) bool {
	if len(conditions) == 0 {
		return true
	}
	for _, c := range conditions {
		ok := matchCondition(tags, c)
		if combine == CombineOr && ok {
			return true
		}
		if combine != CombineOr && !ok {
			return false
		}
	}
	return combine != CombineOr
}

func matchCondition(tags map[string]string, c Condition) bool {
	actual := strings.ToLower(tags[c.Key])
	want := strings.ToLower(c.Value)
	switch c.Operator {
	case OpEquals:
		return actual == want
	case OpContains:
		return strings.Contains(actual, want)
	case OpNotContains:
		return !strings.Contains(actual, want)
	}
	return false
}

type SearchService struct {
	strategies []SearchStrategy
	fallback   SearchStrategy
	limit      int
}

// NewSearchService tries strategies in order; fallback runs when the chosen
// strategy fails.
func NewSearchService(limit int, fallback SearchStrategy, strategies ...SearchStrategy) *SearchService {
	if limit <= 0 {
		limit = 200
	}
	return &SearchService{strategies: strategies, fallback: fallback, limit: limit}
}

// NewDefaultSearchService wires the indexed fast path in front of a scan.
func NewDefaultSearchService(meta database.MetadataStore, limit int) *SearchService {
	scan := NewScanStrategy(meta, limit*10)
	return NewSearchService(limit, scan, NewIndexedStrategy(meta), scan)
}

func (s *SearchService) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if q.Combine == "" {
		q.Combine = CombineAnd
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	strategy := s.fallback
	for _, candidate := range s.strategies {
		if candidate.Applicable(q) {
			strategy = candidate
			break
		}
	}

	files, truncated, err := strategy.Search(ctx, q, s.limit)
	result := &SearchResult{Strategy: strategy.Name()}
	if err != nil {
		if strategy == s.fallback {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		result.Hint = fmt.Sprintf("%s search unavailable (%v); results come from a bounded scan", strategy.Name(), err)
		files, truncated, err = s.fallback.Search(ctx, q, s.limit)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		result.Strategy = s.fallback.Name()
	}

	searchesTotal.WithLabelValues(result.Strategy).Inc()
	if files == nil {
		files = []models.FileEntry{}
	}
	result.Files = files
	result.Truncated = truncated
	return result, nil
}

func validateQuery(q SearchQuery) error {
	if q.Combine != CombineAnd && q.Combine != CombineOr {
		return fmt.Errorf("unknown combine mode %q: %w", q.Combine, ErrInvalidInput)
	}
	for _, c := range q.Conditions {
		if strings.TrimSpace(c.Key) == "" {
			return fmt.Errorf("condition without key: %w", ErrInvalidInput)
		}
		switch c.Operator {
		case OpEquals, OpContains, OpNotContains:
		default:
			return fmt.Errorf("unknown operator %q: %w", c.Operator, ErrInvalidInput)
		}
	}
	return nil
}
