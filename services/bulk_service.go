package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"receiptmanager/database"
	"receiptmanager/storage"
	"receiptmanager/utils"
)

type OverwritePolicy string

const (
	OverwriteSkip    OverwritePolicy = "skip"
	OverwriteReplace OverwritePolicy = "overwrite"
)

func (p OverwritePolicy) Valid() bool {
	return p == OverwriteSkip || p == OverwriteReplace
}

// Selection is a mixed set of files (object keys) and folders (paths).
type Selection struct {
	Files   []string `json:"files"`
	Folders []string `json:"folders"`
}

func (s Selection) Empty() bool {
	return len(s.Files) == 0 && len(s.Folders) == 0
}

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemSkipped   ItemStatus = "skipped"
	ItemFailed    ItemStatus = "failed"
)

type ItemOutcome struct {
	Source      string     `json:"source"`
	Destination string     `json:"destination,omitempty"`
	Status      ItemStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// BulkResult aggregates per-item outcomes. Folder placeholders are moved
// along with their folder but never counted.
type BulkResult struct {
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Items     []ItemOutcome `json:"items"`
}

// Err is nil unless at least one item failed.
func (r *BulkResult) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return &PartialFailureError{Succeeded: r.Succeeded, Skipped: r.Skipped, Failed: r.Failed}
}

// Record counts one item outcome.
func (r *BulkResult) Record(op string, outcome ItemOutcome) {
	switch outcome.Status {
	case ItemSucceeded:
		r.Succeeded++
	case ItemSkipped:
		r.Skipped++
	case ItemFailed:
		r.Failed++
	}
	r.Items = append(r.Items, outcome)
	bulkItemsTotal.WithLabelValues(op, string(outcome.Status)).Inc()
}

// Invalidator is told which folders a mutation touched.
type Invalidator interface {
	Invalidate(paths ...string)
}

// BulkService runs copy, move and delete over selections. All per-item
// work is sequential: one object round-trip finishes before the next
// starts, and no item's failure stops the walk.
type BulkService struct {
	store    storage.ObjectStore
	meta     database.MetadataStore
	tree     Invalidator
	notifier Notifier
}

func NewBulkService(store storage.ObjectStore, meta database.MetadataStore, tree Invalidator, notifier Notifier) *BulkService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &BulkService{store: store, meta: meta, tree: tree, notifier: notifier}
}

const maxUniqueAttempts = 1000

func (s *BulkService) Copy(ctx context.Context, sel Selection, destination string, policy OverwritePolicy) (*BulkResult, error) {
	return s.transfer(ctx, "copy", sel, destination, policy, false)
}

func (s *BulkService) Move(ctx context.Context, sel Selection, destination string, policy OverwritePolicy) (*BulkResult, error) {
	return s.transfer(ctx, "move", sel, destination, policy, true)
}

func (s *BulkService) transfer(ctx context.Context, op string, sel Selection, destination string, policy OverwritePolicy, move bool) (*BulkResult, error) {
	if sel.Empty() {
		return nil, fmt.Errorf("nothing selected: %w", ErrInvalidInput)
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown overwrite policy %q: %w", policy, ErrInvalidInput)
	}
	if err := checkContentKeys(sel.Files); err != nil {
		return nil, err
	}
	destination = utils.NormalizePath(destination)

	// The guard covers the whole selection before anything is written.
	for _, folder := range sel.Folders {
		src := utils.NormalizePath(folder)
		if utils.IsSameOrWithin(destination, src) {
			return nil, fmt.Errorf("cannot %s %s into %s: %w", op, src, destination, ErrInvalidDestination)
		}
	}

	result := &BulkResult{}
	touched := []string{destination}

	for _, key := range sel.Files {
		srcFolder, name := utils.SplitObjectKey(key)
		s.transferObject(ctx, op, key, utils.ObjectKey(destination, name), policy, move, result)
		if move {
			touched = append(touched, srcFolder)
		}
	}

	for _, folder := range sel.Folders {
		src := utils.NormalizePath(folder)
		s.walkFolder(ctx, op, src, utils.JoinFolder(destination, utils.FolderName(src)), policy, move, result)
		if move {
			touched = append(touched, utils.ParentPath(src), src)
		}
	}

	s.finish(op, result, touched)
	return result, result.Err()
}

func (s *BulkService) walkFolder(ctx context.Context, op, src, target string, policy OverwritePolicy, move bool, result *BulkResult) {
	listing, err := s.store.ListChildren(ctx, utils.ToObjectKeyPrefix(src))
	if err != nil {
		result.Record(op, ItemOutcome{Source: src, Destination: target, Status: ItemFailed, Error: err.Error()})
		return
	}

	var placeholders []string
	for _, key := range listing.Keys {
		if storage.IsPlaceholder(key) {
			placeholders = append(placeholders, key)
			continue
		}
		s.transferObject(ctx, op, key, utils.ObjectKey(target, path.Base(key)), policy, move, result)
	}

	for _, prefix := range listing.Prefixes {
		child := utils.FromObjectKeyPrefix(prefix)
		s.walkFolder(ctx, op, child, utils.JoinFolder(target, utils.FolderName(child)), policy, move, result)
	}

	for _, key := range placeholders {
		s.transferPlaceholder(ctx, key, utils.ObjectKey(target, storage.PlaceholderName), move)
	}
}

func (s *BulkService) transferObject(ctx context.Context, op, srcKey, destKey string, policy OverwritePolicy, move bool, result *BulkResult) {
	outcome := ItemOutcome{Source: srcKey, Destination: destKey}

	err := s.copyObject(ctx, srcKey, destKey, policy, move)
	switch {
	case err == nil:
		outcome.Status = ItemSucceeded
	case errors.Is(err, ErrConflict):
		outcome.Status = ItemSkipped
	default:
		outcome.Status = ItemFailed
		outcome.Error = err.Error()
		utils.LogWarningf("%s %s -> %s failed: %v", op, srcKey, destKey, err)
	}
	result.Record(op, outcome)
}

// copyObject copies one object, then deletes the source when moving. It
// returns ErrConflict when the destination is occupied under the skip
// policy or is the source itself.
func (s *BulkService) copyObject(ctx context.Context, srcKey, destKey string, policy OverwritePolicy, move bool) error {
	if srcKey == destKey {
		return fmt.Errorf("%s is already in place: %w", srcKey, ErrConflict)
	}

	exists, err := storage.Exists(ctx, s.store, destKey)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", destKey, err)
	}
	if exists && policy != OverwriteReplace {
		return fmt.Errorf("%s: %w", destKey, ErrConflict)
	}

	info, err := s.store.GetMetadata(ctx, srcKey)
	if err != nil {
		return mapStoreErr(err)
	}
	data, err := s.store.GetBytes(ctx, srcKey)
	if err != nil {
		return mapStoreErr(err)
	}
	if err := s.store.PutBytes(ctx, destKey, data, info.ContentType); err != nil {
		return fmt.Errorf("failed to write %s: %w", destKey, err)
	}

	// Source goes only after the write landed.
	if move {
		if err := s.store.DeleteObject(ctx, srcKey); err != nil {
			return fmt.Errorf("copied to %s but failed to remove source: %w", destKey, err)
		}
	}

	s.syncMetadata(ctx, srcKey, destKey, move)
	return nil
}

func (s *BulkService) transferPlaceholder(ctx context.Context, srcKey, destKey string, move bool) {
	if srcKey == destKey {
		return
	}
	exists, err := storage.Exists(ctx, s.store, destKey)
	if err == nil && !exists {
		err = s.store.PutBytes(ctx, destKey, nil, "")
	}
	if err != nil {
		utils.LogWarningf("Failed to place folder marker %s: %v", destKey, err)
		return
	}
	if move {
		if err := s.store.DeleteObject(ctx, srcKey); err != nil {
			utils.LogWarningf("Failed to remove folder marker %s: %v", srcKey, err)
		}
	}
}

// syncMetadata makes the file document follow its object. Failures are
// logged and tolerated: the object store stays authoritative.
func (s *BulkService) syncMetadata(ctx context.Context, srcKey, destKey string, move bool) {
	if s.meta == nil {
		return
	}

	srcDocs, err := s.meta.QueryEquals(ctx, database.CollectionFiles, []database.FieldFilter{{Field: "fullPath", Value: srcKey}}, 1)
	if err != nil {
		utils.LogWarningf("Metadata lookup for %s failed: %v", srcKey, err)
		return
	}
	destDocs, err := s.meta.QueryEquals(ctx, database.CollectionFiles, []database.FieldFilter{{Field: "fullPath", Value: destKey}}, 0)
	if err != nil {
		utils.LogWarningf("Metadata lookup for %s failed: %v", destKey, err)
		return
	}
	if len(srcDocs) == 0 {
		return
	}

	destFolder, destName := utils.SplitObjectKey(destKey)
	now := time.Now()

	if move {
		// An overwritten destination's document is superseded by the moved one.
		for _, doc := range destDocs {
			if err := s.meta.DeleteDocument(ctx, database.CollectionFiles, doc.ID); err != nil {
				utils.LogWarningf("Failed to drop superseded metadata %s: %v", doc.ID, err)
			}
		}
		err := s.meta.UpdateDocument(ctx, database.CollectionFiles, srcDocs[0].ID, map[string]interface{}{
			"name":       destName,
			"fullPath":   destKey,
			"parentPath": destFolder,
			"updatedAt":  now,
		})
		if err != nil {
			utils.LogWarningf("Failed to move metadata %s: %v", srcDocs[0].ID, err)
		}
		return
	}

	entry, err := decodeFileEntry(srcDocs[0])
	if err != nil {
		utils.LogWarningf("Failed to read metadata %s: %v", srcDocs[0].ID, err)
		return
	}
	entry.Name = destName
	entry.FullPath = destKey
	entry.ParentPath = destFolder
	entry.UpdatedAt = &now

	if len(destDocs) > 0 {
		err = s.meta.SetDocument(ctx, database.CollectionFiles, destDocs[0].ID, entry, false)
	} else {
		_, err = s.meta.CreateDocument(ctx, database.CollectionFiles, entry)
	}
	if err != nil {
		utils.LogWarningf("Failed to copy metadata for %s: %v", destKey, err)
	}
}

// CopyFile copies a single object to destKey. Unlike bulk copy, a
// conflict under the skip policy is returned as ErrConflict.
func (s *BulkService) CopyFile(ctx context.Context, srcKey, destKey string, policy OverwritePolicy) error {
	return s.singleFile(ctx, "copy", srcKey, destKey, policy, false)
}

// MoveFile is CopyFile followed by removal of the source object.
func (s *BulkService) MoveFile(ctx context.Context, srcKey, destKey string, policy OverwritePolicy) error {
	return s.singleFile(ctx, "move", srcKey, destKey, policy, true)
}

func (s *BulkService) singleFile(ctx context.Context, op, srcKey, destKey string, policy OverwritePolicy, move bool) error {
	if !policy.Valid() {
		return fmt.Errorf("unknown overwrite policy %q: %w", policy, ErrInvalidInput)
	}
	if err := checkContentKeys([]string{srcKey, destKey}); err != nil {
		return err
	}
	if err := s.copyObject(ctx, srcKey, destKey, policy, move); err != nil {
		bulkItemsTotal.WithLabelValues(op, string(ItemFailed)).Inc()
		return err
	}
	bulkItemsTotal.WithLabelValues(op, string(ItemSucceeded)).Inc()

	srcFolder, _ := utils.SplitObjectKey(srcKey)
	destFolder, _ := utils.SplitObjectKey(destKey)
	s.invalidate(srcFolder, destFolder)
	s.notifier.Refresh(srcFolder, destFolder)
	return nil
}

// Delete removes every selected file and, recursively, every object under
// the selected folders. Deleting something already gone succeeds.
func (s *BulkService) Delete(ctx context.Context, sel Selection) (*BulkResult, error) {
	if sel.Empty() {
		return nil, fmt.Errorf("nothing selected: %w", ErrInvalidInput)
	}
	if err := checkContentKeys(sel.Files); err != nil {
		return nil, err
	}
	for _, folder := range sel.Folders {
		if utils.NormalizePath(folder) == utils.RootPath {
			return nil, fmt.Errorf("cannot delete the root folder: %w", ErrInvalidDestination)
		}
	}

	result := &BulkResult{}
	var touched []string

	for _, key := range sel.Files {
		s.deleteItem(ctx, key, result)
		folder, _ := utils.SplitObjectKey(key)
		touched = append(touched, folder)
	}
	for _, folder := range sel.Folders {
		src := utils.NormalizePath(folder)
		s.deleteFolder(ctx, src, result)
		touched = append(touched, utils.ParentPath(src), src)
	}

	s.finish("delete", result, touched)
	return result, result.Err()
}

func (s *BulkService) deleteFolder(ctx context.Context, folder string, result *BulkResult) {
	listing, err := s.store.ListChildren(ctx, utils.ToObjectKeyPrefix(folder))
	if err != nil {
		result.Record("delete", ItemOutcome{Source: folder, Status: ItemFailed, Error: err.Error()})
		return
	}

	var placeholders []string
	for _, key := range listing.Keys {
		if storage.IsPlaceholder(key) {
			placeholders = append(placeholders, key)
			continue
		}
		s.deleteItem(ctx, key, result)
	}
	for _, prefix := range listing.Prefixes {
		s.deleteFolder(ctx, utils.FromObjectKeyPrefix(prefix), result)
	}
	for _, key := range placeholders {
		if err := s.store.DeleteObject(ctx, key); err != nil {
			utils.LogWarningf("Failed to remove folder marker %s: %v", key, err)
		}
	}
}

func (s *BulkService) deleteItem(ctx context.Context, key string, result *BulkResult) {
	outcome := ItemOutcome{Source: key, Status: ItemSucceeded}
	if err := s.DeleteObjectAndMetadata(ctx, key); err != nil {
		outcome.Status = ItemFailed
		outcome.Error = err.Error()
		utils.LogWarningf("delete %s failed: %v", key, err)
	}
	result.Record("delete", outcome)
}

// DeleteObjectAndMetadata removes the object, then every file document
// pointing at it. The two steps are independent calls; a failure between
// them leaves an orphaned document.
func (s *BulkService) DeleteObjectAndMetadata(ctx context.Context, key string) error {
	if err := s.store.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if s.meta == nil {
		return nil
	}

	docs, err := s.meta.QueryEquals(ctx, database.CollectionFiles, []database.FieldFilter{{Field: "fullPath", Value: key}}, 0)
	if err != nil {
		return fmt.Errorf("deleted %s but failed to find its metadata: %w", key, err)
	}
	for _, doc := range docs {
		if err := s.meta.DeleteDocument(ctx, database.CollectionFiles, doc.ID); err != nil {
			return fmt.Errorf("deleted %s but failed to delete metadata %s: %w", key, doc.ID, err)
		}
	}
	return nil
}

// EnsureUniquePath returns desiredName if no object exists under it in
// folder, otherwise the first free "name (n).ext". The probe and the later
// write are separate calls, so concurrent writers can still collide.
func (s *BulkService) EnsureUniquePath(ctx context.Context, folder, desiredName string) (string, error) {
	return ensureUniqueName(ctx, s.store, folder, desiredName, nil)
}

// ensureUniqueName also treats keys in reserved as taken.
func ensureUniqueName(ctx context.Context, store storage.ObjectStore, folder, desiredName string, reserved map[string]bool) (string, error) {
	folder = utils.NormalizePath(folder)
	base, ext := utils.SplitExt(desiredName)

	for n := 0; n < maxUniqueAttempts; n++ {
		name := desiredName
		if n > 0 {
			name = fmt.Sprintf("%s (%d)%s", base, n, ext)
		}
		key := utils.ObjectKey(folder, name)
		if reserved[key] {
			continue
		}
		exists, err := storage.Exists(ctx, store, key)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", key, err)
		}
		if !exists {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s: %w", desiredName, folder, ErrConflict)
}

// RenameFolder moves every object below folder to a sibling named newName.
func (s *BulkService) RenameFolder(ctx context.Context, folder, newName string) (*BulkResult, error) {
	folder = utils.NormalizePath(folder)
	if folder == utils.RootPath {
		return nil, fmt.Errorf("cannot rename the root folder: %w", ErrInvalidInput)
	}
	if err := ValidateName(newName); err != nil {
		return nil, err
	}

	target := utils.JoinFolder(utils.ParentPath(folder), newName)
	if target == folder {
		return &BulkResult{}, nil
	}

	listing, err := s.store.ListChildren(ctx, utils.ToObjectKeyPrefix(target))
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", target, err)
	}
	if len(listing.Keys) > 0 || len(listing.Prefixes) > 0 {
		return nil, fmt.Errorf("%s: %w", target, ErrConflict)
	}

	result := &BulkResult{}
	s.walkFolder(ctx, "move", folder, target, OverwriteSkip, true, result)
	s.finish("rename", result, []string{utils.ParentPath(folder), folder, target})
	return result, result.Err()
}

// checkContentKeys rejects the selection if any file key lies outside the
// content root.
func checkContentKeys(keys []string) error {
	for _, key := range keys {
		if !utils.IsContentKey(key) {
			return fmt.Errorf("%q is not a file key under %s: %w", key, utils.RootPath, ErrInvalidInput)
		}
	}
	return nil
}

// ValidateName rejects names that cannot be a single path segment.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid name %q: %w", name, ErrInvalidInput)
	}
	if trimmed == storage.PlaceholderName {
		return fmt.Errorf("reserved name %q: %w", name, ErrInvalidInput)
	}
	return nil
}

func (s *BulkService) invalidate(paths ...string) {
	if s.tree != nil {
		s.tree.Invalidate(paths...)
	}
}

func (s *BulkService) finish(op string, result *BulkResult, touched []string) {
	s.invalidate(touched...)
	s.notifier.Refresh(touched...)

	if result.Failed > 0 {
		s.notifier.Error(fmt.Sprintf("%s completed with %d errors (%d succeeded, %d skipped)", capitalize(op), result.Failed, result.Succeeded, result.Skipped))
		return
	}
	text := fmt.Sprintf("%s finished: %d succeeded", capitalize(op), result.Succeeded)
	if result.Skipped > 0 {
		text += fmt.Sprintf(", %d skipped", result.Skipped)
	}
	s.notifier.Success(text)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("%v: %w", err, ErrNotFound)
	}
	return err
}
