package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"receiptmanager/database"
	"receiptmanager/models"
	"receiptmanager/storage"
	"receiptmanager/utils"
)

type FileService struct {
	store    storage.ObjectStore
	meta     database.MetadataStore
	bulk     *BulkService
	tree     Invalidator
	notifier Notifier
	urls     *expirable.LRU[string, string]
}

func NewFileService(store storage.ObjectStore, meta database.MetadataStore, bulk *BulkService, tree Invalidator, notifier Notifier, urlCacheSize int, urlTTL time.Duration) *FileService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if urlCacheSize <= 0 {
		urlCacheSize = 512
	}
	// Cached URLs must expire well before the signed URL itself does.
	cacheTTL := urlTTL / 2
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	return &FileService{
		store:    store,
		meta:     meta,
		bulk:     bulk,
		tree:     tree,
		notifier: notifier,
		urls:     expirable.NewLRU[string, string](urlCacheSize, nil, cacheTTL),
	}
}

// GetFile loads a file document by id
func (s *FileService) GetFile(ctx context.Context, id string) (*models.FileEntry, error) {
	doc, err := s.meta.GetDocument(ctx, database.CollectionFiles, id)
	if err != nil {
		return nil, mapDocErr(err)
	}
	return decodeFileEntry(*doc)
}

// FindByObjectKey resolves the document that points at key. This is a
// field lookup, not a join.
func (s *FileService) FindByObjectKey(ctx context.Context, key string) (*models.FileEntry, error) {
	docs, err := s.meta.QueryEquals(ctx, database.CollectionFiles, []database.FieldFilter{{Field: "fullPath", Value: key}}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no metadata for %s: %w", key, ErrNotFound)
	}
	return decodeFileEntry(docs[0])
}

// ListFiles returns the documents of files directly inside folder, sorted
// for display.
func (s *FileService) ListFiles(ctx context.Context, folder string) ([]models.FileEntry, error) {
	folder = utils.NormalizePath(folder)
	docs, err := s.meta.QueryEquals(ctx, database.CollectionFiles, []database.FieldFilter{{Field: "parentPath", Value: folder}}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", folder, err)
	}

	entries := decodeFileEntries(docs)
	SortFileEntries(entries)
	return entries, nil
}

// RenameFile changes the object key itself: copy to the new key, then
// delete the old one. The new name must be free.
func (s *FileService) RenameFile(ctx context.Context, id, newName string) (*models.FileEntry, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}
	entry, err := s.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}

	destKey := utils.ObjectKey(entry.ParentPath, newName)
	if destKey == entry.FullPath {
		return entry, nil
	}
	if err := s.bulk.MoveFile(ctx, entry.FullPath, destKey, OverwriteSkip); err != nil {
		s.notifier.Error(fmt.Sprintf("Rename of %s failed: %v", entry.Name, err))
		return nil, err
	}
	s.urls.Remove(entry.FullPath)
	s.notifier.Success(fmt.Sprintf("Renamed %s to %s", entry.Name, newName))
	return s.GetFile(ctx, id)
}

// RenameDisplayName changes only the document's name; the object keeps
// its key.
func (s *FileService) RenameDisplayName(ctx context.Context, id, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	err := s.meta.UpdateDocument(ctx, database.CollectionFiles, id, map[string]interface{}{
		"name":      newName,
		"updatedAt": time.Now(),
	})
	if err != nil {
		return mapDocErr(err)
	}
	return nil
}

// DeleteFile removes the object and then its document
func (s *FileService) DeleteFile(ctx context.Context, id string) error {
	entry, err := s.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.bulk.DeleteObjectAndMetadata(ctx, entry.FullPath); err != nil {
		s.notifier.Error(fmt.Sprintf("Delete of %s failed: %v", entry.Name, err))
		return err
	}
	// The document may carry a stale fullPath and survive the lookup above.
	if err := s.meta.DeleteDocument(ctx, database.CollectionFiles, id); err != nil {
		return fmt.Errorf("failed to delete metadata %s: %w", id, err)
	}

	s.urls.Remove(entry.FullPath)
	if s.tree != nil {
		s.tree.Invalidate(entry.ParentPath)
	}
	s.notifier.Refresh(entry.ParentPath)
	s.notifier.Success(fmt.Sprintf("Deleted %s", entry.Name))
	return nil
}

// UpdateTags sets and removes individual tag keys without touching the
// rest of the map.
func (s *FileService) UpdateTags(ctx context.Context, id string, set map[string]string, remove []string) (*models.FileEntry, error) {
	fields := make(map[string]interface{}, len(set)+len(remove)+1)
	for key, value := range set {
		if err := validateTagKey(key); err != nil {
			return nil, err
		}
		fields["tags."+key] = value
	}
	for _, key := range remove {
		if err := validateTagKey(key); err != nil {
			return nil, err
		}
		if _, ok := set[key]; ok {
			return nil, fmt.Errorf("tag %q both set and removed: %w", key, ErrInvalidInput)
		}
		fields["tags."+key] = database.DeleteField
	}
	fields["updatedAt"] = time.Now()

	if err := s.meta.UpdateDocument(ctx, database.CollectionFiles, id, fields); err != nil {
		return nil, mapDocErr(err)
	}
	return s.GetFile(ctx, id)
}

// DownloadURL returns a signed URL for the file's object, reusing a cached
// one while it is fresh.
func (s *FileService) DownloadURL(ctx context.Context, id string) (string, error) {
	entry, err := s.GetFile(ctx, id)
	if err != nil {
		return "", err
	}
	if url, ok := s.urls.Get(entry.FullPath); ok {
		return url, nil
	}

	url, err := s.store.GetDownloadURL(ctx, entry.FullPath)
	if err != nil {
		return "", mapStoreErr(err)
	}
	s.urls.Add(entry.FullPath, url)
	return url, nil
}

// CreateFolder materializes an empty folder with a placeholder object.
func (s *FileService) CreateFolder(ctx context.Context, parent, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	parent = utils.NormalizePath(parent)
	folder := utils.JoinFolder(parent, name)

	listing, err := s.store.ListChildren(ctx, utils.ToObjectKeyPrefix(folder))
	if err != nil {
		return "", fmt.Errorf("failed to check %s: %w", folder, err)
	}
	if len(listing.Keys) > 0 || len(listing.Prefixes) > 0 {
		return "", fmt.Errorf("%s: %w", folder, ErrConflict)
	}

	if err := s.store.PutBytes(ctx, utils.ObjectKey(folder, storage.PlaceholderName), nil, ""); err != nil {
		s.notifier.Error(fmt.Sprintf("Could not create folder %s", name))
		return "", fmt.Errorf("failed to create folder %s: %w", folder, err)
	}

	if s.tree != nil {
		s.tree.Invalidate(parent)
	}
	s.notifier.Refresh(parent)
	s.notifier.Success(fmt.Sprintf("Created folder %s", name))
	return folder, nil
}

func validateTagKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, ".$") {
		return fmt.Errorf("invalid tag key %q: %w", key, ErrInvalidInput)
	}
	return nil
}

func decodeFileEntry(doc database.Document) (*models.FileEntry, error) {
	var entry models.FileEntry
	if err := database.Decode(doc.Data, &entry); err != nil {
		return nil, err
	}
	entry.ID = doc.ID
	return &entry, nil
}

func decodeFileEntries(docs []database.Document) []models.FileEntry {
	entries := make([]models.FileEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := decodeFileEntry(doc)
		if err != nil {
			utils.LogWarningf("Skipping unreadable file document %s: %v", doc.ID, err)
			continue
		}
		entries = append(entries, *entry)
	}
	return entries
}

func mapDocErr(err error) error {
	if errors.Is(err, database.ErrDocumentNotFound) {
		return fmt.Errorf("%v: %w", err, ErrNotFound)
	}
	return err
}
