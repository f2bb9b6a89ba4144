package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptmanager/database"
	"receiptmanager/storage"
)

func newFileFixture(t *testing.T) (*FileService, *storage.MemoryStore, *database.MemoryStore, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	meta := database.NewMemoryStore()
	notifier := &recordingNotifier{}
	bulk := NewBulkService(store, meta, nil, notifier)
	return NewFileService(store, meta, bulk, nil, notifier, 16, 0), store, meta, notifier
}

func TestFileService_ListFilesSorted(t *testing.T) {
	files, store, meta, _ := newFileFixture(t)
	putFile(t, store, meta, "files/r/receipt 10.pdf", "x", nil)
	putFile(t, store, meta, "files/r/Receipt 2.pdf", "x", nil)
	putFile(t, store, meta, "files/r/apple.pdf", "x", nil)
	putFile(t, store, meta, "files/other.pdf", "x", nil)

	entries, err := files.ListFiles(context.Background(), "files/r")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "apple.pdf", entries[0].Name)
	assert.Equal(t, "Receipt 2.pdf", entries[1].Name)
	assert.Equal(t, "receipt 10.pdf", entries[2].Name)
	assert.NotEmpty(t, entries[0].ID)
}

func TestFileService_RenameFileMovesObject(t *testing.T) {
	files, store, meta, notifier := newFileFixture(t)
	id := putFile(t, store, meta, "files/r/old.pdf", "data", nil)
	putObject(t, store, "files/r/taken.pdf", "other")
	ctx := context.Background()

	_, err := files.RenameFile(ctx, id, "taken.pdf")
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, notifier.lastError(), "old.pdf")

	entry, err := files.RenameFile(ctx, id, "new.pdf")
	require.NoError(t, err)
	assert.Equal(t, "new.pdf", entry.Name)
	assert.Equal(t, "files/r/new.pdf", entry.FullPath)
	assert.Equal(t, "data", getObject(t, store, "files/r/new.pdf"))
	assert.False(t, objectExists(t, store, "files/r/old.pdf"))

	_, err = files.RenameFile(ctx, id, "../escape.pdf")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFileService_RenameDisplayNameKeepsKey(t *testing.T) {
	files, store, meta, _ := newFileFixture(t)
	id := putFile(t, store, meta, "files/old.pdf", "data", nil)
	ctx := context.Background()

	require.NoError(t, files.RenameDisplayName(ctx, id, "Lunch.pdf"))
	entry, err := files.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Lunch.pdf", entry.Name)
	assert.Equal(t, "files/old.pdf", entry.FullPath)
	assert.NotNil(t, entry.UpdatedAt)

	assert.ErrorIs(t, files.RenameDisplayName(ctx, "missing", "x.pdf"), ErrNotFound)
}

func TestFileService_DeleteFile(t *testing.T) {
	files, store, meta, notifier := newFileFixture(t)
	id := putFile(t, store, meta, "files/a.pdf", "data", nil)
	ctx := context.Background()

	require.NoError(t, files.DeleteFile(ctx, id))
	assert.False(t, objectExists(t, store, "files/a.pdf"))
	assert.Equal(t, "Deleted a.pdf", notifier.lastSuccess())

	assert.ErrorIs(t, files.DeleteFile(ctx, id), ErrNotFound)
}

func TestFileService_UpdateTags(t *testing.T) {
	files, store, meta, _ := newFileFixture(t)
	id := putFile(t, store, meta, "files/a.pdf", "data", map[string]string{"vendor": "ACME", "year": "2023"})
	ctx := context.Background()

	entry, err := files.UpdateTags(ctx, id, map[string]string{"total": "12.50", "year": "2024"}, []string{"vendor"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"total": "12.50", "year": "2024"}, entry.Tags)

	_, err = files.UpdateTags(ctx, id, map[string]string{"a.b": "x"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = files.UpdateTags(ctx, id, map[string]string{"year": "1"}, []string{"year"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = files.UpdateTags(ctx, "missing", map[string]string{"year": "1"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileService_DownloadURLCached(t *testing.T) {
	files, store, meta, _ := newFileFixture(t)
	id := putFile(t, store, meta, "files/a.pdf", "data", nil)
	ctx := context.Background()

	url, err := files.DownloadURL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "memory://files/a.pdf", url)

	// Served from cache even though the object is gone.
	require.NoError(t, store.DeleteObject(ctx, "files/a.pdf"))
	cached, err := files.DownloadURL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, url, cached)
}

func TestFileService_CreateFolder(t *testing.T) {
	files, store, _, notifier := newFileFixture(t)
	ctx := context.Background()

	folder, err := files.CreateFolder(ctx, "/files/", "Taxes")
	require.NoError(t, err)
	assert.Equal(t, "/files/Taxes/", folder)
	assert.True(t, objectExists(t, store, "files/Taxes/.keep"))
	assert.Equal(t, "Created folder Taxes", notifier.lastSuccess())

	_, err = files.CreateFolder(ctx, "/files/", "Taxes")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = files.CreateFolder(ctx, "/files/", ".keep")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
