package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"receiptmanager/database"
	"receiptmanager/models"
	"receiptmanager/storage"
	"receiptmanager/utils"
)

func init() {
	utils.SetLogOutput(io.Discard)
}

var errInjected = errors.New("injected failure")

// faultyStore fails writes and listings for chosen keys and counts writes.
type faultyStore struct {
	storage.ObjectStore

	mu        sync.Mutex
	failPut   map[string]bool
	failList  map[string]bool
	failGet   map[string]bool
	putCalls  int
	listCalls int
}

func newFaultyStore(inner storage.ObjectStore) *faultyStore {
	return &faultyStore{
		ObjectStore: inner,
		failPut:     make(map[string]bool),
		failList:    make(map[string]bool),
		failGet:     make(map[string]bool),
	}
}

func (f *faultyStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	f.putCalls++
	fail := f.failPut[key]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.ObjectStore.PutBytes(ctx, key, data, contentType)
}

func (f *faultyStore) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	f.putCalls++
	fail := f.failPut[key]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.ObjectStore.PutStream(ctx, key, r, size, contentType)
}

func (f *faultyStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failGet[key]
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.ObjectStore.GetBytes(ctx, key)
}

func (f *faultyStore) ListChildren(ctx context.Context, prefix string) (*storage.Listing, error) {
	f.mu.Lock()
	f.listCalls++
	fail := f.failList[strings.Trim(prefix, "/")]
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.ObjectStore.ListChildren(ctx, prefix)
}

func (f *faultyStore) puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

// gatedStore holds every PutStream until release is closed.
type gatedStore struct {
	storage.ObjectStore
	release chan struct{}
}

func newGatedStore(inner storage.ObjectStore) *gatedStore {
	return &gatedStore{ObjectStore: inner, release: make(chan struct{})}
}

func (g *gatedStore) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.ObjectStore.PutStream(ctx, key, r, size, contentType)
}

// failingQueryMeta rejects filtered queries, like a backend missing an index.
type failingQueryMeta struct {
	database.MetadataStore
}

func (f failingQueryMeta) QueryEquals(ctx context.Context, collection string, filters []database.FieldFilter, limit int) ([]database.Document, error) {
	for _, filter := range filters {
		if strings.HasPrefix(filter.Field, "tags.") {
			return nil, errors.New("index required")
		}
	}
	return f.MetadataStore.QueryEquals(ctx, collection, filters, limit)
}

type recordingNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
	refreshes int
}

func (r *recordingNotifier) Success(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, text)
}

func (r *recordingNotifier) Error(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, text)
}

func (r *recordingNotifier) Refresh(...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
}

func (r *recordingNotifier) lastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return ""
	}
	return r.errors[len(r.errors)-1]
}

func (r *recordingNotifier) lastSuccess() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.successes) == 0 {
		return ""
	}
	return r.successes[len(r.successes)-1]
}

func putObject(t *testing.T, store storage.ObjectStore, key, body string) {
	t.Helper()
	require.NoError(t, store.PutBytes(context.Background(), key, []byte(body), "text/plain"))
}

func getObject(t *testing.T, store storage.ObjectStore, key string) string {
	t.Helper()
	data, err := store.GetBytes(context.Background(), key)
	require.NoError(t, err)
	return string(data)
}

func objectExists(t *testing.T, store storage.ObjectStore, key string) bool {
	t.Helper()
	ok, err := storage.Exists(context.Background(), store, key)
	require.NoError(t, err)
	return ok
}

// putFile stores an object together with its file document.
func putFile(t *testing.T, store storage.ObjectStore, meta database.MetadataStore, key, body string, tags map[string]string) string {
	t.Helper()
	putObject(t, store, key, body)
	folder, name := utils.SplitObjectKey(key)
	id, err := meta.CreateDocument(context.Background(), database.CollectionFiles, models.FileEntry{
		Name:        name,
		ParentPath:  folder,
		FullPath:    key,
		Size:        int64(len(body)),
		ContentType: "text/plain",
		UploadedAt:  time.Now(),
		UploadedBy:  "tester",
		Tags:        tags,
	})
	require.NoError(t, err)
	return id
}
