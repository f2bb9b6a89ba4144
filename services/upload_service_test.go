package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptmanager/database"
	"receiptmanager/models"
	"receiptmanager/storage"
)

func waitSession(t *testing.T, session *UploadSession) BatchStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, session.Wait(ctx))
	return session.Snapshot()
}

func taskStatus(session *UploadSession, key string) models.UploadStatus {
	for _, task := range session.Snapshot().Tasks {
		if task.Key == key {
			return task.Status
		}
	}
	return ""
}

func TestUploadService_StoresFilesAndMetadata(t *testing.T) {
	store := storage.NewMemoryStore()
	meta := database.NewMemoryStore()
	notifier := &recordingNotifier{}
	tree := NewTreeService(store, false)
	svc := NewUploadService(store, meta, nil, tree, notifier, 2, 0, time.Minute)

	_, err := tree.LoadChildren(context.Background(), "/files/")
	require.NoError(t, err)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/inbox/",
		UploadedBy:  "user-1",
		Files: []UploadFile{
			{Name: "invoice.pdf", Data: []byte("%PDF-1.4\n%receipt")},
			{Name: "photo.jpg", Data: encodeTestJPEG(t, 8, 8)},
			{Name: "a.txt", RelativePath: "Trip/day1/a.txt", ContentType: "text/plain", Data: []byte("hello")},
		},
	})
	require.NoError(t, err)

	status := waitSession(t, session)
	assert.True(t, status.Complete)
	assert.Equal(t, 3, status.Done)
	assert.Equal(t, []string{
		"files/inbox/Trip/day1/a.txt",
		"files/inbox/invoice.pdf",
		"files/inbox/photo.jpg",
	}, store.Keys())

	for _, task := range status.Tasks {
		assert.Equal(t, task.BytesTotal, task.BytesTransferred)
		assert.NotEmpty(t, task.FileID)
	}

	docs, err := meta.QueryEquals(context.Background(), database.CollectionFiles, nil, 0)
	require.NoError(t, err)
	entries := decodeFileEntries(docs)
	require.Len(t, entries, 3)
	byName := make(map[string]models.FileEntry)
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, "application/pdf", byName["invoice.pdf"].ContentType)
	assert.Equal(t, models.OCRStatus(""), byName["invoice.pdf"].OCRStatus)
	assert.Equal(t, "image/jpeg", byName["photo.jpg"].ContentType)
	assert.Equal(t, models.OCRStatusPending, byName["photo.jpg"].OCRStatus)
	assert.Equal(t, "/files/inbox/Trip/day1/", byName["a.txt"].ParentPath)
	assert.Equal(t, "user-1", byName["a.txt"].UploadedBy)

	assert.Equal(t, "Uploaded 3 files", notifier.lastSuccess())
	assert.False(t, tree.View("/files/").Materialized)
}

func TestUploadService_UniqueNamesWithinBatch(t *testing.T) {
	store := storage.NewMemoryStore()
	putObject(t, store, "files/docs/report.pdf", "existing")
	svc := NewUploadService(store, database.NewMemoryStore(), nil, nil, nil, 4, 0, time.Minute)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/docs/",
		Files: []UploadFile{
			{Name: "report.pdf", ContentType: "application/pdf", Data: []byte("one")},
			{Name: "report.pdf", ContentType: "application/pdf", Data: []byte("two")},
		},
	})
	require.NoError(t, err)

	status := waitSession(t, session)
	require.Equal(t, 2, status.Done)

	var keys []string
	for _, task := range status.Tasks {
		keys = append(keys, task.ObjectKey)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"files/docs/report (1).pdf", "files/docs/report (2).pdf"}, keys)
	assert.Equal(t, "existing", getObject(t, store, "files/docs/report.pdf"))
	assert.Equal(t, "report.pdf#1", status.Tasks[1].Key)
}

func TestUploadService_PauseAndResume(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := newGatedStore(mem)
	svc := NewUploadService(store, database.NewMemoryStore(), nil, nil, nil, 1, 0, time.Minute)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/",
		Files: []UploadFile{
			{Name: "first.txt", ContentType: "text/plain", Data: []byte("first")},
			{Name: "second.txt", ContentType: "text/plain", Data: []byte("second")},
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return taskStatus(session, "first.txt") == models.UploadStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, session.Pause(""))
	assert.Equal(t, models.UploadStatusPaused, taskStatus(session, "first.txt"))
	assert.Equal(t, models.UploadStatusPaused, taskStatus(session, "second.txt"))

	close(store.release)
	assert.Never(t, func() bool { return session.IsComplete() }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, mem.Keys())

	require.ErrorIs(t, session.Resume("missing.txt"), ErrNotFound)
	require.NoError(t, session.Resume(""))

	status := waitSession(t, session)
	assert.Equal(t, 2, status.Done)
	assert.Equal(t, "second", getObject(t, mem, "files/second.txt"))
	assert.ErrorIs(t, session.Pause("first.txt"), ErrInvalidTransition)
}

func TestUploadService_Cancel(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := newGatedStore(mem)
	notifier := &recordingNotifier{}
	svc := NewUploadService(store, database.NewMemoryStore(), nil, nil, notifier, 1, 0, time.Minute)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/",
		Files: []UploadFile{
			{Name: "first.txt", ContentType: "text/plain", Data: []byte("first")},
			{Name: "second.txt", ContentType: "text/plain", Data: []byte("second")},
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return taskStatus(session, "first.txt") == models.UploadStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	// Queued tasks cancel immediately.
	require.NoError(t, session.Cancel("second.txt"))
	assert.Equal(t, models.UploadStatusCanceled, taskStatus(session, "second.txt"))

	require.NoError(t, session.Cancel("first.txt"))
	status := waitSession(t, session)

	assert.Equal(t, 2, status.Canceled)
	assert.Equal(t, 0, status.Done)
	assert.Empty(t, mem.Keys())
	assert.ErrorIs(t, session.Cancel("first.txt"), ErrInvalidTransition)
	assert.Equal(t, "Upload canceled", notifier.lastSuccess())
}

func TestUploadService_Failures(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := newFaultyStore(mem)
	store.failPut["files/broken.txt"] = true
	notifier := &recordingNotifier{}
	svc := NewUploadService(store, database.NewMemoryStore(), nil, nil, notifier, 2, 8, time.Minute)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/",
		Files: []UploadFile{
			{Name: "ok.txt", ContentType: "text/plain", Data: []byte("small")},
			{Name: "huge.txt", ContentType: "text/plain", Data: []byte("far too large")},
			{Name: "broken.txt", ContentType: "text/plain", Data: []byte("x")},
		},
	})
	require.NoError(t, err)

	status := waitSession(t, session)
	assert.Equal(t, 1, status.Done)
	assert.Equal(t, 2, status.Failed)
	assert.Contains(t, status.Tasks[1].Error, "maximum size")
	assert.Equal(t, []string{"files/ok.txt"}, mem.Keys())
	assert.Contains(t, notifier.lastError(), "2 errors")
}

func TestUploadService_SessionLifecycle(t *testing.T) {
	svc := NewUploadService(storage.NewMemoryStore(), database.NewMemoryStore(), nil, nil, nil, 1, 0, time.Minute)

	_, err := svc.StartBatch(UploadRequest{Destination: "/files/"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.StartBatch(UploadRequest{Files: []UploadFile{{Name: "a", Data: []byte("a")}}, Mode: "extreme"})
	require.ErrorIs(t, err, ErrInvalidInput)

	session, err := svc.StartBatch(UploadRequest{Files: []UploadFile{{Name: "a.txt", Data: []byte("a")}}})
	require.NoError(t, err)
	waitSession(t, session)

	found, err := svc.Session(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, found)

	require.NoError(t, svc.Dismiss(session.ID))
	_, err = svc.Session(session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadService_PausedQueuedTaskFreesWorker(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := newGatedStore(mem)
	svc := NewUploadService(store, database.NewMemoryStore(), nil, nil, nil, 1, 0, time.Minute)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/",
		Files: []UploadFile{
			{Name: "first.txt", ContentType: "text/plain", Data: []byte("first")},
			{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")},
			{Name: "b.txt", ContentType: "text/plain", Data: []byte("b")},
		},
	})
	require.NoError(t, err)

	// The only worker is busy with first.txt, so a.txt is still queued.
	require.Eventually(t, func() bool {
		return taskStatus(session, "first.txt") == models.UploadStatusRunning
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, session.Pause("a.txt"))
	close(store.release)

	require.Eventually(t, func() bool {
		return taskStatus(session, "b.txt") == models.UploadStatusDone
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.UploadStatusPaused, taskStatus(session, "a.txt"))
	assert.False(t, session.IsComplete())

	require.NoError(t, session.Resume("a.txt"))
	status := waitSession(t, session)
	assert.Equal(t, 3, status.Done)
	assert.Equal(t, "a", getObject(t, mem, "files/a.txt"))
}

func TestUploadService_CancelParkedTask(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := newGatedStore(mem)
	svc := NewUploadService(store, database.NewMemoryStore(), nil, nil, nil, 1, 0, time.Minute)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/",
		Files: []UploadFile{
			{Name: "first.txt", ContentType: "text/plain", Data: []byte("first")},
			{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")},
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return taskStatus(session, "first.txt") == models.UploadStatusRunning
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, session.Pause("a.txt"))
	close(store.release)

	require.Eventually(t, func() bool {
		return taskStatus(session, "first.txt") == models.UploadStatusDone
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, session.Cancel("a.txt"))

	status := waitSession(t, session)
	assert.Equal(t, 1, status.Done)
	assert.Equal(t, 1, status.Canceled)
	assert.Equal(t, []string{"files/first.txt"}, mem.Keys())
}

func TestUploadService_ReleasesSettledBatches(t *testing.T) {
	svc := NewUploadService(storage.NewMemoryStore(), database.NewMemoryStore(), nil, nil, nil, 2, 0, 200*time.Millisecond)

	session, err := svc.StartBatch(UploadRequest{
		Destination: "/files/",
		Files: []UploadFile{
			{Name: "big.bin", Data: make([]byte, 1<<20)},
			{Name: "small.txt", ContentType: "text/plain", Data: []byte("small")},
		},
	})
	require.NoError(t, err)
	status := waitSession(t, session)
	require.Equal(t, 2, status.Done)

	session.mu.Lock()
	for _, task := range session.tasks {
		assert.Nil(t, task.file.Data, task.task.Key)
	}
	session.mu.Unlock()

	// Finished batches stay readable until the retention period runs out.
	found, err := svc.Session(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, found)

	require.Eventually(t, func() bool {
		_, err := svc.Session(session.ID)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}
