package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"receiptmanager/database"
	"receiptmanager/models"
	"receiptmanager/storage"
	"receiptmanager/utils"
)

// UploadFile is one file of a batch, already read from the request.
type UploadFile struct {
	Name         string
	RelativePath string
	ContentType  string
	Data         []byte
}

type UploadRequest struct {
	Files       []UploadFile
	Destination string
	Mode        OptimizationMode
	UploadedBy  string
}

// BatchStatus is a point-in-time view of an upload session.
type BatchStatus struct {
	ID          string              `json:"id"`
	Destination string              `json:"destination"`
	Complete    bool                `json:"complete"`
	Done        int                 `json:"done"`
	Failed      int                 `json:"failed"`
	Canceled    int                 `json:"canceled"`
	Tasks       []models.UploadTask `json:"tasks"`
}

// pauseGate blocks readers while paused.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	ch     chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{ch: ch}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.ch = make(chan struct{})
	}
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.ch)
	}
}

func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// progressReader counts bytes handed to the object store and stalls while
// its gate is closed.
type progressReader struct {
	ctx        context.Context
	r          io.Reader
	gate       *pauseGate
	onProgress func(n int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.gate.wait(p.ctx); err != nil {
		return 0, err
	}
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.onProgress(n)
	}
	return n, err
}

// uploadTaskState is parked when a worker found it paused before it
// started; it then holds no worker until resumed or canceled.
type uploadTaskState struct {
	task    models.UploadTask
	file    UploadFile
	started bool
	parked  bool
	gate    *pauseGate
	ctx     context.Context
	cancel  context.CancelFunc
}

// UploadSession is one batch. Task state changes are serialized by mu.
type UploadSession struct {
	ID          string
	Destination string
	CreatedBy   string
	CreatedAt   time.Time

	mu    sync.Mutex
	tasks []*uploadTaskState
	byKey map[string]*uploadTaskState
	done  chan struct{}

	// queue holds each unsettled task at most once. pending counts tasks
	// not yet released.
	queue   chan *uploadTaskState
	pending sync.WaitGroup

	namesMu  sync.Mutex
	reserved map[string]bool
}

func (s *UploadSession) Snapshot() BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := BatchStatus{ID: s.ID, Destination: s.Destination, Complete: true}
	for _, t := range s.tasks {
		status.Tasks = append(status.Tasks, t.task)
		switch t.task.Status {
		case models.UploadStatusDone:
			status.Done++
		case models.UploadStatusError:
			status.Failed++
		case models.UploadStatusCanceled:
			status.Canceled++
		default:
			status.Complete = false
		}
	}
	return status
}

// IsComplete reports whether every task reached a terminal state.
func (s *UploadSession) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if !t.task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Wait blocks until the batch's workers have all returned.
func (s *UploadSession) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops the task's transfer at its next read. Key "" pauses every
// task that can be paused.
func (s *UploadSession) Pause(key string) error {
	return s.apply(key, func(t *uploadTaskState) error {
		switch t.task.Status {
		case models.UploadStatusQueued, models.UploadStatusRunning:
			t.task.Status = models.UploadStatusPaused
			t.gate.pause()
			return nil
		}
		return fmt.Errorf("cannot pause %s task %s: %w", t.task.Status, t.task.Key, ErrInvalidTransition)
	})
}

func (s *UploadSession) Resume(key string) error {
	return s.apply(key, func(t *uploadTaskState) error {
		if t.task.Status != models.UploadStatusPaused {
			return fmt.Errorf("cannot resume %s task %s: %w", t.task.Status, t.task.Key, ErrInvalidTransition)
		}
		if t.started {
			t.task.Status = models.UploadStatusRunning
		} else {
			t.task.Status = models.UploadStatusQueued
		}
		t.gate.resume()
		s.unpark(t)
		return nil
	})
}

// Cancel asks the transfer to stop. Bytes already sent stay sent.
func (s *UploadSession) Cancel(key string) error {
	return s.apply(key, func(t *uploadTaskState) error {
		if t.task.Status.IsTerminal() {
			return fmt.Errorf("cannot cancel %s task %s: %w", t.task.Status, t.task.Key, ErrInvalidTransition)
		}
		if !t.started {
			t.task.Status = models.UploadStatusCanceled
			t.task.Error = context.Canceled.Error()
		}
		t.cancel()
		s.unpark(t)
		return nil
	})
}

func (s *UploadSession) apply(key string, fn func(t *uploadTaskState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		for _, t := range s.tasks {
			_ = fn(t)
		}
		return nil
	}
	t, ok := s.byKey[key]
	if !ok {
		return fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	return fn(t)
}

// unpark hands a parked task back to the workers. Callers hold mu.
func (s *UploadSession) unpark(t *uploadTaskState) {
	if t.parked {
		t.parked = false
		s.queue <- t
	}
}

// claim marks t running and reports whether the worker should transfer
// it. A task paused before it started is parked; a settled one is
// released.
func (s *UploadSession) claim(t *uploadTaskState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case t.task.Status.IsTerminal():
		s.releaseLocked(t)
		return false
	case t.task.Status == models.UploadStatusPaused:
		t.parked = true
		return false
	}
	t.started = true
	t.task.Status = models.UploadStatusRunning
	return true
}

func (s *UploadSession) release(t *uploadTaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(t)
}

// releaseLocked drops the settled task's bytes and its worker claim.
func (s *UploadSession) releaseLocked(t *uploadTaskState) {
	t.cancel()
	t.file.Data = nil
	s.pending.Done()
}

func (s *UploadSession) update(t *uploadTaskState, fn func(task *models.UploadTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&t.task)
}

// UploadService runs upload batches. Transfers within a batch run
// concurrently up to the configured limit. Finished batches stay
// readable for the retention period unless dismissed earlier.
type UploadService struct {
	store       storage.ObjectStore
	meta        database.MetadataStore
	optimizer   *JPEGOptimizer
	tree        Invalidator
	notifier    Notifier
	concurrency int
	maxFileSize int64

	mu       sync.Mutex
	sessions map[string]*UploadSession
	finished *expirable.LRU[string, *UploadSession]
}

const (
	maxFinishedUploads     = 1024
	defaultUploadRetention = 10 * time.Minute
)

func NewUploadService(store storage.ObjectStore, meta database.MetadataStore, optimizer *JPEGOptimizer, tree Invalidator, notifier Notifier, concurrency int, maxFileSize int64, retention time.Duration) *UploadService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if optimizer == nil {
		optimizer = NewJPEGOptimizer(0, 0)
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	if retention <= 0 {
		retention = defaultUploadRetention
	}
	return &UploadService{
		store:       store,
		meta:        meta,
		optimizer:   optimizer,
		tree:        tree,
		notifier:    notifier,
		concurrency: concurrency,
		maxFileSize: maxFileSize,
		sessions:    make(map[string]*UploadSession),
		finished:    expirable.NewLRU[string, *UploadSession](maxFinishedUploads, nil, retention),
	}
}

// StartBatch queues every file and returns immediately. Transfers outlive
// the caller's context; use the session to control them.
func (s *UploadService) StartBatch(req UploadRequest) (*UploadSession, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("no files to upload: %w", ErrInvalidInput)
	}
	if req.Mode == "" {
		req.Mode = OptimizeOff
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("unknown optimization mode %q: %w", req.Mode, ErrInvalidInput)
	}

	session := &UploadSession{
		ID:          uuid.NewString(),
		Destination: utils.NormalizePath(req.Destination),
		CreatedBy:   req.UploadedBy,
		CreatedAt:   time.Now(),
		byKey:       make(map[string]*uploadTaskState),
		done:        make(chan struct{}),
		queue:       make(chan *uploadTaskState, len(req.Files)),
		reserved:    make(map[string]bool),
	}

	for i, file := range req.Files {
		key := file.RelativePath
		if key == "" {
			key = file.Name
		}
		if _, dup := session.byKey[key]; dup {
			key = fmt.Sprintf("%s#%d", key, i)
		}
		ctx, cancel := context.WithCancel(context.Background())
		t := &uploadTaskState{
			task: models.UploadTask{
				Key:        key,
				Status:     models.UploadStatusQueued,
				BytesTotal: int64(len(file.Data)),
			},
			file:   file,
			gate:   newPauseGate(),
			ctx:    ctx,
			cancel: cancel,
		}
		session.tasks = append(session.tasks, t)
		session.byKey[key] = t
		session.queue <- t
	}
	session.pending.Add(len(session.tasks))

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	utils.LogInfof("Upload batch %s: %d files to %s", session.ID, len(session.tasks), session.Destination)
	// Each task owns its bytes from here on.
	req.Files = nil
	go s.run(session, req)
	return session, nil
}

func (s *UploadService) run(session *UploadSession, req UploadRequest) {
	defer close(session.done)

	var g errgroup.Group
	for i := 0; i < min(s.concurrency, len(session.tasks)); i++ {
		g.Go(func() error {
			for t := range session.queue {
				if !session.claim(t) {
					continue
				}
				s.runTask(session, t, req)
				session.release(t)
			}
			return nil
		})
	}
	session.pending.Wait()
	close(session.queue)
	_ = g.Wait()

	s.finish(session)
	s.retire(session)
}

func (s *UploadService) runTask(session *UploadSession, t *uploadTaskState, req UploadRequest) {
	file := t.file
	if s.maxFileSize > 0 && int64(len(file.Data)) > s.maxFileSize {
		s.settle(session, t, fmt.Errorf("%s exceeds the maximum size of %d bytes: %w", file.Name, s.maxFileSize, ErrInvalidInput))
		return
	}

	folder, name, err := uploadTarget(session.Destination, file)
	if err != nil {
		s.settle(session, t, err)
		return
	}

	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(file.Data).String()
	}
	data, _ := s.optimizer.Process(file.Data, contentType, req.Mode)

	key, err := s.reserveKey(t.ctx, session, folder, name)
	if err != nil {
		s.settle(session, t, err)
		return
	}
	session.update(t, func(task *models.UploadTask) {
		task.ObjectKey = key
		task.BytesTotal = int64(len(data))
	})

	reader := &progressReader{
		ctx:  t.ctx,
		r:    bytes.NewReader(data),
		gate: t.gate,
		onProgress: func(n int) {
			session.update(t, func(task *models.UploadTask) { task.BytesTransferred += int64(n) })
			uploadBytesTotal.Add(float64(n))
		},
	}
	if err := s.store.PutStream(t.ctx, key, reader, int64(len(data)), contentType); err != nil {
		s.settle(session, t, err)
		return
	}

	_, finalName := utils.SplitObjectKey(key)
	entry := models.FileEntry{
		Name:        finalName,
		ParentPath:  folder,
		FullPath:    key,
		Size:        int64(len(data)),
		ContentType: contentType,
		UploadedAt:  time.Now(),
		UploadedBy:  req.UploadedBy,
	}
	if entry.IsImage() {
		entry.OCRStatus = models.OCRStatusPending
	}
	id, err := s.meta.CreateDocument(context.Background(), database.CollectionFiles, entry)
	if err != nil {
		s.settle(session, t, fmt.Errorf("uploaded %s but failed to record it: %w", key, err))
		return
	}

	session.update(t, func(task *models.UploadTask) {
		task.FileID = id
		task.Status = models.UploadStatusDone
		task.BytesTransferred = task.BytesTotal
	})
}

// settle records a failed task, telling cancellation apart from errors.
func (s *UploadService) settle(session *UploadSession, t *uploadTaskState, err error) {
	canceled := t.ctx.Err() != nil
	session.update(t, func(task *models.UploadTask) {
		if task.Status.IsTerminal() {
			return
		}
		if canceled {
			task.Status = models.UploadStatusCanceled
			task.Error = context.Canceled.Error()
			return
		}
		task.Status = models.UploadStatusError
		task.Error = err.Error()
	})
	if !canceled {
		utils.LogWarningf("Upload of %s failed: %v", t.task.Key, err)
	}
}

// reserveKey resolves a free name, also avoiding names taken earlier in
// the same batch whose objects may not exist yet.
func (s *UploadService) reserveKey(ctx context.Context, session *UploadSession, folder, name string) (string, error) {
	session.namesMu.Lock()
	defer session.namesMu.Unlock()

	unique, err := ensureUniqueName(ctx, s.store, folder, name, session.reserved)
	if err != nil {
		return "", err
	}
	key := utils.ObjectKey(folder, unique)
	session.reserved[key] = true
	return key, nil
}

// uploadTarget keeps the relative directory of folder uploads below the
// destination.
func uploadTarget(destination string, file UploadFile) (string, string, error) {
	rel := strings.ReplaceAll(file.RelativePath, "\\", "/")
	name := file.Name
	folder := destination
	if rel != "" {
		dir, base := path.Split(path.Clean("/" + rel))
		folder = utils.JoinFolder(destination, dir)
		name = base
	}
	if err := ValidateName(name); err != nil {
		return "", "", err
	}
	if err := utils.ValidateFileName(name); err != nil {
		return "", "", fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	return folder, name, nil
}

func (s *UploadService) finish(session *UploadSession) {
	status := session.Snapshot()

	folders := map[string]bool{session.Destination: true}
	for _, t := range status.Tasks {
		uploadTasksTotal.WithLabelValues(string(t.Status)).Inc()
		if t.ObjectKey != "" {
			folder, _ := utils.SplitObjectKey(t.ObjectKey)
			folders[folder] = true
		}
	}
	var touched []string
	for folder := range folders {
		touched = append(touched, folder)
	}
	if s.tree != nil {
		s.tree.Invalidate(touched...)
	}
	s.notifier.Refresh(touched...)

	switch {
	case status.Failed > 0:
		s.notifier.Error(fmt.Sprintf("Upload finished with %d errors (%d uploaded, %d canceled)", status.Failed, status.Done, status.Canceled))
	case status.Done > 0:
		s.notifier.Success(fmt.Sprintf("Uploaded %d files", status.Done))
	default:
		s.notifier.Success("Upload canceled")
	}
	utils.LogInfof("Upload batch %s finished: %d done, %d failed, %d canceled", session.ID, status.Done, status.Failed, status.Canceled)
}

// retire moves a settled batch to the finished cache, where it expires.
func (s *UploadService) retire(session *UploadSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return
	}
	delete(s.sessions, session.ID)
	s.finished.Add(session.ID, session)
}

func (s *UploadService) Session(id string) (*UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		return session, nil
	}
	if session, ok := s.finished.Get(id); ok {
		return session, nil
	}
	return nil, fmt.Errorf("upload batch %s: %w", id, ErrNotFound)
}

// Dismiss forgets a batch, canceling whatever is still in flight.
func (s *UploadService) Dismiss(id string) error {
	session, err := s.Session(id)
	if err != nil {
		return err
	}
	if !session.IsComplete() {
		_ = session.Cancel("")
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.finished.Remove(id)
	s.mu.Unlock()
	return nil
}
