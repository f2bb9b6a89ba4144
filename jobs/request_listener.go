package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"receiptmanager/database"
	"receiptmanager/models"
	"receiptmanager/services"
)

// RequestListener applies requests approved outside the API, for example
// by an admin editing the document directly. It watches the requests
// collection and hands every approved, unprocessed request to the
// request service.
type RequestListener struct {
	meta     database.MetadataStore
	requests *services.RequestService
	timeout  time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

func NewRequestListener(meta database.MetadataStore, requests *services.RequestService) *RequestListener {
	return &RequestListener{
		meta:     meta,
		requests: requests,
		timeout:  5 * time.Minute,
		logger:   log.New(log.Writer(), "[REQUEST_LISTENER] ", log.LstdFlags),
		inFlight: make(map[string]bool),
	}
}

// Start subscribes and returns once the subscription is live. The listener
// runs until ctx ends; Wait blocks until in-flight requests finish.
func (l *RequestListener) Start(ctx context.Context) error {
	l.logger.Println("Starting request listener...")

	unsubscribe, err := l.meta.SubscribeCollection(ctx, database.CollectionRequests, l.handle)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
		l.logger.Println("Request listener stopped")
	}()
	return nil
}

func (l *RequestListener) Wait() {
	l.wg.Wait()
}

func (l *RequestListener) handle(snapshot database.Snapshot) {
	for _, change := range snapshot.Changes {
		if change.Type == database.ChangeRemoved {
			continue
		}

		req, err := services.DecodeRequest(change.Document)
		if err != nil {
			l.logger.Printf("Error decoding request %s: %v", change.Document.ID, err)
			continue
		}
		if req.Status != models.RequestStatusApproved || req.ProcessedAt != nil {
			continue
		}
		if !l.claim(req.ID) {
			continue
		}

		l.wg.Add(1)
		go l.apply(req)
	}
}

// claim keeps one request from being applied twice while its own status
// update is echoed back by the subscription.
func (l *RequestListener) claim(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[id] {
		return false
	}
	l.inFlight[id] = true
	return true
}

func (l *RequestListener) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, id)
}

func (l *RequestListener) apply(req *models.PendingRequest) {
	defer l.wg.Done()
	defer l.release(req.ID)

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.requests.ApplyApproved(ctx, req); err != nil {
		l.logger.Printf("Failed to apply %s request %s: %v", req.Type, req.ID, err)
		return
	}
	l.logger.Printf("Applied %s request %s", req.Type, req.ID)
}
