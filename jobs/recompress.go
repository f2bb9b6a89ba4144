package jobs

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"receiptmanager/database"
	"receiptmanager/services"
	"receiptmanager/storage"
	"receiptmanager/utils"
)

var jpegExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".jpe": true}

// Recompressor re-encodes every JPEG below a folder with the balanced
// optimizer settings and rewrites it in place when the result is smaller.
// Only one walk runs at a time.
type Recompressor struct {
	store     storage.ObjectStore
	meta      database.MetadataStore
	optimizer *services.JPEGOptimizer
	notifier  services.Notifier
	logger    *log.Logger

	running atomic.Bool
}

func NewRecompressor(store storage.ObjectStore, meta database.MetadataStore, optimizer *services.JPEGOptimizer, notifier services.Notifier) *Recompressor {
	return &Recompressor{
		store:     store,
		meta:      meta,
		optimizer: optimizer,
		notifier:  notifier,
		logger:    log.New(log.Writer(), "[RECOMPRESS] ", log.LstdFlags),
	}
}

// Run walks folder sequentially. Rewritten images count as succeeded,
// images that would not shrink as skipped.
func (r *Recompressor) Run(ctx context.Context, folder string) (*services.BulkResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("recompression already running: %w", services.ErrConflict)
	}
	defer r.running.Store(false)

	folder = utils.NormalizePath(folder)
	started := time.Now()
	r.logger.Printf("Recompressing JPEGs under %s", folder)

	result := &services.BulkResult{}
	r.walk(ctx, folder, result)

	r.logger.Printf("Recompression of %s completed in %v. Rewritten: %d, Unchanged: %d, Failed: %d",
		folder, time.Since(started).Round(time.Millisecond), result.Succeeded, result.Skipped, result.Failed)

	if r.notifier != nil {
		if result.Failed > 0 {
			r.notifier.Error(fmt.Sprintf("Recompression completed with %d errors (%d rewritten)", result.Failed, result.Succeeded))
		} else {
			r.notifier.Success(fmt.Sprintf("Recompression finished: %d rewritten, %d unchanged", result.Succeeded, result.Skipped))
		}
	}
	return result, result.Err()
}

func (r *Recompressor) walk(ctx context.Context, folder string, result *services.BulkResult) {
	listing, err := r.store.ListChildren(ctx, utils.ToObjectKeyPrefix(folder))
	if err != nil {
		result.Record("recompress", services.ItemOutcome{Source: folder, Status: services.ItemFailed, Error: err.Error()})
		return
	}

	for _, key := range listing.Keys {
		if !jpegExtensions[strings.ToLower(path.Ext(key))] {
			continue
		}
		result.Record("recompress", r.recompress(ctx, key))
	}
	for _, prefix := range listing.Prefixes {
		r.walk(ctx, utils.FromObjectKeyPrefix(prefix), result)
	}
}

func (r *Recompressor) recompress(ctx context.Context, key string) services.ItemOutcome {
	outcome := services.ItemOutcome{Source: key, Destination: key}

	data, err := r.store.GetBytes(ctx, key)
	if err != nil {
		outcome.Status = services.ItemFailed
		outcome.Error = err.Error()
		return outcome
	}

	smaller, changed := r.optimizer.Recompress(data)
	if !changed {
		outcome.Status = services.ItemSkipped
		return outcome
	}

	if err := r.store.PutBytes(ctx, key, smaller, "image/jpeg"); err != nil {
		r.logger.Printf("Failed to rewrite %s: %v", key, err)
		outcome.Status = services.ItemFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Status = services.ItemSucceeded
	r.updateSize(ctx, key, int64(len(smaller)))
	return outcome
}

// updateSize keeps the file document's size in step with the object.
func (r *Recompressor) updateSize(ctx context.Context, key string, size int64) {
	if r.meta == nil {
		return
	}
	docs, err := r.meta.QueryEquals(ctx, database.CollectionFiles, []database.FieldFilter{{Field: "fullPath", Value: key}}, 0)
	if err != nil {
		r.logger.Printf("Metadata lookup for %s failed: %v", key, err)
		return
	}
	for _, doc := range docs {
		err := r.meta.UpdateDocument(ctx, database.CollectionFiles, doc.ID, map[string]interface{}{
			"size":      size,
			"updatedAt": time.Now(),
		})
		if err != nil {
			r.logger.Printf("Failed to update size of %s: %v", doc.ID, err)
		}
	}
}
