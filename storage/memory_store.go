package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

// MemoryStore keeps objects in process memory. It backs local development
// (STORAGE_BACKEND=memory) and the test suites.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) ListChildren(ctx context.Context, prefix string) (*Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := listPrefix(prefix)

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, base) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	listing := &Listing{}
	seen := make(map[string]bool)
	for _, key := range keys {
		rest := key[len(base):]
		if idx := strings.Index(rest, "/"); idx >= 0 {
			sub := base + rest[:idx]
			if !seen[sub] {
				seen[sub] = true
				listing.Prefixes = append(listing.Prefixes, sub)
			}
			continue
		}
		listing.Keys = append(listing.Keys, key)
	}
	return listing, nil
}

func (s *MemoryStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
	}
	return bytes.Clone(obj.data), nil
}

func (s *MemoryStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = memoryObject{
		data:        bytes.Clone(data),
		contentType: contentType,
		updatedAt:   time.Now(),
	}
	return nil
}

func (s *MemoryStore) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return s.PutBytes(ctx, key, buf.Bytes(), contentType)
}

func (s *MemoryStore) DeleteObject(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) GetMetadata(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", key, ErrObjectNotFound)
	}
	return &ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
	}, nil
}

func (s *MemoryStore) GetDownloadURL(ctx context.Context, key string) (string, error) {
	if _, err := s.GetMetadata(ctx, key); err != nil {
		return "", err
	}
	return "memory://" + key, nil
}

// Keys returns every stored key in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
