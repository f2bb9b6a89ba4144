// Package storage wraps the flat object stores the file manager runs on.
// None of them knows about folders: a folder is only the common prefix of
// the keys below it.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by GetMetadata and GetBytes for absent keys.
var ErrObjectNotFound = errors.New("object not found")

// PlaceholderName is the zero-byte object that keeps an otherwise empty
// folder prefix alive.
const PlaceholderName = ".keep"

// Listing holds the direct children of a prefix. Prefixes are full keys
// without a trailing slash; Keys are full object keys.
type Listing struct {
	Prefixes []string
	Keys     []string
}

type ObjectInfo struct {
	Key            string
	Size           int64
	ContentType    string
	CustomMetadata map[string]string
	UpdatedAt      time.Time
}

type ObjectStore interface {
	// ListChildren lists one level below prefix ("" lists the bucket root).
	ListChildren(ctx context.Context, prefix string) (*Listing, error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
	// PutStream consumes r until EOF. Cancelling ctx aborts the transfer;
	// bytes already sent are not reverted.
	PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// DeleteObject succeeds when key is already absent.
	DeleteObject(ctx context.Context, key string) error
	GetMetadata(ctx context.Context, key string) (*ObjectInfo, error)
	GetDownloadURL(ctx context.Context, key string) (string, error)
}

// Exists probes key with GetMetadata. Any error other than ErrObjectNotFound
// is returned so callers never mistake an outage for a free name.
func Exists(ctx context.Context, store ObjectStore, key string) (bool, error) {
	_, err := store.GetMetadata(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}

// IsPlaceholder reports whether key is a folder placeholder object.
func IsPlaceholder(key string) bool {
	return key == PlaceholderName || strings.HasSuffix(key, "/"+PlaceholderName)
}

func listPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
