package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kurin/blazer/b2"
)

// B2Store is the Backblaze B2 backend.
type B2Store struct {
	client     *b2.Client
	bucketName string
	bucket     *b2.Bucket
	urlTTL     time.Duration
}

func NewB2Store(ctx context.Context, keyID, applicationKey, bucketName string, urlTTL time.Duration) (*B2Store, error) {
	client, err := b2.NewClient(ctx, keyID, applicationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create B2 client: %w", err)
	}

	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", bucketName, err)
	}

	if urlTTL <= 0 {
		urlTTL = time.Hour
	}

	return &B2Store{
		client:     client,
		bucketName: bucketName,
		bucket:     bucket,
		urlTTL:     urlTTL,
	}, nil
}

func (s *B2Store) ListChildren(ctx context.Context, prefix string) (*Listing, error) {
	iter := s.bucket.List(ctx, b2.ListPrefix(listPrefix(prefix)), b2.ListDelimiter("/"))

	listing := &Listing{}
	for iter.Next() {
		name := iter.Object().Name()
		// With a delimiter, B2 reports common prefixes as names ending in "/".
		if strings.HasSuffix(name, "/") {
			listing.Prefixes = append(listing.Prefixes, strings.TrimSuffix(name, "/"))
			continue
		}
		listing.Keys = append(listing.Keys, name)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return listing, nil
}

func (s *B2Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	reader := s.bucket.Object(key).NewReader(ctx)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		if b2.IsNotExist(err) {
			return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download %s from B2: %w", key, err)
	}
	return data, nil
}

func (s *B2Store) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return s.PutStream(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (s *B2Store) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	attrs := &b2.Attrs{ContentType: contentType}
	writer := s.bucket.Object(key).NewWriter(ctx, b2.WithAttrsOption(attrs))

	if _, err := io.Copy(writer, r); err != nil {
		writer.Close()
		return fmt.Errorf("failed to upload %s to B2: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close B2 writer: %w", err)
	}
	return nil
}

func (s *B2Store) DeleteObject(ctx context.Context, key string) error {
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		if b2.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s from B2: %w", key, err)
	}
	return nil
}

func (s *B2Store) GetMetadata(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if b2.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	updated := attrs.LastModified
	if updated.IsZero() {
		updated = attrs.UploadTimestamp
	}
	return &ObjectInfo{
		Key:            key,
		Size:           attrs.Size,
		ContentType:    attrs.ContentType,
		CustomMetadata: attrs.Info,
		UpdatedAt:      updated,
	}, nil
}

// GetDownloadURL signs a time-limited URL; the bucket is private.
func (s *B2Store) GetDownloadURL(ctx context.Context, key string) (string, error) {
	urlObj, err := s.bucket.Object(key).AuthURL(ctx, s.urlTTL, "")
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return urlObj.String(), nil
}
