package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLTTL    time.Duration
}

// MinIOStore talks to MinIO or any other S3-compatible endpoint.
type MinIOStore struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket, urlTTL: ttl}, nil
}

// EnsureBucket creates the bucket on first start.
func (m *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed creating bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *MinIOStore) ListChildren(ctx context.Context, prefix string) (*Listing, error) {
	listing := &Listing{}
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix(prefix),
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			listing.Prefixes = append(listing.Prefixes, strings.TrimSuffix(obj.Key, "/"))
			continue
		}
		listing.Keys = append(listing.Keys, obj.Key)
	}
	return listing, nil
}

func (m *MinIOStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrapErr("get", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.wrapErr("get", key, err)
	}
	return data, nil
}

func (m *MinIOStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return m.PutStream(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (m *MinIOStore) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if size <= 0 {
		size = -1
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (m *MinIOStore) DeleteObject(ctx context.Context, key string) error {
	// RemoveObject already succeeds for missing keys.
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return m.wrapErr("delete", key, err)
	}
	return nil
}

func (m *MinIOStore) GetMetadata(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, m.wrapErr("stat", key, err)
	}
	return &ObjectInfo{
		Key:            key,
		Size:           info.Size,
		ContentType:    info.ContentType,
		CustomMetadata: info.UserMetadata,
		UpdatedAt:      info.LastModified,
	}, nil
}

func (m *MinIOStore) GetDownloadURL(ctx context.Context, key string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.urlTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (m *MinIOStore) wrapErr(op, key string, err error) error {
	if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NotFound" {
		return fmt.Errorf("%s %s: %w", op, key, ErrObjectNotFound)
	}
	return fmt.Errorf("failed to %s %s: %w", op, key, err)
}
