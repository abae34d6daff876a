// Package blob stores artifact bytes in an S3-compatible object store.
//
// Paths are deterministic and derived by the caller; this package only
// guarantees the store contract: Put returns a durable URL, Delete is
// idempotent (removing a missing object succeeds), Head returns nil for a
// missing object rather than an error.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object store connection settings.
type Config struct {
	Endpoint  string // host:port, no scheme
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// PublicBaseURL is the externally reachable prefix for stored objects,
	// e.g. "https://files.example.com". When empty, URLs are composed from
	// the endpoint and bucket.
	PublicBaseURL string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is an S3-compatible blob store. Safe for concurrent use.
type Store struct {
	client *minio.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Store. No connection is made until the first operation.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("blob endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return &Store{client: client, cfg: cfg, logger: logger}, nil
}

// EnsureBucket creates the configured bucket when it does not exist yet.
// Called once at startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.cfg.Bucket, err)
	}
	s.logger.Info("created bucket", "bucket", s.cfg.Bucket)
	return nil
}

// Put stores data at path and returns the durable URL.
func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, path,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", path, err)
	}

	s.logger.Debug("stored object", "path", path, "bytes", len(data))
	return s.URL(path), nil
}

// Delete removes the object at path. Removing a missing object succeeds.
func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, path, minio.RemoveObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", path, err)
	}
	s.logger.Debug("deleted object", "path", path)
	return nil
}

// Head returns object metadata, or nil when the object does not exist.
func (s *Store) Head(ctx context.Context, path string) (*ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.cfg.Bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("stat object %q: %w", path, err)
	}

	return &ObjectInfo{
		Path:         path,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
	}, nil
}

// URL returns the durable URL for an object path.
func (s *Store) URL(path string) string {
	if s.cfg.PublicBaseURL != "" {
		u, err := url.JoinPath(s.cfg.PublicBaseURL, path)
		if err == nil {
			return u
		}
		// Fall through to endpoint-based URL on a malformed base.
	}

	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	u, err := url.JoinPath(fmt.Sprintf("%s://%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket), path)
	if err != nil {
		return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, path)
	}
	return u
}
