// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// BlobStore writes report archives to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName joins the configured prefix and path.
func (s *BlobStore) ObjectName(path string) string {
	path = strings.TrimLeft(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := s.ObjectName(path)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("copy object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
