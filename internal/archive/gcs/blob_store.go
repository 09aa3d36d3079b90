// Package gcs implements a Google Cloud Storage page archive.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// BlobStore writes raw pages into a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New connects a storage client for the bucket.
func New(ctx context.Context, bucket string) (*BlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Close releases the storage client.
func (s *BlobStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
