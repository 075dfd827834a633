// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, sounding.Configurationf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, sounding.Configurationf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads data and returns a gs:// URI. Existing objects are replaced.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	key, err := s.key(name)
	if err != nil {
		return "", err
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("%w: copy object: %w (close writer: %v)", sounding.ErrIO, err, closeErr)
		}
		return "", fmt.Errorf("%w: copy object: %w", sounding.ErrIO, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: close writer: %w", sounding.ErrIO, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// GetObject downloads the object stored under name.
func (s *BlobStore) GetObject(ctx context.Context, name string) ([]byte, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open object: %w", sounding.ErrIO, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read object: %w", sounding.ErrIO, err)
	}
	return data, nil
}

func (s *BlobStore) key(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: path is required", sounding.ErrIO)
	}
	if s.prefix == "" {
		return name, nil
	}
	return path.Join(s.prefix, name), nil
}
