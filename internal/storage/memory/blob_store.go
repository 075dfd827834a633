// Package memory keeps sounding artifacts in process memory. It backs tests
// and dry runs where nothing should touch disk.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// BlobStore stores artifacts in-memory and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject stores a copy of the content, replacing any previous value.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is required", sounding.ErrIO)
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("%w: read payload: %w", sounding.ErrIO, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = payload
	return "memory://" + path, nil
}

// GetObject returns a copy of the content stored at path.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("%w: object %q not found", sounding.ErrIO, path)
	}
	return append([]byte(nil), payload...), nil
}

// Keys lists stored paths in lexical order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
