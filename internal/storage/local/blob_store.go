// Package local implements a filesystem-backed blob store for sounding
// artifacts.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the output directory; it is created when missing.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts below a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and verifies that it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, sounding.Configurationf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("%w: create base directory: %w", sounding.ErrIO, mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: stat base directory: %w", sounding.ErrIO, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", sounding.ErrIO, cfg.BaseDir)
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("%w: base directory is not writable: %w", sounding.ErrIO, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("%w: clean up probe file: %w", sounding.ErrIO, err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// PutObject writes data to path below the base directory, replacing any
// existing file, and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("%w: create parent directories: %w", sounding.ErrIO, err)
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("%w: read payload: %w", sounding.ErrIO, err)
	}
	// #nosec G306 -- sounding tables are public data meant to be shared.
	if err := os.WriteFile(fullPath, payload, 0o644); err != nil {
		return "", fmt.Errorf("%w: write file: %w", sounding.ErrIO, err)
	}
	return "file://" + fullPath, nil
}

// GetObject returns the contents stored at path.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- fullPath is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %w", sounding.ErrIO, err)
	}
	return data, nil
}

func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: path is required", sounding.ErrIO)
	}
	cleanBase := filepath.Clean(s.baseDir)
	fullPath := filepath.Clean(filepath.Join(cleanBase, path))
	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", sounding.ErrIO)
	}
	return fullPath, nil
}
