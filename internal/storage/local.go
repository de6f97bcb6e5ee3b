package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalArchive implements PayloadArchive on the local filesystem
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a new local archive rooted at basePath
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	// Ensure directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// Store writes the payload to disk
func (s *LocalArchive) Store(_ context.Context, key string, body []byte) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(fullPath, body, 0644); err != nil {
		return "", fmt.Errorf("failed to write payload: %w", err)
	}
	return fullPath, nil
}

// Load reads a payload from disk
func (s *LocalArchive) Load(_ context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}
	body, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return body, nil
}
