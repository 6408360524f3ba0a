package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStorage implements Storage on the local filesystem. Sources must lie
// under the base path unless the storage was opened with AnyPath.
type LocalStorage struct {
	basePath string
	anyPath  bool
}

// LocalOption configures a LocalStorage
type LocalOption func(*LocalStorage)

// AnyPath lets Download and Delete reach files outside the base path.
// Only trusted callers such as the ingest command should use it.
func AnyPath() LocalOption {
	return func(s *LocalStorage) {
		s.anyPath = true
	}
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string, opts ...LocalOption) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "./storage/files"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	s := &LocalStorage{basePath: abs}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upload stores a document under the base path and returns its path
func (s *LocalStorage) Upload(ctx context.Context, docID uuid.UUID, filename string, data io.Reader) (string, error) {
	fullPath := filepath.Join(s.basePath, generateStoragePath(docID, filename))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fullPath, nil
}

// Download opens a document. Relative paths are looked up under the base path.
func (s *LocalStorage) Download(ctx context.Context, source string) (io.ReadCloser, error) {
	path, err := s.resolve(source)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", source, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a document
func (s *LocalStorage) Delete(ctx context.Context, source string) error {
	path, err := s.resolve(source)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *LocalStorage) resolve(source string) (string, error) {
	path := strings.TrimPrefix(source, "file://")
	if s.anyPath {
		if filepath.IsAbs(path) {
			return path, nil
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return filepath.Join(s.basePath, path), nil
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(s.basePath, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", source, ErrPathNotAllowed)
	}
	return path, nil
}
