package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"geocompliance-backend/config"
)

// maxDocumentBytes caps how much of a source document is read
const maxDocumentBytes = 64 << 20

var (
	ErrNotFound          = errors.New("document not found")
	ErrUnsupportedFormat = errors.New("document is not UTF-8 text")
	ErrDocumentTooLarge  = errors.New("document exceeds size limit")
	ErrPathNotAllowed    = errors.New("document path is outside the storage directory")
)

// Storage keeps source documents. Paths returned by Upload are source URIs
// that Download and Delete accept.
type Storage interface {
	// Upload stores a document and returns its source URI
	Upload(ctx context.Context, docID uuid.UUID, filename string, data io.Reader) (string, error)

	// Download retrieves a document by source URI
	Download(ctx context.Context, source string) (io.ReadCloser, error)

	// Delete removes a document by source URI
	Delete(ctx context.Context, source string) error
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeGCS   StorageType = "gcs"
)

// Router uploads to the configured backend and downloads from whichever
// backend the source URI names (s3://, gs:// or a local path).
type Router struct {
	cfg     config.StorageConfig
	primary Storage
	local   *LocalStorage

	mu  sync.Mutex
	s3  *S3Storage
	gcs *GCSStorage
}

// NewStorage creates the router for cfg
func NewStorage(ctx context.Context, cfg config.StorageConfig) (*Router, error) {
	var opts []LocalOption
	if cfg.AllowAnyLocalPath {
		opts = append(opts, AnyPath())
	}
	local, err := NewLocalStorage(cfg.LocalPath, opts...)
	if err != nil {
		return nil, err
	}
	r := &Router{cfg: cfg, local: local}

	switch StorageType(cfg.Type) {
	case StorageTypeLocal, "":
		r.primary = local
	case StorageTypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET environment variable is required for S3 storage")
		}
		if r.primary, err = r.s3Backend(ctx); err != nil {
			return nil, err
		}
	case StorageTypeGCS:
		if cfg.GCSBucket == "" {
			return nil, errors.New("GCS_BUCKET environment variable is required for GCS storage")
		}
		if r.primary, err = r.gcsBackend(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	return r, nil
}

func (r *Router) Upload(ctx context.Context, docID uuid.UUID, filename string, data io.Reader) (string, error) {
	return r.primary.Upload(ctx, docID, filename, data)
}

func (r *Router) Download(ctx context.Context, source string) (io.ReadCloser, error) {
	backend, err := r.backendFor(ctx, source)
	if err != nil {
		return nil, err
	}
	return backend.Download(ctx, source)
}

func (r *Router) Delete(ctx context.Context, source string) error {
	backend, err := r.backendFor(ctx, source)
	if err != nil {
		return err
	}
	return backend.Delete(ctx, source)
}

func (r *Router) backendFor(ctx context.Context, source string) (Storage, error) {
	switch scheme(source) {
	case "s3":
		return r.s3Backend(ctx)
	case "gs":
		return r.gcsBackend(ctx)
	case "", "file":
		return r.local, nil
	default:
		return nil, fmt.Errorf("unsupported source scheme: %q", source)
	}
}

func (r *Router) s3Backend(ctx context.Context) (*S3Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3 == nil {
		s, err := NewS3Storage(ctx, r.cfg)
		if err != nil {
			return nil, err
		}
		r.s3 = s
	}
	return r.s3, nil
}

func (r *Router) gcsBackend(ctx context.Context) (*GCSStorage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gcs == nil {
		s, err := NewGCSStorage(ctx, r.cfg.GCSBucket)
		if err != nil {
			return nil, err
		}
		r.gcs = s
	}
	return r.gcs, nil
}

// ReadText downloads a document and returns it as text
func ReadText(ctx context.Context, s Storage, source string) (string, error) {
	rc, err := s.Download(ctx, source)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", source, err)
	}
	if len(data) > maxDocumentBytes {
		return "", fmt.Errorf("%s: %w", source, ErrDocumentTooLarge)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", source, ErrUnsupportedFormat)
	}
	return string(data), nil
}

func scheme(source string) string {
	if i := strings.Index(source, "://"); i > 0 {
		return strings.ToLower(source[:i])
	}
	return ""
}

// splitBucketURI parses scheme://bucket/key
func splitBucketURI(source, want string) (bucket, key string, err error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", fmt.Errorf("invalid source URI %q: %w", source, err)
	}
	if u.Scheme != want || u.Host == "" {
		return "", "", fmt.Errorf("invalid %s URI: %q", want, source)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// generateStoragePath generates a unique storage path for a document
func generateStoragePath(docID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filepath.Base(filename), ext)
	baseName = strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(baseName)

	return fmt.Sprintf("%s/%s_%s%s", docID.String()[:2], docID.String(), baseName, ext)
}

// getContentType determines content type from filename
func getContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
