package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSStorage implements Storage for Google Cloud Storage
type GCSStorage struct {
	client *gcs.Client
	bucket string
}

// NewGCSStorage creates a client using application default credentials
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

// Upload stores a document in the configured bucket
func (s *GCSStorage) Upload(ctx context.Context, docID uuid.UUID, filename string, data io.Reader) (string, error) {
	key := generateStoragePath(docID, filename)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = getContentType(filename)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Download retrieves gs://bucket/object
func (s *GCSStorage) Download(ctx context.Context, source string) (io.ReadCloser, error) {
	bucket, key, err := splitBucketURI(source, "gs")
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", source, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return r, nil
}

// Delete removes gs://bucket/object
func (s *GCSStorage) Delete(ctx context.Context, source string) error {
	bucket, key, err := splitBucketURI(source, "gs")
	if err != nil {
		return err
	}
	err = s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}
