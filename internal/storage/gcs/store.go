// Package gcs stores archive objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/rezkam/taskstream/internal/application/archive"
)

// Store is a GCS-backed archive object store.
type Store struct {
	client *storage.Client
	bucket string
}

var _ archive.ObjectWriter = (*Store)(nil)

// NewStore creates a new GCS store.
// It assumes the client is authenticated (e.g. via GOOGLE_APPLICATION_CREDENTIALS).
func NewStore(ctx context.Context, bucketName string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Store{
		client: client,
		bucket: bucketName,
	}, nil
}

// WriteObject writes one archive object. GCS writes are atomic at Close, so
// a failed write never leaves a partial object behind.
func (s *Store) WriteObject(ctx context.Context, name string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object %s: %w", name, err)
	}
	return nil
}

// ReadObject returns the contents of a stored archive object.
func (s *Store) ReadObject(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("archive object not found: %s", name)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", name, err)
	}
	return data, nil
}

// ListObjects returns the names of stored objects under the given prefix.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var query *storage.Query
	if prefix != "" {
		query = &storage.Query{Prefix: strings.TrimPrefix(prefix, "/")}
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Close releases the underlying GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}
