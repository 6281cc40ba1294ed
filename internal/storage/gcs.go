package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStorage implements ObjectStorage for Google Cloud Storage.
type GCSStorage struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
}

// NewGCSStorage creates a GCS client for bucket. When credentialsJSON is
// empty the client falls back to Application Default Credentials.
func NewGCSStorage(ctx context.Context, bucket string, credentialsJSON []byte) (*GCSStorage, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return NewGCSStorageWithClient(client, bucket), nil
}

// NewGCSStorageWithClient creates a GCS storage with a pre-configured client.
func NewGCSStorageWithClient(client *gcs.Client, bucket string) *GCSStorage {
	return &GCSStorage{
		client: client,
		bucket: client.Bucket(bucket),
	}
}

// Write uploads r. GCS publishes the object only when the writer is closed
// cleanly; a failed copy cancels the upload so the previous version stays.
func (g *GCSStorage) Write(ctx context.Context, objectPath string, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = contentTypeFor(objectPath)

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

// Open streams an object from GCS.
func (g *GCSStorage) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	rc, err := g.bucket.Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return rc, nil
}

// Exists checks if an object exists in GCS.
func (g *GCSStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := g.bucket.Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close releases the underlying client.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}

func contentTypeFor(objectPath string) string {
	switch {
	case strings.HasSuffix(objectPath, ".json"):
		return "application/x-ndjson"
	case strings.HasSuffix(objectPath, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
