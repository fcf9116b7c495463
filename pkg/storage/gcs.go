package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/statline/pkg/statlineerrors"
)

// GCSStore is a BlobStore backed by Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	logger *zap.Logger
}

// NewGCSStore creates a client with the given options; credentials are
// ambient unless an option supplies them.
func NewGCSStore(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &GCSStore{
		client: client,
		logger: logger.With(zap.String("component", "gcs")),
	}, nil
}

// Put uploads a local file.
func (s *GCSStore) Put(ctx context.Context, bucket, key, localPath string) error {
	start := time.Now()

	f, err := os.Open(localPath) //nolint:gosec // G304: path is produced by the converter
	if err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeFile, "failed to open upload source")
	}
	defer f.Close()

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(key)

	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeUploadFailed, "failed to write to GCS").
			WithDetail("key", key)
	}
	if err := w.Close(); err != nil {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeUploadFailed, "failed to close GCS writer").
			WithDetail("key", key)
	}

	s.logger.Info("object uploaded",
		zap.String("uri", URI(bucket, key)),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// List returns the keys below prefix.
func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "failed to list objects").
				WithDetail("prefix", prefix)
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get reads an object; a missing object yields ErrObjectNotFound.
func (s *GCSStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "failed to open object").
			WithDetail("key", key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "failed to read object").
			WithDetail("key", key)
	}
	return data, nil
}

// Delete removes an object; a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return statlineerrors.Wrap(err, statlineerrors.ErrorTypeConnection, "failed to delete object").
			WithDetail("key", key)
	}
	s.logger.Debug("object deleted", zap.String("uri", URI(bucket, key)))
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
