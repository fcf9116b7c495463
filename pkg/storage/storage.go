// Package storage uploads and reads published files in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore is the object store published files live in.
type BlobStore interface {
	// Put uploads the file at localPath to bucket/key, replacing any existing object.
	Put(ctx context.Context, bucket, key, localPath string) error
	// List returns every key below prefix in lexical order.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	// Get reads a whole object.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Delete removes an object; a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error
}

// URI returns the gs:// URI of an object.
func URI(bucket, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, key)
}
