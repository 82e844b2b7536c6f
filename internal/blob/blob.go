// Package blob stores archived upload originals in object storage.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store keeps opaque objects under string keys.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
