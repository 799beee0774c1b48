// Package blob declares the interface for persisting capture artifacts.
package blob

import (
	"context"
	"io"
)

// Store writes screenshot and page artifacts to durable storage and returns a
// URI identifying the stored object.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
