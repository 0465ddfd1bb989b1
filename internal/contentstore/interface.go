// Package contentstore persists file bytes keyed by system-generated storage keys.
package contentstore

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by Open when no content exists for the key.
	ErrNotFound = errors.New("content not found")
	// ErrKeyCollision is returned by Put when the key is already occupied.
	ErrKeyCollision = errors.New("content key already exists")
	// ErrInvalidKey is returned for keys that cannot map to a path under the root.
	ErrInvalidKey = errors.New("invalid content key")
)

// Store is the byte-storage abstraction used by the file registry.
type Store interface {
	// Put writes r under key and returns the number of bytes written.
	// It never overwrites existing content.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes content for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Walk calls fn for every committed key.
	Walk(ctx context.Context, fn func(key string) error) error
}
