package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("object not found")

// Store reads release assets from an object storage mirror.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// NullStore holds nothing.
type NullStore struct{}

func (NullStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}
