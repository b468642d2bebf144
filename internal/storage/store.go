// Package storage persists small string values by key on the local device.
// It is the only durable state of a kiosk: settings and the log journal
// both sit on top of a Store.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value has been stored for a key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a key/value persistence backend. Implementations must be safe
// for concurrent use; every Set is atomic for its key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Sealer encrypts values at rest. The file backend applies it to the whole
// file contents.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}
