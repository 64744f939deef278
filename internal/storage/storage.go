// Package storage defines the persistence interface for namespaced cache entries.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = errors.New("storage: entry not found")

// ErrInvalidKey is returned for namespaces or keys that cannot be stored safely.
var ErrInvalidKey = errors.New("storage: invalid namespace or key")

// Backend names accepted by Open.
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// ByteStore persists opaque byte payloads under (namespace, key).
// Operations are per key; there is no atomicity across keys.
type ByteStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	// Put replaces any existing value for the key.
	Put(ctx context.Context, namespace, key string, value []byte) error
	Count(ctx context.Context, namespace string) (int64, error)
	// Clear removes every entry in every namespace.
	Clear(ctx context.Context) error
	// Paths returns the files backing the store, for disk usage reporting.
	Paths() []string
	Close() error
}

// Open returns the ByteStore for backend. root is the directory used by the
// disk backend and dbPath the database file used by the sqlite backend.
func Open(backend, root, dbPath string) (ByteStore, error) {
	switch backend {
	case "", BackendDisk:
		return NewDiskStore(root)
	case BackendSQLite:
		return NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
