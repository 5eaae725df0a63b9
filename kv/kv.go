// Package kv abstracts the gateway's durable state behind a small
// key-value interface so the authentication core stays testable against
// an in-memory fake.
//
// Backends are eventually consistent across nodes: a write on one node may
// not be visible to an immediately following read elsewhere. Callers must
// not assume read-after-write consistency; in particular the revocation
// check in the verify path tolerates a visibility lag by design.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("kv: key not found")

// Store is the injected key-value dependency of every core component.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key. A zero ttl means the entry never
	// expires; otherwise the backend drops it after ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListByPrefix returns all entries whose key starts with prefix,
	// keyed by full key.
	ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
}
