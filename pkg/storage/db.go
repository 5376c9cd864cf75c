package storage

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound indicates a read miss. Callers usually branch on this
	// rather than treat it as a failure.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExists indicates an Insert hit an occupied key.
	ErrKeyExists = errors.New("key already exists")
)

// Entry is a single key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// UpdateFunc is the body of a read-modify-write transaction. It receives the
// current value for the key (nil + exists=false if absent) and returns the
// replacement value. Returning an error aborts the transaction; that error is
// handed back to the caller of Update unchanged, so callers can use their own
// sentinel to mean "checked and rejected" as opposed to a store failure.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// DB interface used to store document data *somewhere*.
// Keys are structured paths (e.g. "projects/bob:model1"), values are opaque
// byte blobs. Each implementation must make Insert and Update atomic per key:
// no other writer can get between the read and the write of an Update. How
// that is achieved (badger transactions, sqlite BEGIN IMMEDIATE, an internal
// commit lock) is the driver's business.
type DB interface {

	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Scan returns every entry whose key is lexicographically >= start,
	// ordered by key ascending.
	Scan(ctx context.Context, start string) ([]Entry, error)

	// Insert stores value under key only if the key is absent.
	// Returns ErrKeyExists otherwise.
	Insert(ctx context.Context, key string, value []byte) error

	// Update runs fn against the current value of key inside a transaction
	// and writes the returned replacement. If fn returns an error the
	// transaction is aborted and that error is returned verbatim.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
