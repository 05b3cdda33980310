package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by backends when a key has no value.
	ErrNotFound = errors.New("kv: not found")

	// ErrEmptyKey is returned when an operation is called without a key.
	ErrEmptyKey = errors.New("kv: empty key")

	// ErrCorrupt wraps decode failures of a stored value.
	ErrCorrupt = errors.New("kv: corrupt value")
)

// Backend is one durable (or not) key/value store candidate.
//
// Implementations report a missing key from Get as ErrNotFound. Any other
// error is treated by the Provider as a backend failure.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Available probes whether the backend can serve requests right now.
	Available(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
