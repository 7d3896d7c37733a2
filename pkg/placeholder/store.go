// Package placeholder implements the deferred-result store: a
// concurrency-safe, expiring task-id -> payload cache that lets callers
// poll for the outcome of an asynchronous agent call without holding a
// connection open.
package placeholder

import (
	"context"
	"errors"
)

// Common errors for placeholder operations.
var (
	// ErrPending is returned when the backing computation has not
	// completed yet. Callers are expected to poll again.
	ErrPending = errors.New("placeholder pending")
	// ErrNotFound is returned when the task id was never issued, or its
	// entry has been evicted. A resolved-but-evicted task legitimately
	// surfaces as not found.
	ErrNotFound = errors.New("placeholder not found")
	// ErrExpired is returned when the task's deadline has passed.
	ErrExpired = errors.New("placeholder expired")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("placeholder store is closed")
)

// Store abstracts deferred-result storage.
// Implementations must be safe for concurrent use and must keep
// resolution monotonic: once Get returns a payload for a task id, later
// calls return the same payload, ErrNotFound, or ErrExpired - never a
// different value.
type Store interface {
	// Prepare issues a fresh task id and registers it as pending.
	Prepare(ctx context.Context) (string, error)

	// Set resolves a pending task with its final payload. A task is
	// resolved at most once.
	Set(ctx context.Context, taskID string, payload []byte) error

	// Get retrieves the current value for a task id. It returns
	// ErrPending while the computation is in flight, ErrNotFound for
	// unknown or evicted ids, and ErrExpired past the deadline.
	Get(ctx context.Context, taskID string) ([]byte, error)

	// Close releases any resources held by the store.
	Close() error
}
