// Package steady wraps a single backing-store connection so that a severed
// handle is replaced transparently, without the caller writing retry logic,
// while never discarding the state of a transaction in progress.
//
// A Connection owns exactly one Handle at a time. When an operation fails with
// an error the configured FailureFunc recognises as "connection lost", when the
// usage limit is reached, or when a liveness ping fails, the Connection closes
// the old handle, asks its Creator for a new one and replays the session
// statements. None of that happens between Begin and Commit/Rollback: inside a
// transaction every error is returned exactly as the handle produced it.
//
// A Connection serves one logical caller at a time. Pool hands out one
// Connection per caller and takes it back afterwards.
package steady

import (
	"context"
)

// Creator opens a new raw handle to the backing store.
type Creator func(ctx context.Context) (Handle, error)

// Handle is a raw, unprotected connection to the backing store.
type Handle interface {
	// Cursor opens a cursor on the handle.
	Cursor(ctx context.Context) (RawCursor, error)

	// Transaction control
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Ping checks the handle for liveness.
	Ping(ctx context.Context) error
	// Cancel interrupts the operation currently running on the handle, if any.
	Cancel() error
	Close() error
}

// RawCursor executes statements and streams their rows.
type RawCursor interface {
	Execute(ctx context.Context, query string, args []interface{}) error
	Columns() []string
	// Fetch returns up to n rows, or every remaining row when n <= 0.
	// An empty result means the rows are exhausted.
	Fetch(ctx context.Context, n int) ([][]interface{}, error)
	RowsAffected() int64
	Close() error
}

func closeQuietly(c interface{ Close() error }) {
	if c == nil {
		return
	}
	defer func() { _ = recover() }()
	_ = c.Close()
}
