package steady

import (
	"context"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// Cursor is a resilient cursor bound to a Connection. If the handle dies
// before any rows were fetched the last statement is replayed on a fresh
// handle. Once rows have been streamed a lost handle invalidates the cursor
// until the next Execute.
type Cursor struct {
	conn *Connection
	raw  RawCursor
	gen  uint64

	query    string
	args     []interface{}
	executed bool
	fetched  bool
	invalid  bool
	closed   bool
}

func (c *Cursor) check() error {
	if err := c.conn.ensureOpen(); err != nil {
		return err
	}
	if c.closed {
		return apperrors.New(apperrors.CursorInvalid, "cursor is closed")
	}
	return nil
}

// reopen moves the cursor to the connection's current handle.
func (c *Cursor) reopen(ctx context.Context) error {
	closeQuietly(c.raw)
	c.raw = nil
	raw, err := c.conn.handle.Cursor(ctx)
	if err != nil {
		return err
	}
	c.raw = raw
	c.gen = c.conn.generation
	return nil
}

func (c *Cursor) replay(ctx context.Context) error {
	if err := c.reopen(ctx); err != nil {
		return err
	}
	if err := c.raw.Execute(ctx, c.query, c.args); err != nil {
		return err
	}
	c.conn.usage++
	return nil
}

// Execute runs query on the cursor.
func (c *Cursor) Execute(ctx context.Context, query string, args ...interface{}) error {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()

	if err := c.check(); err != nil {
		return err
	}
	conn := c.conn
	c.executed, c.fetched, c.invalid = false, false, false

	if err := conn.prepare(ctx, PingOnExecute); err != nil {
		return err
	}
	if c.raw == nil || c.gen != conn.generation {
		if err := c.reopen(ctx); err != nil {
			return err
		}
	}

	err := c.raw.Execute(ctx, query, args)
	if err != nil {
		if conn.transaction || !conn.opts.isFailure(err) {
			return err
		}
		if rerr := conn.recreate(ctx); rerr != nil {
			return err
		}
		if rerr := c.reopen(ctx); rerr != nil {
			return err
		}
		if err := c.raw.Execute(ctx, query, args); err != nil {
			return err
		}
	}

	conn.usage++
	c.query, c.args = query, args
	c.executed = true
	return nil
}

// Fetch returns up to n rows, or all remaining rows when n <= 0.
func (c *Cursor) Fetch(ctx context.Context, n int) ([][]interface{}, error) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()

	if err := c.check(); err != nil {
		return nil, err
	}
	if c.invalid {
		return nil, apperrors.New(apperrors.CursorInvalid, "cursor lost its connection while streaming rows; execute the statement again")
	}
	if !c.executed {
		return nil, apperrors.New(apperrors.CursorInvalid, "no statement has been executed on this cursor")
	}

	conn := c.conn
	if c.gen != conn.generation {
		// the handle was replaced by another operation on this connection
		if c.fetched || conn.transaction {
			c.invalid = true
			return nil, apperrors.New(apperrors.CursorInvalid, "connection was replaced while streaming rows")
		}
		if err := c.replay(ctx); err != nil {
			return nil, err
		}
	}

	rows, err := c.raw.Fetch(ctx, n)
	if err == nil {
		if len(rows) > 0 {
			c.fetched = true
		}
		return rows, nil
	}
	if !conn.opts.isFailure(err) {
		return nil, err
	}

	if c.fetched {
		c.invalid = true
		if !conn.transaction {
			_ = conn.recreate(ctx)
		}
		return nil, apperrors.Wrap(apperrors.CursorInvalid, "connection lost while streaming rows", err)
	}
	if conn.transaction {
		return nil, err
	}
	if rerr := conn.recreate(ctx); rerr != nil {
		return nil, err
	}
	if rerr := c.replay(ctx); rerr != nil {
		return nil, rerr
	}

	rows, err = c.raw.Fetch(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		c.fetched = true
	}
	return rows, nil
}

// FetchOne returns the next row, or nil when the rows are exhausted.
func (c *Cursor) FetchOne(ctx context.Context) ([]interface{}, error) {
	rows, err := c.Fetch(ctx, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FetchAll returns every remaining row.
func (c *Cursor) FetchAll(ctx context.Context) ([][]interface{}, error) {
	return c.Fetch(ctx, 0)
}

// Columns returns the column names of the last query.
func (c *Cursor) Columns() []string {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	if c.raw == nil {
		return nil
	}
	return c.raw.Columns()
}

// RowsAffected returns the rows affected by the last statement.
func (c *Cursor) RowsAffected() int64 {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	if c.raw == nil {
		return 0
	}
	return c.raw.RowsAffected()
}

// Close releases the raw cursor.
func (c *Cursor) Close() error {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	closeQuietly(c.raw)
	c.raw = nil
	return nil
}
