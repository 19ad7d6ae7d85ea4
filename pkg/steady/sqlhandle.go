package steady

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

// SQLCreator returns a Creator that checks out a dedicated *sql.Conn from db
// for every handle, so session state and transactions stay on one physical
// connection.
func SQLCreator(db *sql.DB) Creator {
	return func(ctx context.Context) (Handle, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return &sqlHandle{conn: conn}, nil
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sqlHandle struct {
	conn *sql.Conn
	tx   *sql.Tx

	mu      sync.Mutex
	cancel  context.CancelFunc
	cursors map[*sqlCursor]struct{}
}

func (h *sqlHandle) target() queryer {
	if h.tx != nil {
		return h.tx
	}
	return h.conn
}

// withCancel derives the context of one operation and records its cancel
// function for Cancel.
func (h *sqlHandle) withCancel(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	return opCtx, func() {
		h.mu.Lock()
		h.cancel = nil
		h.mu.Unlock()
		cancel()
	}
}

func (h *sqlHandle) Cursor(ctx context.Context) (RawCursor, error) {
	c := &sqlCursor{h: h, affected: -1}
	h.mu.Lock()
	if h.cursors == nil {
		h.cursors = make(map[*sqlCursor]struct{})
	}
	h.cursors[c] = struct{}{}
	h.mu.Unlock()
	return c, nil
}

func (h *sqlHandle) forget(c *sqlCursor) {
	h.mu.Lock()
	delete(h.cursors, c)
	h.mu.Unlock()
}

// closeCursors releases every open result set. sql.Conn.Close waits for
// them, so this has to happen first.
func (h *sqlHandle) closeCursors() {
	h.mu.Lock()
	open := make([]*sqlCursor, 0, len(h.cursors))
	for c := range h.cursors {
		open = append(open, c)
	}
	h.cursors = nil
	h.mu.Unlock()

	for _, c := range open {
		c.reset()
	}
}

func (h *sqlHandle) Begin(ctx context.Context) error {
	if h.tx != nil {
		return errors.New("transaction already in progress")
	}
	// the transaction outlives the call that opened it
	tx, err := h.conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return err
	}
	h.tx = tx
	return nil
}

func (h *sqlHandle) Commit(ctx context.Context) error {
	if h.tx == nil {
		return errors.New("no transaction in progress")
	}
	tx := h.tx
	h.tx = nil
	return tx.Commit()
}

func (h *sqlHandle) Rollback(ctx context.Context) error {
	if h.tx == nil {
		return errors.New("no transaction in progress")
	}
	tx := h.tx
	h.tx = nil
	return tx.Rollback()
}

func (h *sqlHandle) Ping(ctx context.Context) error {
	return h.conn.PingContext(ctx)
}

func (h *sqlHandle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

func (h *sqlHandle) Close() error {
	h.closeCursors()
	if h.tx != nil {
		_ = h.tx.Rollback()
		h.tx = nil
	}
	return h.conn.Close()
}

type sqlCursor struct {
	h *sqlHandle

	rows     *sql.Rows
	done     func()
	columns  []string
	affected int64
}

func (c *sqlCursor) reset() {
	if c.rows != nil {
		_ = c.rows.Close()
		c.rows = nil
	}
	if c.done != nil {
		c.done()
		c.done = nil
	}
}

func (c *sqlCursor) Execute(ctx context.Context, query string, args []interface{}) error {
	c.reset()
	c.columns = nil
	c.affected = -1

	opCtx, done := c.h.withCancel(ctx)
	if isQueryStatement(query) {
		rows, err := c.h.target().QueryContext(opCtx, query, args...)
		if err != nil {
			done()
			return err
		}
		cols, err := rows.Columns()
		if err != nil {
			_ = rows.Close()
			done()
			return err
		}
		c.rows, c.done, c.columns = rows, done, cols
		return nil
	}

	defer done()
	res, err := c.h.target().ExecContext(opCtx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		c.affected = n
	}
	return nil
}

func (c *sqlCursor) Columns() []string {
	return c.columns
}

func (c *sqlCursor) Fetch(ctx context.Context, n int) ([][]interface{}, error) {
	if c.rows == nil {
		return nil, nil
	}

	var out [][]interface{}
	for n <= 0 || len(out) < n {
		if !c.rows.Next() {
			err := c.rows.Err()
			c.reset()
			if err != nil {
				return nil, err
			}
			break
		}
		values := make([]interface{}, len(c.columns))
		ptrs := make([]interface{}, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			c.reset()
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return out, nil
}

func (c *sqlCursor) RowsAffected() int64 {
	return c.affected
}

func (c *sqlCursor) Close() error {
	c.reset()
	c.h.forget(c)
	return nil
}

var rowKeywords = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"WITH":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"PRAGMA":   true,
	"VALUES":   true,
}

// isQueryStatement reports whether the statement produces rows, judged by
// its leading keyword.
func isQueryStatement(statement string) bool {
	fields := strings.Fields(strings.TrimLeft(statement, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	return rowKeywords[strings.ToUpper(fields[0])]
}
