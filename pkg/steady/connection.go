package steady

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// State is the lifecycle state of a Connection
type State int

const (
	// Fresh means a handle exists and has not run a statement yet
	Fresh State = iota
	// Active means statements have run on the current handle
	Active
	// InTransaction means Begin succeeded and neither Commit nor Rollback followed
	InTransaction
	// Closed means Close released the handle
	Closed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Active:
		return "active"
	case InTransaction:
		return "in_transaction"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type handleRef struct {
	h Handle
}

// Connection is a resilient wrapper around one Handle.
type Connection struct {
	creator Creator
	opts    options

	mu          sync.Mutex
	handle      Handle
	generation  uint64
	usage       int
	transaction bool
	closed      bool

	// current is read by Cancel without taking mu
	current atomic.Pointer[handleRef]
}

// Connect opens the first handle and runs the session statements on it.
func Connect(ctx context.Context, creator Creator, opts ...Option) (*Connection, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Connection{creator: creator, opts: o}
	h, err := c.create(ctx)
	if err != nil {
		return nil, err
	}
	c.store(h)
	return c, nil
}

func (c *Connection) create(ctx context.Context) (Handle, error) {
	h, err := c.creator(ctx)
	if err != nil {
		return nil, err
	}
	for _, stmt := range c.opts.setSession {
		cur, err := h.Cursor(ctx)
		if err != nil {
			closeQuietly(h)
			return nil, err
		}
		err = cur.Execute(ctx, stmt, nil)
		closeQuietly(cur)
		if err != nil {
			closeQuietly(h)
			return nil, err
		}
	}
	return h, nil
}

func (c *Connection) store(h Handle) {
	c.handle = h
	c.generation++
	c.usage = 0
	c.transaction = false
	c.current.Store(&handleRef{h: h})
}

// recreate replaces the handle. On error the old handle stays in place.
func (c *Connection) recreate(ctx context.Context) error {
	h, err := c.create(ctx)
	if err != nil {
		logger.Warn("steady: failed to recreate connection: %v", err)
		return err
	}
	old := c.handle
	c.store(h)
	closeQuietly(old)
	logger.Debug("steady: connection recreated (generation %d)", c.generation)
	return nil
}

func (c *Connection) ensureOpen() error {
	if c.closed {
		return apperrors.New(apperrors.ConnectionClosed, "connection is closed")
	}
	return nil
}

func (c *Connection) usageExhausted() bool {
	return c.opts.maxUsage > 0 && c.usage >= c.opts.maxUsage
}

// pingCheck pings the handle when mode is enabled and recreates it if the
// ping fails. Inside a transaction the ping error is returned instead.
func (c *Connection) pingCheck(ctx context.Context, mode PingMode) error {
	if c.opts.ping&mode == 0 {
		return nil
	}
	err := c.handle.Ping(ctx)
	if err == nil {
		return nil
	}
	if c.transaction {
		return err
	}
	if rerr := c.recreate(ctx); rerr != nil {
		return err
	}
	return nil
}

// prepare runs before a statement or cursor. The usage limit is deferred
// while a transaction is open.
func (c *Connection) prepare(ctx context.Context, mode PingMode) error {
	if err := c.pingCheck(ctx, mode); err != nil {
		return err
	}
	if !c.transaction && c.usageExhausted() {
		return c.recreate(ctx)
	}
	return nil
}

func (c *Connection) openRaw(ctx context.Context) (RawCursor, error) {
	if err := c.prepare(ctx, PingOnCursor); err != nil {
		return nil, err
	}
	raw, err := c.handle.Cursor(ctx)
	if err == nil {
		return raw, nil
	}
	if c.transaction || !c.opts.isFailure(err) {
		return nil, err
	}
	if rerr := c.recreate(ctx); rerr != nil {
		return nil, err
	}
	return c.handle.Cursor(ctx)
}

// Cursor opens a resilient cursor on the connection.
func (c *Connection) Cursor(ctx context.Context) (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	raw, err := c.openRaw(ctx)
	if err != nil {
		return nil, err
	}
	return &Cursor{conn: c, raw: raw, gen: c.generation}, nil
}

// Execute runs a statement that returns no rows and reports the rows affected.
func (c *Connection) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	cur, err := c.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	if err := cur.Execute(ctx, query, args...); err != nil {
		return 0, err
	}
	return cur.RowsAffected(), nil
}

// Query runs a statement and fetches every row.
func (c *Connection) Query(ctx context.Context, query string, args ...interface{}) ([]string, [][]interface{}, error) {
	cur, err := c.Cursor(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close()

	if err := cur.Execute(ctx, query, args...); err != nil {
		return nil, nil, err
	}
	rows, err := cur.FetchAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cur.Columns(), rows, nil
}

// Begin starts a transaction. Recovery is suspended until Commit or Rollback.
func (c *Connection) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return err
	}
	if !c.transaction && c.usageExhausted() {
		if err := c.recreate(ctx); err != nil {
			return err
		}
	}

	err := c.handle.Begin(ctx)
	if err != nil && !c.transaction && c.opts.isFailure(err) {
		if rerr := c.recreate(ctx); rerr != nil {
			return err
		}
		err = c.handle.Begin(ctx)
	}
	if err != nil {
		return err
	}
	c.transaction = true
	return nil
}

// Commit ends the transaction. If the commit fails because the connection
// was lost, the handle is recreated and the error is still returned.
func (c *Connection) Commit(ctx context.Context) error {
	return c.finish(ctx, Handle.Commit)
}

// Rollback ends the transaction, discarding its work.
func (c *Connection) Rollback(ctx context.Context) error {
	return c.finish(ctx, Handle.Rollback)
}

func (c *Connection) finish(ctx context.Context, op func(Handle, context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.transaction = false
	err := op(c.handle, ctx)
	if err != nil && c.opts.isFailure(err) {
		_ = c.recreate(ctx)
	}
	return err
}

// Ping checks the connection when PingOnDemand is enabled, recreating the
// handle if it is dead.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.pingCheck(ctx, PingOnDemand)
}

// Cancel interrupts the statement currently running. It is safe to call from
// another goroutine while an operation holds the connection.
func (c *Connection) Cancel() error {
	ref := c.current.Load()
	if ref == nil {
		return nil
	}
	return ref.h.Cancel()
}

// Close releases the handle. A non-closeable connection only rolls back an
// open transaction and stays usable.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if !c.opts.closeable {
		c.resetLocked(context.Background())
		return nil
	}
	c.shutdownLocked()
	return nil
}

func (c *Connection) resetLocked(ctx context.Context) {
	if !c.transaction {
		return
	}
	c.transaction = false
	if err := c.handle.Rollback(ctx); err != nil {
		logger.Debug("steady: rollback on release failed: %v", err)
		if c.opts.isFailure(err) {
			_ = c.recreate(ctx)
		}
	}
}

func (c *Connection) shutdownLocked() {
	if c.transaction {
		_ = c.handle.Rollback(context.Background())
	}
	closeQuietly(c.handle)
	c.transaction = false
	c.closed = true
	c.current.Store(nil)
}

// shutdown closes the handle regardless of the closeable flag.
func (c *Connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.shutdownLocked()
	}
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return Closed
	case c.transaction:
		return InTransaction
	case c.usage == 0:
		return Fresh
	default:
		return Active
	}
}

// Usage is the number of statements run on the current handle.
func (c *Connection) Usage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// InTransaction reports whether a transaction is open.
func (c *Connection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transaction
}
