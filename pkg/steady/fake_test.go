package steady

import (
	"context"
	"database/sql/driver"
	"sync"
)

// fakeStore hands out scripted handles and records what ran on them.
type fakeStore struct {
	mu        sync.Mutex
	attempts  int
	handles   []*fakeHandle
	createErr error
	rows      [][]interface{}
}

func newFakeStore(rows ...[]interface{}) *fakeStore {
	return &fakeStore{rows: rows}
}

func (s *fakeStore) creator(ctx context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.createErr != nil {
		return nil, s.createErr
	}
	h := &fakeHandle{store: s, id: len(s.handles) + 1}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeStore) created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *fakeStore) last() *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[len(s.handles)-1]
}

func (s *fakeStore) handle(i int) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

type fakeHandle struct {
	store *fakeStore
	id    int

	mu        sync.Mutex
	dead      bool
	execErr   error // returned once by the next Execute
	commitErr error
	pingErr   error
	// dieAfter kills the handle once that many rows were fetched; 0 disables
	dieAfter int

	executed  []string
	inTx      bool
	begins    int
	commits   int
	rollbacks int
	pings     int
	cancels   int
	closed    bool
}

func (h *fakeHandle) kill() {
	h.mu.Lock()
	h.dead = true
	h.mu.Unlock()
}

func (h *fakeHandle) statements() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.executed...)
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) Cursor(ctx context.Context) (RawCursor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return nil, driver.ErrBadConn
	}
	return &fakeCursor{h: h}, nil
}

func (h *fakeHandle) Begin(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return driver.ErrBadConn
	}
	h.begins++
	h.inTx = true
	return nil
}

func (h *fakeHandle) Commit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inTx = false
	if h.commitErr != nil {
		return h.commitErr
	}
	if h.dead {
		return driver.ErrBadConn
	}
	h.commits++
	return nil
}

func (h *fakeHandle) Rollback(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inTx = false
	if h.dead {
		return driver.ErrBadConn
	}
	h.rollbacks++
	return nil
}

func (h *fakeHandle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pings++
	if h.pingErr != nil {
		return h.pingErr
	}
	if h.dead {
		return driver.ErrBadConn
	}
	return nil
}

func (h *fakeHandle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels++
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeCursor struct {
	h   *fakeHandle
	pos int
	has bool
}

func (c *fakeCursor) Execute(ctx context.Context, query string, args []interface{}) error {
	h := c.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return driver.ErrBadConn
	}
	if h.execErr != nil {
		err := h.execErr
		h.execErr = nil
		return err
	}
	h.executed = append(h.executed, query)
	c.pos = 0
	c.has = true
	return nil
}

func (c *fakeCursor) Columns() []string {
	return []string{"id", "name"}
}

func (c *fakeCursor) Fetch(ctx context.Context, n int) ([][]interface{}, error) {
	h := c.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return nil, driver.ErrBadConn
	}
	if !c.has {
		return nil, nil
	}
	rows := h.store.rows
	var out [][]interface{}
	for c.pos < len(rows) && (n <= 0 || len(out) < n) {
		if h.dieAfter > 0 && c.pos >= h.dieAfter {
			h.dead = true
			return nil, driver.ErrBadConn
		}
		out = append(out, rows[c.pos])
		c.pos++
	}
	return out, nil
}

func (c *fakeCursor) RowsAffected() int64 {
	return 1
}

func (c *fakeCursor) Close() error {
	return nil
}
