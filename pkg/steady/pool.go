package steady

import (
	"context"
	"sync"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// Pool hands out non-closeable Connections, one caller at a time each.
type Pool struct {
	creator Creator
	opts    []Option
	size    int

	idle chan *Connection
	done chan struct{}

	mu     sync.Mutex
	open   int
	closed bool
}

// PoolStats is a snapshot of pool occupancy
type PoolStats struct {
	Open int `json:"open"`
	Idle int `json:"idle"`
	Size int `json:"size"`
}

// NewPool creates a pool of at most size connections. Connections are opened lazily.
func NewPool(creator Creator, size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	o := append([]Option(nil), opts...)
	o = append(o, WithCloseable(false))
	return &Pool{
		creator: creator,
		opts:    o,
		size:    size,
		idle:    make(chan *Connection, size),
		done:    make(chan struct{}),
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
}

func (p *Pool) checkout(ctx context.Context, c *Connection) (*Connection, error) {
	if err := c.Ping(ctx); err != nil {
		logger.Warn("steady: discarding pooled connection: %v", err)
		c.shutdown()
		p.release()
		return nil, err
	}
	return c, nil
}

// Get returns an idle connection, opens a new one below the size limit, or
// waits until one is returned or ctx is done.
func (p *Pool) Get(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apperrors.New(apperrors.ConnectionClosed, "pool is closed")
	}

	select {
	case c := <-p.idle:
		p.mu.Unlock()
		return p.checkout(ctx, c)
	default:
	}

	if p.open < p.size {
		p.open++
		p.mu.Unlock()
		c, err := Connect(ctx, p.creator, p.opts...)
		if err != nil {
			p.release()
			return nil, err
		}
		return c, nil
	}
	p.mu.Unlock()

	select {
	case c := <-p.idle:
		return p.checkout(ctx, c)
	case <-p.done:
		return nil, apperrors.New(apperrors.ConnectionClosed, "pool is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns c to the pool, rolling back any open transaction.
func (p *Pool) Put(c *Connection) {
	if c == nil {
		return
	}
	_ = c.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || c.State() == Closed {
		c.shutdown()
		p.open--
		return
	}
	p.idle <- c
}

// Do runs fn with a pooled connection.
func (p *Pool) Do(ctx context.Context, fn func(*Connection) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)
	return fn(c)
}

// Stats reports pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Open: p.open, Idle: len(p.idle), Size: p.size}
}

// Close shuts down idle connections. Checked-out connections are shut down
// when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	for {
		select {
		case c := <-p.idle:
			c.shutdown()
			p.open--
		default:
			return nil
		}
	}
}
