package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

const (
	defaultMaxConcurrent = 64
	defaultTimeout       = 30 * time.Second
)

// Request is one invocation
type Request struct {
	RequestID string                 `json:"request_id,omitempty"`
	Module    string                 `json:"module_name"`
	Method    string                 `json:"method_name"`
	Params    map[string]interface{} `json:"params"`
}

// Dispatcher invokes registered methods. Invocations share nothing but the
// read-only registry and the worker limit.
type Dispatcher struct {
	registry *Registry
	sem      *semaphore.Weighted
	limit    int64
	timeout  time.Duration
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithMaxConcurrent bounds how many invocations run at once
func WithMaxConcurrent(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithTimeout bounds each invocation; 0 disables the bound
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// New creates a dispatcher over registry
func New(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		limit:    defaultMaxConcurrent,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(d.limit)
	return d
}

// Registry returns the registry the dispatcher resolves against
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Invoke resolves, binds and runs req. Errors are always *apperrors.E.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (interface{}, error) {
	start := time.Now()
	result, err := d.invoke(ctx, req)

	fields := logger.Fields{
		"request_id":  req.RequestID,
		"module":      req.Module,
		"method":      req.Method,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["kind"] = apperrors.KindOf(err)
		// driver detail stays in the log
		logger.WithFields(fields).Warn("invocation failed: %v", err)
		return nil, err
	}
	logger.WithFields(fields).Debug("invocation succeeded")
	return result, nil
}

func (d *Dispatcher) invoke(ctx context.Context, req Request) (interface{}, error) {
	if req.Module == "" {
		return nil, apperrors.New(apperrors.MissingParameter, "missing required parameter: module_name")
	}
	if req.Method == "" {
		return nil, apperrors.New(apperrors.MissingParameter, "missing required parameter: method_name")
	}

	m, err := d.registry.Lookup(req.Module, req.Method)
	if err != nil {
		return nil, err
	}
	args, err := Bind(m.Params, req.Params)
	if err != nil {
		return nil, err
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "request cancelled while waiting for a worker", err)
	}
	defer d.sem.Release(1)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	result, err := call(ctx, m, args)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return result, nil
}

func call(ctx context.Context, m *Method, args Args) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in %s: %v\n%s", m.Name, r, debug.Stack())
			err = apperrors.Wrap(apperrors.Internal, "internal server error", fmt.Errorf("panic: %v", r))
		}
	}()
	return m.Handler(ctx, args)
}

// classify makes sure every error leaving the dispatcher has a kind and a
// message that is safe to show.
func classify(ctx context.Context, err error) error {
	var e *apperrors.E
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return apperrors.Wrap(apperrors.Internal, "operation timed out", err)
	}
	return apperrors.Wrap(apperrors.Internal, "internal server error", err)
}
