package steady

import (
	"fmt"
	"strconv"
	"strings"
)

// PingMode selects when the liveness check runs. Modes combine as a bit set.
type PingMode uint8

const (
	// PingNever disables probing
	PingNever PingMode = 0
	// PingOnDemand pings on Connection.Ping, which Pool calls on checkout
	PingOnDemand PingMode = 1
	// PingOnCursor pings whenever a cursor is opened
	PingOnCursor PingMode = 2
	// PingOnExecute pings before every statement
	PingOnExecute PingMode = 4
	// PingAlways combines every mode
	PingAlways = PingOnDemand | PingOnCursor | PingOnExecute
)

var pingModeNames = map[string]PingMode{
	"never":   PingNever,
	"demand":  PingOnDemand,
	"cursor":  PingOnCursor,
	"execute": PingOnExecute,
	"always":  PingAlways,
}

// ParsePingMode accepts a number (0-7) or names joined by "," or "|",
// e.g. "cursor|execute".
func ParsePingMode(s string) (PingMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PingOnDemand, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > int(PingAlways) {
			return 0, fmt.Errorf("ping mode out of range: %d", n)
		}
		return PingMode(n), nil
	}

	var mode PingMode
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		m, ok := pingModeNames[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return 0, fmt.Errorf("unknown ping mode: %q", part)
		}
		mode |= m
	}
	return mode, nil
}

func (m PingMode) String() string {
	if m == PingNever {
		return "never"
	}
	var parts []string
	for _, name := range []string{"demand", "cursor", "execute"} {
		if m&pingModeNames[name] != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

type options struct {
	maxUsage   int
	setSession []string
	isFailure  FailureFunc
	ping       PingMode
	closeable  bool
}

func defaultOptions() options {
	return options{
		isFailure: IsConnectionLost,
		ping:      PingOnDemand,
		closeable: true,
	}
}

// Option configures a Connection
type Option func(*options)

// WithMaxUsage recreates the handle after n statements; 0 means unlimited
func WithMaxUsage(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxUsage = n
	}
}

// WithSetSession sets statements replayed on every freshly created handle
func WithSetSession(statements ...string) Option {
	return func(o *options) {
		o.setSession = append([]string(nil), statements...)
	}
}

// WithFailures replaces the "connection lost" classifier
func WithFailures(fn FailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.isFailure = fn
		}
	}
}

// WithPing sets when the liveness check runs
func WithPing(mode PingMode) Option {
	return func(o *options) {
		o.ping = mode
	}
}

// WithCloseable controls whether Close really closes the handle.
// A non-closeable connection only resets its transaction state on Close,
// leaving the owning pool in charge of its lifetime.
func WithCloseable(closeable bool) Option {
	return func(o *options) {
		o.closeable = closeable
	}
}
