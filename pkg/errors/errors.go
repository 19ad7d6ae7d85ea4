// Package errors defines the typed error kinds shared by the dispatcher,
// the store modules and the resilient connection wrapper.
//
// Every error that crosses the dispatcher boundary is reduced to a Kind. The
// Kind decides the HTTP status, the business code and whether the caller may
// retry; the Message is the only text that is ever shown to a caller.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// InvalidRequest indicates a malformed request (bad JSON, missing fields).
	InvalidRequest Kind = "invalid_request"
	// UnknownModule indicates a module path outside the allow-list.
	UnknownModule Kind = "unknown_module"
	// UnknownMethod indicates a method not exported by the resolved module.
	UnknownMethod Kind = "unknown_method"
	// InvalidParameter indicates an unknown or ill-typed parameter.
	InvalidParameter Kind = "invalid_parameter"
	// MissingParameter indicates a required parameter was not supplied.
	MissingParameter Kind = "missing_parameter"
	// Unauthorized indicates a missing or wrong API token.
	Unauthorized Kind = "unauthorized"
	// NotFound indicates the store has no matching record.
	NotFound Kind = "not_found"
	// BackingStore indicates the store rejected the operation.
	BackingStore Kind = "backing_store"
	// ConnectionLost indicates the store connection died and could not be recovered.
	ConnectionLost Kind = "connection_lost"
	// ConnectionClosed indicates use of an explicitly closed connection.
	ConnectionClosed Kind = "connection_closed"
	// CursorInvalid indicates a cursor whose connection died mid-stream.
	CursorInvalid Kind = "cursor_invalid"
	// Internal is the fallback for anything unclassified.
	Internal Kind = "internal"
)

// E wraps an error with kind and a caller-safe message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

// Is reports whether target is an *E of the same kind with no message,
// so that errors.Is(err, errors.New(kind, "")) matches on kind alone.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// Newf formats the message.
func Newf(kind Kind, format string, args ...interface{}) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost *E in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the caller-safe message of err.
func MessageOf(err error) string {
	var e *E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return Describe(KindOf(err)).Message
}

// Info is the wire description of a kind.
type Info struct {
	Status    int
	Code      int
	Message   string
	Retryable bool
}

var table = map[Kind]Info{
	InvalidRequest:   {http.StatusBadRequest, 1000, "invalid request", false},
	InvalidParameter: {http.StatusBadRequest, 1002, "invalid parameter", false},
	MissingParameter: {http.StatusBadRequest, 1002, "missing parameter", false},
	UnknownModule:    {http.StatusNotFound, 1004, "unknown module", false},
	UnknownMethod:    {http.StatusNotFound, 1004, "unknown method", false},
	NotFound:         {http.StatusNotFound, 1004, "resource not found", false},
	Unauthorized:     {http.StatusUnauthorized, 1009, "invalid or missing X-Token header", false},
	BackingStore:     {http.StatusInternalServerError, 1005, "backing store rejected the operation", false},
	CursorInvalid:    {http.StatusInternalServerError, 1006, "cursor is no longer valid", true},
	ConnectionLost:   {http.StatusServiceUnavailable, 5003, "backing store connection lost", true},
	ConnectionClosed: {http.StatusServiceUnavailable, 5003, "connection is closed", true},
	Internal:         {http.StatusInternalServerError, 5000, "internal server error", true},
}

// Describe returns the wire description of kind.
func Describe(kind Kind) Info {
	if info, ok := table[kind]; ok {
		return info
	}
	return table[Internal]
}
