package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	e := New(UnknownModule, "module os.exec is not registered")
	assert.Equal(t, "unknown_module: module os.exec is not registered", e.Error())

	wrapped := Wrap(BackingStore, "insert_one failed", errors.New("duplicate key"))
	assert.Equal(t, "backing_store: insert_one failed: duplicate key", wrapped.Error())
}

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", cause, Internal},
		{"typed", New(MissingParameter, "cname is required"), MissingParameter},
		{"wrapped by fmt", fmt.Errorf("outer: %w", New(CursorInvalid, "x")), CursorInvalid},
		{"nested E keeps outer kind", Wrap(ConnectionLost, "lost", New(BackingStore, "inner")), ConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsMatchesOnKind(t *testing.T) {
	err := fmt.Errorf("context: %w", Wrap(ConnectionClosed, "connection is closed", nil))
	assert.True(t, errors.Is(err, New(ConnectionClosed, "")))
	assert.False(t, errors.Is(err, New(ConnectionLost, "")))
	assert.True(t, Is(err, ConnectionClosed))
	assert.False(t, Is(nil, ConnectionClosed))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := Wrap(ConnectionLost, "lost", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "cname is required", MessageOf(New(MissingParameter, "cname is required")))
	assert.Equal(t, "internal server error", MessageOf(errors.New("secret driver detail")))
	assert.Equal(t, "backing store rejected the operation", MessageOf(Wrap(BackingStore, "", errors.New("x"))))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Describe(InvalidParameter).Status)
	assert.Equal(t, 1002, Describe(MissingParameter).Code)
	assert.Equal(t, http.StatusNotFound, Describe(UnknownModule).Status)
	assert.True(t, Describe(ConnectionLost).Retryable)
	assert.False(t, Describe(InvalidParameter).Retryable)
	assert.Equal(t, Describe(Internal), Describe(Kind("made_up")))
}
