package steady

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"conn done wrapped", fmt.Errorf("query: %w", sql.ErrConnDone), true},
		{"mysql invalid conn", mysql.ErrInvalidConn, true},
		{"mysql gone away", &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		{"postgres connection failure", &pq.Error{Code: "08006"}, true},
		{"postgres admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"postgres unique violation", &pq.Error{Code: "23505"}, false},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"deadline", context.DeadlineExceeded, false},
		{"canceled", fmt.Errorf("exec: %w", context.Canceled), false},
		{"app connection lost", apperrors.New(apperrors.ConnectionLost, "store unreachable"), true},
		{"syntax", errors.New("syntax error near SELEC"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionLost(tt.err))
		})
	}
}

func TestAnyFailure(t *testing.T) {
	errA := errors.New("a")
	fn := AnyFailure(nil, FailureKinds(errA), IsConnectionLost)

	assert.True(t, fn(errA))
	assert.True(t, fn(driver.ErrBadConn))
	assert.False(t, fn(errors.New("b")))
}

func TestParsePingMode(t *testing.T) {
	tests := []struct {
		in   string
		want PingMode
	}{
		{"", PingOnDemand},
		{"0", PingNever},
		{"7", PingAlways},
		{"4", PingOnExecute},
		{"cursor|execute", PingOnCursor | PingOnExecute},
		{"Demand, Cursor", PingOnDemand | PingOnCursor},
		{"always", PingAlways},
	}
	for _, tt := range tests {
		got, err := ParsePingMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePingMode("8")
	assert.Error(t, err)
	_, err = ParsePingMode("sometimes")
	assert.Error(t, err)

	assert.Equal(t, "never", PingNever.String())
	assert.Equal(t, "demand|cursor|execute", PingAlways.String())
}
