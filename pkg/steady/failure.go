package steady

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// FailureFunc reports whether err means the handle is no longer usable.
type FailureFunc func(err error) bool

// MySQL server error numbers that mean the session is gone.
var mysqlLostNumbers = map[uint16]bool{
	1053: true, // ER_SERVER_SHUTDOWN
	1152: true, // ER_ABORTING_CONNECTION
	1159: true, // ER_NET_READ_INTERRUPTED
	1161: true, // ER_NET_WRITE_INTERRUPTED
	2006: true, // CR_SERVER_GONE_ERROR
	2013: true, // CR_SERVER_LOST
}

// IsConnectionLost is the default FailureFunc. It recognises the transient
// failure categories of database/sql, the MySQL and PostgreSQL drivers and
// the network layer. Context cancellation is never a failure.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperrors.Is(err, apperrors.ConnectionLost) {
		return true
	}

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlLostNumbers[myErr.Number]
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception; 57P01-03: admin/crash shutdown, cannot connect now
		switch pqErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return pqErr.Code.Class() == "08"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// FailureKinds builds a FailureFunc that matches any of kinds with errors.Is.
func FailureKinds(kinds ...error) FailureFunc {
	return func(err error) bool {
		for _, k := range kinds {
			if errors.Is(err, k) {
				return true
			}
		}
		return false
	}
}

// AnyFailure combines classifiers; err is a failure if any of them says so.
func AnyFailure(fns ...FailureFunc) FailureFunc {
	return func(err error) bool {
		for _, fn := range fns {
			if fn != nil && fn(err) {
				return true
			}
		}
		return false
	}
}
