package steady

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

func connect(t *testing.T, s *fakeStore, opts ...Option) *Connection {
	t.Helper()
	conn, err := Connect(context.Background(), s.creator, opts...)
	require.NoError(t, err)
	return conn
}

func TestConnectRunsSessionStatements(t *testing.T) {
	s := newFakeStore()
	conn := connect(t, s, WithSetSession("SET NAMES utf8mb4", "SET time_zone = '+00:00'"))

	assert.Equal(t, []string{"SET NAMES utf8mb4", "SET time_zone = '+00:00'"}, s.last().statements())
	assert.Equal(t, Fresh, conn.State())
	assert.Equal(t, 0, conn.Usage())
}

func TestConnectCreatorError(t *testing.T) {
	s := newFakeStore()
	s.createErr = errors.New("connection refused")

	conn, err := Connect(context.Background(), s.creator)
	assert.Nil(t, conn)
	assert.EqualError(t, err, "connection refused")
}

func TestMaxUsageRecreatesHandle(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s, WithMaxUsage(3))

	for i := 0; i < 3; i++ {
		_, err := conn.Execute(ctx, "UPDATE t SET n = n + 1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.created())
	assert.Equal(t, 3, conn.Usage())

	_, err := conn.Execute(ctx, "UPDATE t SET n = n + 1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.created())
	assert.True(t, s.handle(0).isClosed())
	assert.Equal(t, 1, conn.Usage())
	assert.Equal(t, Active, conn.State())
}

func TestMaxUsageDeferredInTransaction(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s, WithMaxUsage(1))

	require.NoError(t, conn.Begin(ctx))
	for i := 0; i < 3; i++ {
		_, err := conn.Execute(ctx, "INSERT INTO t VALUES (1)")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.created())

	require.NoError(t, conn.Commit(ctx))
	_, err := conn.Execute(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	assert.Equal(t, 2, s.created())
}

func TestFailureOutsideTransactionRecreates(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s, WithSetSession("SET NAMES utf8mb4"))

	_, err := conn.Execute(ctx, "DELETE FROM t")
	require.NoError(t, err)

	s.last().kill()
	_, err = conn.Execute(ctx, "DELETE FROM t")
	require.NoError(t, err)

	assert.Equal(t, 2, s.created())
	assert.True(t, s.handle(0).isClosed())
	assert.Equal(t, []string{"SET NAMES utf8mb4", "DELETE FROM t"}, s.handle(1).statements())
}

func TestExecuteFailureIsReplayed(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	s.last().execErr = driver.ErrBadConn
	_, err := conn.Execute(ctx, "UPDATE t SET a = 1")
	require.NoError(t, err)

	assert.Equal(t, 2, s.created())
	assert.Empty(t, s.handle(0).statements())
	assert.Equal(t, []string{"UPDATE t SET a = 1"}, s.handle(1).statements())
}

func TestNonFailureErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	s.last().execErr = errors.New("Duplicate entry '1' for key 'PRIMARY'")
	_, err := conn.Execute(ctx, "INSERT INTO t VALUES (1)")
	assert.EqualError(t, err, "Duplicate entry '1' for key 'PRIMARY'")
	assert.Equal(t, 1, s.created())
}

func TestTransactionDisablesRecovery(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	require.NoError(t, conn.Begin(ctx))
	_, err := conn.Execute(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	s.last().kill()
	_, err = conn.Execute(ctx, "INSERT INTO t VALUES (2)")
	assert.Equal(t, driver.ErrBadConn, err)
	assert.Equal(t, 1, s.created())
	assert.Equal(t, InTransaction, conn.State())
}

func TestBeginRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	s.last().kill()
	require.NoError(t, conn.Begin(ctx))
	assert.Equal(t, 2, s.created())
	assert.True(t, conn.InTransaction())
}

func TestCommitConnectionLostRecreatesAndReturnsError(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	require.NoError(t, conn.Begin(ctx))
	s.last().commitErr = driver.ErrBadConn

	err := conn.Commit(ctx)
	assert.Equal(t, driver.ErrBadConn, err)
	assert.False(t, conn.InTransaction())
	assert.Equal(t, 2, s.created())
	assert.True(t, s.handle(0).isClosed())
}

func TestRollbackEndsTransaction(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	require.NoError(t, conn.Begin(ctx))
	_, err := conn.Execute(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, conn.Rollback(ctx))

	assert.Equal(t, 1, s.last().rollbacks)
	assert.Equal(t, Active, conn.State())
}

func TestClosedConnectionRejectsOperations(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	require.NoError(t, conn.Close())
	assert.True(t, s.last().isClosed())
	assert.Equal(t, Closed, conn.State())

	_, err := conn.Execute(ctx, "SELECT 1")
	assert.Equal(t, apperrors.ConnectionClosed, apperrors.KindOf(err))
	assert.Equal(t, apperrors.ConnectionClosed, apperrors.KindOf(conn.Begin(ctx)))
	assert.NoError(t, conn.Close())
}

func TestNonCloseableCloseRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s, WithCloseable(false))

	require.NoError(t, conn.Begin(ctx))
	require.NoError(t, conn.Close())

	assert.NotEqual(t, Closed, conn.State())
	assert.False(t, conn.InTransaction())
	assert.Equal(t, 1, s.last().rollbacks)
	assert.False(t, s.last().isClosed())

	_, err := conn.Execute(ctx, "SELECT 1")
	assert.NoError(t, err)
}

func TestPingOnExecuteReconnects(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s, WithPing(PingOnExecute))

	s.last().pingErr = errors.New("server has gone away")
	_, err := conn.Execute(ctx, "SELECT 1")
	require.NoError(t, err)

	assert.Equal(t, 2, s.created())
	assert.Equal(t, []string{"SELECT 1"}, s.handle(1).statements())
}

func TestPingFailureInTransactionIsReturned(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s, WithPing(PingOnExecute))

	require.NoError(t, conn.Begin(ctx))
	s.last().pingErr = errors.New("server has gone away")

	_, err := conn.Execute(ctx, "SELECT 1")
	assert.EqualError(t, err, "server has gone away")
	assert.Equal(t, 1, s.created())
	assert.True(t, conn.InTransaction())
}

func TestPingOnDemand(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		s := newFakeStore()
		conn := connect(t, s, WithPing(PingNever))
		s.last().kill()
		assert.NoError(t, conn.Ping(ctx))
		assert.Equal(t, 0, s.last().pings)
		assert.Equal(t, 1, s.created())
	})

	t.Run("enabled", func(t *testing.T) {
		s := newFakeStore()
		conn := connect(t, s)
		s.last().kill()
		assert.NoError(t, conn.Ping(ctx))
		assert.Equal(t, 2, s.created())
	})
}

func TestRecreateFailureReturnsOriginalError(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	conn := connect(t, s)

	s.createErr = errors.New("connection refused")
	s.last().execErr = driver.ErrBadConn

	_, err := conn.Execute(ctx, "UPDATE t SET a = 1")
	assert.Equal(t, driver.ErrBadConn, err)
	assert.Equal(t, 1, s.created())
	assert.Equal(t, 2, s.attempts)
}

func TestCustomFailureClassifier(t *testing.T) {
	ctx := context.Background()
	errGone := errors.New("store went away")
	s := newFakeStore()
	conn := connect(t, s, WithFailures(FailureKinds(errGone)))

	s.last().execErr = errGone
	_, err := conn.Execute(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.created())

	s.last().execErr = driver.ErrBadConn
	_, err = conn.Execute(ctx, "SELECT 1")
	assert.Equal(t, driver.ErrBadConn, err)
	assert.Equal(t, 2, s.created())
}

func TestCancelReachesHandle(t *testing.T) {
	s := newFakeStore()
	conn := connect(t, s)

	require.NoError(t, conn.Cancel())
	assert.Equal(t, 1, s.last().cancels)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Cancel())
	assert.Equal(t, 1, s.last().cancels)
}

func TestQueryFetchesRows(t *testing.T) {
	s := newFakeStore([]interface{}{int64(1), "alice"}, []interface{}{int64(2), "bob"})
	conn := connect(t, s)

	cols, rows, err := conn.Query(context.Background(), "SELECT id, name FROM users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
	assert.Len(t, rows, 2)
	assert.Equal(t, "bob", rows[1][1])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "in_transaction", InTransaction.String())
	assert.Equal(t, "closed", Closed.String())
}
