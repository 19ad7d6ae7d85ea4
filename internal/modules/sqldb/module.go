// Package sqldb exposes the configured SQL databases as the
// modules.database.mysqlClient namespace. Every statement runs on a
// resilient connection borrowed from the database's steady pool.
package sqldb

import (
	"context"
	"errors"

	"github.com/FreePeak/db-dispatch-server/pkg/db"
	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
	"github.com/FreePeak/db-dispatch-server/pkg/steady"
)

const (
	// Path is the module path of the SQL namespace
	Path = "modules.database.mysqlClient"
	// DefaultDatabase is used when a call names no database
	DefaultDatabase = "default"
)

// Databases resolves connection ids. *db.Manager satisfies it.
type Databases interface {
	GetDB(id string) (db.Database, error)
	ListDatabases() []string
}

// Module binds the namespace methods to a set of databases
type Module struct {
	dbs Databases
}

// New creates the module over dbs
func New(dbs Databases) *Module {
	return &Module{dbs: dbs}
}

func databaseParam() dispatch.Param {
	return dispatch.Param{Name: "database", Type: dispatch.TypeString, Default: DefaultDatabase, Description: "Configured connection id"}
}

func sqlParam() dispatch.Param {
	return dispatch.Param{Name: "sql", Type: dispatch.TypeString, Required: true, Description: "Statement with driver placeholders"}
}

func paramsParam() dispatch.Param {
	return dispatch.Param{Name: "params", Type: dispatch.TypeArray, Description: "Positional statement arguments"}
}

// Namespace declares the SQL operations
func (m *Module) Namespace() *dispatch.Namespace {
	return &dispatch.Namespace{
		Path:        Path,
		Description: "SQL databases reached through resilient pooled connections",
		Methods: []*dispatch.Method{
			{
				Name:        "execute_query",
				Description: "Run a query and return every row as an object",
				Params:      []dispatch.Param{sqlParam(), paramsParam(), databaseParam()},
				Handler:     m.executeQuery,
			},
			{
				Name:        "execute_one",
				Description: "Run a query and return the first row or null",
				Params:      []dispatch.Param{sqlParam(), paramsParam(), databaseParam()},
				Handler:     m.executeOne,
			},
			{
				Name:        "execute_update",
				Description: "Run a statement and return the rows affected",
				Params:      []dispatch.Param{sqlParam(), paramsParam(), databaseParam()},
				Handler:     m.executeUpdate,
			},
			{
				Name:        "batch_execute",
				Description: "Run one statement once per argument list inside a transaction",
				Params: []dispatch.Param{
					sqlParam(),
					{Name: "params_list", Type: dispatch.TypeArray, Required: true, Description: "List of positional argument lists"},
					databaseParam(),
				},
				Handler: m.batchExecute,
			},
			{
				Name:        "execute_transaction",
				Description: "Run statements in order inside one transaction",
				Params: []dispatch.Param{
					{Name: "sql_list", Type: dispatch.TypeStringArray, Required: true},
					{Name: "params_list", Type: dispatch.TypeArray, Description: "Argument lists matching sql_list"},
					databaseParam(),
				},
				Handler: m.executeTransaction,
			},
			{
				Name:        "list_databases",
				Description: "List configured connection ids",
				Handler:     m.listDatabases,
			},
			{
				Name:        "list_tables",
				Description: "List the tables of a database",
				Params:      []dispatch.Param{databaseParam()},
				Handler:     m.listTables,
			},
			{
				Name:        "ping",
				Description: "Check that a database answers",
				Params:      []dispatch.Param{databaseParam()},
				Handler:     m.ping,
			},
		},
	}
}

// sqlError maps an error from the pool or the driver to a kind
func sqlError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *apperrors.E
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	logger.Error("sql %s failed: %v", op, err)
	if steady.IsConnectionLost(err) {
		return apperrors.Wrap(apperrors.ConnectionLost, "database is unreachable", err)
	}
	return apperrors.Wrap(apperrors.BackingStore, op+" failed", err)
}

func (m *Module) pool(args dispatch.Args) (*steady.Pool, error) {
	id := args.String("database")
	d, err := m.dbs.GetDB(id)
	if err != nil {
		return nil, apperrors.Newf(apperrors.NotFound, "database %s is not configured", id)
	}
	p := d.Pool()
	if p == nil {
		return nil, apperrors.Newf(apperrors.ConnectionClosed, "database %s is not connected", id)
	}
	return p, nil
}

// statementArgs checks that every argument is a scalar a driver can bind
func statementArgs(param string, raw []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(raw))
	for i, v := range raw {
		switch v.(type) {
		case nil, string, bool, int64, float64:
			out[i] = v
		default:
			return nil, apperrors.Newf(apperrors.InvalidParameter, "%s[%d] must be a scalar value", param, i)
		}
	}
	return out, nil
}

func argLists(param string, raw []interface{}) ([][]interface{}, error) {
	out := make([][]interface{}, len(raw))
	for i, item := range raw {
		list, ok := item.([]interface{})
		if !ok {
			return nil, apperrors.Newf(apperrors.InvalidParameter, "%s[%d] must be an array", param, i)
		}
		args, err := statementArgs(param, list)
		if err != nil {
			return nil, err
		}
		out[i] = args
	}
	return out, nil
}

func rowObjects(columns []string, rows [][]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		obj := make(map[string]interface{}, len(columns))
		for j, col := range columns {
			if j < len(row) {
				obj[col] = row[j]
			}
		}
		out[i] = obj
	}
	return out
}

func (m *Module) query(ctx context.Context, op string, args dispatch.Args) ([]map[string]interface{}, error) {
	pool, err := m.pool(args)
	if err != nil {
		return nil, err
	}
	stmtArgs, err := statementArgs("params", args.Array("params"))
	if err != nil {
		return nil, err
	}

	var result []map[string]interface{}
	err = pool.Do(ctx, func(c *steady.Connection) error {
		columns, rows, err := c.Query(ctx, args.String("sql"), stmtArgs...)
		if err != nil {
			return err
		}
		result = rowObjects(columns, rows)
		return nil
	})
	if err != nil {
		return nil, sqlError(op, err)
	}
	return result, nil
}

func (m *Module) executeQuery(ctx context.Context, args dispatch.Args) (interface{}, error) {
	rows, err := m.query(ctx, "execute_query", args)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *Module) executeOne(ctx context.Context, args dispatch.Args) (interface{}, error) {
	rows, err := m.query(ctx, "execute_one", args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (m *Module) executeUpdate(ctx context.Context, args dispatch.Args) (interface{}, error) {
	pool, err := m.pool(args)
	if err != nil {
		return nil, err
	}
	stmtArgs, err := statementArgs("params", args.Array("params"))
	if err != nil {
		return nil, err
	}

	var affected int64
	err = pool.Do(ctx, func(c *steady.Connection) error {
		affected, err = c.Execute(ctx, args.String("sql"), stmtArgs...)
		return err
	})
	if err != nil {
		return nil, sqlError("execute_update", err)
	}
	return affected, nil
}

// inTransaction runs fn between Begin and Commit, rolling back on error
func inTransaction(ctx context.Context, c *steady.Connection, fn func() error) error {
	if err := c.Begin(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			logger.Warn("rollback failed: %v", rbErr)
		}
		return err
	}
	return c.Commit(ctx)
}

func (m *Module) batchExecute(ctx context.Context, args dispatch.Args) (interface{}, error) {
	pool, err := m.pool(args)
	if err != nil {
		return nil, err
	}
	lists, err := argLists("params_list", args.Array("params_list"))
	if err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return nil, apperrors.New(apperrors.InvalidParameter, "params_list must not be empty")
	}

	var total int64
	err = pool.Do(ctx, func(c *steady.Connection) error {
		return inTransaction(ctx, c, func() error {
			for _, stmtArgs := range lists {
				n, err := c.Execute(ctx, args.String("sql"), stmtArgs...)
				if err != nil {
					return err
				}
				total += n
			}
			return nil
		})
	})
	if err != nil {
		return nil, sqlError("batch_execute", err)
	}
	return total, nil
}

func (m *Module) executeTransaction(ctx context.Context, args dispatch.Args) (interface{}, error) {
	pool, err := m.pool(args)
	if err != nil {
		return nil, err
	}
	statements := args.Strings("sql_list")
	if len(statements) == 0 {
		return nil, apperrors.New(apperrors.InvalidParameter, "sql_list must not be empty")
	}
	lists, err := argLists("params_list", args.Array("params_list"))
	if err != nil {
		return nil, err
	}
	if args.Has("params_list") && len(lists) != len(statements) {
		return nil, apperrors.New(apperrors.InvalidParameter, "params_list must have one entry per statement")
	}

	affected := make([]int64, len(statements))
	err = pool.Do(ctx, func(c *steady.Connection) error {
		return inTransaction(ctx, c, func() error {
			for i, stmt := range statements {
				var stmtArgs []interface{}
				if i < len(lists) {
					stmtArgs = lists[i]
				}
				n, err := c.Execute(ctx, stmt, stmtArgs...)
				if err != nil {
					return err
				}
				affected[i] = n
			}
			return nil
		})
	})
	if err != nil {
		return nil, sqlError("execute_transaction", err)
	}
	return affected, nil
}

func (m *Module) listDatabases(ctx context.Context, args dispatch.Args) (interface{}, error) {
	return m.dbs.ListDatabases(), nil
}

func (m *Module) ping(ctx context.Context, args dispatch.Args) (interface{}, error) {
	pool, err := m.pool(args)
	if err != nil {
		return nil, err
	}
	err = pool.Do(ctx, func(c *steady.Connection) error {
		return c.Ping(ctx)
	})
	if err != nil {
		return nil, sqlError("ping", err)
	}
	return true, nil
}

// Ping checks every configured database through its pool
func (m *Module) Ping(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, id := range m.dbs.ListDatabases() {
		out[id] = m.PingDatabase(ctx, id)
	}
	return out
}

// PingDatabase checks out one connection of database id and pings it.
func (m *Module) PingDatabase(ctx context.Context, id string) error {
	d, err := m.dbs.GetDB(id)
	if err != nil {
		return err
	}
	if d.Pool() == nil {
		return db.ErrNoDatabase
	}
	return d.Pool().Do(ctx, func(c *steady.Connection) error { return c.Ping(ctx) })
}
