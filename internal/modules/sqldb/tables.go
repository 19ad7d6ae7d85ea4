package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/steady"
)

var tableQueries = map[string]string{
	"mysql":    "SHOW TABLES",
	"postgres": "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema() ORDER BY tablename",
	"sqlite":   "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
}

func databaseArgs(id, sql string) dispatch.Args {
	if id == "" {
		id = DefaultDatabase
	}
	return dispatch.Args{"database": id, "sql": sql}
}

func isSelect(sql string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(sql)), "select")
}

// Tables lists the tables of database id
func (m *Module) Tables(ctx context.Context, id string) ([]string, error) {
	args := databaseArgs(id, "")
	d, err := m.dbs.GetDB(args.String("database"))
	if err != nil {
		return nil, apperrors.Newf(apperrors.NotFound, "database %s is not configured", args.String("database"))
	}
	q, ok := tableQueries[d.DriverName()]
	if !ok {
		return nil, apperrors.Newf(apperrors.InvalidRequest, "listing tables is not supported for %s", d.DriverName())
	}
	pool, err := m.pool(args)
	if err != nil {
		return nil, err
	}

	tables := []string{}
	err = pool.Do(ctx, func(c *steady.Connection) error {
		_, rows, err := c.Query(ctx, q)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if len(row) > 0 {
				tables = append(tables, fmt.Sprint(row[0]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, sqlError("list_tables", err)
	}
	return tables, nil
}

// Select runs a read-only query on database id. Only SELECT statements
// are accepted.
func (m *Module) Select(ctx context.Context, id, sql string) ([]map[string]interface{}, error) {
	if !isSelect(sql) {
		return nil, apperrors.New(apperrors.InvalidParameter, "only SELECT queries are allowed")
	}
	rows, err := m.query(ctx, "query", databaseArgs(id, sql))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, nil
}

// Exec runs a data-changing statement on database id and returns the rows
// affected. SELECT statements are rejected.
func (m *Module) Exec(ctx context.Context, id, sql string) (int64, error) {
	if strings.TrimSpace(sql) == "" {
		return 0, apperrors.New(apperrors.MissingParameter, "missing required parameter: sql")
	}
	if isSelect(sql) {
		return 0, apperrors.New(apperrors.InvalidParameter, "SELECT statements must use query")
	}
	affected, err := m.executeUpdate(ctx, databaseArgs(id, sql))
	if err != nil {
		return 0, err
	}
	return affected.(int64), nil
}

func (m *Module) listTables(ctx context.Context, args dispatch.Args) (interface{}, error) {
	return m.Tables(ctx, args.String("database"))
}
