package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// SQLPrefix is where the SQL routes are mounted
const SQLPrefix = "/mysql"

// SQLService runs ad-hoc statements. *sqldb.Module implements it.
type SQLService interface {
	Tables(ctx context.Context, id string) ([]string, error)
	Select(ctx context.Context, id, sql string) ([]map[string]interface{}, error)
	Exec(ctx context.Context, id, sql string) (int64, error)
}

// SQLHandler serves:
//
//	GET  /mysql/tables   table names
//	GET  /mysql/query    SELECT only
//	POST /mysql/execute  anything but SELECT
//
// Every route takes an optional "database" connection id.
type SQLHandler struct {
	sql SQLService
}

// NewSQLHandler creates the handler over svc
func NewSQLHandler(svc SQLService) *SQLHandler {
	return &SQLHandler{sql: svc}
}

func (h *SQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	route := strings.Trim(strings.TrimPrefix(r.URL.Path, SQLPrefix), "/")

	var (
		result interface{}
		err    error
	)
	switch route {
	case "tables":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, requestID, "GET, OPTIONS")
			return
		}
		result, err = h.sql.Tables(r.Context(), r.URL.Query().Get("database"))
	case "query":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, requestID, "GET, OPTIONS")
			return
		}
		q := r.URL.Query()
		result, err = h.sql.Select(r.Context(), q.Get("database"), q.Get("sql"))
	case "execute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, requestID, "POST, OPTIONS")
			return
		}
		result, err = h.execute(r)
	default:
		err = apperrors.Newf(apperrors.NotFound, "no route %s", r.URL.Path)
	}

	status, env := dispatch.Render(result, err)
	writeJSON(w, status, requestID, env)
}

// execute reads sql and database from a JSON body, a form body or the query
func (h *SQLHandler) execute(r *http.Request) (interface{}, error) {
	var statement, database string
	if isJSON(r.Header.Get("Content-Type")) {
		_, data, err := readBody(r)
		if err != nil {
			return nil, err
		}
		statement, _ = data["sql"].(string)
		database, _ = data["database"].(string)
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidRequest, "malformed form body", err)
		}
		statement, database = r.Form.Get("sql"), r.Form.Get("database")
	}

	affected, err := h.sql.Exec(r.Context(), database, statement)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"affected_rows": affected}, nil
}
