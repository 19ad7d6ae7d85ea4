package api

import (
	"net/http"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
)

// RouterConfig configures NewRouter
type RouterConfig struct {
	// Token enables X-Token authentication on every route but /health
	// when non-empty
	Token  string
	Health *HealthHandler
	// Records and SQL mount the REST routes when set
	Records RecordService
	SQL     SQLService
}

// NewRouter wires the gateway routes:
//
//	/module/   dynamic invocation (authenticated)
//	/mongodb/  record CRUD (authenticated)
//	/mysql/    table listing and ad-hoc SQL (authenticated)
//	/health    backend liveness
func NewRouter(d *dispatch.Dispatcher, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	execute := AuthMiddleware(cfg.Token, NewExecuteHandler(d))
	mux.Handle("/module/", execute)
	mux.Handle("/module", execute)

	if cfg.Records != nil {
		records := AuthMiddleware(cfg.Token, NewRecordsHandler(cfg.Records))
		mux.Handle(RecordsPrefix+"/", records)
		mux.Handle(RecordsPrefix, records)
	}
	if cfg.SQL != nil {
		sql := AuthMiddleware(cfg.Token, NewSQLHandler(cfg.SQL))
		mux.Handle(SQLPrefix+"/", sql)
		mux.Handle(SQLPrefix, sql)
	}

	if cfg.Health != nil {
		mux.Handle("/health", cfg.Health)
	}

	return LoggingMiddleware(CORSMiddleware(mux))
}
