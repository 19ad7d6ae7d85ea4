// Package app assembles the dispatcher and its backends from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/FreePeak/db-dispatch-server/internal/config"
	"github.com/FreePeak/db-dispatch-server/internal/interfaces/api"
	"github.com/FreePeak/db-dispatch-server/internal/modules/mongodb"
	"github.com/FreePeak/db-dispatch-server/internal/modules/redis"
	"github.com/FreePeak/db-dispatch-server/internal/modules/sqldb"
	"github.com/FreePeak/db-dispatch-server/pkg/db"
	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// App holds the dispatcher and everything that must be closed with it
type App struct {
	Dispatcher *dispatch.Dispatcher
	Checks     map[string]api.Checker
	// Records and SQL back the REST routes; nil without the backend
	Records api.RecordService
	SQL     api.SQLService
	closers    []func(ctx context.Context) error
}

// Backends carries already connected stores; nil entries are skipped
type Backends struct {
	Mongo mongodb.Store
	Redis redis.KV
	SQL   sqldb.Databases
}

// Connect opens every backend named in cfg. A configured backend that
// cannot be reached fails startup; SQL connections follow db.Manager and
// fail only when none connects.
func Connect(ctx context.Context, cfg *config.Config) (*App, error) {
	var (
		b       Backends
		closers []func(ctx context.Context) error
	)
	fail := func(err error) (*App, error) {
		for _, c := range closers {
			_ = c(ctx)
		}
		return nil, err
	}

	if cfg.Mongo.URL != "" {
		store, err := mongodb.NewMongoStore(ctx, mongodb.Config{
			URL:         cfg.Mongo.URL,
			Database:    cfg.Mongo.Database,
			MinPoolSize: cfg.Mongo.MinPoolSize,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
		})
		if err != nil {
			return fail(err)
		}
		b.Mongo = store
		closers = append(closers, store.Close)
	}

	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		b.Redis = client
		closers = append(closers, func(context.Context) error { return client.Close() })
	}

	if len(cfg.Databases) > 0 {
		manager := db.NewDBManager()
		if err := manager.LoadConfig(cfg.Databases); err != nil {
			return fail(err)
		}
		if err := manager.Connect(ctx); err != nil {
			return fail(err)
		}
		b.SQL = manager
		closers = append(closers, func(context.Context) error { return manager.Close() })
	}

	a, err := New(b, dispatch.WithMaxConcurrent(int64(cfg.MaxConcurrent)), dispatch.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return fail(err)
	}
	a.closers = closers
	return a, nil
}

// New builds the registry over the given backends. The registry namespace
// is always present.
func New(b Backends, opts ...dispatch.Option) (*App, error) {
	var (
		reg        *dispatch.Registry
		namespaces []*dispatch.Namespace
		checks     = make(map[string]api.Checker)
		a          = &App{Checks: checks}
	)

	if b.Mongo != nil {
		mod := mongodb.New(b.Mongo)
		namespaces = append(namespaces, mod.Namespace())
		checks["mongodb"] = mod.Ping
		a.Records = mongodb.NewRecords(b.Mongo)
	}
	if b.Redis != nil {
		mod := redis.New(b.Redis)
		namespaces = append(namespaces, mod.Namespace())
		checks["redis"] = mod.Ping
	}
	if b.SQL != nil {
		mod := sqldb.New(b.SQL)
		namespaces = append(namespaces, mod.Namespace())
		a.SQL = mod
		for _, id := range b.SQL.ListDatabases() {
			id := id
			checks["sql:"+id] = func(ctx context.Context) error { return mod.PingDatabase(ctx, id) }
		}
	}
	namespaces = append(namespaces, dispatch.RegistryNamespace(func() *dispatch.Registry { return reg }))

	reg, err := dispatch.NewRegistry(namespaces...)
	if err != nil {
		return nil, fmt.Errorf("failed to build module registry: %w", err)
	}
	logger.Info("Registered modules: %v", reg.Paths())

	a.Dispatcher = dispatch.New(reg, opts...)
	return a, nil
}

// Catalog lists every namespace the server can expose, without connecting
// to any backend.
func Catalog() ([]dispatch.NamespaceInfo, error) {
	var reg *dispatch.Registry
	reg, err := dispatch.NewRegistry(
		mongodb.New(nil).Namespace(),
		sqldb.New(nil).Namespace(),
		redis.New(nil).Namespace(),
		dispatch.RegistryNamespace(func() *dispatch.Registry { return reg }),
	)
	if err != nil {
		return nil, err
	}
	return reg.List(), nil
}

// Close releases every backend
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
