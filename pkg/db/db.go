package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Import database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/FreePeak/db-dispatch-server/pkg/logger"
	"github.com/FreePeak/db-dispatch-server/pkg/steady"
)

// Common database errors
var (
	ErrNoDatabase = errors.New("no database connection")
)

// Config represents database connection configuration
type Config struct {
	Type     string
	Host     string
	Port     int
	User     string
	Password string
	// Name is the database name, or the file path for sqlite
	Name string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// Resilient connection settings
	PoolSize   int
	MaxUsage   int
	PingMode   steady.PingMode
	SetSession []string
}

// SetDefaults sets default values for the configuration if they are not set
func (c *Config) SetDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.PoolSize == 0 {
		c.PoolSize = 5
	}
	// every steady handle pins one *sql.Conn
	if c.MaxOpenConns < c.PoolSize {
		c.MaxOpenConns = c.PoolSize
	}
}

// Database is a configured SQL database reached through a pool of resilient
// connections.
type Database interface {
	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// Pool hands out resilient connections
	Pool() *steady.Pool

	// Metadata
	DriverName() string
	ConnectionString() string

	// DB object access (for specific DB operations)
	DB() *sql.DB
}

// database is the concrete implementation of the Database interface
type database struct {
	config     Config
	db         *sql.DB
	pool       *steady.Pool
	driverName string
	dsn        string
}

// DSN builds the driver name and data source name for config.
func DSN(config Config) (driverName, dsn string, err error) {
	switch config.Type {
	case "mysql":
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			config.User, config.Password, config.Host, config.Port, config.Name), nil
	case "postgres":
		return "postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			config.Host, config.Port, config.User, config.Password, config.Name), nil
	case "sqlite":
		if config.Name == "" {
			return "", "", errors.New("sqlite database requires a file path in Name")
		}
		return "sqlite", config.Name, nil
	default:
		return "", "", fmt.Errorf("unsupported database type: %s", config.Type)
	}
}

// NewDatabase creates a new database based on the provided configuration.
// No connection is opened until Connect.
func NewDatabase(config Config) (Database, error) {
	// Set default values for the configuration
	config.SetDefaults()

	driverName, dsn, err := DSN(config)
	if err != nil {
		return nil, err
	}

	return &database{
		config:     config,
		driverName: driverName,
		dsn:        dsn,
	}, nil
}

// Connect opens the database and verifies it with a first pooled connection.
func (d *database) Connect(ctx context.Context) error {
	db, err := sql.Open(d.driverName, d.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(d.config.MaxOpenConns)
	db.SetMaxIdleConns(d.config.MaxIdleConns)
	db.SetConnMaxLifetime(d.config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(d.config.ConnMaxIdleTime)

	pool := steady.NewPool(steady.SQLCreator(db), d.config.PoolSize,
		steady.WithMaxUsage(d.config.MaxUsage),
		steady.WithPing(d.config.PingMode),
		steady.WithSetSession(d.config.SetSession...),
	)

	// Verify connection is working
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Do(pingCtx, func(c *steady.Connection) error {
		_, err := c.Execute(pingCtx, "SELECT 1")
		return err
	}); err != nil {
		_ = pool.Close()
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Error closing database connection: %v", closeErr)
		}
		return fmt.Errorf("failed to ping database: %w", err)
	}

	d.db = db
	d.pool = pool
	logger.Info("Connected to %s database %s", d.config.Type, d.ConnectionString())

	return nil
}

// Close closes the pool and the database
func (d *database) Close() error {
	if d.db == nil {
		return nil
	}
	_ = d.pool.Close()
	if err := d.db.Close(); err != nil {
		logger.Error("Error closing database connection: %v", err)
	}
	d.db, d.pool = nil, nil
	return nil
}

// Ping checks if the database connection is still alive
func (d *database) Ping(ctx context.Context) error {
	if d.db == nil {
		return ErrNoDatabase
	}
	return d.db.PingContext(ctx)
}

// Pool returns the resilient connection pool
func (d *database) Pool() *steady.Pool {
	return d.pool
}

// DB returns the underlying database connection
func (d *database) DB() *sql.DB {
	return d.db
}

// DriverName returns the name of the database driver
func (d *database) DriverName() string {
	return d.driverName
}

// ConnectionString returns the connection string (with password masked)
func (d *database) ConnectionString() string {
	switch d.config.Type {
	case "mysql":
		return fmt.Sprintf("%s:***@tcp(%s:%d)/%s",
			d.config.User, d.config.Host, d.config.Port, d.config.Name)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=*** dbname=%s sslmode=disable",
			d.config.Host, d.config.Port, d.config.User, d.config.Name)
	case "sqlite":
		return "sqlite:" + d.config.Name
	default:
		return "unknown"
	}
}
