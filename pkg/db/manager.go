package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/FreePeak/db-dispatch-server/pkg/logger"
	"github.com/FreePeak/db-dispatch-server/pkg/steady"
)

// DatabaseConnectionConfig represents a single database connection configuration
type DatabaseConnectionConfig struct {
	ID         string   `json:"id" yaml:"id"`     // Unique identifier for this connection
	Type       string   `json:"type" yaml:"type"` // mysql, postgres or sqlite
	Host       string   `json:"host" yaml:"host"`
	Port       int      `json:"port" yaml:"port"`
	User       string   `json:"user" yaml:"user"`
	Password   string   `json:"password" yaml:"password"`
	Name       string   `json:"name" yaml:"name"`
	PoolSize   int      `json:"pool_size" yaml:"pool_size"`
	MaxUsage   int      `json:"max_usage" yaml:"max_usage"`
	PingMode   string   `json:"ping_mode" yaml:"ping_mode"`
	SetSession []string `json:"set_session" yaml:"set_session"`
}

// ToConfig converts the connection entry into a database Config
func (c DatabaseConnectionConfig) ToConfig() (Config, error) {
	mode, err := steady.ParsePingMode(c.PingMode)
	if err != nil {
		return Config{}, fmt.Errorf("connection %s: %w", c.ID, err)
	}
	return Config{
		Type:       c.Type,
		Host:       c.Host,
		Port:       c.Port,
		User:       c.User,
		Password:   c.Password,
		Name:       c.Name,
		PoolSize:   c.PoolSize,
		MaxUsage:   c.MaxUsage,
		PingMode:   mode,
		SetSession: c.SetSession,
	}, nil
}

// Manager manages multiple named databases
type Manager struct {
	mu          sync.RWMutex
	connections map[string]Database
	configs     map[string]DatabaseConnectionConfig
}

// NewDBManager creates a new database manager
func NewDBManager() *Manager {
	return &Manager{
		connections: make(map[string]Database),
		configs:     make(map[string]DatabaseConnectionConfig),
	}
}

// LoadConfig validates and stores connection configurations
func (m *Manager) LoadConfig(connections []DatabaseConnectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range connections {
		if conn.ID == "" {
			return fmt.Errorf("database connection ID cannot be empty")
		}
		switch conn.Type {
		case "mysql", "postgres", "sqlite":
		default:
			return fmt.Errorf("unsupported database type for connection %s: %s", conn.ID, conn.Type)
		}
		m.configs[conn.ID] = conn
	}

	return nil
}

// Connect establishes connections to all configured databases. It fails
// only when every configured database is unreachable.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var connectErrors []error
	totalConfigs := len(m.configs)
	successfulConnections := 0

	for id, cfg := range m.configs {
		dbConfig, err := cfg.ToConfig()
		if err != nil {
			connectErrors = append(connectErrors, err)
			logger.Error("Error: %v", err)
			continue
		}

		// Create and connect to database
		db, err := NewDatabase(dbConfig)
		if err != nil {
			errMsg := fmt.Errorf("failed to create database instance for %s: %w", id, err)
			connectErrors = append(connectErrors, errMsg)
			logger.Error("Error: %v", errMsg)
			continue
		}

		if err := db.Connect(ctx); err != nil {
			errMsg := fmt.Errorf("failed to connect to database %s: %w", id, err)
			connectErrors = append(connectErrors, errMsg)
			logger.Error("Error: %v", errMsg)
			continue
		}

		// Store successful connection
		m.connections[id] = db
		successfulConnections++
	}

	// Report connection status
	if successfulConnections == 0 && len(connectErrors) > 0 {
		return fmt.Errorf("failed to connect to any database: %v", connectErrors)
	}

	if len(connectErrors) > 0 {
		logger.Warn("Warning: Connected to %d/%d databases. %d failed: %v",
			successfulConnections, totalConfigs, len(connectErrors), connectErrors)
	} else if successfulConnections > 0 {
		logger.Info("Successfully connected to all %d databases", successfulConnections)
	}

	return nil
}

// GetDB returns a database by its ID
func (m *Manager) GetDB(id string) (Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	db, exists := m.connections[id]
	if !exists {
		return nil, fmt.Errorf("database connection %s not found", id)
	}
	return db, nil
}

// ListDatabases returns the sorted IDs of all connected databases
func (m *Manager) ListDatabases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dbs := make([]string, 0, len(m.connections))
	for id := range m.connections {
		dbs = append(dbs, id)
	}
	sort.Strings(dbs)
	return dbs
}

// Close closes all database connections
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, db := range m.connections {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database %s: %w", id, err))
		}
	}

	m.connections = make(map[string]Database)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing databases: %v", errs)
	}
	return nil
}

// Ping checks if all database connections are alive
func (m *Manager) Ping(ctx context.Context) map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]error)
	for id, db := range m.connections {
		results[id] = db.Ping(ctx)
	}
	return results
}
