package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/FreePeak/db-dispatch-server/pkg/db"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// DefaultDatabaseID names the connection built from the DB_* variables
const DefaultDatabaseID = "default"

// Config holds all server configuration
type Config struct {
	ServerPort     int
	TransportMode  string
	LogLevel       string
	LogFormat      string
	APIToken       string
	EnableAuth     bool
	MaxConcurrent  int
	RequestTimeout time.Duration
	Mongo          MongoConfig
	RedisURL       string
	// Databases lists the SQL connections, keyed by ID
	Databases []db.DatabaseConnectionConfig
}

// MongoConfig holds document store configuration
type MongoConfig struct {
	URL         string
	Database    string
	MinPoolSize uint64
	MaxPoolSize uint64
}

// fileConfig mirrors config.yaml
type fileConfig struct {
	Server struct {
		Port           int    `yaml:"port"`
		TransportMode  string `yaml:"transport_mode"`
		LogLevel       string `yaml:"log_level"`
		LogFormat      string `yaml:"log_format"`
		APIToken       string `yaml:"api_x_token"`
		EnableAuth     *bool  `yaml:"enable_auth_middleware"`
		MaxConcurrent  int    `yaml:"max_concurrent_invocations"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`
	MongoDB struct {
		URL         string `yaml:"url"`
		Database    string `yaml:"database"`
		PoolSize    uint64 `yaml:"pool_size"`
		MaxPoolSize uint64 `yaml:"max_pool_size"`
	} `yaml:"mongodb"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Database struct {
		SQL []db.DatabaseConnectionConfig `yaml:"sql"`
	} `yaml:"database"`
}

func defaults() *Config {
	return &Config{
		ServerPort:     8000,
		TransportMode:  "http",
		LogLevel:       "info",
		LogFormat:      "text",
		EnableAuth:     true,
		MaxConcurrent:  64,
		RequestTimeout: 30 * time.Second,
		Mongo: MongoConfig{
			Database:    "ruiyi",
			MinPoolSize: 10,
			MaxPoolSize: 50,
		},
	}
}

// LoadConfig builds the configuration from defaults, then config.yaml (path
// in CONFIG_FILE), then environment variables. A .env file in the working
// directory is loaded into the environment first.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded: %v", err)
	}

	cfg := defaults()

	path := getEnv("CONFIG_FILE", "config.yaml")
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if f.Server.Port != 0 {
		c.ServerPort = f.Server.Port
	}
	setString(&c.TransportMode, f.Server.TransportMode)
	setString(&c.LogLevel, f.Server.LogLevel)
	setString(&c.LogFormat, f.Server.LogFormat)
	setString(&c.APIToken, f.Server.APIToken)
	if f.Server.EnableAuth != nil {
		c.EnableAuth = *f.Server.EnableAuth
	}
	if f.Server.MaxConcurrent != 0 {
		c.MaxConcurrent = f.Server.MaxConcurrent
	}
	if f.Server.RequestTimeout != "" {
		d, err := time.ParseDuration(f.Server.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout in %s: %w", path, err)
		}
		c.RequestTimeout = d
	}

	setString(&c.Mongo.URL, f.MongoDB.URL)
	setString(&c.Mongo.Database, f.MongoDB.Database)
	if f.MongoDB.PoolSize != 0 {
		c.Mongo.MinPoolSize = f.MongoDB.PoolSize
	}
	if f.MongoDB.MaxPoolSize != 0 {
		c.Mongo.MaxPoolSize = f.MongoDB.MaxPoolSize
	}
	setString(&c.RedisURL, f.Redis.URL)

	c.Databases = append(c.Databases, f.Database.SQL...)
	logger.Info("Loaded config file %s", path)
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.ServerPort, err = envInt("SERVER_PORT", c.ServerPort); err != nil {
		return err
	}
	c.TransportMode = getEnv("TRANSPORT_MODE", c.TransportMode)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.APIToken = getEnv("API_X_TOKEN", c.APIToken)
	if c.EnableAuth, err = envBool("ENABLE_AUTH_MIDDLEWARE", c.EnableAuth); err != nil {
		return err
	}
	if c.MaxConcurrent, err = envInt("MAX_CONCURRENT_INVOCATIONS", c.MaxConcurrent); err != nil {
		return err
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if c.RequestTimeout, err = parseTimeout(v); err != nil {
			return fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
	}

	c.Mongo.URL = getEnv("MONGODB_URL", c.Mongo.URL)
	c.Mongo.Database = getEnv("MONGODB_DATABASE", c.Mongo.Database)
	if c.Mongo.MinPoolSize, err = envUint("MONGODB_POOL_SIZE", c.Mongo.MinPoolSize); err != nil {
		return err
	}
	if c.Mongo.MaxPoolSize, err = envUint("MONGODB_MAX_POOL_SIZE", c.Mongo.MaxPoolSize); err != nil {
		return err
	}
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	return c.applyDatabaseEnv()
}

// applyDatabaseEnv overlays DB_* variables on the default connection,
// creating it when DB_TYPE is set and the file declared none.
func (c *Config) applyDatabaseEnv() error {
	idx := -1
	for i, d := range c.Databases {
		if d.ID == DefaultDatabaseID {
			idx = i
			break
		}
	}
	if idx < 0 {
		if os.Getenv("DB_TYPE") == "" {
			return nil
		}
		c.Databases = append(c.Databases, db.DatabaseConnectionConfig{ID: DefaultDatabaseID, Host: "localhost", Port: 3306})
		idx = len(c.Databases) - 1
	}

	d := &c.Databases[idx]
	var err error
	d.Type = getEnv("DB_TYPE", d.Type)
	d.Host = getEnv("DB_HOST", d.Host)
	if d.Port, err = envInt("DB_PORT", d.Port); err != nil {
		return err
	}
	d.User = getEnv("DB_USER", d.User)
	d.Password = getEnv("DB_PASSWORD", d.Password)
	d.Name = getEnv("DB_NAME", d.Name)
	if d.PoolSize, err = envInt("DB_POOL_SIZE", d.PoolSize); err != nil {
		return err
	}
	if d.MaxUsage, err = envInt("DB_MAX_USAGE", d.MaxUsage); err != nil {
		return err
	}
	d.PingMode = getEnv("DB_PING_MODE", d.PingMode)
	if v := os.Getenv("DB_SET_SESSION"); v != "" {
		d.SetSession = splitStatements(v)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.TransportMode {
	case "http", "stdio":
	default:
		return fmt.Errorf("unsupported transport mode: %s", c.TransportMode)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_INVOCATIONS must be positive, got %d", c.MaxConcurrent)
	}
	seen := make(map[string]bool, len(c.Databases))
	for _, d := range c.Databases {
		if seen[d.ID] {
			return fmt.Errorf("duplicate database connection id: %s", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// parseTimeout accepts a Go duration or a plain number of seconds
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitStatements(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envUint(key string, def uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
