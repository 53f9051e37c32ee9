// Package platform wires the metadata-quality backend together: caches,
// the Snowflake session manager and executor, the state store, and their
// shared lifecycle.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// State store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds the complete platform configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Snowflake     SnowflakeConfig     `yaml:"snowflake"`
	QueryCache    QueryCacheConfig    `yaml:"query_cache"`
	MetadataCache MetadataCacheConfig `yaml:"metadata_cache"`
	StateStore    StateStoreConfig    `yaml:"state_store"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SnowflakeConfig configures connection defaults, session lifetime, and
// query retry behavior.
type SnowflakeConfig struct {
	Account        string `yaml:"account"`
	User           string `yaml:"user"`
	Warehouse      string `yaml:"warehouse"`
	Database       string `yaml:"database"`
	Schema         string `yaml:"schema"`
	Role           string `yaml:"role"`
	PrivateKeyPath string `yaml:"private_key_path"`

	LoginTimeout     time.Duration `yaml:"login_timeout"`
	SessionMaxIdle   time.Duration `yaml:"session_max_idle"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	ResumeWait       time.Duration `yaml:"resume_wait"`
	QueriesPerSecond float64       `yaml:"queries_per_second"`
}

// QueryCacheConfig configures the query result cache.
type QueryCacheConfig struct {
	MaxSize int           `yaml:"maxsize"`
	TTL     time.Duration `yaml:"ttl"`
}

// MetadataCacheConfig configures per-tier metadata cache TTLs.
type MetadataCacheConfig struct {
	TTLDatabases time.Duration `yaml:"ttl_databases"`
	TTLSchemas   time.Duration `yaml:"ttl_schemas"`
	TTLTables    time.Duration `yaml:"ttl_tables"`
	TTLColumns   time.Duration `yaml:"ttl_columns"`
}

// StateStoreConfig selects and configures the state store backend.
type StateStoreConfig struct {
	Backend  string         `yaml:"backend"` // memory, redis, postgres
	Tenant   string         `yaml:"tenant"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the Redis state store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig configures the PostgreSQL state store backend.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns a config with every default applied, suitable
// for running without a config file.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "metaquality"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Query execution can wait on a warehouse resume cycle.
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Snowflake.SessionMaxIdle == 0 {
		cfg.Snowflake.SessionMaxIdle = 30 * time.Minute
	}
	if cfg.Snowflake.SweepInterval == 0 {
		cfg.Snowflake.SweepInterval = time.Minute
	}
	if cfg.QueryCache.MaxSize == 0 {
		cfg.QueryCache.MaxSize = 1000
	}
	if cfg.QueryCache.TTL == 0 {
		cfg.QueryCache.TTL = 5 * time.Minute
	}
	if cfg.MetadataCache.TTLDatabases == 0 {
		cfg.MetadataCache.TTLDatabases = 10 * time.Minute
	}
	if cfg.MetadataCache.TTLSchemas == 0 {
		cfg.MetadataCache.TTLSchemas = 5 * time.Minute
	}
	if cfg.MetadataCache.TTLTables == 0 {
		cfg.MetadataCache.TTLTables = 2 * time.Minute
	}
	if cfg.MetadataCache.TTLColumns == 0 {
		cfg.MetadataCache.TTLColumns = 2 * time.Minute
	}
	if cfg.StateStore.Backend == "" {
		cfg.StateStore.Backend = BackendMemory
	}
	if cfg.StateStore.Tenant == "" {
		cfg.StateStore.Tenant = "default"
	}
	if cfg.StateStore.Postgres.MaxOpenConns == 0 {
		cfg.StateStore.Postgres.MaxOpenConns = 25
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.StateStore.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Sprintf("state_store.backend must be one of %s, %s, %s",
			BackendMemory, BackendRedis, BackendPostgres))
	}
	if c.StateStore.Backend == BackendRedis && c.StateStore.Redis.Addr == "" {
		errs = append(errs, "state_store.redis.addr is required for the redis backend")
	}
	if c.StateStore.Backend == BackendPostgres && c.StateStore.Postgres.DSN == "" {
		errs = append(errs, "state_store.postgres.dsn is required for the postgres backend")
	}

	if c.Snowflake.Account != "" {
		if c.Snowflake.User == "" {
			errs = append(errs, "snowflake.user is required when an account is configured")
		}
		if c.Snowflake.PrivateKeyPath == "" {
			errs = append(errs, "snowflake.private_key_path is required when an account is configured")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
