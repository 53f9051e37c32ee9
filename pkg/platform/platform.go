package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/catalogops/metaquality/pkg/cache"
	"github.com/catalogops/metaquality/pkg/database/migrate"
	"github.com/catalogops/metaquality/pkg/metrics"
	"github.com/catalogops/metaquality/pkg/snowflake"
	"github.com/catalogops/metaquality/pkg/statestore"
	pgstore "github.com/catalogops/metaquality/pkg/statestore/postgres"
)

// Platform is the composition root. It owns every long-lived component
// (caches, session registry, executor, state store) and their lifecycle.
type Platform struct {
	cfg *Config

	queryCache    *cache.QueryCache
	metadataCache *cache.MetadataCache
	sessions      *snowflake.Manager
	executor      *snowflake.Executor
	metadata      *snowflake.Metadata
	connector     *snowflake.Connector

	states  statestore.Store
	stateDB *sql.DB

	registry  *prometheus.Registry
	lifecycle *Lifecycle
}

// New builds the platform from configuration. Nothing external is
// contacted until Start.
func New(cfg *Config) (*Platform, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		cfg:       cfg,
		lifecycle: NewLifecycle(),
		registry:  prometheus.NewRegistry(),
	}

	p.queryCache = cache.NewQueryCache(cache.QueryCacheConfig{
		MaxSize: cfg.QueryCache.MaxSize,
		TTL:     cfg.QueryCache.TTL,
	})
	p.metadataCache = cache.NewMetadataCache(cache.MetadataCacheConfig{
		TTLDatabases: cfg.MetadataCache.TTLDatabases,
		TTLSchemas:   cfg.MetadataCache.TTLSchemas,
		TTLTables:    cfg.MetadataCache.TTLTables,
		TTLColumns:   cfg.MetadataCache.TTLColumns,
	})

	p.sessions = snowflake.NewManager(snowflake.ManagerConfig{
		MaxIdle:       cfg.Snowflake.SessionMaxIdle,
		SweepInterval: cfg.Snowflake.SweepInterval,
	})
	p.executor = snowflake.NewExecutor(snowflake.ExecutorConfig{
		MaxRetries:       cfg.Snowflake.MaxRetries,
		ResumeWait:       cfg.Snowflake.ResumeWait,
		QueriesPerSecond: cfg.Snowflake.QueriesPerSecond,
	})
	p.metadata = snowflake.NewMetadata(p.executor, p.metadataCache)

	// A connector only exists when an account is configured; sessions can
	// still be registered around externally established connections.
	if cfg.Snowflake.Account != "" {
		connector, err := snowflake.NewConnector(snowflake.ConnectConfig{
			Account:        cfg.Snowflake.Account,
			User:           cfg.Snowflake.User,
			Warehouse:      cfg.Snowflake.Warehouse,
			Database:       cfg.Snowflake.Database,
			Schema:         cfg.Snowflake.Schema,
			Role:           cfg.Snowflake.Role,
			PrivateKeyPath: cfg.Snowflake.PrivateKeyPath,
			LoginTimeout:   cfg.Snowflake.LoginTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("building snowflake connector: %w", err)
		}
		p.connector = connector
	}

	p.lifecycle.Register(
		func(_ context.Context) error {
			p.sessions.Start()
			return nil
		},
		func(_ context.Context) error {
			return p.sessions.Close()
		},
	)

	p.lifecycle.Register(p.openStateStore, p.closeStateStore)

	metrics.Register(p.registry, p.queryCache, p.metadataCache, p.sessions)

	return p, nil
}

// openStateStore constructs the configured state store backend. Runs as
// a start callback; this is where the backend connection happens.
func (p *Platform) openStateStore(ctx context.Context) error {
	cfg := p.cfg.StateStore

	switch cfg.Backend {
	case BackendMemory:
		p.states = statestore.NewMemoryStore()
		slog.Info("using in-memory state store")

	case BackendRedis:
		store, err := statestore.NewRedisStore(ctx, statestore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("building redis state store: %w", err)
		}
		p.states = store
		slog.Info("using redis state store", "addr", cfg.Redis.Addr)

	case BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("pinging postgres: %w", err)
		}
		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrating postgres: %w", err)
		}
		p.stateDB = db
		p.states = pgstore.New(db)
		slog.Info("using postgres state store")

	default:
		return fmt.Errorf("unknown state store backend: %s", cfg.Backend)
	}
	return nil
}

// closeStateStore releases the state store and its database handle.
func (p *Platform) closeStateStore(_ context.Context) error {
	if p.states != nil {
		if err := p.states.Close(); err != nil {
			return err
		}
	}
	if p.stateDB != nil {
		return p.stateDB.Close()
	}
	return nil
}

// Start brings the platform up: the session sweep and the state store.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop shuts the platform down in reverse start order.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Connect authenticates against Snowflake, registers a session around
// the new connection, and returns its id with the engine-reported
// identity.
func (p *Platform) Connect(ctx context.Context) (string, *snowflake.ConnectionDetails, error) {
	if p.connector == nil {
		return "", nil, snowflake.NewError(snowflake.KindNoActiveConnection,
			"no Snowflake account configured")
	}

	conn, details, err := p.connector.Connect(ctx)
	if err != nil {
		return "", nil, err
	}

	id := p.sessions.Create(conn,
		details.User,
		p.cfg.Snowflake.Account,
		details.Warehouse,
		details.Database,
		details.Schema,
		details.Role)
	return id, details, nil
}

// Disconnect removes and closes the session, reporting whether one was
// removed. Disconnecting twice is not an error.
func (p *Platform) Disconnect(id string) bool {
	return p.sessions.Remove(id)
}

// ResolveSession returns the live session for id. An empty id falls back
// to any live session, for single-tenant clients that do not track ids.
func (p *Platform) ResolveSession(ctx context.Context, id string) (*snowflake.Session, error) {
	var sess *snowflake.Session
	if id != "" {
		sess = p.sessions.Get(ctx, id)
	} else {
		sess = p.sessions.GetAny(ctx)
	}
	if sess == nil {
		return nil, snowflake.NewError(snowflake.KindNoActiveConnection,
			"no active Snowflake connection, connect first")
	}
	return sess, nil
}

// Query runs a statement through the retrying executor, consulting the
// query result cache first when useCache is set. The second return
// reports whether the rows came from cache.
func (p *Platform) Query(ctx context.Context, sessionID, query string, params map[string]any, useCache bool) ([]map[string]any, bool, error) {
	if useCache {
		if rows, ok := p.queryCache.Get(query, params); ok {
			return rows, true, nil
		}
	}

	sess, err := p.ResolveSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	rows, err := p.executor.Query(ctx, sess, query, params)
	if err != nil {
		return nil, false, err
	}

	if useCache {
		p.queryCache.Set(query, params, rows)
	}
	return rows, false, nil
}

// CacheStats reports both caches' counters.
func (p *Platform) CacheStats() map[string]any {
	return map[string]any{
		"query_cache":    p.queryCache.Stats(),
		"metadata_cache": p.metadataCache.Stats(),
	}
}

// Cache invalidation scopes.
const (
	InvalidateAll      = "all"
	InvalidateQuery    = "query"
	InvalidateMetadata = "metadata"
)

// InvalidateCaches clears the named cache scope and reports what was
// cleared.
func (p *Platform) InvalidateCaches(scope string) (map[string]any, error) {
	result := make(map[string]any)

	switch scope {
	case InvalidateAll:
		result["query_entries_removed"] = p.queryCache.Invalidate()
		p.metadataCache.InvalidateAll()
		result["metadata_cleared"] = true
	case InvalidateQuery:
		result["query_entries_removed"] = p.queryCache.Invalidate()
	case InvalidateMetadata:
		p.metadataCache.InvalidateAll()
		result["metadata_cleared"] = true
	default:
		return nil, fmt.Errorf("unknown cache scope %q (want %s, %s, or %s)",
			scope, InvalidateAll, InvalidateQuery, InvalidateMetadata)
	}
	return result, nil
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config { return p.cfg }

// Sessions returns the session registry.
func (p *Platform) Sessions() *snowflake.Manager { return p.sessions }

// Metadata returns the schema metadata reader.
func (p *Platform) Metadata() *snowflake.Metadata { return p.metadata }

// States returns the state store. Nil before Start.
func (p *Platform) States() statestore.Store { return p.states }

// Registry returns the Prometheus registry for the metrics endpoint.
func (p *Platform) Registry() *prometheus.Registry { return p.registry }
