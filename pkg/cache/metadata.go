package cache

import (
	"strings"
	"sync"
	"time"
)

// Default TTLs. Coarser objects change less often and keep longer TTLs.
const (
	defaultTTLDatabases = 10 * time.Minute
	defaultTTLSchemas   = 5 * time.Minute
	defaultTTLTables    = 2 * time.Minute
	defaultTTLColumns   = 2 * time.Minute
)

// pathSep joins scope segments into tier keys (account/database/schema/table).
const pathSep = "/"

type metaEntry[T any] struct {
	data     T
	cachedAt time.Time
}

func (e metaEntry[T]) expired(ttl time.Duration) bool {
	return time.Since(e.cachedAt) > ttl
}

// MetadataCacheConfig configures per-tier TTLs. Zero values take defaults.
type MetadataCacheConfig struct {
	TTLDatabases time.Duration
	TTLSchemas   time.Duration
	TTLTables    time.Duration
	TTLColumns   time.Duration
}

// MetadataCache is a tiered TTL cache for schema metadata. Each tier
// (databases, schemas, tables, columns) is keyed by a '/'-joined path of
// its scope and carries its own TTL. Expired entries are treated as
// absent on read but not removed eagerly. A single lock guards all four
// tiers so scoped invalidation is atomic relative to concurrent access.
type MetadataCache struct {
	mu sync.Mutex

	databases map[string]metaEntry[[]string]         // key: account
	schemas   map[string]metaEntry[[]string]         // key: account/database
	tables    map[string]metaEntry[[]map[string]any] // key: account/database/schema
	columns   map[string]metaEntry[[]map[string]any] // key: account/database/schema/table

	ttlDatabases time.Duration
	ttlSchemas   time.Duration
	ttlTables    time.Duration
	ttlColumns   time.Duration
}

// NewMetadataCache creates a tiered metadata cache.
func NewMetadataCache(cfg MetadataCacheConfig) *MetadataCache {
	if cfg.TTLDatabases <= 0 {
		cfg.TTLDatabases = defaultTTLDatabases
	}
	if cfg.TTLSchemas <= 0 {
		cfg.TTLSchemas = defaultTTLSchemas
	}
	if cfg.TTLTables <= 0 {
		cfg.TTLTables = defaultTTLTables
	}
	if cfg.TTLColumns <= 0 {
		cfg.TTLColumns = defaultTTLColumns
	}
	return &MetadataCache{
		databases:    make(map[string]metaEntry[[]string]),
		schemas:      make(map[string]metaEntry[[]string]),
		tables:       make(map[string]metaEntry[[]map[string]any]),
		columns:      make(map[string]metaEntry[[]map[string]any]),
		ttlDatabases: cfg.TTLDatabases,
		ttlSchemas:   cfg.TTLSchemas,
		ttlTables:    cfg.TTLTables,
		ttlColumns:   cfg.TTLColumns,
	}
}

func pathKey(parts ...string) string {
	return strings.Join(parts, pathSep)
}

// GetDatabases returns the cached database list for an account.
func (c *MetadataCache) GetDatabases(account string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.databases[account]
	if !ok || entry.expired(c.ttlDatabases) {
		return nil, false
	}
	return entry.data, true
}

// SetDatabases caches the database list for an account.
func (c *MetadataCache) SetDatabases(account string, databases []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.databases[account] = metaEntry[[]string]{data: databases, cachedAt: time.Now()}
}

// GetSchemas returns the cached schema list for a database.
func (c *MetadataCache) GetSchemas(account, database string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.schemas[pathKey(account, database)]
	if !ok || entry.expired(c.ttlSchemas) {
		return nil, false
	}
	return entry.data, true
}

// SetSchemas caches the schema list for a database.
func (c *MetadataCache) SetSchemas(account, database string, schemas []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[pathKey(account, database)] = metaEntry[[]string]{data: schemas, cachedAt: time.Now()}
}

// GetTables returns the cached table list for a schema.
func (c *MetadataCache) GetTables(account, database, schema string) ([]map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tables[pathKey(account, database, schema)]
	if !ok || entry.expired(c.ttlTables) {
		return nil, false
	}
	return entry.data, true
}

// SetTables caches the table list for a schema.
func (c *MetadataCache) SetTables(account, database, schema string, tables []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[pathKey(account, database, schema)] = metaEntry[[]map[string]any]{data: tables, cachedAt: time.Now()}
}

// GetColumns returns the cached column list for a table.
func (c *MetadataCache) GetColumns(account, database, schema, table string) ([]map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.columns[pathKey(account, database, schema, table)]
	if !ok || entry.expired(c.ttlColumns) {
		return nil, false
	}
	return entry.data, true
}

// SetColumns caches the column list for a table.
func (c *MetadataCache) SetColumns(account, database, schema, table string, columns []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.columns[pathKey(account, database, schema, table)] = metaEntry[[]map[string]any]{data: columns, cachedAt: time.Now()}
}

// InvalidateAll clears every tier.
func (c *MetadataCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.databases = make(map[string]metaEntry[[]string])
	c.schemas = make(map[string]metaEntry[[]string])
	c.tables = make(map[string]metaEntry[[]map[string]any])
	c.columns = make(map[string]metaEntry[[]map[string]any])
}

// InvalidateDatabase removes every schema, table, and column entry scoped
// under account/database. The account's database list is left untouched:
// the database itself still exists, only its inner structure is presumed
// stale. The match is path-segment aware so DB does not also invalidate
// DB2.
func (c *MetadataCache) InvalidateDatabase(account, database string) {
	prefix := pathKey(account, database)

	c.mu.Lock()
	defer c.mu.Unlock()

	deleteScoped(c.schemas, prefix)
	deleteScoped(c.tables, prefix)
	deleteScoped(c.columns, prefix)
}

func deleteScoped[T any](m map[string]metaEntry[T], prefix string) {
	for k := range m {
		if k == prefix || strings.HasPrefix(k, prefix+pathSep) {
			delete(m, k)
		}
	}
}

// MetadataCacheStats reports per-tier entry counts and TTLs.
type MetadataCacheStats struct {
	Databases    int     `json:"databases"`
	Schemas      int     `json:"schemas"`
	Tables       int     `json:"tables"`
	Columns      int     `json:"columns"`
	TTLDatabases float64 `json:"ttl_databases"`
	TTLSchemas   float64 `json:"ttl_schemas"`
	TTLTables    float64 `json:"ttl_tables"`
	TTLColumns   float64 `json:"ttl_columns"`
}

// Stats returns cache statistics.
func (c *MetadataCache) Stats() MetadataCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return MetadataCacheStats{
		Databases:    len(c.databases),
		Schemas:      len(c.schemas),
		Tables:       len(c.tables),
		Columns:      len(c.columns),
		TTLDatabases: c.ttlDatabases.Seconds(),
		TTLSchemas:   c.ttlSchemas.Seconds(),
		TTLTables:    c.ttlTables.Seconds(),
		TTLColumns:   c.ttlColumns.Seconds(),
	}
}
