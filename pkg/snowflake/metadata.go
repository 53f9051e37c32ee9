package snowflake

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"github.com/catalogops/metaquality/pkg/cache"
)

const (
	// unknownAccount keys metadata cache entries when a session carries
	// no account identifier.
	unknownAccount = "unknown"

	defaultPreviewLimit = 100
	maxPreviewLimit     = 1000

	infoSchema = "INFORMATION_SCHEMA"
)

// Metadata browses Snowflake schema objects through the retrying
// executor, consulting and populating the tiered metadata cache. Every
// raw identifier is validated before it is embedded in generated SQL.
type Metadata struct {
	exec  *Executor
	cache *cache.MetadataCache
}

// NewMetadata creates a metadata reader.
func NewMetadata(exec *Executor, mc *cache.MetadataCache) *Metadata {
	return &Metadata{exec: exec, cache: mc}
}

// Databases lists accessible databases.
func (m *Metadata) Databases(ctx context.Context, sess *Session, useCache bool) ([]string, error) {
	account := accountOf(sess)
	if useCache {
		if dbs, ok := m.cache.GetDatabases(account); ok {
			return dbs, nil
		}
	}

	rows, err := m.exec.Query(ctx, sess, "SHOW DATABASES", nil)
	if err != nil {
		return nil, err
	}

	databases := make([]string, 0, len(rows))
	for _, row := range rows {
		if name := nameOf(row); name != "" {
			databases = append(databases, name)
		}
	}

	if useCache {
		m.cache.SetDatabases(account, databases)
	}
	return databases, nil
}

// Schemas lists schemas in a database. INFORMATION_SCHEMA is filtered
// out.
func (m *Metadata) Schemas(ctx context.Context, sess *Session, database string, useCache bool) ([]string, error) {
	db, err := ValidateIdentifier("database", database)
	if err != nil {
		return nil, err
	}

	account := accountOf(sess)
	if useCache {
		if schemas, ok := m.cache.GetSchemas(account, db); ok {
			return schemas, nil
		}
	}

	rows, err := m.exec.Query(ctx, sess, fmt.Sprintf(`SHOW SCHEMAS IN DATABASE "%s"`, db), nil)
	if err != nil {
		return nil, err
	}

	schemas := make([]string, 0, len(rows))
	for _, row := range rows {
		if name := nameOf(row); name != "" && name != infoSchema {
			schemas = append(schemas, name)
		}
	}

	if useCache {
		m.cache.SetSchemas(account, db, schemas)
	}
	return schemas, nil
}

// Tables lists tables (and optionally views) in a schema. A failure to
// list views is non-fatal: the tables are still returned.
func (m *Metadata) Tables(ctx context.Context, sess *Session, database, schema string, includeViews, useCache bool) ([]map[string]any, error) {
	db, err := ValidateIdentifier("database", database)
	if err != nil {
		return nil, err
	}
	sc, err := ValidateIdentifier("schema", schema)
	if err != nil {
		return nil, err
	}

	account := accountOf(sess)
	if useCache {
		if tables, ok := m.cache.GetTables(account, db, sc); ok {
			return tables, nil
		}
	}

	rows, err := m.exec.Query(ctx, sess, fmt.Sprintf(`SHOW TABLES IN "%s"."%s"`, db, sc), nil)
	if err != nil {
		return nil, err
	}

	tables := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, map[string]any{
			"name":  nameOf(row),
			"type":  "TABLE",
			"rows":  valueOf(row, "rows", "ROWS"),
			"bytes": valueOf(row, "bytes", "BYTES"),
		})
	}

	if includeViews {
		viewRows, err := m.exec.Query(ctx, sess, fmt.Sprintf(`SHOW VIEWS IN "%s"."%s"`, db, sc), nil)
		if err != nil {
			slog.Warn("could not fetch views", "database", db, "schema", sc, "error", truncateErr(err))
		} else {
			for _, row := range viewRows {
				tables = append(tables, map[string]any{
					"name":  nameOf(row),
					"type":  "VIEW",
					"rows":  0,
					"bytes": 0,
				})
			}
		}
	}

	if useCache {
		m.cache.SetTables(account, db, sc, tables)
	}
	return tables, nil
}

// Columns lists columns of a table from INFORMATION_SCHEMA, ordered by
// ordinal position. Schema and table names bind as query parameters;
// only the database name is embedded, after validation.
func (m *Metadata) Columns(ctx context.Context, sess *Session, database, schema, table string, useCache bool) ([]map[string]any, error) {
	db, err := ValidateIdentifier("database", database)
	if err != nil {
		return nil, err
	}
	sc, err := ValidateIdentifier("schema", schema)
	if err != nil {
		return nil, err
	}
	tbl, err := ValidateIdentifier("table", table)
	if err != nil {
		return nil, err
	}

	account := accountOf(sess)
	if useCache {
		if columns, ok := m.cache.GetColumns(account, db, sc, tbl); ok {
			return columns, nil
		}
	}

	query := fmt.Sprintf(`SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, ORDINAL_POSITION, COMMENT`+
		` FROM "%s".INFORMATION_SCHEMA.COLUMNS`+
		` WHERE TABLE_SCHEMA = :schemaname AND TABLE_NAME = :tablename`+
		` ORDER BY ORDINAL_POSITION`, db)
	rows, err := m.exec.Query(ctx, sess, query, map[string]any{
		"schemaname": sc,
		"tablename":  tbl,
	})
	if err != nil {
		return nil, err
	}

	columns := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, map[string]any{
			"name":     valueOf(row, "COLUMN_NAME"),
			"type":     valueOf(row, "DATA_TYPE"),
			"nullable": valueOf(row, "IS_NULLABLE") == "YES",
			"default":  row["COLUMN_DEFAULT"],
			"position": valueOf(row, "ORDINAL_POSITION"),
			"comment":  row["COMMENT"],
		})
	}

	if useCache {
		m.cache.SetColumns(account, db, sc, tbl, columns)
	}
	return columns, nil
}

// Preview holds sample rows from a table along with its column metadata.
type Preview struct {
	Columns   []map[string]any `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
	Limit     int              `json:"limit"`
}

// TablePreview returns up to limit rows from a table. The limit is
// clamped to [1, 1000].
func (m *Metadata) TablePreview(ctx context.Context, sess *Session, database, schema, table string, limit int) (*Preview, error) {
	db, err := ValidateIdentifier("database", database)
	if err != nil {
		return nil, err
	}
	sc, err := ValidateIdentifier("schema", schema)
	if err != nil {
		return nil, err
	}
	tbl, err := ValidateIdentifier("table", table)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	if limit > maxPreviewLimit {
		limit = maxPreviewLimit
	}

	columns, err := m.Columns(ctx, sess, database, schema, table, true)
	if err != nil {
		return nil, err
	}

	query, _, err := sq.Select("*").
		From(fmt.Sprintf(`"%s"."%s"."%s"`, db, sc, tbl)).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, WrapError(KindQueryFailed, "building preview query", err)
	}

	rows, err := m.exec.Query(ctx, sess, query, nil)
	if err != nil {
		return nil, err
	}

	return &Preview{
		Columns:   columns,
		Rows:      rows,
		TotalRows: len(rows),
		Limit:     limit,
	}, nil
}

func accountOf(sess *Session) string {
	if sess == nil || sess.Account == "" {
		return unknownAccount
	}
	return sess.Account
}

// nameOf reads the object name from a SHOW command row.
func nameOf(row map[string]any) string {
	if name, ok := valueOf(row, "name", "NAME").(string); ok {
		return name
	}
	return ""
}

// valueOf returns the first present key's value.
func valueOf(row map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return nil
}
