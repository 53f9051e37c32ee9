package snowflake

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogops/metaquality/pkg/cache"
)

func newTestMetadata(t *testing.T) (*Metadata, *Session, sqlmock.Sqlmock) {
	t.Helper()
	sess, mock := newMockSession(t)
	md := NewMetadata(newTestExecutor(), cache.NewMetadataCache(cache.MetadataCacheConfig{}))
	return md, sess, mock
}

func showRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name"})
	for _, n := range names {
		rows.AddRow(n)
	}
	return rows
}

func TestMetadata_Databases(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(regexp.QuoteMeta("SHOW DATABASES")).
		WillReturnRows(showRows("ANALYTICS", "RAW"))

	dbs, err := md.Databases(context.Background(), sess, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"ANALYTICS", "RAW"}, dbs)
}

func TestMetadata_DatabasesCached(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(regexp.QuoteMeta("SHOW DATABASES")).
		WillReturnRows(showRows("ANALYTICS"))

	_, err := md.Databases(context.Background(), sess, true)
	require.NoError(t, err)

	// Second call is served from cache; no further query expected.
	dbs, err := md.Databases(context.Background(), sess, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"ANALYTICS"}, dbs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadata_DatabasesBypassCache(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(regexp.QuoteMeta("SHOW DATABASES")).WillReturnRows(showRows("A"))
	mock.ExpectQuery(regexp.QuoteMeta("SHOW DATABASES")).WillReturnRows(showRows("A", "B"))

	_, err := md.Databases(context.Background(), sess, true)
	require.NoError(t, err)

	dbs, err := md.Databases(context.Background(), sess, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, dbs, "useCache=false always hits the engine")
}

func TestMetadata_SchemasFiltersInformationSchema(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SHOW SCHEMAS IN DATABASE "ANALYTICS"`)).
		WillReturnRows(showRows("PUBLIC", "INFORMATION_SCHEMA", "STAGING"))

	schemas, err := md.Schemas(context.Background(), sess, "analytics", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"PUBLIC", "STAGING"}, schemas)
}

func TestMetadata_SchemasRejectsInvalidDatabase(t *testing.T) {
	md, sess, mock := newTestMetadata(t)

	_, err := md.Schemas(context.Background(), sess, `bad"; DROP DATABASE x`, true)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidIdentifier))
	assert.NoError(t, mock.ExpectationsWereMet(), "invalid names never reach the engine")
}

func TestMetadata_Tables(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SHOW TABLES IN "ANALYTICS"."PUBLIC"`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "rows", "bytes"}).
			AddRow("ORDERS", 42, 1024))
	mock.ExpectQuery(regexp.QuoteMeta(`SHOW VIEWS IN "ANALYTICS"."PUBLIC"`)).
		WillReturnRows(showRows("ORDERS_V"))

	tables, err := md.Tables(context.Background(), sess, "analytics", "public", true, false)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "ORDERS", tables[0]["name"])
	assert.Equal(t, "TABLE", tables[0]["type"])
	assert.Equal(t, "ORDERS_V", tables[1]["name"])
	assert.Equal(t, "VIEW", tables[1]["type"])
}

func TestMetadata_TablesViewFailureNonFatal(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SHOW TABLES IN "ANALYTICS"."PUBLIC"`)).
		WillReturnRows(showRows("ORDERS"))
	mock.ExpectQuery(regexp.QuoteMeta(`SHOW VIEWS IN "ANALYTICS"."PUBLIC"`)).
		WillReturnError(errors.New("insufficient privileges"))

	tables, err := md.Tables(context.Background(), sess, "analytics", "public", true, false)
	require.NoError(t, err, "a view listing failure must not fail the table listing")
	require.Len(t, tables, 1)
	assert.Equal(t, "ORDERS", tables[0]["name"])
}

func TestMetadata_Columns(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(`INFORMATION_SCHEMA\.COLUMNS`).
		WithArgs("PUBLIC", "ORDERS").
		WillReturnRows(sqlmock.NewRows([]string{
			"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "ORDINAL_POSITION", "COMMENT",
		}).
			AddRow("ID", "NUMBER", "NO", nil, 1, nil).
			AddRow("STATUS", "VARCHAR", "YES", "'new'", 2, "order status"))

	columns, err := md.Columns(context.Background(), sess, "analytics", "public", "orders", true)
	require.NoError(t, err)
	require.Len(t, columns, 2)
	assert.Equal(t, "ID", columns[0]["name"])
	assert.Equal(t, false, columns[0]["nullable"])
	assert.Equal(t, "STATUS", columns[1]["name"])
	assert.Equal(t, true, columns[1]["nullable"])
	assert.Equal(t, "order status", columns[1]["comment"])
}

func TestMetadata_ColumnsRejectsInvalidTable(t *testing.T) {
	md, sess, mock := newTestMetadata(t)

	_, err := md.Columns(context.Background(), sess, "analytics", "public", "bad name", true)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidIdentifier))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadata_TablePreview(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(`INFORMATION_SCHEMA\.COLUMNS`).
		WithArgs("PUBLIC", "ORDERS").
		WillReturnRows(sqlmock.NewRows([]string{
			"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "ORDINAL_POSITION", "COMMENT",
		}).AddRow("ID", "NUMBER", "NO", nil, 1, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "ANALYTICS"."PUBLIC"."ORDERS" LIMIT 5`)).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(1).AddRow(2))

	preview, err := md.TablePreview(context.Background(), sess, "analytics", "public", "orders", 5)
	require.NoError(t, err)
	assert.Len(t, preview.Columns, 1)
	assert.Len(t, preview.Rows, 2)
	assert.Equal(t, 2, preview.TotalRows)
	assert.Equal(t, 5, preview.Limit)
}

func TestMetadata_TablePreviewClampsLimit(t *testing.T) {
	md, sess, mock := newTestMetadata(t)
	mock.ExpectQuery(`INFORMATION_SCHEMA\.COLUMNS`).
		WithArgs("PUBLIC", "ORDERS").
		WillReturnRows(sqlmock.NewRows([]string{
			"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "ORDINAL_POSITION", "COMMENT",
		}).AddRow("ID", "NUMBER", "NO", nil, 1, nil))
	mock.ExpectQuery(`LIMIT 1000`).
		WillReturnRows(sqlmock.NewRows([]string{"ID"}))

	preview, err := md.TablePreview(context.Background(), sess, "analytics", "public", "orders", 5000)
	require.NoError(t, err)
	assert.Equal(t, maxPreviewLimit, preview.Limit)
}
