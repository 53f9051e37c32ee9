// Package postgres provides PostgreSQL storage for state blobs.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/catalogops/metaquality/pkg/statestore"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const stateTable = "state_blobs"

// Store implements statestore.Store using PostgreSQL. The schema is
// managed by pkg/database/migrate.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL state store over an open database handle.
// The handle is owned by the caller; Close here is a no-op.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the stored value, or statestore.ErrNotFound.
func (s *Store) Get(ctx context.Context, tenant, key string) (json.RawMessage, error) {
	query, args, err := psq.Select("value").
		From(stateTable).
		Where(sq.Eq{"tenant": tenant, "key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building state query: %w", err)
	}

	var value []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting state: %w", err)
	}
	return value, nil
}

// Set stores or overwrites the value.
func (s *Store) Set(ctx context.Context, tenant, key string, value json.RawMessage) error {
	query, args, err := psq.Insert(stateTable).
		Columns("tenant", "key", "value").
		Values(tenant, key, []byte(value)).
		Suffix("ON CONFLICT (tenant, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("building state upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("setting state: %w", err)
	}
	return nil
}

// Delete removes the value.
func (s *Store) Delete(ctx context.Context, tenant, key string) error {
	query, args, err := psq.Delete(stateTable).
		Where(sq.Eq{"tenant": tenant, "key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building state delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting state: %w", err)
	}
	return nil
}

// Keys lists all keys stored for a tenant.
func (s *Store) Keys(ctx context.Context, tenant string) ([]string, error) {
	query, args, err := psq.Select("key").
		From(stateTable).
		Where(sq.Eq{"tenant": tenant}).
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building state keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing state keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning state key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state keys: %w", err)
	}
	return keys, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (*Store) Close() error { return nil }

// Verify interface compliance.
var _ statestore.Store = (*Store)(nil)
