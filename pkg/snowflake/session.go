// Package snowflake manages sessions against a Snowflake metadata
// lakehouse: a concurrent session registry with idle eviction, a query
// executor that recovers from suspended warehouses, and cached schema
// metadata browsing.
package snowflake

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// livenessProbeQuery is the trivial round-trip used to confirm a
// connection still functions.
const livenessProbeQuery = "SELECT 1"

// Conn is the subset of database/sql operations a session needs from its
// connection handle. *sql.DB satisfies it.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// Session wraps one live Snowflake connection with usage bookkeeping.
// Identity fields are set at creation and never mutated afterwards. The
// usage fields are guarded by the session's own mutex: the Executor
// touches them on query success while the Manager's sweep and stats read
// them concurrently. The connection handle carries no such guard; the
// design assumes at most one logical caller uses a given session id at a
// time.
type Session struct {
	ID        string
	User      string
	Account   string
	Warehouse string
	Database  string
	Schema    string
	Role      string

	CreatedAt time.Time

	mu         sync.Mutex
	lastUsed   time.Time
	queryCount int64

	conn Conn
}

// NewSession wraps a connection. The connection is exclusively owned by
// the returned Session and is closed by Close.
func NewSession(conn Conn, user, account, warehouse, database, schema, role string) *Session {
	now := time.Now()
	return &Session{
		User:      user,
		Account:   account,
		Warehouse: warehouse,
		Database:  database,
		Schema:    schema,
		Role:      role,
		CreatedAt: now,
		lastUsed:  now,
		conn:      conn,
	}
}

// Conn returns the session's connection handle.
func (s *Session) Conn() Conn { return s.conn }

// Touch records activity: updates the last-used timestamp and increments
// the query counter.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	s.queryCount++
}

// LastUsed returns the last-used timestamp.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// QueryCount returns the number of successful queries run so far.
func (s *Session) QueryCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCount
}

// IsExpired reports whether the session has been idle strictly longer
// than maxIdle.
func (s *Session) IsExpired(maxIdle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUsed) > maxIdle
}

// IsAlive probes the connection with a trivial query. Any failure is
// treated as not alive, never re-raised; the caller decides disposition.
// This performs network I/O and must not be called under the Manager's
// registry lock.
func (s *Session) IsAlive(ctx context.Context) bool {
	if s.conn == nil {
		return false
	}
	rows, err := s.conn.QueryContext(ctx, livenessProbeQuery)
	if err != nil {
		return false
	}
	_ = rows.Close()
	return true
}

// Close closes the underlying connection, best-effort.
func (s *Session) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// SessionInfo is a display snapshot of a session.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	User        string    `json:"user"`
	Account     string    `json:"account"`
	Warehouse   string    `json:"warehouse"`
	Database    string    `json:"database"`
	Schema      string    `json:"schema"`
	Role        string    `json:"role,omitempty"`
	IdleSeconds float64   `json:"idle_seconds"`
	QueryCount  int64     `json:"query_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

// Info returns a snapshot of the session's metadata.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		SessionID:   s.ID,
		User:        s.User,
		Account:     s.Account,
		Warehouse:   s.Warehouse,
		Database:    s.Database,
		Schema:      s.Schema,
		Role:        s.Role,
		IdleSeconds: time.Since(s.lastUsed).Seconds(),
		QueryCount:  s.queryCount,
		CreatedAt:   s.CreatedAt,
		LastUsedAt:  s.lastUsed,
	}
}
