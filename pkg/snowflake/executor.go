package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxRetries is the retry budget beyond the initial attempt.
	defaultMaxRetries = 2

	// defaultResumeWait is the grace period after a resume command to let
	// the warehouse boot before the retry.
	defaultResumeWait = 2 * time.Second

	// errLogLen bounds error text in log lines.
	errLogLen = 200
)

// Error classification is substring matching on lower-cased free-text
// messages: the engine exposes no structured error codes. The patterns
// live here, behind classify, so they can be replaced wholesale if that
// ever changes.
var (
	retryablePatterns = []string{
		"connection",
		"network",
		"timeout",
		"socket",
		"communication",
		"not connected",
		"connection reset",
	}

	suspendedPhrases = []string{
		"no active warehouse",
		"warehouse cannot be used",
	}

	// Both keywords of a pair must appear for a match.
	suspendedKeywordPairs = [][2]string{
		{"warehouse", "suspend"},
		{"warehouse", "not running"},
		{"warehouse", "starting"},
	}
)

type errorClass int

const (
	classFatal errorClass = iota
	classRetryable
	classSuspended
)

// classify maps an engine error to a retry disposition. Suspended wins
// over retryable when both match.
func classify(err error) errorClass {
	msg := strings.ToLower(err.Error())

	for _, phrase := range suspendedPhrases {
		if strings.Contains(msg, phrase) {
			return classSuspended
		}
	}
	for _, pair := range suspendedKeywordPairs {
		if strings.Contains(msg, pair[0]) && strings.Contains(msg, pair[1]) {
			return classSuspended
		}
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return classRetryable
		}
	}
	return classFatal
}

// ExecutorConfig configures an Executor. Zero values take defaults.
type ExecutorConfig struct {
	// MaxRetries is the retry budget beyond the initial attempt.
	MaxRetries int

	// ResumeWait is how long to wait after resuming a warehouse before
	// retrying the query.
	ResumeWait time.Duration

	// QueriesPerSecond paces query attempts against the engine.
	// Zero disables pacing.
	QueriesPerSecond float64
}

// Executor runs queries on a session's connection with
// classification-driven retry: a suspended warehouse is resumed and the
// query retried; a transient connectivity error is retried after a
// successful liveness probe; anything else propagates. At most
// MaxRetries retries follow the initial attempt.
type Executor struct {
	maxRetries int
	resumeWait time.Duration
	limiter    *rate.Limiter

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewExecutor creates a query executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.ResumeWait <= 0 {
		cfg.ResumeWait = defaultResumeWait
	}
	var limiter *rate.Limiter
	if cfg.QueriesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1)
	}
	return &Executor{
		maxRetries: cfg.MaxRetries,
		resumeWait: cfg.ResumeWait,
		limiter:    limiter,
		sleep:      time.Sleep,
	}
}

// Query executes a statement on the session's connection and returns the
// result as row mappings. Parameters bind by name (":name" placeholders).
// The session is touched on success.
func (e *Executor) Query(ctx context.Context, sess *Session, query string, params map[string]any) ([]map[string]any, error) {
	if sess == nil {
		return nil, NewError(KindNoActiveConnection, "no active Snowflake connection")
	}
	args := namedArgs(params)

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, WrapError(KindQueryFailed, "query cancelled", err)
			}
		}

		rows, err := runQuery(ctx, sess.Conn(), query, args)
		if err == nil {
			sess.Touch()
			return rows, nil
		}
		lastErr = err

		class := classify(err)
		slog.Info("query attempt failed",
			"attempt", attempt+1,
			"max_attempts", e.maxRetries+1,
			"error", truncateErr(err))

		switch {
		case class == classSuspended && attempt < e.maxRetries:
			if rerr := e.resumeWarehouse(ctx, sess); rerr != nil {
				return nil, WrapError(KindWarehouseSuspended,
					"warehouse suspended and resume failed", err)
			}

		case class == classSuspended:
			return nil, WrapError(KindWarehouseSuspended, "warehouse suspended", err)

		case class == classRetryable && attempt < e.maxRetries:
			if !sess.IsAlive(ctx) {
				return nil, WrapError(KindSessionExpired,
					"connection lost, reconnect required", err)
			}
			slog.Info("connection verified, retrying query")

		default:
			return nil, WrapError(KindQueryFailed, "query execution failed", err)
		}
	}

	return nil, WrapError(KindQueryFailed, "query execution failed", lastErr)
}

// resumeWarehouse issues the resume command for the session's warehouse
// and waits for it to start. RESUME IF SUSPENDED is idempotent on an
// already-running warehouse.
func (e *Executor) resumeWarehouse(ctx context.Context, sess *Session) error {
	warehouse, err := ValidateIdentifier("warehouse", sess.Warehouse)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("ALTER WAREHOUSE %s RESUME IF SUSPENDED", warehouse)
	if _, err := sess.Conn().ExecContext(ctx, stmt); err != nil {
		slog.Warn("warehouse resume failed", "warehouse", warehouse, "error", truncateErr(err))
		return err
	}

	slog.Info("warehouse resumed", "warehouse", warehouse)
	e.sleep(e.resumeWait)
	return nil
}

// runQuery performs one attempt. The rows handle is closed on every exit
// path.
func runQuery(ctx context.Context, conn Conn, query string, args []any) ([]map[string]any, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// scanRows converts a result set into uniform row mappings.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(vals[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// normalizeValue makes driver values JSON- and cache-friendly.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	default:
		return v
	}
}

// namedArgs converts a parameter map into deterministically ordered
// named bind arguments.
func namedArgs(params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, sql.Named(k, params[k]))
	}
	return args
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > errLogLen {
		return msg[:errLogLen]
	}
	return msg
}
