package snowflake

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	execTestQuery  = "SELECT * FROM orders"
	execTestResume = "ALTER WAREHOUSE COMPUTE_WH RESUME IF SUSPENDED"
)

// newTestExecutor disables the retry backoff sleep.
func newTestExecutor() *Executor {
	e := NewExecutor(ExecutorConfig{})
	e.sleep = func(time.Duration) {}
	return e
}

func orderRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"ID", "STATUS"}).AddRow(1, "shipped")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errorClass
	}{
		{"connection reset", errors.New("connection reset by peer"), classRetryable},
		{"network", errors.New("Network error occurred"), classRetryable},
		{"timeout", errors.New("read timeout after 30s"), classRetryable},
		{"socket", errors.New("socket closed"), classRetryable},
		{"not connected", errors.New("session not connected"), classRetryable},
		{"no active warehouse", errors.New("No active warehouse selected in the current session"), classSuspended},
		{"cannot be used", errors.New("Warehouse 'WH' cannot be used"), classSuspended},
		{"keyword pair suspend", errors.New("Warehouse COMPUTE_WH is suspended."), classSuspended},
		{"keyword pair not running", errors.New("warehouse is not running"), classSuspended},
		{"keyword pair starting", errors.New("warehouse COMPUTE_WH is starting"), classSuspended},
		{"syntax error", errors.New("SQL compilation error: syntax error"), classFatal},
		{"permission denied", errors.New("insufficient privileges"), classFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestClassify_SuspendedWinsOverRetryable(t *testing.T) {
	// Mentions both a connection problem and a suspended warehouse; the
	// resume path must win.
	err := errors.New("connection error: warehouse COMPUTE_WH is suspended")
	assert.Equal(t, classSuspended, classify(err))
}

func TestExecutor_QueryNilSession(t *testing.T) {
	e := newTestExecutor()

	_, err := e.Query(context.Background(), nil, execTestQuery, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNoActiveConnection))
}

func TestExecutor_QuerySuccess(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)
	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).WillReturnRows(orderRows())

	rows, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "shipped", rows[0]["STATUS"])
	assert.Equal(t, int64(1), sess.QueryCount(), "success touches the session")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_QueryNormalizesValues(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).WillReturnRows(
		sqlmock.NewRows([]string{"TS", "RAW"}).AddRow(ts, []byte("blob")))

	rows, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T11:30:00Z", rows[0]["TS"], "timestamps normalize to UTC RFC3339")
	assert.Equal(t, "blob", rows[0]["RAW"], "byte slices normalize to strings")
}

func TestExecutor_SuspendedWarehouseResumedAndRetried(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
		WillReturnError(errors.New("Warehouse COMPUTE_WH is suspended."))
	mock.ExpectExec(regexp.QuoteMeta(execTestResume)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).WillReturnRows(orderRows())

	rows, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_SuspendedBudgetExhausted(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	// Initial attempt plus two retries, each preceded by a resume.
	for i := 0; i < defaultMaxRetries; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
			WillReturnError(errors.New("Warehouse COMPUTE_WH is suspended."))
		mock.ExpectExec(regexp.QuoteMeta(execTestResume)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
		WillReturnError(errors.New("Warehouse COMPUTE_WH is suspended."))

	_, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindWarehouseSuspended))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_SuspendedResumeFails(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
		WillReturnError(errors.New("No active warehouse selected in the current session"))
	mock.ExpectExec(regexp.QuoteMeta(execTestResume)).
		WillReturnError(errors.New("insufficient privileges"))

	_, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindWarehouseSuspended))
}

func TestExecutor_RetryableWithLiveConnection(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).WillReturnRows(orderRows())

	rows, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_RetryableWithDeadConnection(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("driver: bad connection"))

	_, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSessionExpired), "dead connection means reconnect, not retry")
}

func TestExecutor_FatalErrorNoRetry(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
		WillReturnError(errors.New("SQL compilation error: syntax error at line 1"))

	_, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindQueryFailed))
	assert.NoError(t, mock.ExpectationsWereMet(), "fatal errors must not be retried")
}

func TestNewExecutor_PacingDisabledByDefault(t *testing.T) {
	e := NewExecutor(ExecutorConfig{})
	assert.Nil(t, e.limiter)
}

func TestExecutor_PacingDelaysRetry(t *testing.T) {
	sess, mock := newMockSession(t)
	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(execTestQuery)).WillReturnRows(orderRows())

	// 100 queries per second with burst 1: the first attempt passes
	// immediately, the retry cannot start before the 10ms refill.
	e := NewExecutor(ExecutorConfig{QueriesPerSecond: 100})
	e.sleep = func(time.Duration) {}
	require.NotNil(t, e.limiter)

	start := time.Now()
	rows, err := e.Query(context.Background(), sess, execTestQuery, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.GreaterOrEqual(t, time.Since(start), 8*time.Millisecond,
		"retry must wait for the pacing interval")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_PacingHonorsCancellation(t *testing.T) {
	sess, _ := newMockSession(t)

	e := NewExecutor(ExecutorConfig{QueriesPerSecond: 100})
	e.sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Query(ctx, sess, execTestQuery, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindQueryFailed))
}

func TestExecutor_NamedParams(t *testing.T) {
	e := newTestExecutor()
	sess, mock := newMockSession(t)

	query := "SELECT * FROM orders WHERE status = :status AND region = :region"
	// Bind args arrive ordered by parameter name: region before status.
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs("EU", "shipped").
		WillReturnRows(orderRows())

	rows, err := e.Query(context.Background(), sess, query, map[string]any{
		"status": "shipped",
		"region": "EU",
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
