package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestBackoff_WithinJitterBounds(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := connectBaseWait << attempt
		lo := time.Duration(float64(base) * (1 - jitterFraction))
		hi := time.Duration(float64(base) * (1 + jitterFraction))
		for i := 0; i < 20; i++ {
			d := backoff(attempt)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}

func TestBackoff_NegativeAttemptUsesBase(t *testing.T) {
	d := backoff(-1)
	assert.GreaterOrEqual(t, d, time.Duration(float64(connectBaseWait)*(1-jitterFraction)))
	assert.LessOrEqual(t, d, time.Duration(float64(connectBaseWait)*(1+jitterFraction)))
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepCtx(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// RunMigrations
// ============================================================================

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	files := fstest.MapFS{
		"002_orders.up.sql":  {Data: []byte("CREATE TABLE orders (id TEXT);")},
		"001_stock.up.sql":   {Data: []byte("CREATE TABLE stock (sku TEXT);")},
		"001_stock.down.sql": {Data: []byte("DROP TABLE stock;")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_stock.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("002_orders.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec("CREATE TABLE orders").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_orders.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = RunMigrations(context.Background(), mock, files, newTestLogger())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_StatementErrorAborts(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	files := fstest.MapFS{
		"001_bad.up.sql": {Data: []byte("CREATE TABLE broken (")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_bad.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, files, newTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_bad.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSlowQueryLogging_LogsSlowOperations(t *testing.T) {
	var buf bytes.Buffer
	SetSlowQueryLogging(time.Nanosecond, slog.New(slog.NewTextHandler(&buf, nil)))
	defer SetSlowQueryLogging(0, nil)

	_, end := TraceQuery(context.Background(), "LockStock", "SELECT 1")
	time.Sleep(time.Millisecond)
	end(nil)

	assert.Contains(t, buf.String(), "slow query detected")
	assert.Contains(t, buf.String(), "LockStock")
}

func TestSetSlowQueryLogging_Disabled(t *testing.T) {
	var buf bytes.Buffer
	SetSlowQueryLogging(0, slog.New(slog.NewTextHandler(&buf, nil)))

	_, end := TraceQuery(context.Background(), "GetStock", "SELECT 1")
	end(errors.New("boom"))

	assert.Empty(t, buf.String())
}
