package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chameleon/internal/config"
)

func testData(t *testing.T) *DataStore {
	t.Helper()
	cfg := config.Default()
	d := NewData(
		config.DatabaseConfig{URL: "sqlite:///" + filepath.Join(t.TempDir(), "data.db")},
		cfg.Tables,
	)
	d.sleep = func(time.Duration) {}
	require.NoError(t, d.Connect())
	require.NoError(t, d.EnsureSalesTable())
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleSales() []SalesRow {
	return []SalesRow{
		{BusinessDate: "2026-08-20", StoreName: "Store A", Department: "Electronics", SalesAmount: 1500.50},
		{BusinessDate: "2026-08-20", StoreName: "Store A", Department: "Clothing", SalesAmount: 820.00},
		{BusinessDate: "2026-08-21", StoreName: "Store B", Department: "Groceries", SalesAmount: 430.25},
	}
}

func TestDataStoreQuery(t *testing.T) {
	d := testData(t)
	require.NoError(t, d.InsertSales(sampleSales()))

	rows, err := d.Query(context.Background(),
		`SELECT store_name, sales_amount FROM sales_per_day WHERE store_name = :store_name ORDER BY sales_amount`,
		[]sql.NamedArg{sql.Named("store_name", "Store A")},
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Store A", rows[0]["store_name"])
	assert.Equal(t, 820.0, rows[0]["sales_amount"])
}

func TestInsertSalesIsIdempotent(t *testing.T) {
	d := testData(t)
	require.NoError(t, d.InsertSales(sampleSales()))
	require.NoError(t, d.InsertSales(sampleSales()))

	rows, err := d.Query(context.Background(), `SELECT COUNT(*) AS n FROM sales_per_day`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows[0]["n"])
}

func TestOfflineDataStore(t *testing.T) {
	d := NewData(config.DatabaseConfig{URL: "sqlite:///never_connected.db"}, config.Default().Tables)
	d.sleep = func(time.Duration) {}

	assert.False(t, d.Connected())
	_, err := d.Query(context.Background(), `SELECT 1`, nil)
	assert.ErrorIs(t, err, ErrOffline)
	assert.ErrorIs(t, d.EnsureSalesTable(), ErrOffline)
}

func TestReconnectSucceedsFirstAttempt(t *testing.T) {
	d := testData(t)
	require.NoError(t, d.Close())

	attempts, err := d.Reconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, d.Connected())
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	// A directory path cannot be opened as a sqlite database file.
	d := NewData(config.DatabaseConfig{URL: "sqlite:///" + t.TempDir()}, config.Default().Tables)
	var delays []time.Duration
	d.sleep = func(dur time.Duration) { delays = append(delays, dur) }

	attempts, err := d.Reconnect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, reconnectMaxAttempts, attempts)
	// One delay between each pair of attempts.
	require.Len(t, delays, reconnectMaxAttempts-1)
	for _, dl := range delays {
		assert.GreaterOrEqual(t, dl, reconnectMinDelay)
	}
	// Later delays grow with the exponential schedule (allowing for jitter).
	assert.Greater(t, delays[len(delays)-1], delays[0])
}

func TestReconnectHonorsContext(t *testing.T) {
	d := NewData(config.DatabaseConfig{URL: "sqlite:///" + t.TempDir()}, config.Default().Tables)
	d.sleep = func(time.Duration) {}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Reconnect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTempRegistry(t *testing.T) {
	r := NewTempRegistry()
	r.Put(&TempTool{ToolName: "probe", TargetPersona: "default", Code: "SELECT 1", CodeType: CodeTypeSQLSelect})

	assert.NotNil(t, r.Get("probe", "default"))
	assert.Nil(t, r.Get("probe", "analyst"))

	list := r.List("default")
	require.Len(t, list, 1)

	assert.True(t, r.Delete("probe", "default"))
	assert.False(t, r.Delete("probe", "default"))
	assert.Nil(t, r.Get("probe", "default"))
}
