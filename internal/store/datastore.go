package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"chameleon/internal/config"
)

// ErrOffline is returned when a data-dependent operation runs while the data
// store is disconnected.
var ErrOffline = fmt.Errorf("data store is offline")

// Reconnect backoff parameters.
const (
	reconnectMaxAttempts = 5
	reconnectBaseDelay   = time.Second
	reconnectExponent    = 2
	reconnectJitter      = 500 * time.Millisecond
	reconnectMinDelay    = 100 * time.Millisecond
)

// DataStore wraps the optional business-data connection. The server starts
// fine without it; sql-select tools then fail with ErrOffline until a
// reconnect succeeds.
type DataStore struct {
	mu         sync.RWMutex
	db         *sql.DB
	url        string
	schema     string
	salesTable string

	// sleep is swappable so tests don't wait out the backoff.
	sleep func(time.Duration)
}

// NewData builds a DataStore handle without connecting.
func NewData(dbCfg config.DatabaseConfig, tables config.TablesConfig) *DataStore {
	return &DataStore{
		url:        dbCfg.URL,
		schema:     dbCfg.Schema,
		salesTable: tables.SalesPerDay,
		sleep:      time.Sleep,
	}
}

// Connect opens and pings the data database. Safe to call repeatedly; an
// existing healthy connection is kept.
func (d *DataStore) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		if err := d.db.Ping(); err == nil {
			return nil
		}
		d.db.Close()
		d.db = nil
	}

	dsn, err := DSNFromURL(d.url)
	if err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open data database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping data database: %w", err)
	}
	d.db = db
	return nil
}

// Connected reports whether the data store currently has a live connection.
func (d *DataStore) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db != nil
}

// Close drops the connection if one exists.
func (d *DataStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Reconnect retries Connect with exponential backoff and jitter. It returns
// the number of attempts made; err is nil as soon as one attempt succeeds.
func (d *DataStore) Reconnect(ctx context.Context) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= reconnectMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		if lastErr = d.Connect(); lastErr == nil {
			return attempt, nil
		}
		if attempt == reconnectMaxAttempts {
			break
		}
		delay := reconnectBaseDelay
		for i := 1; i < attempt; i++ {
			delay *= reconnectExponent
		}
		delay += time.Duration(rand.Int63n(int64(2*reconnectJitter))) - reconnectJitter
		if delay < reconnectMinDelay {
			delay = reconnectMinDelay
		}
		d.sleep(delay)
	}
	return reconnectMaxAttempts, fmt.Errorf("reconnect failed after %d attempts: %w", reconnectMaxAttempts, lastErr)
}

// SalesTable returns the schema-qualified sales table name.
func (d *DataStore) SalesTable() string {
	if d.schema == "" {
		return d.salesTable
	}
	return d.schema + "." + d.salesTable
}

// Query runs a read-only statement with named parameters and returns rows as
// maps. Callers are expected to have validated the SQL already.
func (d *DataStore) Query(ctx context.Context, query string, args []sql.NamedArg) ([]map[string]interface{}, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return nil, ErrOffline
	}

	params := make([]interface{}, len(args))
	for i, a := range args {
		params[i] = a
	}
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("data query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("data query columns: %w", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("data query scan: %w", err)
		}
		rec := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[c] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EnsureSalesTable creates the sample sales table if it is missing.
func (d *DataStore) EnsureSalesTable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrOffline
	}
	_, err := d.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_date TEXT NOT NULL,
		store_name TEXT NOT NULL,
		department TEXT NOT NULL,
		sales_amount REAL NOT NULL
	)`, d.SalesTable()))
	if err != nil {
		return fmt.Errorf("create sales table: %w", err)
	}
	return nil
}

// InsertSales loads sample rows, skipping the load entirely when the table
// already has data.
func (d *DataStore) InsertSales(rows []SalesRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrOffline
	}

	var count int
	if err := d.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, d.SalesTable())).Scan(&count); err != nil {
		return fmt.Errorf("count sales rows: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("insert sales: %w", err)
	}
	defer tx.Rollback()
	stmt := fmt.Sprintf(`INSERT INTO %s (business_date, store_name, department, sales_amount)
		VALUES (?, ?, ?, ?)`, d.SalesTable())
	for _, r := range rows {
		if _, err := tx.Exec(stmt, r.BusinessDate, r.StoreName, r.Department, r.SalesAmount); err != nil {
			return fmt.Errorf("insert sales row: %w", err)
		}
	}
	return tx.Commit()
}
