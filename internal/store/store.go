// Package store persists the engine's metadata catalogue (vault, registries,
// audit log, notebook) and the optional data store used by sql-select tools.
// Everything rides on database/sql with the sqlite3 driver; table names and
// an optional schema qualifier come from configuration.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"chameleon/internal/config"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = fmt.Errorf("not found")

// IntegrityError reports a vault row whose blob no longer matches its hash.
type IntegrityError struct {
	Hash   string
	Actual string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("code vault integrity failure: stored hash %s, actual %s", e.Hash, e.Actual)
}

// MetaStore owns the metadata database connection. All catalogue reads and
// writes go through it; the audit log deliberately bypasses any caller
// transaction (see execlog.go).
type MetaStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	schema string
	tables config.TablesConfig

	// notebookAudit controls whether notebook reads/writes leave trail rows.
	notebookAudit bool

	// macroGen bumps on every macro mutation so template caches can tell
	// when their preamble is stale.
	macroGen atomic.Int64
}

// DSNFromURL converts a sqlite URL of the form sqlite:///file.db (or a bare
// file path) into a driver DSN. Other schemes are rejected; the engine is
// sqlite-backed.
func DSNFromURL(url string) (string, error) {
	switch {
	case strings.HasPrefix(url, "sqlite:///"):
		return strings.TrimPrefix(url, "sqlite:///"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return strings.TrimPrefix(url, "sqlite://"), nil
	case strings.Contains(url, "://"):
		return "", fmt.Errorf("unsupported database url %q: only sqlite is supported", url)
	case url == "":
		return "", fmt.Errorf("empty database url")
	default:
		return url, nil
	}
}

// OpenMeta connects to the metadata database and creates any missing tables.
// A failure here is fatal for the server.
func OpenMeta(dbCfg config.DatabaseConfig, tables config.TablesConfig) (*MetaStore, error) {
	dsn, err := DSNFromURL(dbCfg.URL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	s := &MetaStore{db: db, schema: dbCfg.Schema, tables: tables}
	s.macroGen.Store(1)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *MetaStore) Close() error { return s.db.Close() }

// DB exposes the raw handle for callers that need their own transaction.
func (s *MetaStore) DB() *sql.DB { return s.db }

// Tables returns the configured table names.
func (s *MetaStore) Tables() config.TablesConfig { return s.tables }

// MacroGeneration returns the current macro generation counter.
func (s *MetaStore) MacroGeneration() int64 { return s.macroGen.Load() }

func (s *MetaStore) bumpMacroGen() { s.macroGen.Add(1) }

// t qualifies a table name with the configured schema, if any.
func (s *MetaStore) t(name string) string {
	if s.schema == "" {
		return name
	}
	return s.schema + "." + name
}

func (s *MetaStore) migrate() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			hash TEXT PRIMARY KEY,
			code_blob TEXT NOT NULL,
			code_type TEXT NOT NULL DEFAULT 'procedural'
		)`, s.t(s.tables.CodeVault)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			tool_name TEXT NOT NULL,
			target_persona TEXT NOT NULL,
			description TEXT NOT NULL,
			input_schema TEXT NOT NULL,
			active_hash_ref TEXT NOT NULL,
			is_auto_created INTEGER NOT NULL DEFAULT 0,
			grp TEXT NOT NULL,
			icon_name TEXT,
			extended_metadata TEXT,
			PRIMARY KEY (tool_name, target_persona)
		)`, s.t(s.tables.ToolRegistry)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			uri_schema TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'text/plain',
			is_dynamic INTEGER NOT NULL DEFAULT 0,
			static_content TEXT,
			active_hash_ref TEXT,
			target_persona TEXT NOT NULL DEFAULT 'default',
			grp TEXT NOT NULL
		)`, s.t(s.tables.ResourceRegistry)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			template TEXT NOT NULL,
			arguments_schema TEXT NOT NULL,
			target_persona TEXT NOT NULL DEFAULT 'default',
			grp TEXT NOT NULL
		)`, s.t(s.tables.PromptRegistry)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			template TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)`, s.t(s.tables.MacroRegistry)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_type TEXT NOT NULL,
			category TEXT NOT NULL,
			pattern TEXT NOT NULL,
			description TEXT,
			is_active INTEGER NOT NULL DEFAULT 1
		)`, s.t(s.tables.SecurityPolicy)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			icon_name TEXT PRIMARY KEY,
			mime_type TEXT NOT NULL,
			content TEXT NOT NULL
		)`, s.t(s.tables.IconRegistry)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			tool_name TEXT NOT NULL,
			persona TEXT NOT NULL,
			arguments TEXT NOT NULL,
			status TEXT NOT NULL,
			result_summary TEXT NOT NULL,
			error_traceback TEXT
		)`, s.t(s.tables.ExecutionLog)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			updated_by TEXT NOT NULL DEFAULT 'system',
			is_active INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (domain, key)
		)`, s.t(s.tables.AgentNotebook)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT NOT NULL,
			changed_at TIMESTAMP NOT NULL,
			changed_by TEXT NOT NULL
		)`, s.t(s.tables.NotebookHistory)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			access_type TEXT NOT NULL,
			accessed_at TIMESTAMP NOT NULL,
			accessed_by TEXT NOT NULL,
			context_data TEXT
		)`, s.t(s.tables.NotebookAudit)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate metadata schema: %w", err)
		}
	}
	return nil
}

// marshalJSON encodes a map column; nil maps become NULL.
func marshalJSON(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON decodes a nullable TEXT json column.
func unmarshalJSON(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}
