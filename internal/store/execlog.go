package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LogExecution appends an audit row in its own implicit transaction. The
// write happens on the store's connection directly so a rolled-back tool
// transaction can never take the audit trail down with it.
func (s *MetaStore) LogExecution(rec *ExecutionRecord) error {
	args, err := marshalJSON(rec.Arguments)
	if err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	var traceback interface{}
	if rec.ErrorTraceback != "" {
		traceback = rec.ErrorTraceback
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		fmt.Sprintf(`INSERT INTO %s
			(timestamp, tool_name, persona, arguments, status, result_summary, error_traceback)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, s.t(s.tables.ExecutionLog)),
		rec.Timestamp, rec.ToolName, rec.Persona, args, rec.Status, rec.ResultSummary, traceback,
	)
	if err != nil {
		return fmt.Errorf("log execution: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func scanExecution(row interface{ Scan(...interface{}) error }) (*ExecutionRecord, error) {
	var (
		rec             ExecutionRecord
		args, traceback sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Timestamp, &rec.ToolName, &rec.Persona,
		&args, &rec.Status, &rec.ResultSummary, &traceback)
	if err != nil {
		return nil, err
	}
	if rec.Arguments, err = unmarshalJSON(args); err != nil {
		return nil, err
	}
	rec.ErrorTraceback = traceback.String
	return &rec, nil
}

const execColumns = `id, timestamp, tool_name, persona, arguments, status, result_summary, error_traceback`

// RecentExecutions returns the newest audit rows, optionally filtered by
// tool name.
func (s *MetaStore) RecentExecutions(toolName string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rows *sql.Rows
		err  error
	)
	if toolName == "" {
		rows, err = s.db.Query(
			fmt.Sprintf(`SELECT %s FROM %s ORDER BY id DESC LIMIT ?`, execColumns, s.t(s.tables.ExecutionLog)),
			limit,
		)
	} else {
		rows, err = s.db.Query(
			fmt.Sprintf(`SELECT %s FROM %s WHERE tool_name = ? ORDER BY id DESC LIMIT ?`,
				execColumns, s.t(s.tables.ExecutionLog)),
			toolName, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastFailure returns the most recent FAILURE row for a tool, with its full
// error text, for post-mortem inspection.
func (s *MetaStore) LastFailure(toolName string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM %s WHERE tool_name = ? AND status = ? ORDER BY id DESC LIMIT 1`,
			execColumns, s.t(s.tables.ExecutionLog)),
		toolName, StatusFailure,
	)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no failures recorded for %s: %w", toolName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("last failure %s: %w", toolName, err)
	}
	return rec, nil
}
