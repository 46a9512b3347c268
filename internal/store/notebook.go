package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConflict is returned when an optimistic-concurrency check fails: the
// entry was updated by someone else since the caller last read it.
var ErrConflict = fmt.Errorf("notebook entry was modified concurrently")

// SetNotebookAudit toggles access-trail rows for notebook reads and writes.
func (s *MetaStore) SetNotebookAudit(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notebookAudit = enabled
}

func (s *MetaStore) auditAccess(tx *sql.Tx, domain, key, accessType, accessedBy string, contextData map[string]interface{}) error {
	if !s.notebookAudit {
		return nil
	}
	ctx, err := marshalJSON(contextData)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (domain, key, access_type, accessed_at, accessed_by, context_data)
		VALUES (?, ?, ?, ?, ?, ?)`, s.t(s.tables.NotebookAudit))
	now := time.Now().UTC()
	if tx != nil {
		_, err = tx.Exec(q, domain, key, accessType, now, accessedBy, ctx)
	} else {
		_, err = s.db.Exec(q, domain, key, accessType, now, accessedBy, ctx)
	}
	if err != nil {
		return fmt.Errorf("audit notebook access: %w", err)
	}
	return nil
}

// WriteNote creates or updates a notebook entry. The previous value is
// recorded in the history table inside the same transaction, so the entry
// and its trail can never diverge. When expectedUpdatedAt is non-nil the
// write only succeeds if the stored updated_at still matches; otherwise
// ErrConflict is returned.
func (s *MetaStore) WriteNote(domain, key, value, updatedBy string, expectedUpdatedAt *time.Time) (*NotebookEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("write note: %w", err)
	}
	defer tx.Rollback()

	var (
		oldValue             sql.NullString
		createdAt, updatedAt time.Time
		exists               bool
	)
	err = tx.QueryRow(
		fmt.Sprintf(`SELECT value, created_at, updated_at FROM %s WHERE domain = ? AND key = ?`,
			s.t(s.tables.AgentNotebook)),
		domain, key,
	).Scan(&oldValue, &createdAt, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("write note: %w", err)
	default:
		exists = true
	}

	if expectedUpdatedAt != nil {
		if !exists || !updatedAt.Equal(*expectedUpdatedAt) {
			return nil, ErrConflict
		}
	}

	now := time.Now().UTC()
	entry := &NotebookEntry{
		Domain: domain, Key: key, Value: value,
		CreatedAt: now, UpdatedAt: now, UpdatedBy: updatedBy, IsActive: true,
	}
	if exists {
		entry.CreatedAt = createdAt
		_, err = tx.Exec(
			fmt.Sprintf(`UPDATE %s SET value = ?, updated_at = ?, updated_by = ?, is_active = 1
				WHERE domain = ? AND key = ?`, s.t(s.tables.AgentNotebook)),
			value, now, updatedBy, domain, key,
		)
	} else {
		_, err = tx.Exec(
			fmt.Sprintf(`INSERT INTO %s (domain, key, value, created_at, updated_at, updated_by, is_active)
				VALUES (?, ?, ?, ?, ?, ?, 1)`, s.t(s.tables.AgentNotebook)),
			domain, key, value, now, now, updatedBy,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("write note: %w", err)
	}

	var old interface{}
	if oldValue.Valid {
		old = oldValue.String
	}
	_, err = tx.Exec(
		fmt.Sprintf(`INSERT INTO %s (domain, key, old_value, new_value, changed_at, changed_by)
			VALUES (?, ?, ?, ?, ?, ?)`, s.t(s.tables.NotebookHistory)),
		domain, key, old, value, now, updatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("record note history: %w", err)
	}

	if err := s.auditAccess(tx, domain, key, "write", updatedBy, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("write note: %w", err)
	}
	return entry, nil
}

func scanNote(row interface{ Scan(...interface{}) error }) (*NotebookEntry, error) {
	var e NotebookEntry
	err := row.Scan(&e.Domain, &e.Key, &e.Value, &e.CreatedAt, &e.UpdatedAt, &e.UpdatedBy, &e.IsActive)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const noteColumns = `domain, key, value, created_at, updated_at, updated_by, is_active`

// ReadNote fetches one active entry and records the access when auditing is
// enabled.
func (s *MetaStore) ReadNote(domain, key, accessedBy string) (*NotebookEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM %s WHERE domain = ? AND key = ? AND is_active = 1`,
			noteColumns, s.t(s.tables.AgentNotebook)),
		domain, key,
	)
	e, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notebook entry %s/%s: %w", domain, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}
	if err := s.auditAccess(nil, domain, key, "read", accessedBy, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// ListNotes returns all active entries in a domain, key-ordered.
func (s *MetaStore) ListNotes(domain, accessedBy string) ([]*NotebookEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM %s WHERE domain = ? AND is_active = 1 ORDER BY key`,
			noteColumns, s.t(s.tables.AgentNotebook)),
		domain,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []*NotebookEntry
	for rows.Next() {
		e, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.auditAccess(nil, domain, "*", "read", accessedBy, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteNote soft-deletes an entry. The tombstone keeps the row and its
// history; a later write to the same key reactivates it.
func (s *MetaStore) DeleteNote(domain, key, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	defer tx.Rollback()

	var oldValue string
	err = tx.QueryRow(
		fmt.Sprintf(`SELECT value FROM %s WHERE domain = ? AND key = ? AND is_active = 1`,
			s.t(s.tables.AgentNotebook)),
		domain, key,
	).Scan(&oldValue)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("notebook entry %s/%s: %w", domain, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		fmt.Sprintf(`UPDATE %s SET is_active = 0, updated_at = ?, updated_by = ?
			WHERE domain = ? AND key = ?`, s.t(s.tables.AgentNotebook)),
		now, deletedBy, domain, key,
	); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf(`INSERT INTO %s (domain, key, old_value, new_value, changed_at, changed_by)
			VALUES (?, ?, ?, '', ?, ?)`, s.t(s.tables.NotebookHistory)),
		domain, key, oldValue, now, deletedBy,
	); err != nil {
		return fmt.Errorf("record note history: %w", err)
	}
	if err := s.auditAccess(tx, domain, key, "delete", deletedBy, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// NoteHistory returns the newest change rows for an entry.
func (s *MetaStore) NoteHistory(domain, key string, limit int) ([]*NotebookChange, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT id, domain, key, old_value, new_value, changed_at, changed_by
			FROM %s WHERE domain = ? AND key = ? ORDER BY id DESC LIMIT ?`,
			s.t(s.tables.NotebookHistory)),
		domain, key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("note history: %w", err)
	}
	defer rows.Close()

	var out []*NotebookChange
	for rows.Next() {
		var (
			c   NotebookChange
			old sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Domain, &c.Key, &old, &c.NewValue, &c.ChangedAt, &c.ChangedBy); err != nil {
			return nil, fmt.Errorf("scan note history: %w", err)
		}
		c.OldValue = old.String
		out = append(out, &c)
	}
	return out, rows.Err()
}
