package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// HashCode returns the SHA-256 hex digest of a code blob.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func validCodeType(t string) bool {
	switch t {
	case CodeTypeProcedural, CodeTypeSQLSelect, CodeTypeDashboard:
		return true
	}
	return false
}

// UpsertCode stores a code blob under its content hash and returns the hash.
// If the hash already exists only code_type is updated; the blob itself is
// immutable by construction.
func (s *MetaStore) UpsertCode(code, codeType string) (string, error) {
	if !validCodeType(codeType) {
		return "", fmt.Errorf("invalid code_type %q", codeType)
	}
	hash := HashCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET code_type = ? WHERE hash = ?`, s.t(s.tables.CodeVault)),
		codeType, hash,
	)
	if err != nil {
		return "", fmt.Errorf("upsert code: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return hash, nil
	}
	_, err = s.db.Exec(
		fmt.Sprintf(`INSERT INTO %s (hash, code_blob, code_type) VALUES (?, ?, ?)`, s.t(s.tables.CodeVault)),
		hash, code, codeType,
	)
	if err != nil {
		return "", fmt.Errorf("insert code: %w", err)
	}
	return hash, nil
}

// GetCode fetches a vault entry and re-verifies its content hash. A mismatch
// means the row was tampered with and the entry must not be executed.
func (s *MetaStore) GetCode(hash string) (*VaultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT hash, code_blob, code_type FROM %s WHERE hash = ?`, s.t(s.tables.CodeVault)),
		hash,
	)
	var e VaultEntry
	if err := row.Scan(&e.Hash, &e.CodeBlob, &e.CodeType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("code %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("get code: %w", err)
	}
	if actual := HashCode(e.CodeBlob); actual != e.Hash {
		return nil, &IntegrityError{Hash: e.Hash, Actual: actual}
	}
	return &e, nil
}
