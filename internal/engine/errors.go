package engine

import (
	"errors"
	"fmt"

	"chameleon/internal/chain"
	"chameleon/internal/sqlcheck"
	"chameleon/internal/store"
)

// Stable error codes surfaced to clients.
const (
	CodeToolNotFound     = "TOOL_NOT_FOUND"
	CodeResourceNotFound = "RESOURCE_NOT_FOUND"
	CodePromptNotFound   = "PROMPT_NOT_FOUND"
	CodeIntegrity        = "INTEGRITY"
	CodeMultiStatement   = sqlcheck.CodeMultiStatement
	CodeNotSelect        = sqlcheck.CodeNotSelect
	CodeDangerousKeyword = sqlcheck.CodeDangerousKeyword
	CodeOffline          = "OFFLINE"
	CodeDAGViolation     = "DAG_VIOLATION"
	CodeToolRaised       = "TOOL_RAISED"
)

// Error is an engine failure with a stable code for clients and a wrapped
// cause for logs.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classify maps an arbitrary failure onto a stable code. Unrecognized
// errors are TOOL_RAISED: the tool itself blew up.
func classify(err error) string {
	var (
		engineErr *Error
		checkErr  *sqlcheck.Error
		intErr    *store.IntegrityError
		dagErr    *chain.DAGViolationError
	)
	switch {
	case errors.As(err, &engineErr):
		return engineErr.Code
	case errors.As(err, &checkErr):
		return checkErr.Code
	case errors.As(err, &intErr):
		return CodeIntegrity
	case errors.As(err, &dagErr):
		return CodeDAGViolation
	case errors.Is(err, store.ErrOffline):
		return CodeOffline
	default:
		return CodeToolRaised
	}
}
