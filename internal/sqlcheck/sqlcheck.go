// Package sqlcheck validates dynamic SQL before it is allowed anywhere near
// the data store. Only a single read-only SELECT (or WITH) statement passes.
package sqlcheck

import (
	"fmt"
	"strings"
)

// Violation codes surfaced to callers.
const (
	CodeMultiStatement   = "MULTI_STATEMENT"
	CodeNotSelect        = "NOT_SELECT"
	CodeDangerousKeyword = "DANGEROUS_KEYWORD"
)

// Error is a validation failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// dangerousKeywords are rejected anywhere outside string literals, even in
// queries that start with SELECT.
var dangerousKeywords = []string{
	"UPDATE", "INSERT", "DELETE", "DROP", "ALTER", "TRUNCATE", "CREATE",
	"GRANT", "REVOKE", "EXEC", "EXECUTE", "MERGE", "ATTACH", "DETACH", "PRAGMA",
}

// Validate checks that query is a single read-only statement. The zero-length
// query (after comment scrubbing) fails with NOT_SELECT.
func Validate(query string) error {
	scrubbed := StripComments(query)

	if err := validateSingleStatement(scrubbed); err != nil {
		return err
	}
	return validateReadOnly(scrubbed)
}

// StripComments removes -- line comments and /* */ block comments, leaving
// string literal contents untouched.
func StripComments(query string) string {
	var b strings.Builder
	inString := false
	i := 0
	for i < len(query) {
		c := query[i]
		switch {
		case inString:
			b.WriteByte(c)
			if c == '\'' {
				// '' is an escaped quote inside a literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					b.WriteByte('\'')
					i++
				} else {
					inString = false
				}
			}
			i++
		case c == '\'':
			inString = true
			b.WriteByte(c)
			i++
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			i += 2
			for i+1 < len(query) && !(query[i] == '*' && query[i+1] == '/') {
				i++
			}
			if i+1 < len(query) {
				i += 2
			} else {
				i = len(query)
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// validateSingleStatement rejects queries containing a statement separator.
// At most one trailing semicolon is tolerated; "SELECT 1;;" is two
// statements, the second empty.
func validateSingleStatement(query string) error {
	trimmed := strings.TrimSuffix(strings.TrimSpace(query), ";")
	inString := false
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c == '\'' {
			if inString && i+1 < len(trimmed) && trimmed[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
			continue
		}
		if c == ';' && !inString {
			return &Error{Code: CodeMultiStatement, Message: "multiple SQL statements are not allowed"}
		}
	}
	return nil
}

// validateReadOnly enforces the SELECT/WITH prefix and the keyword denylist.
func validateReadOnly(query string) error {
	upper := strings.ToUpper(strings.TrimSpace(query))
	first := firstToken(upper)
	if first != "SELECT" && first != "WITH" {
		return &Error{Code: CodeNotSelect, Message: "only SELECT statements are allowed"}
	}

	for _, tok := range tokensOutsideStrings(upper) {
		for _, kw := range dangerousKeywords {
			if tok == kw {
				return &Error{Code: CodeDangerousKeyword, Message: fmt.Sprintf("dangerous keyword %q is not allowed", kw)}
			}
		}
	}
	return nil
}

func firstToken(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// tokensOutsideStrings splits the query into word tokens, skipping anything
// inside single-quoted literals so data values never trip the denylist.
func tokensOutsideStrings(s string) []string {
	var tokens []string
	var cur strings.Builder
	inString := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			if inString && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
			flush()
			continue
		}
		if inString {
			continue
		}
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			cur.WriteByte(c)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
