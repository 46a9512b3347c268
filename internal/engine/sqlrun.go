package engine

import (
	"database/sql"
	"regexp"
	"strconv"
	"strings"
)

// Row limits injected into dynamic SQL. Temp tools are for trial runs and
// get a tiny window; auto-created tools get a generous cap that still
// protects the server from unbounded result sets.
const (
	tempToolLimit    = 3
	autoCreatedLimit = 1000
)

var trailingLimit = regexp.MustCompile(`(?i)\s+LIMIT\s+\d+\s*$`)

// applyRowLimit strips any trailing semicolon and existing LIMIT clause,
// then appends the mandatory limit.
func applyRowLimit(query string, limit int) string {
	stripped := strings.TrimRight(strings.TrimSpace(query), "; \t\n\r")
	stripped = trailingLimit.ReplaceAllString(stripped, "")
	return stripped + " LIMIT " + strconv.Itoa(limit)
}

var bindNamePattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// bindNames extracts the :name parameters referenced by a query, skipping
// anything inside single-quoted literals.
func bindNames(query string) []string {
	var names []string
	seen := make(map[string]bool)
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			if inString && i+1 < len(query) && query[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
			continue
		}
		if inString || c != ':' {
			continue
		}
		m := bindNamePattern.FindString(query[i:])
		if m == "" {
			continue
		}
		name := m[1:]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i += len(m) - 1
	}
	return names
}

// buildNamedArgs binds only the arguments the query actually references, so
// extra tool arguments never trip the driver. A referenced name missing
// from args binds NULL.
func buildNamedArgs(query string, args map[string]interface{}) []sql.NamedArg {
	names := bindNames(query)
	out := make([]sql.NamedArg, 0, len(names))
	for _, name := range names {
		out = append(out, sql.Named(name, args[name]))
	}
	return out
}
