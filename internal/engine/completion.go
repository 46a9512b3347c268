package engine

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"chameleon/internal/host"
	"chameleon/internal/store"
)

// Complete returns completion candidates for one argument of a tool.
// Completion is best-effort: every failure degrades to an empty list, never
// an error surfaced to the client.
func (e *Engine) Complete(ctx context.Context, toolName, persona, argument, prefix string) []string {
	code, codeType, ok := e.resolveCode(toolName, persona)
	if !ok {
		return nil
	}

	switch codeType {
	case store.CodeTypeProcedural:
		return e.completeProcedural(toolName, persona, code, argument, prefix)
	case store.CodeTypeSQLSelect:
		return e.completeColumnValues(ctx, argument, prefix)
	default:
		return nil
	}
}

// resolveCode finds a tool's blob, temp registry first, skipping the audit
// trail entirely; completion requests are not executions.
func (e *Engine) resolveCode(toolName, persona string) (code, codeType string, ok bool) {
	if tmp := e.temp.Get(toolName, persona); tmp != nil {
		return tmp.Code, tmp.CodeType, true
	}
	toolDef, err := e.meta.GetTool(toolName, persona)
	if err != nil {
		return "", "", false
	}
	entry, err := e.meta.GetCode(toolDef.ActiveHashRef)
	if err != nil {
		return "", "", false
	}
	return entry.CodeBlob, entry.CodeType, true
}

func (e *Engine) completeProcedural(toolName, persona, code, argument, prefix string) []string {
	hctx := e.hostContext(toolName, persona)

	if factory := host.Lookup(toolName); factory != nil {
		if completer, ok := factory(hctx).(host.Completer); ok {
			return completer.Complete(argument, prefix)
		}
		return nil
	}

	tool, err := host.Interpret(code, hctx)
	if err != nil {
		e.logger.Debug("completion interpret failed", zap.String("tool", toolName), zap.Error(err))
		return nil
	}
	return tool.Complete(argument, prefix)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const completionLimit = 20

// completeColumnValues treats the argument name as a column and offers
// distinct values from whichever data-store table carries that column.
func (e *Engine) completeColumnValues(ctx context.Context, column, prefix string) []string {
	if !identPattern.MatchString(column) || !e.data.Connected() {
		return nil
	}

	tables, err := e.data.Query(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`, nil)
	if err != nil {
		return nil
	}
	for _, row := range tables {
		table, _ := row["name"].(string)
		if table == "" || !identPattern.MatchString(table) {
			continue
		}
		cols, err := e.data.Query(ctx,
			fmt.Sprintf(`SELECT name FROM pragma_table_info('%s')`, table), nil)
		if err != nil {
			continue
		}
		found := false
		for _, c := range cols {
			if c["name"] == column {
				found = true
				break
			}
		}
		if !found {
			continue
		}

		values, err := e.data.Query(ctx,
			fmt.Sprintf(`SELECT DISTINCT %s AS v FROM %s WHERE %s LIKE :prefix ORDER BY v LIMIT %d`,
				column, table, column, completionLimit),
			buildNamedArgs(":prefix", map[string]interface{}{"prefix": prefix + "%"}),
		)
		if err != nil {
			continue
		}
		var out []string
		for _, v := range values {
			out = append(out, fmt.Sprintf("%v", v["v"]))
		}
		return out
	}
	return nil
}
