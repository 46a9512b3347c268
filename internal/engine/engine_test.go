package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"chameleon/internal/config"
	"chameleon/internal/store"
	_ "chameleon/internal/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	engine *Engine
	meta   *store.MetaStore
	data   *store.DataStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()

	meta, err := store.OpenMeta(config.DatabaseConfig{URL: "sqlite:///" + filepath.Join(dir, "meta.db")}, cfg.Tables)
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	data := store.NewData(config.DatabaseConfig{URL: "sqlite:///" + filepath.Join(dir, "data.db")}, cfg.Tables)
	require.NoError(t, data.Connect())
	require.NoError(t, data.EnsureSalesTable())
	require.NoError(t, data.InsertSales([]store.SalesRow{
		{BusinessDate: "2026-08-20", StoreName: "Store A", Department: "Electronics", SalesAmount: 1500.50},
		{BusinessDate: "2026-08-20", StoreName: "Store A", Department: "Clothing", SalesAmount: 820.00},
		{BusinessDate: "2026-08-21", StoreName: "Store B", Department: "Groceries", SalesAmount: 430.25},
		{BusinessDate: "2026-08-21", StoreName: "Store B", Department: "Electronics", SalesAmount: 990.10},
		{BusinessDate: "2026-08-22", StoreName: "Store C", Department: "Clothing", SalesAmount: 615.75},
	}))
	t.Cleanup(func() { data.Close() })

	eng := New(Options{
		Meta: meta, Data: data, Logger: zap.NewNop(),
		SelfCorrection: true,
		UI:             cfg.Features.ChameleonUI,
	})
	return &fixture{engine: eng, meta: meta, data: data}
}

func (f *fixture) addSQLTool(t *testing.T, name, sqlTemplate string, autoCreated bool) {
	t.Helper()
	hash, err := f.meta.UpsertCode(sqlTemplate, store.CodeTypeSQLSelect)
	require.NoError(t, err)
	require.NoError(t, f.meta.UpsertTool(&store.Tool{
		ToolName: name, TargetPersona: "default", Description: "test sql tool",
		InputSchema: map[string]interface{}{"type": "object"}, ActiveHashRef: hash,
		IsAutoCreated: autoCreated, Group: "data",
	}))
}

func (f *fixture) addProceduralTool(t *testing.T, name, code string, meta map[string]interface{}) {
	t.Helper()
	hash, err := f.meta.UpsertCode(code, store.CodeTypeProcedural)
	require.NoError(t, err)
	require.NoError(t, f.meta.UpsertTool(&store.Tool{
		ToolName: name, TargetPersona: "default", Description: "test procedural tool",
		InputSchema: map[string]interface{}{"type": "object"}, ActiveHashRef: hash,
		Group: "utility", ExtendedMetadata: meta,
	}))
}

func TestExecuteSQLToolWithConditionalClause(t *testing.T) {
	f := newFixture(t)
	f.addSQLTool(t, "data_get_sales_summary", `
SELECT store_name, SUM(sales_amount) AS total_sales
FROM sales_per_day
WHERE 1=1
{% if arguments.store_name %} AND store_name = :store_name{% endif %}
GROUP BY store_name
ORDER BY store_name`, false)

	res, err := f.engine.Execute(context.Background(), "data_get_sales_summary", "default",
		map[string]interface{}{"store_name": "Store A"})
	require.NoError(t, err)
	rows := res.([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "Store A", row["store_name"])
	assert.InDelta(t, 2320.50, row["total_sales"], 0.001)

	// Without the argument the clause drops out and all stores return.
	res, err = f.engine.Execute(context.Background(), "data_get_sales_summary", "default", map[string]interface{}{})
	require.NoError(t, err)
	assert.Len(t, res.([]interface{}), 3)
}

func TestExecuteSQLToolUsesActiveMacros(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.meta.UpsertMacro(&store.Macro{
		Name: "by_store", Description: "store filter",
		Template: "{% macro by_store() %}store_name = :store_name{% endmacro %}",
		IsActive: true,
	}))
	f.addSQLTool(t, "macro_tool", `SELECT department FROM sales_per_day WHERE {{ by_store() }} ORDER BY department`, false)

	res, err := f.engine.Execute(context.Background(), "macro_tool", "default",
		map[string]interface{}{"store_name": "Store B"})
	require.NoError(t, err)
	rows := res.([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "Electronics", rows[0].(map[string]interface{})["department"])
}

func TestTempToolShadowsPersistedAndGetsLimit3(t *testing.T) {
	f := newFixture(t)
	f.addSQLTool(t, "probe", `SELECT 'persisted' AS source`, false)
	f.engine.Temp().Put(&store.TempTool{
		ToolName: "probe", TargetPersona: "default",
		Code:     `SELECT department FROM sales_per_day LIMIT 50`,
		CodeType: store.CodeTypeSQLSelect,
	})

	res, err := f.engine.Execute(context.Background(), "probe", "default", map[string]interface{}{})
	require.NoError(t, err)
	// The temp tool's own LIMIT 50 is replaced by the mandatory LIMIT 3.
	assert.Len(t, res.([]interface{}), 3)
}

func TestExecuteToolNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Execute(context.Background(), "ghost", "default", map[string]interface{}{})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeToolNotFound, engErr.Code)

	// Persona scoping: registered for default only.
	f.addSQLTool(t, "scoped", `SELECT 1`, false)
	_, err = f.engine.Execute(context.Background(), "scoped", "analyst", map[string]interface{}{})
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeToolNotFound, engErr.Code)
}

func TestExecuteIntegrityFailureIsFatalForCall(t *testing.T) {
	f := newFixture(t)
	f.addSQLTool(t, "tampered", `SELECT 1 AS v`, false)

	_, err := f.meta.DB().Exec(`UPDATE codevault SET code_blob = 'SELECT 2 AS v'`)
	require.NoError(t, err)

	_, err = f.engine.Execute(context.Background(), "tampered", "default", map[string]interface{}{})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeIntegrity, engErr.Code)
	// Integrity failures stay unembellished.
	assert.NotContains(t, engErr.Message, "AUTOMATIC HELP")

	// The failure is still audited.
	rec, ferr := f.meta.LastFailure("tampered")
	require.NoError(t, ferr)
	assert.Contains(t, rec.ErrorTraceback, "integrity")
}

func TestExecuteDangerousSQLRejected(t *testing.T) {
	f := newFixture(t)
	f.addSQLTool(t, "evil", `SELECT * FROM sales_per_day; DROP TABLE sales_per_day`, false)

	_, err := f.engine.Execute(context.Background(), "evil", "default", map[string]interface{}{})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeMultiStatement, engErr.Code)

	// The table survived.
	rows, qerr := f.data.Query(context.Background(), `SELECT COUNT(*) AS n FROM sales_per_day`, nil)
	require.NoError(t, qerr)
	assert.Equal(t, int64(5), rows[0]["n"])
}

func TestExecuteOfflineDataStore(t *testing.T) {
	f := newFixture(t)
	f.addSQLTool(t, "needs_data", `SELECT 1`, false)
	require.NoError(t, f.data.Close())

	_, err := f.engine.Execute(context.Background(), "needs_data", "default", map[string]interface{}{})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeOffline, engErr.Code)
	assert.Contains(t, engErr.Message, "reconnect_db")
}

func TestExecuteProceduralTool(t *testing.T) {
	f := newFixture(t)
	f.addProceduralTool(t, "utility_greet", `
import "fmt"

func Run(args map[string]interface{}) (interface{}, error) {
	name, _ := args["name"].(string)
	return fmt.Sprintf("Hello %s! I am running from the database.", name), nil
}
`, nil)

	res, err := f.engine.Execute(context.Background(), "utility_greet", "default",
		map[string]interface{}{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Alice! I am running from the database.", res)

	// Success is audited with a summary.
	recs, err := f.meta.RecentExecutions("utility_greet", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.StatusSuccess, recs[0].Status)
	assert.Contains(t, recs[0].ResultSummary, "Hello Alice")
}

func TestExecuteFailureAppendsManualExcerpt(t *testing.T) {
	f := newFixture(t)
	f.addProceduralTool(t, "fragile", `
import "errors"

func Run(args map[string]interface{}) (interface{}, error) {
	return nil, errors.New("missing required argument")
}
`, map[string]interface{}{
		"usage_guide": "Always pass the name argument.",
		"examples": []interface{}{
			map[string]interface{}{"input": map[string]interface{}{"name": "a"}},
			map[string]interface{}{"input": map[string]interface{}{"name": "b"}},
			map[string]interface{}{"input": map[string]interface{}{"name": "c"}},
		},
		"pitfalls": []interface{}{"name must not be empty"},
	})

	_, err := f.engine.Execute(context.Background(), "fragile", "default", map[string]interface{}{})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeToolRaised, engErr.Code)
	assert.Contains(t, engErr.Message, "AUTOMATIC HELP")
	assert.Contains(t, engErr.Message, "Always pass the name argument.")
	// Only the top two examples ride along.
	assert.Contains(t, engErr.Message, `"name": "b"`)
	assert.NotContains(t, engErr.Message, `"name": "c"`)

	// Failure audit row plus the reflexive-learning note.
	rec, ferr := f.meta.LastFailure("fragile")
	require.NoError(t, ferr)
	assert.Contains(t, rec.ErrorTraceback, "missing required argument")

	note, nerr := f.meta.ReadNote("self_correction", "fragile_error", "test")
	require.NoError(t, nerr)
	assert.Contains(t, note.Value, "missing required argument")
}

func TestSelfCorrectionAppendsAcrossFailures(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, LogSelfCorrection(f.meta, "failing_tool", "first error"))
	require.NoError(t, LogSelfCorrection(f.meta, "failing_tool", "second error"))

	note, err := f.meta.ReadNote("self_correction", "failing_tool_error", "system_reflexive_learning")
	require.NoError(t, err)
	assert.Contains(t, note.Value, "first error")
	assert.Contains(t, note.Value, "second error")
}

func TestExecuteDashboardTool(t *testing.T) {
	f := newFixture(t)
	hash, err := f.meta.UpsertCode("# sales dashboard", store.CodeTypeDashboard)
	require.NoError(t, err)
	require.NoError(t, f.meta.UpsertTool(&store.Tool{
		ToolName: "sales_dashboard", TargetPersona: "default", Description: "dash",
		InputSchema: map[string]interface{}{"type": "object"}, ActiveHashRef: hash, Group: "ui",
	}))

	res, err := f.engine.Execute(context.Background(), "sales_dashboard", "default", map[string]interface{}{})
	require.NoError(t, err)
	assert.Contains(t, res, "http://localhost:8501/?page=sales_dashboard")
}

func TestChainThroughSystemTool(t *testing.T) {
	f := newFixture(t)
	registerSystemTool(t, f, "system_run_chain")
	f.addProceduralTool(t, "utility_greet", `
import "fmt"

func Run(args map[string]interface{}) (interface{}, error) {
	name, _ := args["name"].(string)
	return fmt.Sprintf("Hello %s!", name), nil
}
`, nil)
	f.addProceduralTool(t, "shout", `
import "strings"

func Run(args map[string]interface{}) (interface{}, error) {
	text, _ := args["text"].(string)
	return strings.ToUpper(text), nil
}
`, nil)

	res, err := f.engine.Execute(context.Background(), "system_run_chain", "default", map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"id": "greet", "tool": "utility_greet",
				"args": map[string]interface{}{"name": "Alice"}},
			map[string]interface{}{"id": "loud", "tool": "shout",
				"args": map[string]interface{}{"text": "${greet}"}},
		},
	})
	require.NoError(t, err)
	report := res.(map[string]interface{})
	assert.Equal(t, "completed", report["status"])
	state := report["state"].(map[string]interface{})
	assert.Equal(t, "HELLO ALICE!", state["loud"])
}

func TestChainForwardReferenceFails(t *testing.T) {
	f := newFixture(t)
	registerSystemTool(t, f, "system_run_chain")

	_, err := f.engine.Execute(context.Background(), "system_run_chain", "default", map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"id": "a", "tool": "x",
				"args": map[string]interface{}{"v": "${b}"}},
			map[string]interface{}{"id": "b", "tool": "x", "args": map[string]interface{}{}},
		},
	})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeDAGViolation, engErr.Code)
}

func TestCompletionFromProceduralTool(t *testing.T) {
	f := newFixture(t)
	f.addProceduralTool(t, "utility_greet", `
import "strings"

func Run(args map[string]interface{}) (interface{}, error) { return nil, nil }

func Complete(argument, prefix string) []string {
	if argument != "name" {
		return nil
	}
	var out []string
	for _, c := range []string{"Alice", "Bob", "Alicia"} {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
`, nil)

	got := f.engine.Complete(context.Background(), "utility_greet", "default", "name", "Ali")
	assert.Equal(t, []string{"Alice", "Alicia"}, got)

	// Unknown tool degrades to no candidates, never an error.
	assert.Nil(t, f.engine.Complete(context.Background(), "ghost", "default", "name", ""))
}

func TestCompletionFromSQLColumnValues(t *testing.T) {
	f := newFixture(t)
	f.addSQLTool(t, "sales_by_store", `SELECT * FROM sales_per_day WHERE store_name = :store_name`, false)

	got := f.engine.Complete(context.Background(), "sales_by_store", "default", "store_name", "Store")
	assert.Equal(t, []string{"Store A", "Store B", "Store C"}, got)

	got = f.engine.Complete(context.Background(), "sales_by_store", "default", "store_name", "Store B")
	assert.Equal(t, []string{"Store B"}, got)

	// Not a known column anywhere.
	assert.Nil(t, f.engine.Complete(context.Background(), "sales_by_store", "default", "no_such_column", ""))
}

func TestProceduralToolQueriesDataStore(t *testing.T) {
	f := newFixture(t)
	f.addProceduralTool(t, "store_departments", `
var queryData func(string, map[string]interface{}) ([]map[string]interface{}, error)

func Init(ctx map[string]interface{}) {
	queryData = ctx["query_data"].(func(string, map[string]interface{}) ([]map[string]interface{}, error))
}

func Run(args map[string]interface{}) (interface{}, error) {
	return queryData("SELECT department FROM sales_per_day WHERE store_name = :store_name ORDER BY department", args)
}
`, nil)

	res, err := f.engine.Execute(context.Background(), "store_departments", "default",
		map[string]interface{}{"store_name": "Store A"})
	require.NoError(t, err)
	rows := res.([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "Clothing", rows[0].(map[string]interface{})["department"])
}

func TestProceduralQueryGateRejectsWrites(t *testing.T) {
	f := newFixture(t)
	f.addProceduralTool(t, "rogue_writer", `
var queryData func(string, map[string]interface{}) ([]map[string]interface{}, error)

func Init(ctx map[string]interface{}) {
	queryData = ctx["query_data"].(func(string, map[string]interface{}) ([]map[string]interface{}, error))
}

func Run(args map[string]interface{}) (interface{}, error) {
	return queryData("DELETE FROM sales_per_day", nil)
}
`, nil)

	_, err := f.engine.Execute(context.Background(), "rogue_writer", "default", map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SELECT")
}

func TestReadStaticResource(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.meta.UpsertResource(&store.Resource{
		URISchema: "info://about", Name: "About", Description: "d",
		MimeType: "text/plain", StaticContent: "Chameleon Engine: tools live in the database.",
		TargetPersona: "default", Group: "system",
	}))

	content, err := f.engine.ReadResource(context.Background(), "info://about", "default")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", content.MimeType)
	assert.Contains(t, content.Text, "Chameleon Engine")
}

func TestReadDynamicResource(t *testing.T) {
	f := newFixture(t)
	hash, err := f.meta.UpsertCode(`
func Run(args map[string]interface{}) (interface{}, error) {
	uri, _ := args["uri"].(string)
	return map[string]interface{}{"served": uri}, nil
}
`, store.CodeTypeProcedural)
	require.NoError(t, err)
	require.NoError(t, f.meta.UpsertResource(&store.Resource{
		URISchema: "data://sales/recent", Name: "Recent sales", Description: "d",
		MimeType: "application/json", IsDynamic: true, ActiveHashRef: hash,
		TargetPersona: "default", Group: "data",
	}))

	content, err := f.engine.ReadResource(context.Background(), "data://sales/recent", "default")
	require.NoError(t, err)
	assert.Contains(t, content.Text, "data://sales/recent")
}

func TestReadResourceNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ReadResource(context.Background(), "info://missing", "default")
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeResourceNotFound, engErr.Code)
}

func TestReadResourceHonorsPersona(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.meta.UpsertResource(&store.Resource{
		URISchema: "info://about", Name: "About", Description: "d",
		MimeType: "text/plain", StaticContent: "for the default persona only",
		TargetPersona: "default", Group: "system",
	}))

	_, err := f.engine.ReadResource(context.Background(), "info://about", "assistant")
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeResourceNotFound, engErr.Code)

	content, err := f.engine.ReadResource(context.Background(), "info://about", "default")
	require.NoError(t, err)
	assert.Contains(t, content.Text, "default persona")
}

func TestRenderPrompt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.meta.UpsertPrompt(&store.Prompt{
		Name: "review_code", Description: "Review a snippet",
		Template:        "Please review the following code:\n\n{{ code }}",
		ArgumentsSchema: map[string]interface{}{"type": "object"},
		TargetPersona:   "default", Group: "prompts",
	}))

	p, err := f.engine.RenderPrompt("review_code", map[string]interface{}{"code": "x := 1"})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "x := 1")

	_, err = f.engine.RenderPrompt("missing", nil)
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodePromptNotFound, engErr.Code)
}

func TestCreateSQLToolEndToEnd(t *testing.T) {
	f := newFixture(t)
	registerSystemTool(t, f, "system_create_sql_tool")

	changed := 0
	f.engine.SetCatalogListener(func() { changed++ })

	_, err := f.engine.Execute(context.Background(), "system_create_sql_tool", "default", map[string]interface{}{
		"tool_name":    "get_sales_by_store",
		"description":  "Sales rows for one store",
		"sql_template": `SELECT * FROM sales_per_day WHERE store_name = :store_name ORDER BY business_date`,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// The new tool is auto-created, so its results are capped at 1000 rows
	// and it executes immediately.
	res, err := f.engine.Execute(context.Background(), "get_sales_by_store", "default",
		map[string]interface{}{"store_name": "Store B"})
	require.NoError(t, err)
	assert.Len(t, res.([]interface{}), 2)

	created, err := f.meta.GetTool("get_sales_by_store", "default")
	require.NoError(t, err)
	assert.True(t, created.IsAutoCreated)
}

func TestCreateSQLToolRejectsMutatingTemplate(t *testing.T) {
	f := newFixture(t)
	registerSystemTool(t, f, "system_create_sql_tool")

	_, err := f.engine.Execute(context.Background(), "system_create_sql_tool", "default", map[string]interface{}{
		"tool_name":    "evil",
		"description":  "nope",
		"sql_template": `DELETE FROM sales_per_day`,
	})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, CodeNotSelect, engErr.Code)

	_, err = f.meta.GetTool("evil", "default")
	assert.Error(t, err)
}

func TestMemoryToolsEndToEnd(t *testing.T) {
	f := newFixture(t)
	registerSystemTool(t, f, "memory_write")
	registerSystemTool(t, f, "memory_read")

	_, err := f.engine.Execute(context.Background(), "memory_write", "default", map[string]interface{}{
		"domain": "user_prefs", "key": "theme", "value": "dark",
	})
	require.NoError(t, err)

	res, err := f.engine.Execute(context.Background(), "memory_read", "default", map[string]interface{}{
		"domain": "user_prefs", "key": "theme",
	})
	require.NoError(t, err)
	assert.Equal(t, "dark", res.(map[string]interface{})["value"])
}

// registerSystemTool gives a factory-backed tool its catalogue row and
// marker blob, the way seeding does.
func registerSystemTool(t *testing.T, f *fixture, name string) {
	t.Helper()
	hash, err := f.meta.UpsertCode("// builtin: "+name+"\n", store.CodeTypeProcedural)
	require.NoError(t, err)
	require.NoError(t, f.meta.UpsertTool(&store.Tool{
		ToolName: name, TargetPersona: "default", Description: "system tool",
		InputSchema: map[string]interface{}{"type": "object"}, ActiveHashRef: hash, Group: "system",
	}))
}
