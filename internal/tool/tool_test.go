package tool

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chameleon/internal/config"
	"chameleon/internal/host"
	"chameleon/internal/store"
)

func testContext(t *testing.T) *host.Context {
	t.Helper()
	cfg := config.Default()
	meta, err := store.OpenMeta(
		config.DatabaseConfig{URL: "sqlite:///" + filepath.Join(t.TempDir(), "meta.db")},
		cfg.Tables,
	)
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	return &host.Context{
		Meta:    meta,
		Temp:    store.NewTempRegistry(),
		Persona: "default",
	}
}

func addTool(t *testing.T, c *host.Context, name string, meta map[string]interface{}) {
	t.Helper()
	hash, err := c.Meta.UpsertCode("// builtin: "+name+"\n", store.CodeTypeProcedural)
	require.NoError(t, err)
	require.NoError(t, c.Meta.UpsertTool(&store.Tool{
		ToolName: name, TargetPersona: "default", Description: "d",
		InputSchema: map[string]interface{}{"type": "object"},
		ActiveHashRef: hash, Group: "system", ExtendedMetadata: meta,
	}))
}

func TestDefinitionsCoverRegisteredFactories(t *testing.T) {
	defs := Definitions()
	byName := map[string]bool{}
	for _, d := range defs {
		byName[d.Name] = true
		assert.NotEmpty(t, d.Description, d.Name)
		assert.NotNil(t, d.InputSchema, d.Name)
		assert.NotEmpty(t, d.Group, d.Name)
		assert.NotNil(t, host.Lookup(d.Name), d.Name)
	}
	for _, name := range []string{
		"system_run_chain", "reconnect_db", "system_update_manual",
		"memory_write", "memory_read", "system_create_temp_tool",
		"system_create_sql_tool", "system_verify_example",
		"system_inspect_tool", "system_complete",
	} {
		assert.True(t, byName[name], name)
	}
}

func TestLibrarianMergeAppendsExamplesAndMarksUnverified(t *testing.T) {
	c := testContext(t)
	addTool(t, c, "target", map[string]interface{}{
		"usage_guide": "old guide",
		"examples": []interface{}{
			map[string]interface{}{"input": map[string]interface{}{"a": 1}, "verified": true},
		},
	})

	lib := host.Lookup("system_update_manual")(c)
	res, err := lib.Run(context.Background(), map[string]interface{}{
		"tool_name": "target",
		"manual_content": map[string]interface{}{
			"usage_guide": "new guide",
			"examples": []interface{}{
				map[string]interface{}{"input": map[string]interface{}{"b": 2}},
			},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, res, "unverified")

	got, err := c.Meta.GetTool("target", "default")
	require.NoError(t, err)
	assert.Equal(t, "new guide", got.ExtendedMetadata["usage_guide"])
	examples := got.ExtendedMetadata["examples"].([]interface{})
	require.Len(t, examples, 2)
	// The existing example keeps its verified flag; the new one does not.
	assert.Equal(t, true, examples[0].(map[string]interface{})["verified"])
	fresh := examples[1].(map[string]interface{})
	assert.Equal(t, false, fresh["verified"])
	assert.Equal(t, "AI_Generated", fresh["source"])
}

func TestLibrarianOverwriteReplacesManual(t *testing.T) {
	c := testContext(t)
	addTool(t, c, "target", map[string]interface{}{
		"usage_guide": "old", "pitfalls": []interface{}{"p"},
	})

	lib := host.Lookup("system_update_manual")(c)
	_, err := lib.Run(context.Background(), map[string]interface{}{
		"tool_name":      "target",
		"mode":           "overwrite",
		"manual_content": map[string]interface{}{"usage_guide": "only this"},
	})
	require.NoError(t, err)

	got, err := c.Meta.GetTool("target", "default")
	require.NoError(t, err)
	assert.Equal(t, "only this", got.ExtendedMetadata["usage_guide"])
	_, hasPitfalls := got.ExtendedMetadata["pitfalls"]
	assert.False(t, hasPitfalls)
}

func TestLibrarianRejectsUnknownKeys(t *testing.T) {
	c := testContext(t)
	addTool(t, c, "target", nil)

	lib := host.Lookup("system_update_manual")(c)
	_, err := lib.Run(context.Background(), map[string]interface{}{
		"tool_name":      "target",
		"manual_content": map[string]interface{}{"marketing_copy": "buy now"},
	})
	assert.Error(t, err)
}

// scriptedExecutor fails tools listed in fail and succeeds otherwise.
type scriptedExecutor struct {
	fail map[string]bool
}

func (s *scriptedExecutor) Execute(_ context.Context, name string, _ map[string]interface{}) (interface{}, error) {
	if s.fail[name] {
		return nil, fmt.Errorf("scripted failure")
	}
	return "ok", nil
}

func TestVerifierMarksExamples(t *testing.T) {
	c := testContext(t)
	c.Executor = &scriptedExecutor{}
	addTool(t, c, "target", map[string]interface{}{
		"examples": []interface{}{
			map[string]interface{}{"input": map[string]interface{}{"a": 1}, "verified": false},
		},
	})

	v := host.Lookup("system_verify_example")(c)
	res, err := v.Run(context.Background(), map[string]interface{}{"tool_name": "target"})
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]interface{})["all_passed"])

	got, err := c.Meta.GetTool("target", "default")
	require.NoError(t, err)
	ex := got.ExtendedMetadata["examples"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, ex["verified"])
}

func TestVerifierRecordsFailures(t *testing.T) {
	c := testContext(t)
	c.Executor = &scriptedExecutor{fail: map[string]bool{"target": true}}
	addTool(t, c, "target", map[string]interface{}{
		"examples": []interface{}{
			map[string]interface{}{"input": map[string]interface{}{}, "verified": true},
		},
	})

	v := host.Lookup("system_verify_example")(c)
	res, err := v.Run(context.Background(), map[string]interface{}{"tool_name": "target"})
	require.NoError(t, err)
	report := res.(map[string]interface{})
	assert.Equal(t, false, report["all_passed"])

	got, err := c.Meta.GetTool("target", "default")
	require.NoError(t, err)
	ex := got.ExtendedMetadata["examples"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, false, ex["verified"])
}

func TestInspectToolReportsManualAndLastFailure(t *testing.T) {
	c := testContext(t)
	addTool(t, c, "target", map[string]interface{}{"usage_guide": "guide"})
	require.NoError(t, c.Meta.LogExecution(&store.ExecutionRecord{
		ToolName: "target", Persona: "default",
		Arguments: map[string]interface{}{"x": 1},
		Status:    store.StatusFailure, ResultSummary: "failed",
		ErrorTraceback: "kaboom",
	}))

	insp := host.Lookup("system_inspect_tool")(c)
	res, err := insp.Run(context.Background(), map[string]interface{}{"tool_name": "target"})
	require.NoError(t, err)

	out := res.(map[string]interface{})
	assert.Equal(t, "target", out["tool_name"])
	assert.Equal(t, store.CodeTypeProcedural, out["code_type"])
	manual := out["manual"].(map[string]interface{})
	assert.Equal(t, "guide", manual["usage_guide"])
	failure := out["last_failure"].(map[string]interface{})
	assert.Equal(t, "kaboom", failure["error"])
	history := out["recent_executions"].([]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, store.StatusFailure, history[0].(map[string]interface{})["status"])
}

func TestCreateTempToolValidatesProceduralStructure(t *testing.T) {
	c := testContext(t)
	create := host.Lookup("system_create_temp_tool")(c)

	_, err := create.Run(context.Background(), map[string]interface{}{
		"tool_name": "bad",
		"code":      "func init() {}\nfunc Run(args map[string]interface{}) (interface{}, error) { return nil, nil }",
		"code_type": store.CodeTypeProcedural,
	})
	assert.Error(t, err)
	assert.Nil(t, c.Temp.Get("bad", "default"))

	_, err = create.Run(context.Background(), map[string]interface{}{
		"tool_name": "good",
		"code":      "func Run(args map[string]interface{}) (interface{}, error) { return \"ok\", nil }",
		"code_type": store.CodeTypeProcedural,
	})
	require.NoError(t, err)
	assert.NotNil(t, c.Temp.Get("good", "default"))
}

func TestCreateTempToolRemove(t *testing.T) {
	c := testContext(t)
	c.Temp.Put(&store.TempTool{ToolName: "probe", TargetPersona: "default"})

	create := host.Lookup("system_create_temp_tool")(c)
	_, err := create.Run(context.Background(), map[string]interface{}{
		"tool_name": "probe", "remove": true,
	})
	require.NoError(t, err)
	assert.Nil(t, c.Temp.Get("probe", "default"))

	_, err = create.Run(context.Background(), map[string]interface{}{
		"tool_name": "probe", "remove": true,
	})
	assert.Error(t, err)
}

func TestReconnectToolWhenAlreadyConnected(t *testing.T) {
	c := testContext(t)
	cfg := config.Default()
	data := store.NewData(
		config.DatabaseConfig{URL: "sqlite:///" + filepath.Join(t.TempDir(), "data.db")},
		cfg.Tables,
	)
	require.NoError(t, data.Connect())
	t.Cleanup(func() { data.Close() })
	c.Data = data

	r := host.Lookup("reconnect_db")(c)
	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "connected", res.(map[string]interface{})["status"])
}
