package tool

import (
	"context"
	"fmt"

	"chameleon/internal/host"
	"chameleon/internal/sqlcheck"
	"chameleon/internal/store"
	"chameleon/internal/template"
)

func init() {
	host.Register("system_create_temp_tool", func(c *host.Context) host.Tool {
		return &createTempTool{ctx: c}
	})
	define(Definition{
		Name: "system_create_temp_tool",
		Description: "Register an in-memory trial tool that shadows persisted tools and vanishes " +
			"on restart. Temp sql-select tools are capped at 3 result rows. Set remove=true to drop one.",
		InputSchema: objectSchema([]string{"tool_name"}, map[string]interface{}{
			"tool_name":   stringProp("Name of the temp tool"),
			"description": stringProp("What the tool does"),
			"code":        stringProp("Tool code: a SQL template or a procedural blob defining func Run"),
			"code_type": map[string]interface{}{
				"type": "string", "enum": []interface{}{"procedural", "sql-select"}, "default": "sql-select",
				"description": "How to execute the code",
			},
			"input_schema": map[string]interface{}{"type": "object", "description": "JSON Schema for the tool arguments"},
			"remove":       map[string]interface{}{"type": "boolean", "default": false, "description": "Remove the temp tool instead of creating it"},
		}),
	})

	host.Register("system_create_sql_tool", func(c *host.Context) host.Tool {
		return &createSQLTool{ctx: c}
	})
	define(Definition{
		Name: "system_create_sql_tool",
		Description: "Persist a SQL tool: the template is validated, stored in the code vault by " +
			"content hash, and registered for this persona. Auto-created tools are capped at 1000 rows.",
		InputSchema: objectSchema([]string{"tool_name", "description", "sql_template"}, map[string]interface{}{
			"tool_name":    stringProp("Name of the new tool"),
			"description":  stringProp("What the tool does"),
			"sql_template": stringProp("SQL template; use {% if arguments.x %} for optional clauses and :x for value binding"),
			"input_schema": map[string]interface{}{"type": "object", "description": "JSON Schema for the tool arguments"},
		}),
	})
}

// validateToolCode runs the upsert-time checks for a blob: structure and
// import policy for procedural code, render-and-validate for SQL templates.
func validateToolCode(meta *store.MetaStore, code, codeType string) error {
	switch codeType {
	case store.CodeTypeProcedural:
		deny, err := host.EffectiveDenySet(meta)
		if err != nil {
			return err
		}
		return host.ValidateStructure(code, deny)
	case store.CodeTypeSQLSelect:
		// Render with no arguments so optional clauses drop out, then make
		// sure what remains is a single read-only statement.
		rendered, err := template.Render(code, map[string]interface{}{})
		if err != nil {
			return fmt.Errorf("sql template does not render: %w", err)
		}
		return sqlcheck.Validate(rendered)
	default:
		return fmt.Errorf("unsupported code_type %q", codeType)
	}
}

type createTempTool struct {
	ctx *host.Context
}

func (t *createTempTool) Run(_ context.Context, args map[string]interface{}) (interface{}, error) {
	name, _ := args["tool_name"].(string)
	if name == "" {
		return nil, fmt.Errorf("tool_name is required")
	}

	if remove, _ := args["remove"].(bool); remove {
		if !t.ctx.Temp.Delete(name, t.ctx.Persona) {
			return nil, fmt.Errorf("temp tool %q not found for persona %q", name, t.ctx.Persona)
		}
		t.notifyCatalog()
		return fmt.Sprintf("Temp tool %q removed.", name), nil
	}

	code, _ := args["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	codeType, _ := args["code_type"].(string)
	if codeType == "" {
		codeType = store.CodeTypeSQLSelect
	}
	if err := validateToolCode(t.ctx.Meta, code, codeType); err != nil {
		return nil, err
	}

	desc, _ := args["description"].(string)
	schema, _ := args["input_schema"].(map[string]interface{})
	t.ctx.Temp.Put(&store.TempTool{
		ToolName:      name,
		TargetPersona: t.ctx.Persona,
		Description:   desc,
		InputSchema:   schema,
		Code:          code,
		CodeType:      codeType,
	})
	t.notifyCatalog()
	return fmt.Sprintf("Temp tool %q registered for trial runs. It is memory-only and capped at 3 rows for SQL.", name), nil
}

func (t *createTempTool) notifyCatalog() {
	if t.ctx.CatalogChanged != nil {
		t.ctx.CatalogChanged()
	}
}

type createSQLTool struct {
	ctx *host.Context
}

func (t *createSQLTool) Run(_ context.Context, args map[string]interface{}) (interface{}, error) {
	name, _ := args["tool_name"].(string)
	desc, _ := args["description"].(string)
	tmpl, _ := args["sql_template"].(string)
	if name == "" || desc == "" || tmpl == "" {
		return nil, fmt.Errorf("tool_name, description and sql_template are required")
	}
	if err := validateToolCode(t.ctx.Meta, tmpl, store.CodeTypeSQLSelect); err != nil {
		return nil, err
	}

	hash, err := t.ctx.Meta.UpsertCode(tmpl, store.CodeTypeSQLSelect)
	if err != nil {
		return nil, err
	}

	schema, _ := args["input_schema"].(map[string]interface{})
	if schema == nil {
		schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	err = t.ctx.Meta.UpsertTool(&store.Tool{
		ToolName:      name,
		TargetPersona: t.ctx.Persona,
		Description:   desc,
		InputSchema:   schema,
		ActiveHashRef: hash,
		IsAutoCreated: true,
		Group:         "auto",
	})
	if err != nil {
		return nil, err
	}

	if t.ctx.CatalogChanged != nil {
		t.ctx.CatalogChanged()
	}
	t.ctx.Log(fmt.Sprintf("sql tool %q created with hash %s", name, hash))
	return map[string]interface{}{
		"tool_name": name,
		"hash":      hash,
		"message":   fmt.Sprintf("Tool %q created and registered for persona %q.", name, t.ctx.Persona),
	}, nil
}
