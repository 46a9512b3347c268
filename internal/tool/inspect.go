package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chameleon/internal/host"
	"chameleon/internal/store"
)

func init() {
	host.Register("system_inspect_tool", func(c *host.Context) host.Tool {
		return &inspectTool{ctx: c}
	})
	define(Definition{
		Name: "system_inspect_tool",
		Description: "Inspect a tool's registration: full manual, input schema, code type, and its " +
			"most recent failure from the execution log. Use after a call fails to see the complete manual.",
		InputSchema: objectSchema([]string{"tool_name"}, map[string]interface{}{
			"tool_name": stringProp("Tool to inspect"),
		}),
	})

	host.Register("system_complete", func(c *host.Context) host.Tool {
		return &completeTool{ctx: c}
	})
	define(Definition{
		Name: "system_complete",
		Description: "Get completion candidates for a tool argument. Procedural tools answer via " +
			"their Complete hook; SQL tools answer with distinct column values from the data store.",
		InputSchema: objectSchema([]string{"tool_name", "argument"}, map[string]interface{}{
			"tool_name": stringProp("Tool whose argument to complete"),
			"argument":  stringProp("Argument name"),
			"prefix":    stringProp("Value prefix typed so far"),
		}),
	})
}

type inspectTool struct {
	ctx *host.Context
}

func (t *inspectTool) Run(_ context.Context, args map[string]interface{}) (interface{}, error) {
	toolName, _ := args["tool_name"].(string)
	if toolName == "" {
		return nil, fmt.Errorf("tool_name is required")
	}

	toolDef, err := t.ctx.Meta.GetTool(toolName, t.ctx.Persona)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{
		"tool_name":       toolDef.ToolName,
		"target_persona":  toolDef.TargetPersona,
		"description":     toolDef.Description,
		"input_schema":    toolDef.InputSchema,
		"group":           toolDef.Group,
		"is_auto_created": toolDef.IsAutoCreated,
		"manual":          toolDef.ExtendedMetadata,
	}
	if entry, err := t.ctx.Meta.GetCode(toolDef.ActiveHashRef); err == nil {
		out["code_type"] = entry.CodeType
		out["code_hash"] = entry.Hash
	}

	failure, err := t.ctx.Meta.LastFailure(toolName)
	switch {
	case err == nil:
		out["last_failure"] = map[string]interface{}{
			"timestamp": failure.Timestamp.Format(time.RFC3339),
			"arguments": failure.Arguments,
			"error":     failure.ErrorTraceback,
		}
	case errors.Is(err, store.ErrNotFound):
		out["last_failure"] = nil
	default:
		return nil, err
	}

	recent, err := t.ctx.Meta.RecentExecutions(toolName, 5)
	if err != nil {
		return nil, err
	}
	history := make([]interface{}, 0, len(recent))
	for _, rec := range recent {
		history = append(history, map[string]interface{}{
			"timestamp": rec.Timestamp.Format(time.RFC3339),
			"status":    rec.Status,
			"summary":   rec.ResultSummary,
		})
	}
	out["recent_executions"] = history
	return out, nil
}

type completeTool struct {
	ctx *host.Context
}

func (t *completeTool) Run(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	toolName, _ := args["tool_name"].(string)
	argument, _ := args["argument"].(string)
	if toolName == "" || argument == "" {
		return nil, fmt.Errorf("tool_name and argument are required")
	}
	prefix, _ := args["prefix"].(string)

	if t.ctx.CompleteTool == nil {
		return []interface{}{}, nil
	}
	candidates := t.ctx.CompleteTool(ctx, toolName, argument, prefix)
	out := make([]interface{}, len(candidates))
	for i, c := range candidates {
		out[i] = c
	}
	return out, nil
}
