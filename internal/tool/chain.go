package tool

import (
	"context"
	"fmt"

	"chameleon/internal/chain"
	"chameleon/internal/host"
)

func init() {
	host.Register("system_run_chain", func(c *host.Context) host.Tool {
		return &chainTool{ctx: c}
	})
	define(Definition{
		Name: "system_run_chain",
		Description: "Execute a chain of tool calls with ${step_id} variable substitution. " +
			"Steps may only reference earlier steps; completed steps are not rolled back on failure.",
		InputSchema: objectSchema([]string{"steps"}, map[string]interface{}{
			"steps": map[string]interface{}{
				"type":        "array",
				"description": "Ordered steps, each {id, tool, args}. Args may reference earlier results via ${id} or ${id.path}.",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":   stringProp("Unique step identifier"),
						"tool": stringProp("Tool to execute"),
						"args": map[string]interface{}{"type": "object", "description": "Tool arguments"},
					},
					"required": []interface{}{"id", "tool", "args"},
				},
			},
		}),
	})
}

type chainTool struct {
	ctx *host.Context
}

func (t *chainTool) Run(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	raw, ok := args["steps"]
	if !ok {
		return nil, fmt.Errorf("no steps provided in chain")
	}
	steps, err := chain.ParseSteps(raw)
	if err != nil {
		return nil, err
	}
	return chain.Run(ctx, steps, t.ctx.Executor)
}
