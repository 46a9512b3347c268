package tool

import (
	"context"
	"fmt"

	"chameleon/internal/host"
)

func init() {
	host.Register("system_verify_example", func(c *host.Context) host.Tool {
		return &verifierTool{ctx: c}
	})
	define(Definition{
		Name: "system_verify_example",
		Description: "Run every example in a tool's manual against the tool and record which ones " +
			"pass. Passing examples are marked verified; failing ones stay unverified.",
		InputSchema: objectSchema([]string{"tool_name"}, map[string]interface{}{
			"tool_name": stringProp("Tool whose manual examples to verify"),
		}),
	})
}

type verifierTool struct {
	ctx *host.Context
}

func (t *verifierTool) Run(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	toolName, _ := args["tool_name"].(string)
	if toolName == "" {
		return nil, fmt.Errorf("tool_name is required")
	}
	if toolName == t.ctx.ToolName {
		return nil, fmt.Errorf("refusing to verify the verifier")
	}

	toolDef, err := t.ctx.Meta.GetTool(toolName, t.ctx.Persona)
	if err != nil {
		return nil, err
	}
	manual := toolDef.ExtendedMetadata
	if len(manual) == 0 {
		return fmt.Sprintf("No manual found for %q. Nothing to verify.", toolName), nil
	}
	examples, _ := manual["examples"].([]interface{})
	if len(examples) == 0 {
		return fmt.Sprintf("No examples in the manual for %q. Nothing to verify.", toolName), nil
	}

	var report []interface{}
	allPassed := true
	for idx, item := range examples {
		ex, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		input, _ := ex["input"].(map[string]interface{})
		t.ctx.Log(fmt.Sprintf("verifying %s example %d", toolName, idx+1))

		_, runErr := t.ctx.Executor.Execute(ctx, toolName, input)
		if runErr != nil {
			ex["verified"] = false
			allPassed = false
			report = append(report, map[string]interface{}{
				"example": idx + 1, "status": "FAILED", "error": runErr.Error(),
			})
			continue
		}
		ex["verified"] = true
		report = append(report, map[string]interface{}{
			"example": idx + 1, "status": "PASSED",
		})
	}

	manual["examples"] = examples
	if err := t.ctx.Meta.UpdateToolMetadata(toolName, t.ctx.Persona, manual); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"tool_name":  toolName,
		"all_passed": allPassed,
		"report":     report,
	}, nil
}
