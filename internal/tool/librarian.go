package tool

import (
	"context"
	"fmt"

	"chameleon/internal/host"
)

// allowedManualKeys are the only sections a caller may write into a tool
// manual. Anything else is rejected so the manual schema stays predictable.
var allowedManualKeys = map[string]bool{
	"usage_guide": true,
	"examples":    true,
	"pitfalls":    true,
	"error_codes": true,
}

func init() {
	host.Register("system_update_manual", func(c *host.Context) host.Tool {
		return &librarianTool{ctx: c}
	})
	define(Definition{
		Name: "system_update_manual",
		Description: "Update a tool's operator manual (usage guide, examples, pitfalls, error codes). " +
			"New examples are recorded as unverified until an admin or the verifier confirms them.",
		InputSchema: objectSchema([]string{"tool_name", "manual_content"}, map[string]interface{}{
			"tool_name":      stringProp("Tool whose manual to update"),
			"manual_content": map[string]interface{}{"type": "object", "description": "Sections to write: usage_guide, examples, pitfalls, error_codes"},
			"mode": map[string]interface{}{
				"type": "string", "enum": []interface{}{"merge", "overwrite"}, "default": "merge",
				"description": "Merge with the existing manual or replace it",
			},
		}),
	})
}

type librarianTool struct {
	ctx *host.Context
}

func (t *librarianTool) Run(_ context.Context, args map[string]interface{}) (interface{}, error) {
	toolName, _ := args["tool_name"].(string)
	if toolName == "" {
		return nil, fmt.Errorf("tool_name is required")
	}
	content, ok := args["manual_content"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("manual_content must be an object")
	}
	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = "merge"
	}

	for key := range content {
		if !allowedManualKeys[key] {
			return nil, fmt.Errorf("invalid manual key %q; allowed keys: usage_guide, examples, pitfalls, error_codes", key)
		}
	}

	// Fresh examples are never trusted.
	if raw, ok := content["examples"]; ok {
		examples, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("'examples' must be a list")
		}
		for _, item := range examples {
			if ex, ok := item.(map[string]interface{}); ok {
				ex["verified"] = false
				ex["source"] = "AI_Generated"
			}
		}
	}

	toolDef, err := t.ctx.Meta.GetTool(toolName, t.ctx.Persona)
	if err != nil {
		return nil, err
	}

	final := map[string]interface{}{}
	if mode != "overwrite" {
		for k, v := range toolDef.ExtendedMetadata {
			final[k] = v
		}
	}
	for key, value := range content {
		if key == "examples" && mode != "overwrite" {
			existing, _ := final["examples"].([]interface{})
			final["examples"] = append(existing, value.([]interface{})...)
			continue
		}
		final[key] = value
	}

	if err := t.ctx.Meta.UpdateToolMetadata(toolName, t.ctx.Persona, final); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Manual for %q updated. New examples are marked unverified.", toolName), nil
}
