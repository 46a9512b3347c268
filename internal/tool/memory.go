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
	host.Register("memory_write", func(c *host.Context) host.Tool {
		return &memoryWriteTool{ctx: c}
	})
	define(Definition{
		Name: "memory_write",
		Description: "Store a long-term memory entry in the agent notebook. Every change is " +
			"versioned; pass if_unmodified_since (the updated_at from a prior read) to fail " +
			"instead of clobbering a concurrent update. Set delete=true to soft-delete.",
		InputSchema: objectSchema([]string{"domain", "key"}, map[string]interface{}{
			"domain":              stringProp("Namespace, e.g. user_prefs or project_state"),
			"key":                 stringProp("Key within the domain"),
			"value":               stringProp("Value to store (required unless deleting)"),
			"delete":              map[string]interface{}{"type": "boolean", "default": false, "description": "Soft-delete the entry"},
			"if_unmodified_since": stringProp("RFC3339 updated_at from a prior read; write fails if the entry changed since"),
		}),
	})

	host.Register("memory_read", func(c *host.Context) host.Tool {
		return &memoryReadTool{ctx: c}
	})
	define(Definition{
		Name: "memory_read",
		Description: "Read agent notebook entries. With a key, returns that entry; without, " +
			"lists every active entry in the domain.",
		InputSchema: objectSchema([]string{"domain"}, map[string]interface{}{
			"domain": stringProp("Namespace to read from"),
			"key":    stringProp("Optional key; omit to list the whole domain"),
		}),
	})
}

type memoryWriteTool struct {
	ctx *host.Context
}

func (t *memoryWriteTool) Run(_ context.Context, args map[string]interface{}) (interface{}, error) {
	domain, _ := args["domain"].(string)
	key, _ := args["key"].(string)
	if domain == "" || key == "" {
		return nil, fmt.Errorf("domain and key are required")
	}

	if del, _ := args["delete"].(bool); del {
		if err := t.ctx.Meta.DeleteNote(domain, key, t.ctx.Persona); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Entry %s/%s deleted.", domain, key), nil
	}

	value, ok := args["value"].(string)
	if !ok {
		return nil, fmt.Errorf("value is required unless delete=true")
	}

	var expected *time.Time
	if raw, _ := args["if_unmodified_since"].(string); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("if_unmodified_since must be RFC3339: %w", err)
		}
		expected = &ts
	}

	entry, err := t.ctx.Meta.WriteNote(domain, key, value, t.ctx.Persona, expected)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("entry %s/%s was modified concurrently; re-read it and retry", domain, key)
		}
		return nil, err
	}
	return map[string]interface{}{
		"domain":     entry.Domain,
		"key":        entry.Key,
		"updated_at": entry.UpdatedAt.Format(time.RFC3339Nano),
		"message":    "Entry stored.",
	}, nil
}

type memoryReadTool struct {
	ctx *host.Context
}

func (t *memoryReadTool) Run(_ context.Context, args map[string]interface{}) (interface{}, error) {
	domain, _ := args["domain"].(string)
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	if key, _ := args["key"].(string); key != "" {
		entry, err := t.ctx.Meta.ReadNote(domain, key, t.ctx.Persona)
		if err != nil {
			return nil, err
		}
		return noteToMap(entry), nil
	}

	entries, err := t.ctx.Meta.ListNotes(domain, t.ctx.Persona)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		out[i] = noteToMap(e)
	}
	return out, nil
}

func noteToMap(e *store.NotebookEntry) map[string]interface{} {
	return map[string]interface{}{
		"domain":     e.Domain,
		"key":        e.Key,
		"value":      e.Value,
		"updated_at": e.UpdatedAt.Format(time.RFC3339Nano),
		"updated_by": e.UpdatedBy,
	}
}
