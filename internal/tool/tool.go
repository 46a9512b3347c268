// Package tool implements the engine's first-class system tools. Each tool
// registers a host factory at init time; its registry row points at a
// marker blob in the vault so catalogue listing and hash verification work
// the same way they do for interpreted tools.
package tool

// Definition is the catalogue metadata for a system tool, used at seed time
// to create its registry row.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Group       string
}

var definitions []Definition

func define(d Definition) {
	if d.Group == "" {
		d.Group = "system"
	}
	definitions = append(definitions, d)
}

// Definitions lists every system tool for catalogue seeding.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}
