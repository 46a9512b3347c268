// Package template renders SQL tool templates with pongo2. Tool arguments
// are exposed to the template under the "arguments" key, so a template can
// write {% if arguments.store_name %} AND store_name = :store_name {% endif %}.
package template

import (
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

// Render expands source with the given tool arguments.
func Render(source string, args map[string]interface{}) (string, error) {
	tpl, err := pongo2.FromString(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, err := tpl.Execute(pongo2.Context{"arguments": args})
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// RenderPrompt expands a prompt template. Prompt templates address their
// arguments directly ({{ code }}), so arguments are exposed at the top
// level as well as under "arguments".
func RenderPrompt(source string, args map[string]interface{}) (string, error) {
	tpl, err := pongo2.FromString(source)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	ctx := pongo2.Context{"arguments": args}
	for k, v := range args {
		if k != "arguments" {
			ctx[k] = v
		}
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return out, nil
}

// JoinMacros concatenates macro definition blocks so they can be prepended
// to a template source. Blank macros are skipped.
func JoinMacros(macros []string) string {
	kept := make([]string, 0, len(macros))
	for _, m := range macros {
		if strings.TrimSpace(m) != "" {
			kept = append(kept, m)
		}
	}
	return strings.Join(kept, "\n\n")
}

// RenderWithMacros prepends the macro preamble to source and renders the
// combined template.
func RenderWithMacros(preamble, source string, args map[string]interface{}) (string, error) {
	if preamble == "" {
		return Render(source, args)
	}
	return Render(preamble+"\n\n"+source, args)
}

// MacroCache memoizes the joined macro preamble, keyed by the store's macro
// generation counter. The loader is only consulted when the generation moves.
type MacroCache struct {
	mu       sync.Mutex
	gen      int64
	preamble string
	loaded   bool
}

// Preamble returns the macro preamble for generation gen, invoking load to
// rebuild it when the cached generation is stale.
func (c *MacroCache) Preamble(gen int64, load func() ([]string, error)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded && c.gen == gen {
		return c.preamble, nil
	}
	macros, err := load()
	if err != nil {
		return "", err
	}
	c.preamble = JoinMacros(macros)
	c.gen = gen
	c.loaded = true
	return c.preamble, nil
}
