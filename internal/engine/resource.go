package engine

import (
	"context"
	"errors"

	"chameleon/internal/host"
	"chameleon/internal/store"
	"chameleon/internal/template"
)

// ResourceContent is the payload of a resource read.
type ResourceContent struct {
	URI      string
	MimeType string
	Text     string
}

// ReadResource resolves a resource URI. Static resources return their
// inline content; dynamic ones run their vault blob with the URI as the
// single argument and return the stringified result.
func (e *Engine) ReadResource(ctx context.Context, uri, persona string) (*ResourceContent, error) {
	res, err := e.meta.GetResource(uri, persona)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeResourceNotFound, "resource %q not found", uri)
		}
		return nil, err
	}

	if !res.IsDynamic {
		return &ResourceContent{URI: uri, MimeType: res.MimeType, Text: res.StaticContent}, nil
	}

	entry, err := e.meta.GetCode(res.ActiveHashRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeResourceNotFound, "code not found for resource %q", uri)
		}
		return nil, err
	}

	tool, err := host.Interpret(entry.CodeBlob, e.hostContext("resource:"+uri, persona))
	if err != nil {
		return nil, err
	}
	result, err := tool.Run(ctx, map[string]interface{}{"uri": uri})
	if err != nil {
		return nil, err
	}
	norm, _ := Normalize(result)
	return &ResourceContent{URI: uri, MimeType: res.MimeType, Text: Stringify(norm)}, nil
}

// RenderedPrompt is a prompt ready to be returned to the client.
type RenderedPrompt struct {
	Name        string
	Description string
	Text        string
}

// RenderPrompt expands a stored prompt template with the given arguments.
func (e *Engine) RenderPrompt(name string, args map[string]interface{}) (*RenderedPrompt, error) {
	p, err := e.meta.GetPrompt(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodePromptNotFound, "prompt %q not found", name)
		}
		return nil, err
	}
	text, err := template.RenderPrompt(p.Template, args)
	if err != nil {
		return nil, err
	}
	return &RenderedPrompt{Name: p.Name, Description: p.Description, Text: text}, nil
}
