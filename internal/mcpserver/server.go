// Package mcpserver adapts the engine to the Model Context Protocol. The
// tool, resource, and prompt catalogues are read from the metadata store at
// startup; the tool list is re-announced whenever the engine reports a
// catalogue change (temp tools, auto-created tools).
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"chameleon/internal/engine"
	"chameleon/internal/store"
	"chameleon/internal/toon"
)

const serverName = "chameleon-engine"

// Description prefixes mark tools that did not ship with the catalogue.
const (
	autoBuildPrefix = "[AUTO-BUILD] "
	tempTestPrefix  = "[TEMP-TEST] "
)

// formatKey is popped from tool arguments before dispatch; it selects the
// result encoding and is never visible to the tool itself.
const formatKey = "_format"

// Server exposes the engine over MCP stdio or SSE.
type Server struct {
	mcp     *server.MCPServer
	eng     *engine.Engine
	logger  *zap.Logger
	persona string
}

// New builds the MCP server and loads the catalogue for the configured
// persona. The engine's catalogue listener is pointed at this server so tool
// creation shows up in the client without a restart.
func New(eng *engine.Engine, persona, version string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcp: server.NewMCPServer(serverName, version,
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(false, true),
			server.WithPromptCapabilities(true),
			server.WithRecovery(),
		),
		eng:     eng,
		logger:  logger,
		persona: persona,
	}

	if err := s.syncTools(); err != nil {
		return nil, fmt.Errorf("load tool catalogue: %w", err)
	}
	if err := s.registerResources(); err != nil {
		return nil, fmt.Errorf("load resource catalogue: %w", err)
	}
	if err := s.registerPrompts(); err != nil {
		return nil, fmt.Errorf("load prompt catalogue: %w", err)
	}
	eng.SetCatalogListener(s.CatalogChanged)
	return s, nil
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP over stdio", zap.String("persona", s.persona))
	return server.ServeStdio(s.mcp)
}

// ServeSSE serves the MCP protocol over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sse := server.NewSSEServer(s.mcp)
	s.logger.Info("serving MCP over SSE", zap.String("addr", addr), zap.String("persona", s.persona))

	errc := make(chan error, 1)
	go func() { errc <- sse.Start(addr) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// CatalogChanged reloads the tool list from the registries and re-announces
// it to connected clients. Failures are logged, not fatal: the client keeps
// the previous catalogue.
func (s *Server) CatalogChanged() {
	if err := s.syncTools(); err != nil {
		s.logger.Warn("tool catalogue refresh failed", zap.Error(err))
	}
}

func (s *Server) syncTools() error {
	tools, err := s.eng.Meta().ListTools(s.persona)
	if err != nil {
		return err
	}

	specs := make([]server.ServerTool, 0, len(tools))
	for _, t := range tools {
		desc := t.Description
		if t.IsAutoCreated {
			desc = autoBuildPrefix + desc
		}
		specs = append(specs, server.ServerTool{
			Tool:    toolSpec(t.ToolName, desc, t.InputSchema),
			Handler: s.handleToolCall,
		})
	}
	for _, t := range s.eng.Temp().List(s.persona) {
		specs = append(specs, server.ServerTool{
			Tool:    toolSpec(t.ToolName, tempTestPrefix+t.Description, t.InputSchema),
			Handler: s.handleToolCall,
		})
	}

	s.mcp.SetTools(specs...)
	s.logger.Debug("tool catalogue announced", zap.Int("tools", len(specs)))
	return nil
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func toolSpec(name, description string, schema map[string]interface{}) mcp.Tool {
	t := mcp.Tool{Name: name, Description: description, RawInputSchema: emptyObjectSchema}
	if len(schema) > 0 {
		if raw, err := json.Marshal(schema); err == nil {
			t.RawInputSchema = raw
		}
	}
	return t
}

func (s *Server) handleToolCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if args == nil {
		args = map[string]interface{}{}
	}
	format := "json"
	if f, ok := args[formatKey].(string); ok {
		format = f
		delete(args, formatKey)
	}

	result, err := s.eng.Execute(ctx, req.Params.Name, s.requestPersona(req), args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}
	return mcp.NewToolResultText(renderResult(result, format)), nil
}

// requestPersona honors a persona override in the request metadata, falling
// back to the server's configured persona.
func (s *Server) requestPersona(req mcp.CallToolRequest) string {
	if req.Params.Meta != nil {
		if p, ok := req.Params.Meta.AdditionalFields["persona"].(string); ok && p != "" {
			return p
		}
	}
	return s.persona
}

// renderResult encodes a normalized result for the wire. Unknown formats
// degrade to plain text rather than failing a call that already succeeded.
func renderResult(result interface{}, format string) string {
	switch format {
	case "json":
		if raw, err := json.MarshalIndent(result, "", "  "); err == nil {
			return string(raw)
		}
		return engine.Stringify(result)
	case "toon":
		out, err := toon.Encode(result)
		if err != nil {
			return fmt.Sprintf("Error encoding TOON: %v\n%s", err, engine.Stringify(result))
		}
		return out
	default:
		return engine.Stringify(result)
	}
}

func (s *Server) registerResources() error {
	resources, err := s.eng.Meta().ListResources(s.persona)
	if err != nil {
		return err
	}
	for _, r := range resources {
		s.mcp.AddResource(
			mcp.NewResource(r.URISchema, r.Name,
				mcp.WithResourceDescription(r.Description),
				mcp.WithMIMEType(r.MimeType),
			),
			s.handleResourceRead,
		)
	}
	return nil
}

func (s *Server) handleResourceRead(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	content, err := s.eng.ReadResource(ctx, req.Params.URI, s.persona)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: content.URI, MIMEType: content.MimeType, Text: content.Text},
	}, nil
}

func (s *Server) registerPrompts() error {
	prompts, err := s.eng.Meta().ListPrompts(s.persona)
	if err != nil {
		return err
	}
	for _, p := range prompts {
		opts := []mcp.PromptOption{mcp.WithPromptDescription(p.Description)}
		for _, arg := range promptArguments(p) {
			argOpts := []mcp.ArgumentOption{mcp.ArgumentDescription(arg.description)}
			if arg.required {
				argOpts = append(argOpts, mcp.RequiredArgument())
			}
			opts = append(opts, mcp.WithArgument(arg.name, argOpts...))
		}
		s.mcp.AddPrompt(mcp.NewPrompt(p.Name, opts...), s.handlePrompt)
	}
	return nil
}

func (s *Server) handlePrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := make(map[string]interface{}, len(req.Params.Arguments))
	for k, v := range req.Params.Arguments {
		args[k] = v
	}
	rendered, err := s.eng.RenderPrompt(req.Params.Name, args)
	if err != nil {
		return nil, err
	}
	return mcp.NewGetPromptResult(rendered.Description, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(rendered.Text)),
	}), nil
}

type promptArg struct {
	name        string
	description string
	required    bool
}

// promptArguments flattens a JSON-schema arguments block into the flat
// argument list MCP prompts use.
func promptArguments(p *store.Prompt) []promptArg {
	props, _ := p.ArgumentsSchema["properties"].(map[string]interface{})
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	if list, ok := p.ArgumentsSchema["required"].([]interface{}); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]promptArg, 0, len(names))
	for _, name := range names {
		arg := promptArg{name: name, required: required[name]}
		if spec, ok := props[name].(map[string]interface{}); ok {
			arg.description, _ = spec["description"].(string)
		}
		out = append(out, arg)
	}
	return out
}
