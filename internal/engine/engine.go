// Package engine is the dispatch core: it resolves a tool name to its vault
// blob, verifies integrity, routes by code type, normalizes the result and
// audit-logs every call in an independent transaction.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chameleon/internal/config"
	"chameleon/internal/host"
	"chameleon/internal/sqlcheck"
	"chameleon/internal/store"
	"chameleon/internal/template"
)

// Engine executes tools against the dual-store backend.
type Engine struct {
	meta   *store.MetaStore
	data   *store.DataStore
	temp   *store.TempRegistry
	logger *zap.Logger

	macroCache template.MacroCache

	selfCorrection bool
	ui             config.UIConfig

	// onCatalogChange is invoked after tool create/delete so the transport
	// can re-announce its tool list.
	onCatalogChange func()
}

// Options configures a new Engine.
type Options struct {
	Meta           *store.MetaStore
	Data           *store.DataStore
	Temp           *store.TempRegistry
	Logger         *zap.Logger
	SelfCorrection bool
	UI             config.UIConfig
}

// New builds an Engine. Temp and Logger default sanely when omitted.
func New(opts Options) *Engine {
	if opts.Temp == nil {
		opts.Temp = store.NewTempRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		meta:           opts.Meta,
		data:           opts.Data,
		temp:           opts.Temp,
		logger:         opts.Logger,
		selfCorrection: opts.SelfCorrection,
		ui:             opts.UI,
	}
}

// Meta exposes the metadata store.
func (e *Engine) Meta() *store.MetaStore { return e.meta }

// Data exposes the data store.
func (e *Engine) Data() *store.DataStore { return e.data }

// Temp exposes the temp tool registry.
func (e *Engine) Temp() *store.TempRegistry { return e.temp }

// Logger exposes the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// SetCatalogListener installs the catalogue-change callback.
func (e *Engine) SetCatalogListener(fn func()) { e.onCatalogChange = fn }

// NotifyCatalogChanged fires the catalogue-change callback, if any.
func (e *Engine) NotifyCatalogChanged() {
	if e.onCatalogChange != nil {
		e.onCatalogChange()
	}
}

// boundExecutor adapts the engine to host.Executor for a fixed persona.
type boundExecutor struct {
	engine  *Engine
	persona string
}

func (b *boundExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	return b.engine.Execute(ctx, name, b.persona, args)
}

// ForPersona returns an executor that runs every call under one persona.
// Chain steps use it, which is how nested calls inherit their caller's
// persona.
func (e *Engine) ForPersona(persona string) host.Executor {
	return &boundExecutor{engine: e, persona: persona}
}

// Execute runs one tool call end to end. The returned result is normalized;
// the returned error carries a stable code plus, when a manual exists, an
// excerpt to help the caller fix its request.
func (e *Engine) Execute(ctx context.Context, toolName, persona string, args map[string]interface{}) (interface{}, error) {
	callID := uuid.NewString()
	e.logger.Debug("tool call",
		zap.String("call_id", callID), zap.String("tool", toolName), zap.String("persona", persona))

	result, toolDef, err := e.dispatch(ctx, toolName, persona, args)
	if err != nil {
		e.logger.Info("tool call failed",
			zap.String("call_id", callID), zap.String("tool", toolName), zap.Error(err))
		e.recordFailure(toolName, persona, args, err)
		if code := classify(err); code == CodeIntegrity {
			// Integrity failures must stay loud and unembellished.
			return nil, &Error{Code: CodeIntegrity, Message: err.Error(), Err: err}
		}
		return nil, e.wrapWithManual(toolName, toolDef, err)
	}

	norm, degraded := Normalize(result)
	if degraded {
		e.logger.Warn("result could not be serialized, stringified placeholder returned",
			zap.String("tool", toolName))
	}

	if logErr := e.meta.LogExecution(&store.ExecutionRecord{
		ToolName: toolName, Persona: persona, Arguments: args,
		Status: store.StatusSuccess, ResultSummary: Summarize(norm),
	}); logErr != nil {
		// Audit failures never fail the call.
		e.logger.Warn("failed to record execution", zap.String("tool", toolName), zap.Error(logErr))
	}
	return norm, nil
}

// dispatch resolves and runs the tool, returning the raw result plus the
// registry row (nil for temp tools) for the error path's manual lookup.
func (e *Engine) dispatch(ctx context.Context, toolName, persona string, args map[string]interface{}) (interface{}, *store.Tool, error) {
	// Temp tools shadow persisted ones.
	if tmp := e.temp.Get(toolName, persona); tmp != nil {
		res, err := e.runCode(ctx, toolName, persona, tmp.Code, tmp.CodeType, args, true, false)
		return res, nil, err
	}

	toolDef, err := e.meta.GetTool(toolName, persona)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, newError(CodeToolNotFound, "tool %q not found for persona %q", toolName, persona)
		}
		return nil, nil, err
	}

	entry, err := e.meta.GetCode(toolDef.ActiveHashRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, toolDef, newError(CodeToolNotFound, "code not found for hash %q", toolDef.ActiveHashRef)
		}
		return nil, toolDef, err
	}

	res, err := e.runCode(ctx, toolName, persona, entry.CodeBlob, entry.CodeType, args, false, toolDef.IsAutoCreated)
	return res, toolDef, err
}

func (e *Engine) runCode(ctx context.Context, toolName, persona, code, codeType string, args map[string]interface{}, isTemp, isAutoCreated bool) (interface{}, error) {
	switch codeType {
	case store.CodeTypeSQLSelect:
		return e.runSQL(ctx, code, args, isTemp, isAutoCreated)
	case store.CodeTypeDashboard:
		return e.runDashboard(toolName)
	case store.CodeTypeProcedural:
		return e.runProcedural(ctx, toolName, persona, code, args)
	default:
		return nil, fmt.Errorf("unknown code type %q", codeType)
	}
}

// runSQL renders the template (with the active macro preamble), validates
// the result, injects the mandatory row limit and executes against the data
// store with named-parameter binding.
func (e *Engine) runSQL(ctx context.Context, code string, args map[string]interface{}, isTemp, isAutoCreated bool) (interface{}, error) {
	if !e.data.Connected() {
		return nil, newError(CodeOffline,
			"business database is currently offline; use 'reconnect_db' to try again")
	}

	preamble, err := e.macroCache.Preamble(e.meta.MacroGeneration(), e.meta.ActiveMacroTemplates)
	if err != nil {
		return nil, err
	}
	rendered, err := template.RenderWithMacros(preamble, code, args)
	if err != nil {
		return nil, err
	}
	if err := sqlcheck.Validate(rendered); err != nil {
		return nil, err
	}

	switch {
	case isTemp:
		rendered = applyRowLimit(rendered, tempToolLimit)
	case isAutoCreated:
		rendered = applyRowLimit(rendered, autoCreatedLimit)
	}

	rows, err := e.data.Query(ctx, rendered, buildNamedArgs(rendered, args))
	if err != nil {
		if errors.Is(err, store.ErrOffline) {
			return nil, newError(CodeOffline,
				"business database is currently offline; use 'reconnect_db' to try again")
		}
		return nil, err
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, nil
}

// runDashboard does not execute dashboard code; it hands back the URL where
// the hosted app is served.
func (e *Engine) runDashboard(toolName string) (interface{}, error) {
	if !e.ui.Enabled {
		return nil, fmt.Errorf("dashboard hosting is disabled in configuration")
	}
	return fmt.Sprintf("Dashboard is ready! Access it at: %s/?page=%s", e.ui.BaseURL, toolName), nil
}

// runProcedural prefers a registered factory; only tools without one are
// interpreted from their blob.
func (e *Engine) runProcedural(ctx context.Context, toolName, persona, code string, args map[string]interface{}) (interface{}, error) {
	hctx := e.hostContext(toolName, persona)

	if factory := host.Lookup(toolName); factory != nil {
		return factory(hctx).Run(ctx, args)
	}

	tool, err := host.Interpret(code, hctx)
	if err != nil {
		return nil, err
	}
	return tool.Run(ctx, args)
}

func (e *Engine) hostContext(toolName, persona string) *host.Context {
	return &host.Context{
		Meta:           e.meta,
		Data:           e.data,
		Temp:           e.temp,
		Persona:        persona,
		ToolName:       toolName,
		Logger:         e.logger,
		Executor:       e.ForPersona(persona),
		QueryData:      e.queryData,
		CatalogChanged: e.NotifyCatalogChanged,
		CompleteTool: func(ctx context.Context, name, argument, prefix string) []string {
			return e.Complete(ctx, name, persona, argument, prefix)
		},
	}
}

// queryData is the data-store closure interpreted tools receive: the same
// read-only gate and named binding as SQL tools, without templating or row
// limits.
func (e *Engine) queryData(query string, args map[string]interface{}) ([]map[string]interface{}, error) {
	if e.data == nil || !e.data.Connected() {
		return nil, newError(CodeOffline,
			"business database is currently offline; use 'reconnect_db' to try again")
	}
	if err := sqlcheck.Validate(query); err != nil {
		return nil, err
	}
	rows, err := e.data.Query(context.Background(), query, buildNamedArgs(query, args))
	if err != nil {
		if errors.Is(err, store.ErrOffline) {
			return nil, newError(CodeOffline,
				"business database is currently offline; use 'reconnect_db' to try again")
		}
		return nil, err
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, nil
}

// recordFailure audit-logs the failure and, when reflexive learning is on,
// appends the error to the self_correction notebook domain.
func (e *Engine) recordFailure(toolName, persona string, args map[string]interface{}, cause error) {
	if logErr := e.meta.LogExecution(&store.ExecutionRecord{
		ToolName: toolName, Persona: persona, Arguments: args,
		Status:         store.StatusFailure,
		ResultSummary:  "Execution failed - see error_traceback",
		ErrorTraceback: cause.Error(),
	}); logErr != nil {
		e.logger.Warn("failed to record failure", zap.String("tool", toolName), zap.Error(logErr))
	}

	if !e.selfCorrection {
		return
	}
	if err := LogSelfCorrection(e.meta, toolName, cause.Error()); err != nil {
		e.logger.Warn("failed to record self-correction note", zap.String("tool", toolName), zap.Error(err))
	}
}

// LogSelfCorrection appends an error summary to the tool's entry in the
// self_correction notebook domain, creating it on first failure.
func LogSelfCorrection(meta *store.MetaStore, toolName, errorSummary string) error {
	key := toolName + "_error"
	value := errorSummary
	if existing, err := meta.ReadNote("self_correction", key, "system_reflexive_learning"); err == nil {
		value = existing.Value + "\n" + errorSummary
	}
	_, err := meta.WriteNote("self_correction", key, value, "system_reflexive_learning", nil)
	return err
}

const manualExcerptLimit = 1500

// wrapWithManual turns a failure into a client-facing error. When the tool
// carries an operator manual a compact excerpt (guide, top two examples,
// pitfalls) is appended so the caller can correct its request without
// another round trip.
func (e *Engine) wrapWithManual(toolName string, toolDef *store.Tool, cause error) error {
	msg := fmt.Sprintf("Tool %q failed with error: %v", toolName, cause)

	var manual map[string]interface{}
	if toolDef != nil {
		manual = toolDef.ExtendedMetadata
	}
	if len(manual) > 0 {
		excerpt := map[string]interface{}{
			"usage_guide":     manualString(manual, "usage_guide", "No guide available."),
			"examples":        topExamples(manual, 2),
			"common_pitfalls": manual["pitfalls"],
		}
		text := "(manual unavailable)"
		if data, err := json.MarshalIndent(excerpt, "", "  "); err == nil {
			text = string(data)
		}
		if len(text) > manualExcerptLimit {
			text = text[:manualExcerptLimit] + "\n... (truncated, use 'system_inspect_tool' for more)"
		}
		msg += fmt.Sprintf(
			"\n\n--- AUTOMATIC HELP ---\nManual excerpt for %q; use it to correct your request:\n%s",
			toolName, text)
	}

	return &Error{Code: classify(cause), Message: msg, Err: cause}
}

func manualString(manual map[string]interface{}, key, fallback string) string {
	if s, ok := manual[key].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}

func topExamples(manual map[string]interface{}, n int) []interface{} {
	examples, _ := manual["examples"].([]interface{})
	if len(examples) > n {
		examples = examples[:n]
	}
	return examples
}
