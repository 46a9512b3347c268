package host

import (
	"context"
	"fmt"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// RunFunc is the entry point every interpreted tool must define.
type RunFunc func(args map[string]interface{}) (interface{}, error)

// InitFunc optionally receives the execution context before the first run.
type InitFunc func(ctx map[string]interface{})

// CompleteFunc optionally provides argument completion candidates.
type CompleteFunc func(argument, prefix string) []string

// Interpreted is a tool evaluated from a vault blob. It satisfies Tool and,
// when the blob defines Complete, Completer.
type Interpreted struct {
	run      RunFunc
	complete CompleteFunc
	hostCtx  *Context
}

// Interpret evaluates a procedural blob and binds its entry points. The blob
// is assumed to have passed ValidateStructure at upsert; interpretation
// errors here still fail the call cleanly.
func Interpret(code string, hctx *Context) (*Interpreted, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("interpreter setup: %w", err)
	}
	if _, err := i.Eval(WrapCode(code)); err != nil {
		return nil, fmt.Errorf("evaluate tool code: %w", err)
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return nil, fmt.Errorf("tool code has no Run function: %w", err)
	}
	run, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("Run has the wrong signature: want func(map[string]interface{}) (interface{}, error)")
	}

	t := &Interpreted{run: run, hostCtx: hctx}

	if v, err := i.Eval("main.Init"); err == nil {
		if initFn, ok := v.Interface().(func(map[string]interface{})); ok {
			initFn(t.initContext())
		}
	}
	if v, err := i.Eval("main.Complete"); err == nil {
		if completeFn, ok := v.Interface().(func(string, string) []string); ok {
			t.complete = completeFn
		}
	}
	return t, nil
}

// initContext is what an interpreted tool's Init receives: identity, a log
// sink, a way to call sibling tools, and guarded access to both stores.
// Store closures are absent rather than nil when the backing store is not
// wired, so a blob can feature-test with a comma-ok assertion.
func (t *Interpreted) initContext() map[string]interface{} {
	ctx := map[string]interface{}{
		"persona":   t.hostCtx.Persona,
		"tool_name": t.hostCtx.ToolName,
		"log":       func(msg string) { t.hostCtx.Log(msg) },
	}
	if t.hostCtx.Executor != nil {
		exec := t.hostCtx.Executor
		ctx["call_tool"] = func(name string, args map[string]interface{}) (interface{}, error) {
			return exec.Execute(context.Background(), name, args)
		}
	}
	if t.hostCtx.Meta != nil {
		meta := t.hostCtx.Meta
		by := t.hostCtx.ToolName
		ctx["read_note"] = func(domain, key string) (string, error) {
			entry, err := meta.ReadNote(domain, key, by)
			if err != nil {
				return "", err
			}
			return entry.Value, nil
		}
		ctx["write_note"] = func(domain, key, value string) error {
			_, err := meta.WriteNote(domain, key, value, by, nil)
			return err
		}
	}
	if t.hostCtx.QueryData != nil {
		ctx["query_data"] = t.hostCtx.QueryData
	}
	return ctx
}

// Run invokes the interpreted entry point. The call runs in its own
// goroutine so a cancelled context returns promptly even if the interpreted
// code keeps going.
func (t *Interpreted) Run(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := t.run(args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

// Complete returns completion candidates, or nil when the blob defines none.
func (t *Interpreted) Complete(argument, prefix string) []string {
	if t.complete == nil {
		return nil
	}
	return t.complete(argument, prefix)
}
