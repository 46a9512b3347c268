// Package host runs procedural tools. First-class system tools register Go
// factories at init time; everything else is interpreted from its vault blob
// with yaegi. Both paths share the same Tool contract and execution Context.
package host

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"chameleon/internal/store"
)

// Executor lets a running tool invoke other tools, which is how the chain
// runner and composite tools work. The execution engine implements it.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// Context carries everything a procedural tool may touch during a run.
type Context struct {
	Meta     *store.MetaStore
	Data     *store.DataStore
	Temp     *store.TempRegistry
	Persona  string
	ToolName string
	Logger   *zap.Logger
	Executor Executor

	// QueryData runs a read-only query against the business data store with
	// named-parameter binding, behind the same validation gate as SQL tools.
	// Wired by the execution engine; nil means no data store access.
	QueryData func(query string, args map[string]interface{}) ([]map[string]interface{}, error)

	// CatalogChanged tells the transport layer the tool catalogue changed;
	// tools that create or delete registrations call it after committing.
	CatalogChanged func()

	// CompleteTool resolves completion candidates for another tool's
	// argument. Wired by the execution engine.
	CompleteTool func(ctx context.Context, toolName, argument, prefix string) []string
}

// Log writes a message to the server log on behalf of a tool.
func (c *Context) Log(msg string) {
	if c.Logger != nil {
		c.Logger.Info(msg, zap.String("tool", c.ToolName), zap.String("persona", c.Persona))
	}
}

// Tool is the procedural tool contract.
type Tool interface {
	Run(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Completer is implemented by tools that offer argument completion.
type Completer interface {
	Complete(argument, prefix string) []string
}

// Factory builds a tool instance bound to one execution context.
type Factory func(*Context) Tool

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a factory for a first-class tool. Called from init
// functions; duplicate names panic because they are programmer error.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("host: duplicate tool factory %q", name))
	}
	registry[name] = f
}

// Lookup returns the registered factory for name, or nil.
func Lookup(name string) Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// Registered returns all factory names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MarkerBlob is the vault blob stored for a factory-backed tool. It records
// which factory serves the tool so the registry row still round-trips
// through the vault's hash check.
func MarkerBlob(name string) string {
	return fmt.Sprintf("// builtin: %s\n", name)
}
