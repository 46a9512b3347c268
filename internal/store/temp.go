package store

import "sync"

// TempTool is an ephemeral, in-memory tool registration used to trial code
// before committing it to the vault. Temp tools shadow persisted tools of
// the same name and vanish on restart.
type TempTool struct {
	ToolName      string
	TargetPersona string
	Description   string
	InputSchema   map[string]interface{}
	Code          string
	CodeType      string
}

// TempRegistry holds temp tools keyed by name and persona.
type TempRegistry struct {
	mu    sync.RWMutex
	tools map[string]*TempTool
}

// NewTempRegistry creates an empty registry.
func NewTempRegistry() *TempRegistry {
	return &TempRegistry{tools: make(map[string]*TempTool)}
}

func tempKey(name, persona string) string { return name + ":" + persona }

// Put registers or replaces a temp tool.
func (r *TempRegistry) Put(t *TempTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tempKey(t.ToolName, t.TargetPersona)] = t
}

// Get returns the temp tool for (name, persona), or nil.
func (r *TempRegistry) Get(name, persona string) *TempTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[tempKey(name, persona)]
}

// Delete removes a temp tool and reports whether it existed.
func (r *TempRegistry) Delete(name, persona string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tempKey(name, persona)
	_, ok := r.tools[key]
	delete(r.tools, key)
	return ok
}

// List returns all temp tools for a persona.
func (r *TempRegistry) List(persona string) []*TempTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TempTool
	for _, t := range r.tools {
		if t.TargetPersona == persona {
			out = append(out, t)
		}
	}
	return out
}
