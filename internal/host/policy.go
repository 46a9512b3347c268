package host

import (
	"fmt"

	"chameleon/internal/store"
)

// baseDenyImports are never importable by interpreted tools, regardless of
// what the policy table says. Deny beats allow.
var baseDenyImports = []string{
	"os",
	"os/exec",
	"net",
	"net/http",
	"syscall",
	"unsafe",
	"plugin",
	"runtime",
}

// DenySet is the effective set of forbidden import paths.
type DenySet map[string]bool

// Blocked reports whether an import path is forbidden. A deny on a parent
// path blocks the whole subtree (denying "net" also blocks "net/url").
func (d DenySet) Blocked(path string) bool {
	if d[path] {
		return true
	}
	for p := range d {
		if len(path) > len(p) && path[:len(p)] == p && path[len(p)] == '/' {
			return true
		}
	}
	return false
}

// BaseDenySet returns the static deny set without consulting the store.
func BaseDenySet() DenySet {
	d := make(DenySet, len(baseDenyImports))
	for _, p := range baseDenyImports {
		d[p] = true
	}
	return d
}

// EffectiveDenySet merges the static deny list with active deny policies of
// category "module". Allow rules can never re-open a denied path: the
// validator is deny-list based and deny always wins.
func EffectiveDenySet(meta *store.MetaStore) (DenySet, error) {
	d := BaseDenySet()
	if meta == nil {
		return d, nil
	}
	policies, err := meta.ActivePolicies()
	if err != nil {
		return nil, fmt.Errorf("load security policies: %w", err)
	}
	for _, p := range policies {
		if p.Category == "module" && p.RuleType == "deny" {
			d[p.Pattern] = true
		}
	}
	return d, nil
}
