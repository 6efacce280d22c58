package tools

import (
	"maps"
	"sync"
)

// PermissionPolicy decides which tools need the user's confirmation. Tools
// absent from the map require it. Master control bypasses confirmation for
// every tool. Safe for concurrent use and hot-reloadable.
type PermissionPolicy struct {
	mu       sync.RWMutex
	requires map[string]bool
	master   bool
}

// NewPermissionPolicy returns a policy over perms, which maps tool name to
// requires-confirmation.
func NewPermissionPolicy(perms map[string]bool, master bool) *PermissionPolicy {
	p := &PermissionPolicy{}
	p.Update(perms, master)
	return p
}

// Requires reports whether a call to tool must be confirmed.
func (p *PermissionPolicy) Requires(tool string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.master {
		return false
	}
	req, ok := p.requires[tool]
	return !ok || req
}

// Update replaces the permission map and master flag.
func (p *PermissionPolicy) Update(perms map[string]bool, master bool) {
	cp := maps.Clone(perms)
	if cp == nil {
		cp = map[string]bool{}
	}
	p.mu.Lock()
	p.requires = cp
	p.master = master
	p.mu.Unlock()
}

// Snapshot returns a copy of the permission map and the master flag.
func (p *PermissionPolicy) Snapshot() (map[string]bool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.requires), p.master
}
