package service

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// ToolRegistry is the name-indexed catalog of ToolDefinitions across all
// three provenances (§4.2). Builtins are seeded at construction, all
// disabled; remote and dynamic tools register later.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]*entity.ToolDefinition
	logger *zap.Logger
}

// NewToolRegistry seeds the registry with the given builtin definitions,
// all starting disabled (§4.2).
func NewToolRegistry(builtins []entity.ToolDefinition, logger *zap.Logger) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]*entity.ToolDefinition), logger: logger}
	for _, b := range builtins {
		def := b
		def.Status = entity.StatusDisabled
		def.Provenance = entity.ProvenanceBuiltin
		r.tools[def.Name] = &def
	}
	return r
}

// Enable flips a tool to enabled, stamping LastEnabledAt. Returns whether
// the name was known.
func (r *ToolRegistry) Enable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.tools[name]
	if !ok {
		return false
	}
	now := time.Now()
	def.Status = entity.StatusEnabled
	def.LastEnabledAt = &now
	return true
}

// Disable flips a tool to disabled, stamping LastDisabledAt.
func (r *ToolRegistry) Disable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.tools[name]
	if !ok {
		return false
	}
	now := time.Now()
	def.Status = entity.StatusDisabled
	def.LastDisabledAt = &now
	return true
}

// DisableAll unconditionally disables every tool (§4.2, used on every
// wake/sleep/kill).
func (r *ToolRegistry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, def := range r.tools {
		def.Status = entity.StatusDisabled
		def.LastDisabledAt = &now
	}
}

// EnableByServer bulk-enables every remote tool from a given MCP server,
// returning the count affected.
func (r *ToolRegistry) EnableByServer(server string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for _, def := range r.tools {
		if def.Provenance == entity.ProvenanceRemote && def.RemoteServer == server {
			def.Status = entity.StatusEnabled
			def.LastEnabledAt = &now
			n++
		}
	}
	return n
}

// DisableByServer bulk-disables every remote tool from a given MCP server.
func (r *ToolRegistry) DisableByServer(server string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for _, def := range r.tools {
		if def.Provenance == entity.ProvenanceRemote && def.RemoteServer == server {
			def.Status = entity.StatusDisabled
			def.LastDisabledAt = &now
			n++
		}
	}
	return n
}

// RegisterRemote registers (or replaces) a remote tool definition. A
// replace is expected when a server re-announces its catalog between
// reconnects (§4.2 invariant).
func (r *ToolRegistry) RegisterRemote(def entity.ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def.Provenance = entity.ProvenanceRemote
	r.tools[def.Name] = &def
}

// ClearRemote removes every remote-provenance tool (§4.2, §4.6 on
// entry/exit from awake).
func (r *ToolRegistry) ClearRemote() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, def := range r.tools {
		if def.Provenance == entity.ProvenanceRemote {
			delete(r.tools, name)
		}
	}
}

// RegisterDynamic registers a dynamic skill tool, defaulting to disabled
// unless enabled is requested (the skill-install path enables immediately
// per §4.8 step 5).
func (r *ToolRegistry) RegisterDynamic(def entity.ToolDefinition, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def.Provenance = entity.ProvenanceDynamic
	if enabled {
		def.Status = entity.StatusEnabled
	} else {
		def.Status = entity.StatusDisabled
	}
	r.tools[def.Name] = &def
}

// ClearDynamic removes every dynamic-provenance tool. Used when
// SkillsManager's weak reference to a registered skill is dropped.
func (r *ToolRegistry) ClearDynamic() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, def := range r.tools {
		if def.Provenance == entity.ProvenanceDynamic {
			delete(r.tools, name)
		}
	}
}

// UnregisterDynamic removes a single dynamic tool by name.
func (r *ToolRegistry) UnregisterDynamic(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def, ok := r.tools[name]; ok && def.Provenance == entity.ProvenanceDynamic {
		delete(r.tools, name)
	}
}

// GetEnabled returns every currently enabled tool definition, sorted by
// name for deterministic iteration (matters for prompt schema assembly).
func (r *ToolRegistry) GetEnabled() []entity.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		if def.Status == entity.StatusEnabled {
			out = append(out, *def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every tool definition regardless of status, sorted by name.
func (r *ToolRegistry) List() []entity.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a tool definition by name.
func (r *ToolRegistry) Get(name string) (entity.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok {
		return entity.ToolDefinition{}, false
	}
	return *def, true
}

// IsDangerous reports the dangerous flag for a known tool; unknown names
// are treated as dangerous (fail closed).
func (r *ToolRegistry) IsDangerous(name string) bool {
	def, ok := r.Get(name)
	if !ok {
		return true
	}
	return def.Dangerous
}

// IsEnabled reports whether a tool is both known and enabled.
func (r *ToolRegistry) IsEnabled(name string) bool {
	def, ok := r.Get(name)
	return ok && def.Status == entity.StatusEnabled
}
