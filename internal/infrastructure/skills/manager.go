// Package skills implements dynamic skill installation and execution
// (§4.8): once the owner confirms a request_capability proposal, Manager
// persists the proposed code under a sanitized name, validates it, and
// later runs it by name as a registered dynamic tool. Grounded on the
// teacher's tool.SkillManager (directory-backed catalog, install-under-
// sanitized-name, metadata struct), adapted from the teacher's symlink-a-
// local-skill-directory model to persisting an owner-authored code blob
// directly, since request_capability carries the skill's full
// implementation_code rather than a path to a pre-existing directory.
package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
	"github.com/safeclaw/safeclaw/internal/domain/service"
)

const runTimeout = 30 * time.Second

// record is the in-memory tracking entry for one installed skill,
// mirroring the teacher's Skill metadata struct.
type record struct {
	name        string
	scriptPath  string
	installedAt time.Time
}

// Manager implements both service.SkillInstaller (Install) and
// tool.SkillRunner (Run). A skill's implementation_code is persisted as an
// executable shell script under storageDir/skills/<name>.sh and invoked
// with bash at call time — skills execute with host privilege per the
// owner's approval, so no sandboxing or interpreter beyond bash is
// layered on top (§4.8 Non-goals: "sandboxing of approved code").
type Manager struct {
	mu        sync.RWMutex
	skillDir  string
	installed map[string]record
}

// NewManager creates a Manager persisting skills under
// <storageDir>/skills, scanning any already-installed scripts left over
// from a prior process (so a restart does not forget installed skills
// even though ToolRegistry itself is rebuilt fresh at startup — the
// gateway re-registers each discovered skill when it wires Manager in).
func NewManager(storageDir string) (*Manager, error) {
	dir := filepath.Join(storageDir, "skills")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create skill dir: %w", err)
	}
	m := &Manager{skillDir: dir, installed: make(map[string]record)}
	m.scanInstalled()
	return m, nil
}

func (m *Manager) scanInstalled() {
	entries, err := os.ReadDir(m.skillDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sh") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".sh")
		path := filepath.Join(m.skillDir, entry.Name())
		info, err := entry.Info()
		installedAt := time.Time{}
		if err == nil {
			installedAt = info.ModTime()
		}
		m.installed[name] = record{name: name, scriptPath: path, installedAt: installedAt}
	}
}

// Installed reports the sanitized names of every persisted skill, used by
// the gateway at startup to re-register each one into a fresh
// ToolRegistry (enabled, since it was already approved once).
func (m *Manager) Installed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.installed))
	for name := range m.installed {
		names = append(names, name)
	}
	return names
}

// Install persists code under the sanitized name, validates its export
// shape, and returns the catalog entry for ToolRegistry.RegisterDynamic
// (§4.8 step 5). name is expected already-sanitized by the caller
// (agent_loop's sanitizeSkillName); Install re-validates defensively.
func (m *Manager) Install(_ context.Context, name, code string) (entity.ToolDefinition, error) {
	name = sanitize(name)
	if name == "" {
		return entity.ToolDefinition{}, fmt.Errorf("skill name is empty after sanitization")
	}
	if err := validateExportShape(code); err != nil {
		return entity.ToolDefinition{}, fmt.Errorf("invalid skill code: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	scriptPath := filepath.Join(m.skillDir, name+".sh")
	body := code
	if !strings.HasPrefix(body, "#!") {
		body = "#!/usr/bin/env bash\nset -euo pipefail\n" + body
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if err := os.WriteFile(scriptPath, []byte(body), 0o755); err != nil {
		return entity.ToolDefinition{}, fmt.Errorf("persist skill script: %w", err)
	}

	m.installed[name] = record{name: name, scriptPath: scriptPath, installedAt: time.Now()}

	return entity.ToolDefinition{
		Name:        service.QualifySkillName(name),
		Description: fmt.Sprintf("dynamically installed skill %q", name),
		Dangerous:   true,
		SkillName:   name,
		SkillParameters: map[string]interface{}{
			"type":                 "object",
			"additionalProperties": true,
		},
	}, nil
}

// Run executes an installed skill, passing input to it as JSON on stdin
// (the skill's calling convention: read one JSON object from stdin, write
// its textual result to stdout). Grounded on the teacher's
// sandbox.ProcessSandbox.Execute foreground-command/timeout pattern, the
// same one tool.Shell.ExecShell follows for the exec_shell builtin.
func (m *Manager) Run(ctx context.Context, name string, input map[string]interface{}) (string, error) {
	name = sanitize(name)
	m.mu.RLock()
	rec, ok := m.installed[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("skill %q is not installed", name)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode skill input: %w", err)
	}
	payload := string(raw)

	execCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", rec.scriptPath)
	cmd.Stdin = strings.NewReader(payload)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("skill %q timed out after %s", name, runTimeout)
	}
	if runErr != nil {
		return out.String(), fmt.Errorf("skill %q failed: %w", name, runErr)
	}
	return out.String(), nil
}

// validateExportShape rejects empty or obviously-malformed skill code. A
// full static analysis of the script is out of scope (§4.8 Non-goals:
// sandboxing of approved code) — the owner's /confirm is the security
// boundary, this check only catches accidental empty/whitespace-only
// submissions before they're persisted as an executable script.
func validateExportShape(code string) error {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return fmt.Errorf("implementation_code is empty")
	}
	if len(code) > 1<<20 {
		return fmt.Errorf("implementation_code exceeds 1MiB")
	}
	return nil
}

func sanitize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
