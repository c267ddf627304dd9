// Package tool implements SafeClaw's builtin tool handlers (§6 builtin
// category table) as the concrete service.ToolExecutor, grounded on the
// teacher's internal/infrastructure/tool/builtin_tools.go and
// internal/infrastructure/sandbox/process_sandbox.go — the teacher's
// single binary-allowlisted ProcessSandbox becomes SandboxPath (pure path
// resolution) plus ProcessRegistry (already implemented in the domain
// service layer) for background execution, since §6's path sandbox and
// SecretGuard together replace the teacher's binary allowlist as the
// security boundary.
package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SandboxPath resolves owner-supplied paths against a workspace root,
// rejecting traversal and symlink escapes (§6 Path sandbox), and is the
// concrete implementation of service.PathResolver.
type SandboxPath struct {
	root string
}

// NewSandboxPath creates a resolver rooted at root (WORKSPACE_DIR).
func NewSandboxPath(root string) (*SandboxPath, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root symlinks: %w", err)
	}
	return &SandboxPath{root: resolvedRoot}, nil
}

// Root returns the resolved workspace root.
func (s *SandboxPath) Root() string { return s.root }

// ResolvePath expands ~ to the process home, joins relative paths to the
// workspace root, and rejects any result that escapes the root — whether
// via ".." segments or a symlink resolving outside it. A path that does
// not yet exist (e.g. the target of write_file) is resolved against its
// nearest existing ancestor so symlink escapes are still caught.
func (s *SandboxPath) ResolvePath(raw string) (string, error) {
	expanded := raw
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}

	var joined string
	if filepath.IsAbs(expanded) {
		joined = filepath.Clean(expanded)
	} else {
		joined = filepath.Clean(filepath.Join(s.root, expanded))
	}

	if !withinRoot(joined, s.root) {
		return "", fmt.Errorf("refused: path %q escapes the workspace root", raw)
	}

	resolved, err := s.resolveExistingAncestor(joined)
	if err != nil {
		return "", err
	}
	if !withinRoot(resolved, s.root) {
		return "", fmt.Errorf("refused: path %q resolves outside the workspace root", raw)
	}
	return resolved, nil
}

// resolveExistingAncestor evaluates symlinks on the longest existing
// prefix of path, then re-appends the non-existent suffix unresolved.
func (s *SandboxPath) resolveExistingAncestor(path string) (string, error) {
	cur := path
	var suffix []string
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", fmt.Errorf("resolve symlinks: %w", err)
			}
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return real, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}

func withinRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}
