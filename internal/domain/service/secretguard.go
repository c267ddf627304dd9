package service

import (
	"path/filepath"
	"regexp"
	"strings"
)

// SecretGuard is the path/shell-command denylist protecting sensitive
// files (§6 SecretGuard denylist). Grounded on the teacher's
// sandbox.Config.AllowedBins allowlist pattern, generalized from "which
// binaries may run" to "which paths and viewer invocations are denied".
type SecretGuard struct {
	storageDir string
	homeDir    string
}

// NewSecretGuard creates a guard scoped to the gateway's storage and home
// directories, both of which carry credential-bearing files.
func NewSecretGuard(storageDir, homeDir string) *SecretGuard {
	return &SecretGuard{storageDir: storageDir, homeDir: homeDir}
}

// DeniedFilenameSubstrings are matched case-insensitively against a
// resolved path's base filename.
var deniedFilenameSubstrings = []string{"secret", "password", "credential", "token"}

// CheckPath returns a non-empty denial reason if the resolved absolute
// path must not be touched by a filesystem operation.
func (g *SecretGuard) CheckPath(resolvedAbsPath string) string {
	base := filepath.Base(resolvedAbsPath)
	lowerBase := strings.ToLower(base)

	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return "refused: " + base + " is a denylisted secrets file"
	}

	if strings.HasSuffix(lowerBase, ".json") {
		if g.storageDir != "" && underDir(resolvedAbsPath, g.storageDir) {
			return "refused: JSON files under the storage directory may hold credentials"
		}
		if g.homeDir != "" && underDir(resolvedAbsPath, g.homeDir) && strings.Contains(resolvedAbsPath, g.storageDir) {
			return "refused: JSON files under the storage path may hold credentials"
		}
	}

	for _, needle := range deniedFilenameSubstrings {
		if strings.Contains(lowerBase, needle) {
			return "refused: filename matches a denylisted secret pattern"
		}
	}

	return ""
}

func underDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// viewerCommandRe matches classic file-viewer invocations at the start of
// a (trimmed) shell command word.
var viewerCommandRe = regexp.MustCompile(`^(cat|type|more|less|head|tail)\b`)

// CheckShellCommand returns a non-empty denial reason if a shell command
// targets a denylisted file via a classic viewer.
func (g *SecretGuard) CheckShellCommand(command string) string {
	trimmed := strings.TrimSpace(command)
	if !viewerCommandRe.MatchString(trimmed) {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, ".env") || strings.Contains(lower, "auth.json") {
		return "refused: command targets a denylisted secrets file"
	}
	if g.storageDir != "" && strings.Contains(command, g.storageDir) {
		return "refused: command targets the storage directory"
	}
	return ""
}

// redactionKeyRe matches `KEY=VALUE` lines whose key looks secret-bearing.
var redactionKeyRe = regexp.MustCompile(`(?i)^([A-Za-z0-9_.-]*(SECRET|PASSWORD|TOKEN|KEY|CREDENTIAL)[A-Za-z0-9_.-]*)=(.*)$`)

// RedactOutput redacts KEY=VALUE lines in shell output whose key matches a
// secret-bearing pattern, line by line (§6).
func (g *SecretGuard) RedactOutput(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if m := redactionKeyRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + "=[REDACTED]"
		}
	}
	return strings.Join(lines, "\n")
}
