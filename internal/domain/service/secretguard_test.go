package service

import (
	"strings"
	"testing"
)

func TestSecretGuard_CheckPath_DeniesDotEnvFiles(t *testing.T) {
	g := NewSecretGuard("/home/owner/.safeclaw", "/home/owner")

	cases := []string{
		"/home/owner/project/.env",
		"/home/owner/project/.env.local",
	}
	for _, p := range cases {
		if reason := g.CheckPath(p); reason == "" {
			t.Errorf("expected %s to be denied", p)
		}
	}
}

func TestSecretGuard_CheckPath_DeniesJSONUnderStorageDir(t *testing.T) {
	g := NewSecretGuard("/home/owner/.safeclaw", "/home/owner")
	if reason := g.CheckPath("/home/owner/.safeclaw/providers.json"); reason == "" {
		t.Error("expected storage-dir JSON to be denied")
	}
}

func TestSecretGuard_CheckPath_DeniesFilenamesMatchingSecretPatterns(t *testing.T) {
	g := NewSecretGuard("/home/owner/.safeclaw", "/home/owner")

	denied := []string{
		"/tmp/my_secret.txt",
		"/tmp/db_password.yaml",
		"/tmp/aws_credential_file",
		"/tmp/api_token.txt",
	}
	for _, p := range denied {
		if reason := g.CheckPath(p); reason == "" {
			t.Errorf("expected %s to be denied", p)
		}
	}
}

func TestSecretGuard_CheckPath_AllowsOrdinaryFiles(t *testing.T) {
	g := NewSecretGuard("/home/owner/.safeclaw", "/home/owner")
	if reason := g.CheckPath("/home/owner/project/notes.txt"); reason != "" {
		t.Errorf("expected ordinary file to be allowed, got denial %q", reason)
	}
}

func TestSecretGuard_CheckShellCommand_DeniesViewerOnDotEnv(t *testing.T) {
	g := NewSecretGuard("/home/owner/.safeclaw", "/home/owner")

	denied := []string{
		"cat .env",
		"tail -n 5 /home/owner/project/.env",
		"less auth.json",
	}
	for _, cmd := range denied {
		if reason := g.CheckShellCommand(cmd); reason == "" {
			t.Errorf("expected command %q to be denied", cmd)
		}
	}
}

func TestSecretGuard_CheckShellCommand_AllowsUnrelatedCommands(t *testing.T) {
	g := NewSecretGuard("/home/owner/.safeclaw", "/home/owner")

	allowed := []string{
		"cat README.md",
		"ls -la",
		"grep foo bar.txt",
	}
	for _, cmd := range allowed {
		if reason := g.CheckShellCommand(cmd); reason != "" {
			t.Errorf("expected command %q to be allowed, got denial %q", cmd, reason)
		}
	}
}

func TestSecretGuard_CheckShellCommand_DeniesStorageDirTarget(t *testing.T) {
	g := NewSecretGuard("/home/owner/.safeclaw", "/home/owner")
	if reason := g.CheckShellCommand("cat /home/owner/.safeclaw/providers.json"); reason == "" {
		t.Error("expected command targeting the storage dir to be denied")
	}
}

func TestSecretGuard_RedactOutput_RedactsSecretBearingLines(t *testing.T) {
	g := NewSecretGuard("", "")
	in := "HOME=/root\nAPI_TOKEN=abc123\nDB_PASSWORD=hunter2\nPATH=/usr/bin"
	out := g.RedactOutput(in)

	if want := "API_TOKEN=[REDACTED]"; !strings.Contains(out, want) {
		t.Errorf("expected redacted output to contain %q, got %q", want, out)
	}
	if want := "DB_PASSWORD=[REDACTED]"; !strings.Contains(out, want) {
		t.Errorf("expected redacted output to contain %q, got %q", want, out)
	}
	if !strings.Contains(out, "HOME=/root") || !strings.Contains(out, "PATH=/usr/bin") {
		t.Errorf("expected non-secret lines to pass through unchanged, got %q", out)
	}
}

func TestSecretGuard_RedactOutput_LeavesPlainTextAlone(t *testing.T) {
	g := NewSecretGuard("", "")
	in := "build succeeded\nall tests passed"
	if out := g.RedactOutput(in); out != in {
		t.Errorf("expected unrelated output unchanged, got %q", out)
	}
}
