package tool

import (
	"strings"
	"testing"
)

func newTestPatch(t *testing.T) (*Patch, *Filesystem) {
	t.Helper()
	paths := newTestSandbox(t)
	return NewPatch(paths), NewFilesystem(paths)
}

func TestPatch_AddFile(t *testing.T) {
	p, fs := newTestPatch(t)
	patch := "*** Begin Patch\n" +
		"*** Add File: hello.txt\n" +
		"+line one\n" +
		"+line two\n" +
		"*** End Patch"

	report, err := p.ApplyPatch(map[string]interface{}{"patch": patch})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if !strings.Contains(report, "add hello.txt: ok") {
		t.Errorf("expected a successful add report, got %q", report)
	}

	got, err := fs.ReadFile(map[string]interface{}{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "line one\nline two\n" {
		t.Errorf("ReadFile = %q", got)
	}
}

func TestPatch_UpdateFile_ReplacesMatchingHunk(t *testing.T) {
	p, fs := newTestPatch(t)
	if _, err := fs.WriteFile(map[string]interface{}{"path": "a.txt", "content": "line one\nline two\nline three\n"}); err != nil {
		t.Fatalf("seed WriteFile: %v", err)
	}

	patch := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		" line one\n" +
		"-line two\n" +
		"+line two updated\n" +
		" line three\n" +
		"*** End Patch"

	report, err := p.ApplyPatch(map[string]interface{}{"patch": patch})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if !strings.Contains(report, "update a.txt: ok") {
		t.Errorf("expected a successful update report, got %q", report)
	}

	got, err := fs.ReadFile(map[string]interface{}{"path": "a.txt"})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "line one\nline two updated\nline three\n" {
		t.Errorf("ReadFile after update = %q", got)
	}
}

func TestPatch_UpdateFile_MoveTo(t *testing.T) {
	p, fs := newTestPatch(t)
	if _, err := fs.WriteFile(map[string]interface{}{"path": "old.txt", "content": "keep me\n"}); err != nil {
		t.Fatalf("seed WriteFile: %v", err)
	}

	patch := "*** Begin Patch\n" +
		"*** Update File: old.txt\n" +
		"*** Move to: new.txt\n" +
		"@@\n" +
		" keep me\n" +
		"*** End Patch"

	if _, err := p.ApplyPatch(map[string]interface{}{"patch": patch}); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	if _, err := fs.ReadFile(map[string]interface{}{"path": "old.txt"}); err == nil {
		t.Error("expected the old path to be gone after a move")
	}
	got, err := fs.ReadFile(map[string]interface{}{"path": "new.txt"})
	if err != nil {
		t.Fatalf("ReadFile new.txt: %v", err)
	}
	if got != "keep me\n" {
		t.Errorf("ReadFile new.txt = %q", got)
	}
}

func TestPatch_DeleteFile(t *testing.T) {
	p, fs := newTestPatch(t)
	if _, err := fs.WriteFile(map[string]interface{}{"path": "gone.txt", "content": "x"}); err != nil {
		t.Fatalf("seed WriteFile: %v", err)
	}

	patch := "*** Begin Patch\n*** Delete File: gone.txt\n*** End Patch"
	report, err := p.ApplyPatch(map[string]interface{}{"patch": patch})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if !strings.Contains(report, "delete gone.txt: ok") {
		t.Errorf("expected a successful delete report, got %q", report)
	}
	if _, err := fs.ReadFile(map[string]interface{}{"path": "gone.txt"}); err == nil {
		t.Error("expected the deleted file to be gone")
	}
}

func TestPatch_UpdateFile_UnmatchedHunkReportsFailureWithoutAbortingOthers(t *testing.T) {
	p, fs := newTestPatch(t)
	if _, err := fs.WriteFile(map[string]interface{}{"path": "a.txt", "content": "actual content\n"}); err != nil {
		t.Fatalf("seed WriteFile: %v", err)
	}
	if _, err := fs.WriteFile(map[string]interface{}{"path": "b.txt", "content": "other\n"}); err != nil {
		t.Fatalf("seed WriteFile: %v", err)
	}

	patch := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		"-nonexistent line\n" +
		"+replacement\n" +
		"*** Delete File: b.txt\n" +
		"*** End Patch"

	report, err := p.ApplyPatch(map[string]interface{}{"patch": patch})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if !strings.Contains(report, "FAILED") {
		t.Errorf("expected a FAILED report for the unmatched hunk, got %q", report)
	}
	if !strings.Contains(report, "delete b.txt: ok") {
		t.Errorf("expected the second directive to still apply, got %q", report)
	}
}

func TestPatch_MissingBeginEndMarkersErrors(t *testing.T) {
	p, _ := newTestPatch(t)
	if _, err := p.ApplyPatch(map[string]interface{}{"patch": "*** Add File: x.txt\n+hi"}); err == nil {
		t.Error("expected an error for a patch missing Begin/End markers")
	}
}
