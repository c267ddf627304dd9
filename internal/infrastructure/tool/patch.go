package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Patch implements the apply_patch builtin action (§6 Patch format): a
// block bounded by "*** Begin Patch" / "*** End Patch" carrying Add/
// Delete/Update File directives, each Update optionally followed by a
// "*** Move to:" rename and then context/removal/addition hunks.
// Grounded in spirit on the teacher's ApplyPatchTool (which shells out to
// the `patch` binary on a unified diff) — this implementation parses and
// applies the directive format directly, since SafeClaw's patch format is
// not a unified diff and has no corresponding system binary.
type Patch struct {
	paths *SandboxPath
}

// NewPatch creates a Patch tool rooted at paths.
func NewPatch(paths *SandboxPath) *Patch {
	return &Patch{paths: paths}
}

type patchDirective struct {
	kind     string // "add" | "delete" | "update"
	path     string
	moveTo   string
	content  []string // verbatim lines, for "add"
	hunks    [][]string
}

// ApplyPatch parses the patch argument and applies each directive in
// order, collecting a per-file report. A single directive's failure is
// reported and does not abort the remaining directives.
func (p *Patch) ApplyPatch(input map[string]interface{}) (string, error) {
	raw, err := stringArg(input, "patch")
	if err != nil {
		return "", err
	}

	directives, err := parsePatchBody(raw)
	if err != nil {
		return "", err
	}
	if len(directives) == 0 {
		return "", fmt.Errorf("patch contains no directives")
	}

	var report []string
	for _, d := range directives {
		if err := p.applyDirective(d); err != nil {
			report = append(report, fmt.Sprintf("%s %s: FAILED: %v", d.kind, d.path, err))
			continue
		}
		report = append(report, fmt.Sprintf("%s %s: ok", d.kind, d.path))
	}
	return strings.Join(report, "\n"), nil
}

func (p *Patch) applyDirective(d patchDirective) error {
	switch d.kind {
	case "add":
		resolved, err := p.paths.ResolvePath(d.path)
		if err != nil {
			return err
		}
		return writeLines(resolved, d.content)
	case "delete":
		resolved, err := p.paths.ResolvePath(d.path)
		if err != nil {
			return err
		}
		return removeFile(resolved)
	case "update":
		resolved, err := p.paths.ResolvePath(d.path)
		if err != nil {
			return err
		}
		lines, err := readLines(resolved)
		if err != nil {
			return err
		}
		for i, hunk := range d.hunks {
			lines, err = applyHunk(lines, hunk)
			if err != nil {
				return fmt.Errorf("hunk %d: %w", i+1, err)
			}
		}
		target := resolved
		if d.moveTo != "" {
			target, err = p.paths.ResolvePath(d.moveTo)
			if err != nil {
				return err
			}
		}
		if err := writeLines(target, lines); err != nil {
			return err
		}
		if target != resolved {
			return removeFile(resolved)
		}
		return nil
	default:
		return fmt.Errorf("unknown directive %q", d.kind)
	}
}

// applyHunk locates the contiguous context+removal block in lines and
// substitutes the context+addition block. A hunk with neither context
// nor removal lines is a pure addition and is appended to the file's end.
func applyHunk(lines []string, hunk []string) ([]string, error) {
	var oldBlock, newBlock []string
	for _, raw := range hunk {
		if raw == "" {
			continue
		}
		switch raw[0] {
		case ' ':
			text := raw[1:]
			oldBlock = append(oldBlock, text)
			newBlock = append(newBlock, text)
		case '-':
			oldBlock = append(oldBlock, raw[1:])
		case '+':
			newBlock = append(newBlock, raw[1:])
		}
	}

	if len(oldBlock) == 0 {
		return append(append([]string{}, lines...), newBlock...), nil
	}

	idx := findContiguous(lines, oldBlock)
	if idx < 0 {
		return nil, fmt.Errorf("could not locate matching context/removal block")
	}
	result := make([]string, 0, len(lines)-len(oldBlock)+len(newBlock))
	result = append(result, lines[:idx]...)
	result = append(result, newBlock...)
	result = append(result, lines[idx+len(oldBlock):]...)
	return result, nil
}

func findContiguous(haystack, needle []string) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, want := range needle {
			if haystack[i+j] != want {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func parsePatchBody(raw string) ([]patchDirective, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	start := -1
	end := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "*** Begin Patch" {
			start = i
		}
		if strings.TrimSpace(line) == "*** End Patch" {
			end = i
		}
	}
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("patch must be bounded by '*** Begin Patch' and '*** End Patch'")
	}
	body := lines[start+1 : end]

	var directives []patchDirective
	var cur *patchDirective
	var curHunk []string

	flushHunk := func() {
		if cur != nil && len(curHunk) > 0 {
			cur.hunks = append(cur.hunks, curHunk)
		}
		curHunk = nil
	}
	flushDirective := func() {
		flushHunk()
		if cur != nil {
			directives = append(directives, *cur)
		}
		cur = nil
	}

	for _, line := range body {
		switch {
		case strings.HasPrefix(line, "*** Add File: "):
			flushDirective()
			cur = &patchDirective{kind: "add", path: strings.TrimPrefix(line, "*** Add File: ")}
		case strings.HasPrefix(line, "*** Delete File: "):
			flushDirective()
			cur = &patchDirective{kind: "delete", path: strings.TrimPrefix(line, "*** Delete File: ")}
		case strings.HasPrefix(line, "*** Update File: "):
			flushDirective()
			cur = &patchDirective{kind: "update", path: strings.TrimPrefix(line, "*** Update File: ")}
		case strings.HasPrefix(line, "*** Move to: "):
			if cur == nil || cur.kind != "update" {
				return nil, fmt.Errorf("'*** Move to:' outside an Update File directive")
			}
			cur.moveTo = strings.TrimPrefix(line, "*** Move to: ")
		case strings.HasPrefix(line, "@@"):
			flushHunk()
		default:
			if cur == nil {
				continue
			}
			if cur.kind == "add" {
				cur.content = append(cur.content, strings.TrimPrefix(line, "+"))
			} else if cur.kind == "update" {
				curHunk = append(curHunk, line)
			}
		}
	}
	flushDirective()
	return directives, nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"), nil
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func removeFile(path string) error {
	return os.Remove(path)
}
