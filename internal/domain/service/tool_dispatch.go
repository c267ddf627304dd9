package service

import (
	"regexp"
	"strings"
)

// ResolvedTool is the outcome of parsing an LLM-visible tool name into the
// internal (category, action) pair the dispatcher switches on (§6 naming
// scheme table).
type ResolvedTool struct {
	Category string // "filesystem", "shell", "memory", "patch", "browser", or the full mcp/skill name
	Action   string // the action within that category, e.g. "read_file", "mcp_call", "skill_call"
	Server   string // populated only for provenance=remote (mcp__<server>__<tool>)
	Tool     string // populated only for provenance=remote, the original server-side tool name
	Skill    string // populated only for provenance=dynamic
}

var builtinCategory = map[string]string{
	"read_file":      "filesystem",
	"list_dir":       "filesystem",
	"write_file":     "filesystem",
	"delete_file":    "filesystem",
	"move_file":      "filesystem",
	"browse_web":     "browser",
	"exec_shell":     "shell",
	"exec_shell_bg":  "shell",
	"process_poll":   "shell",
	"process_write":  "shell",
	"process_kill":   "shell",
	"process_list":   "shell",
	"memory_read":    "memory",
	"memory_write":   "memory",
	"memory_list":    "memory",
	"memory_delete":  "memory",
	"apply_patch":    "patch",
}

// safeActions are auto-executed without an approval ticket (§6).
var safeActions = map[string]bool{
	"read_file":    true,
	"list_dir":     true,
	"browse_web":   true,
	"process_poll": true,
	"process_list": true,
	"memory_read":  true,
	"memory_list":  true,
}

var (
	mcpNameRe   = regexp.MustCompile(`^mcp__(.+)__(.+)$`)
	skillNameRe = regexp.MustCompile(`^skill__(.+)$`)
	nonAlnumRe  = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// QualifyMCPName builds the bit-exact LLM-visible name for a remote tool,
// replacing non-alphanumerics in either segment with underscores (§6).
func QualifyMCPName(server, tool string) string {
	return "mcp__" + nonAlnumRe.ReplaceAllString(server, "_") + "__" + nonAlnumRe.ReplaceAllString(tool, "_")
}

// QualifySkillName builds the LLM-visible name for a dynamic skill tool.
func QualifySkillName(name string) string {
	return "skill__" + name
}

// resolveToolCall parses an LLM-visible tool name into its dispatch
// target. Builtins resolve to {category, action}; remote tools resolve to
// {fullName, "mcp_call"} carrying the decomposed server/tool; dynamic
// skills resolve to {fullName, "skill_call"}. The meta-tool
// request_capability is intentionally not handled here — it has a
// dedicated path (§4.8).
func resolveToolCall(name string) ResolvedTool {
	if category, ok := builtinCategory[name]; ok {
		return ResolvedTool{Category: category, Action: name}
	}
	if m := mcpNameRe.FindStringSubmatch(name); m != nil {
		return ResolvedTool{Category: name, Action: "mcp_call", Server: m[1], Tool: m[2]}
	}
	if m := skillNameRe.FindStringSubmatch(name); m != nil {
		return ResolvedTool{Category: name, Action: "skill_call", Skill: m[1]}
	}
	return ResolvedTool{Category: name, Action: name}
}

// extractToolDetails returns the same (toolName, action) pair that
// resolveToolCall(name) would, given the name and its call arguments — the
// round-trip property required by §8's testable properties. Arguments are
// accepted for symmetry with dispatch call sites but unused: the name
// alone fully determines category/action under this scheme.
func extractToolDetails(name string, _ map[string]interface{}) (toolName, action string) {
	r := resolveToolCall(name)
	return r.Category, r.Action
}

// isSafeAction reports whether a builtin action auto-executes without an
// approval ticket. Remote and dynamic tools carry their own Dangerous flag
// on the ToolDefinition and are not looked up here.
func isSafeAction(action string) bool {
	return safeActions[action]
}

// describeAction renders a short human phrase for an approval card,
// e.g. "write_file(b.txt)".
func describeAction(toolName string, input map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(toolName)
	if path, ok := input["path"].(string); ok && path != "" {
		b.WriteString("(")
		b.WriteString(path)
		b.WriteString(")")
	} else if cmd, ok := input["command"].(string); ok && cmd != "" {
		b.WriteString("(")
		b.WriteString(cmd)
		b.WriteString(")")
	}
	return b.String()
}
