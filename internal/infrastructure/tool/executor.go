package tool

import (
	"context"
	"fmt"

	"github.com/safeclaw/safeclaw/internal/domain/service"
)

// SkillRunner executes an installed dynamic skill by its sanitized name
// (§4.8 step 5: skills execute through the same builtin executor path
// once installed and registered). Satisfied by skills.Manager; declared
// here so that this package does not import skills.
type SkillRunner interface {
	Run(ctx context.Context, name string, input map[string]interface{}) (string, error)
}

// Executor is the concrete service.ToolExecutor, dispatching a resolved
// builtin call to the Filesystem/Shell/Browser/Memory/Patch handler for
// its category, or to the SkillRunner for an installed dynamic skill.
type Executor struct {
	fs      *Filesystem
	shell   *Shell
	browser *Browser
	memory  *Memory
	patch   *Patch
	skills  SkillRunner
}

// NewExecutor wires the builtin handler groups and the skill runner into
// one Executor. skills may be nil until SkillsManager is constructed;
// skill_call dispatch fails gracefully until then.
func NewExecutor(fs *Filesystem, shell *Shell, browser *Browser, memory *Memory, patch *Patch, skills SkillRunner) *Executor {
	return &Executor{fs: fs, shell: shell, browser: browser, memory: memory, patch: patch, skills: skills}
}

// Execute implements service.ToolExecutor.
func (e *Executor) Execute(ctx context.Context, resolved service.ResolvedTool, input map[string]interface{}) (string, error) {
	if resolved.Action == "skill_call" {
		if e.skills == nil {
			return "", fmt.Errorf("skill runner unavailable")
		}
		return e.skills.Run(ctx, resolved.Skill, input)
	}
	switch resolved.Category {
	case "filesystem":
		switch resolved.Action {
		case "read_file":
			return e.fs.ReadFile(input)
		case "list_dir":
			return e.fs.ListDir(input)
		case "write_file":
			return e.fs.WriteFile(input)
		case "delete_file":
			return e.fs.DeleteFile(input)
		case "move_file":
			return e.fs.MoveFile(input)
		}
	case "shell":
		switch resolved.Action {
		case "exec_shell":
			return e.shell.ExecShell(ctx, input)
		case "exec_shell_bg":
			return e.shell.ExecShellBg(input)
		case "process_poll":
			return e.shell.ProcessPoll(input)
		case "process_write":
			return e.shell.ProcessWrite(input)
		case "process_kill":
			return e.shell.ProcessKill(input)
		case "process_list":
			return e.shell.ProcessList(input)
		}
	case "browser":
		if resolved.Action == "browse_web" {
			return e.browser.BrowseWeb(ctx, input)
		}
	case "memory":
		switch resolved.Action {
		case "memory_read":
			return e.memory.Read(input)
		case "memory_write":
			return e.memory.Write(input)
		case "memory_list":
			return e.memory.List(input)
		case "memory_delete":
			return e.memory.Delete(input)
		}
	case "patch":
		if resolved.Action == "apply_patch" {
			return e.patch.ApplyPatch(input)
		}
	}
	return "", fmt.Errorf("unknown builtin action %s/%s", resolved.Category, resolved.Action)
}

// BuiltinSchema returns the static JSON schema for a builtin tool name,
// used to build the provider's function-calling tool list.
func (e *Executor) BuiltinSchema(name string) (service.ToolSchema, bool) {
	schema, ok := builtinSchemas[name]
	return schema, ok
}

var builtinSchemas = map[string]service.ToolSchema{
	"read_file": {
		Name:        "read_file",
		Description: "Read the full contents of a file within the workspace.",
		Parameters: objSchema(map[string]interface{}{
			"path": strProp("Path to the file, relative to the workspace root."),
		}, "path"),
	},
	"list_dir": {
		Name:        "list_dir",
		Description: "List the entries of a directory within the workspace.",
		Parameters: objSchema(map[string]interface{}{
			"path": strProp("Directory path, relative to the workspace root. Defaults to the root."),
		}),
	},
	"write_file": {
		Name:        "write_file",
		Description: "Create or overwrite a file within the workspace with the given content.",
		Parameters: objSchema(map[string]interface{}{
			"path":    strProp("Path to the file, relative to the workspace root."),
			"content": strProp("The full content to write."),
		}, "path"),
	},
	"delete_file": {
		Name:        "delete_file",
		Description: "Delete a single file within the workspace.",
		Parameters: objSchema(map[string]interface{}{
			"path": strProp("Path to the file, relative to the workspace root."),
		}, "path"),
	},
	"move_file": {
		Name:        "move_file",
		Description: "Move or rename a file or directory within the workspace.",
		Parameters: objSchema(map[string]interface{}{
			"path":        strProp("Source path, relative to the workspace root."),
			"destination": strProp("Destination path, relative to the workspace root."),
		}, "path", "destination"),
	},
	"browse_web": {
		Name:        "browse_web",
		Description: "Fetch a web page and return a plain-text rendering of its body.",
		Parameters: objSchema(map[string]interface{}{
			"url": strProp("The http(s) URL to fetch."),
		}, "url"),
	},
	"exec_shell": {
		Name:        "exec_shell",
		Description: "Run a shell command to completion and return its combined stdout/stderr.",
		Parameters: objSchema(map[string]interface{}{
			"command": strProp("The shell command to run."),
		}, "command"),
	},
	"exec_shell_bg": {
		Name:        "exec_shell_bg",
		Description: "Spawn a long-running shell command in the background and return its session id.",
		Parameters: objSchema(map[string]interface{}{
			"command": strProp("The shell command to run in the background."),
		}, "command"),
	},
	"process_poll": {
		Name:        "process_poll",
		Description: "Read buffered output from a background process session.",
		Parameters: objSchema(map[string]interface{}{
			"session_id": strProp("The background process session id."),
		}, "session_id"),
	},
	"process_write": {
		Name:        "process_write",
		Description: "Write a line of input to a background process session's stdin.",
		Parameters: objSchema(map[string]interface{}{
			"session_id": strProp("The background process session id."),
			"input":      strProp("The text to write, a trailing newline is added if missing."),
		}, "session_id"),
	},
	"process_kill": {
		Name:        "process_kill",
		Description: "Terminate a background process session and its process group.",
		Parameters: objSchema(map[string]interface{}{
			"session_id": strProp("The background process session id."),
		}, "session_id"),
	},
	"process_list": {
		Name:        "process_list",
		Description: "List all background process sessions and their status.",
		Parameters:  objSchema(map[string]interface{}{}),
	},
	"memory_read": {
		Name:        "memory_read",
		Description: "Read a stored memory fact by key.",
		Parameters: objSchema(map[string]interface{}{
			"key": strProp("The memory key."),
		}, "key"),
	},
	"memory_write": {
		Name:        "memory_write",
		Description: "Store or update a memory fact under a key.",
		Parameters: objSchema(map[string]interface{}{
			"key":   strProp("The memory key."),
			"value": strProp("The value to remember."),
		}, "key"),
	},
	"memory_list": {
		Name:        "memory_list",
		Description: "List all stored memory keys.",
		Parameters:  objSchema(map[string]interface{}{}),
	},
	"memory_delete": {
		Name:        "memory_delete",
		Description: "Delete a stored memory fact by key.",
		Parameters: objSchema(map[string]interface{}{
			"key": strProp("The memory key."),
		}, "key"),
	},
	"apply_patch": {
		Name: "apply_patch",
		Description: "Apply a patch bounded by '*** Begin Patch'/'*** End Patch' carrying " +
			"Add/Delete/Update File directives with context/removal/addition hunks.",
		Parameters: objSchema(map[string]interface{}{
			"patch": strProp("The full patch text."),
		}, "patch"),
	},
}

func strProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func objSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
