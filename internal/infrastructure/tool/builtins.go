package tool

import "github.com/safeclaw/safeclaw/internal/domain/entity"

// builtinSafeActions mirrors service.isSafeAction's §6 safe-actions list, duplicated
// here (rather than imported) since it seeds entity.ToolDefinition.Dangerous
// at construction time, before a ToolRegistry exists to ask.
var builtinSafeActions = map[string]bool{
	"read_file":     true,
	"list_dir":      true,
	"browse_web":    true,
	"process_poll":  true,
	"process_list":  true,
	"memory_read":   true,
	"memory_list":   true,
}

// BuiltinDefinitions returns the fixed catalog of builtin tool entries
// (§6 builtin category table), seeded disabled by NewToolRegistry.
func BuiltinDefinitions() []entity.ToolDefinition {
	names := []string{
		"read_file", "list_dir", "write_file", "delete_file", "move_file",
		"browse_web",
		"exec_shell", "exec_shell_bg", "process_poll", "process_write", "process_kill", "process_list",
		"memory_read", "memory_write", "memory_list", "memory_delete",
		"apply_patch",
	}
	defs := make([]entity.ToolDefinition, 0, len(names))
	for _, name := range names {
		schema, _ := builtinSchemas[name]
		defs = append(defs, entity.ToolDefinition{
			Name:        name,
			Description: schema.Description,
			Dangerous:   !builtinSafeActions[name],
		})
	}
	return defs
}
