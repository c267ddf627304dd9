package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/safeclaw/safeclaw/internal/domain/service"
)

const shellForegroundTimeout = 60 * time.Second

// Shell implements exec_shell (synchronous) and the exec_shell_bg/
// process_poll/process_write/process_kill/process_list family, the
// latter delegated to a ProcessRegistry (§6), grounded on the teacher's
// sandbox.ProcessSandbox.Execute foreground-command pattern.
type Shell struct {
	workDir   string
	processes *service.ProcessRegistry
}

// NewShell creates a Shell rooted at workDir, backed by processes for
// background sessions.
func NewShell(workDir string, processes *service.ProcessRegistry) *Shell {
	return &Shell{workDir: workDir, processes: processes}
}

// ExecShell runs a command to completion with a fixed timeout, merging
// stdout/stderr.
func (s *Shell) ExecShell(ctx context.Context, input map[string]interface{}) (string, error) {
	command, err := stringArg(input, "command")
	if err != nil {
		return "", err
	}

	execCtx, cancel := context.WithTimeout(ctx, shellForegroundTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", command)
	cmd.Dir = s.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("command timed out after %s", shellForegroundTimeout)
	}

	result := out.String()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result += fmt.Sprintf("\n--- exit code: %d ---", exitErr.ExitCode())
			return result, nil
		}
		return result, fmt.Errorf("exec: %w", runErr)
	}
	return result, nil
}

// ExecShellBg spawns a long-running command in a background process
// session and returns its id.
func (s *Shell) ExecShellBg(input map[string]interface{}) (string, error) {
	command, err := stringArg(input, "command")
	if err != nil {
		return "", err
	}
	id, err := s.processes.Spawn(command, s.workDir)
	if err != nil {
		return "", fmt.Errorf("spawn: %w", err)
	}
	return fmt.Sprintf("spawned background process %s", id), nil
}

func (s *Shell) ProcessPoll(input map[string]interface{}) (string, error) {
	id, err := stringArg(input, "session_id")
	if err != nil {
		return "", err
	}
	return s.processes.Poll(id)
}

func (s *Shell) ProcessWrite(input map[string]interface{}) (string, error) {
	id, err := stringArg(input, "session_id")
	if err != nil {
		return "", err
	}
	text, _ := input["input"].(string)
	return s.processes.Write(id, text)
}

func (s *Shell) ProcessKill(input map[string]interface{}) (string, error) {
	id, err := stringArg(input, "session_id")
	if err != nil {
		return "", err
	}
	return s.processes.Kill(id)
}

func (s *Shell) ProcessList(map[string]interface{}) (string, error) {
	return s.processes.List(), nil
}
