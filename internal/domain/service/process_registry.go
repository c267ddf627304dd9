package service

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// outputBufferCeiling bounds a process session's buffered output; on
// overflow the buffer keeps only its tail (§4.3).
const outputBufferCeiling = 64 * 1024

// sweepTTL is how long a dead session is kept around before the sweeper
// reclaims it (§4.3 "sessions with diedAt + TTL < now are swept").
const sweepTTL = 10 * time.Minute

// processHandle is the live, unexported counterpart to entity.ProcessSession.
type processHandle struct {
	entity.ProcessSession
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	buf    bytes.Buffer
	mu     sync.Mutex
	exited chan struct{}
}

// ProcessRegistry spawns and tracks background shell sessions (§4.3),
// grounded on the teacher's sandbox.ProcessSandbox.ExecuteShell, but
// generalized from one-shot synchronous execution to many concurrent
// named long-running sessions with buffered output and TTL sweeping.
type ProcessRegistry struct {
	mu       sync.Mutex
	sessions map[string]*processHandle
	logger   *zap.Logger
	stopSweep chan struct{}
}

// NewProcessRegistry creates a registry and starts its background sweeper.
func NewProcessRegistry(logger *zap.Logger) *ProcessRegistry {
	r := &ProcessRegistry{
		sessions:  make(map[string]*processHandle),
		logger:    logger,
		stopSweep: make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

func (r *ProcessRegistry) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopSweep:
			return
		}
	}
}

func (r *ProcessRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, h := range r.sessions {
		if h.DiedAt != nil && now.Sub(*h.DiedAt) > sweepTTL {
			delete(r.sessions, id)
			r.logger.Debug("process session swept", zap.String("id", id))
		}
	}
}

// Spawn starts a background shell command, merging stdout/stderr into a
// bounded per-session buffer.
func (r *ProcessRegistry) Spawn(command, cwd string) (string, error) {
	id := uuid.NewString()[:12]

	cmd := exec.Command("bash", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &processHandle{
		ProcessSession: entity.ProcessSession{ID: id, Command: command, StartedAt: time.Now()},
		cmd:            cmd,
		exited:         make(chan struct{}),
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout // merge, as spec requires "stdout and stderr merge"
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	h.stdin = stdin

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start process: %w", err)
	}

	go h.drain(stdout)
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		now := time.Now()
		h.DiedAt = &now
		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		h.ExitCode = &code
		h.mu.Unlock()
		close(h.exited)
	}()

	r.mu.Lock()
	r.sessions[id] = h
	r.mu.Unlock()

	r.logger.Info("process session spawned", zap.String("id", id), zap.String("command", command))
	return id, nil
}

func (h *processHandle) drain(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.mu.Lock()
			h.buf.Write(buf[:n])
			if h.buf.Len() > outputBufferCeiling {
				tail := h.buf.Bytes()
				tail = tail[len(tail)-outputBufferCeiling:]
				h.buf.Reset()
				h.buf.Write(tail)
			}
			h.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (r *ProcessRegistry) get(id string) (*processHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	return h, ok
}

// Poll returns accumulated output plus a status line, non-destructively.
func (r *ProcessRegistry) Poll(id string) (string, error) {
	h, ok := r.get(id)
	if !ok {
		return "", fmt.Errorf("process session %s not found", id)
	}
	h.mu.Lock()
	out := h.buf.String()
	dead := h.DiedAt != nil
	code := 0
	if h.ExitCode != nil {
		code = *h.ExitCode
	}
	h.mu.Unlock()

	status := "running"
	if dead {
		status = fmt.Sprintf("exited(%d)", code)
	}
	return fmt.Sprintf("%s\n--- status: %s ---", out, status), nil
}

// Write appends a newline if missing and sends input to the process's
// stdin; fails if the process has already exited.
func (r *ProcessRegistry) Write(id, input string) (string, error) {
	h, ok := r.get(id)
	if !ok {
		return "", fmt.Errorf("process session %s not found", id)
	}
	h.mu.Lock()
	dead := h.DiedAt != nil
	h.mu.Unlock()
	if dead {
		return "", fmt.Errorf("process session %s has already exited", id)
	}
	if !strings.HasSuffix(input, "\n") {
		input += "\n"
	}
	if _, err := h.stdin.Write([]byte(input)); err != nil {
		return "", fmt.Errorf("write to process: %w", err)
	}
	return "input sent", nil
}

// Kill sends a cooperative termination signal; fails if already exited.
func (r *ProcessRegistry) Kill(id string) (string, error) {
	h, ok := r.get(id)
	if !ok {
		return "", fmt.Errorf("process session %s not found", id)
	}
	h.mu.Lock()
	dead := h.DiedAt != nil
	pgid := h.cmd.Process.Pid
	h.mu.Unlock()
	if dead {
		return "", fmt.Errorf("process session %s has already exited", id)
	}
	// Negative pid targets the process group created by Setpgid.
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return "", fmt.Errorf("kill process: %w", err)
	}
	return "termination signal sent", nil
}

// List renders a human-readable table of all known sessions.
func (r *ProcessRegistry) List() string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	if len(ids) == 0 {
		return "No background processes."
	}

	var b strings.Builder
	for _, id := range ids {
		h, ok := r.get(id)
		if !ok {
			continue
		}
		h.mu.Lock()
		status := "running"
		if h.DiedAt != nil {
			code := 0
			if h.ExitCode != nil {
				code = *h.ExitCode
			}
			status = fmt.Sprintf("exited(%d) %s ago", code, humanize.Time(*h.DiedAt))
		}
		age := humanize.Time(h.StartedAt)
		cmd := h.Command
		h.mu.Unlock()
		fmt.Fprintf(&b, "%s  %-10s  started %s  %s\n", id, status, age, truncate(cmd, 60))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Dispose cooperatively terminates every running session, then forgets
// them all. Idempotent.
func (r *ProcessRegistry) Dispose() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		h, ok := r.get(id)
		if !ok {
			continue
		}
		h.mu.Lock()
		dead := h.DiedAt != nil
		h.mu.Unlock()
		if !dead {
			_, _ = r.Kill(id)
		}
	}

	r.mu.Lock()
	r.sessions = make(map[string]*processHandle)
	r.mu.Unlock()
}

// Shutdown stops the background sweeper. Safe to call once at process exit.
func (r *ProcessRegistry) Shutdown() {
	select {
	case <-r.stopSweep:
	default:
		close(r.stopSweep)
	}
}
