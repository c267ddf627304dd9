package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// command is one parsed owner slash-command (§6 command surface).
type command struct {
	Name    string
	Args    []string
	RawArgs string
	ChatID  int64
}

// commandHandler executes one command and returns the reply text.
type commandHandler func(ctx context.Context, cmd *command) (string, error)

// CommandRegistry maps command names to handlers. Grounded on the
// teacher's CommandRegistry, reduced to a plain map since SafeClaw has
// no per-chat session manager to thread through each handler.
type CommandRegistry struct {
	handlers map[string]commandHandler
}

func newCommandRegistry(a *Adapter) *CommandRegistry {
	r := &CommandRegistry{handlers: make(map[string]commandHandler)}

	r.handlers["wake"] = a.cmdWake
	r.handlers["sleep"] = a.cmdSleep
	r.handlers["kill"] = a.cmdKill
	r.handlers["status"] = a.cmdStatus
	r.handlers["tools"] = a.cmdTools
	r.handlers["enable"] = a.cmdEnable
	r.handlers["disable"] = a.cmdDisable
	r.handlers["confirm"] = a.cmdConfirm
	r.handlers["deny"] = a.cmdDeny
	r.handlers["auth"] = a.cmdAuth
	r.handlers["model"] = a.cmdModel
	r.handlers["audit"] = a.cmdAudit
	r.handlers["skills"] = a.cmdSkills
	r.handlers["help"] = a.cmdHelp

	return r
}

func (r *CommandRegistry) handle(ctx context.Context, cmd *command) (string, bool, error) {
	h, ok := r.handlers[strings.ToLower(cmd.Name)]
	if !ok {
		return "", false, nil
	}
	reply, err := h(ctx, cmd)
	return reply, true, err
}

// parseCommand recognizes "/name arg1 arg2" text, stripping the
// "@botname" suffix Telegram appends in group chats (harmless here
// since only the owner's DM is ever processed, but cheap to keep for
// parity with the teacher's parser).
func parseCommand(text string) *command {
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.SplitN(text[1:], " ", 2)
	name := parts[0]
	if idx := strings.Index(name, "@"); idx != -1 {
		name = name[:idx]
	}
	cmd := &command{Name: name}
	if len(parts) > 1 {
		cmd.RawArgs = strings.TrimSpace(parts[1])
		cmd.Args = strings.Fields(cmd.RawArgs)
	}
	return cmd
}

// --- lifecycle (§4.6, §6) ---

func (a *Adapter) cmdWake(ctx context.Context, _ *command) (string, error) {
	if err := a.gateway.Wake(ctx); err != nil {
		return "", err
	}
	return "awake.", nil
}

func (a *Adapter) cmdSleep(ctx context.Context, _ *command) (string, error) {
	if err := a.gateway.Sleep(ctx); err != nil {
		return "", err
	}
	return "asleep.", nil
}

func (a *Adapter) cmdKill(ctx context.Context, _ *command) (string, error) {
	if err := a.gateway.Kill(ctx); err != nil {
		return "", err
	}
	return "shutting down.", nil
}

func (a *Adapter) cmdStatus(_ context.Context, _ *command) (string, error) {
	return a.gateway.Status(), nil
}

// --- tools (§4.2, §6) ---

func (a *Adapter) cmdTools(_ context.Context, _ *command) (string, error) {
	defs := a.gateway.Tools()
	if len(defs) == 0 {
		return "no tools registered.", nil
	}
	var b strings.Builder
	for _, d := range defs {
		status := "disabled"
		if d.Status == entity.StatusEnabled {
			status = "enabled"
		}
		danger := ""
		if d.Dangerous {
			danger = " [dangerous]"
		}
		fmt.Fprintf(&b, "%s (%s, %s)%s\n", d.Name, d.Provenance, status, danger)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func (a *Adapter) cmdEnable(_ context.Context, cmd *command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", fmt.Errorf("usage: /enable <name>")
	}
	return a.gateway.EnableTool(cmd.Args[0])
}

func (a *Adapter) cmdDisable(_ context.Context, cmd *command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", fmt.Errorf("usage: /disable <name>")
	}
	return a.gateway.DisableTool(cmd.Args[0])
}

// --- permissions (§4.7 steps 7-8, §6) ---

func (a *Adapter) cmdConfirm(ctx context.Context, cmd *command) (string, error) {
	switch {
	case len(cmd.Args) == 0:
		pending := a.gateway.PendingApprovals()
		switch len(pending) {
		case 0:
			return "", fmt.Errorf("no pending approvals to confirm")
		case 1:
			return a.gateway.Confirm(ctx, pending[0].ApprovalID)
		default:
			return "", fmt.Errorf("usage: /confirm <id> | /confirm all <batchId> (%d tickets pending)", len(pending))
		}
	case cmd.Args[0] == "all":
		if len(cmd.Args) != 2 {
			return "", fmt.Errorf("usage: /confirm all <batchId>")
		}
		return a.gateway.ConfirmBatch(ctx, cmd.Args[1])
	default:
		return a.gateway.Confirm(ctx, cmd.Args[0])
	}
}

func (a *Adapter) cmdDeny(_ context.Context, cmd *command) (string, error) {
	switch {
	case len(cmd.Args) == 0:
		return "", fmt.Errorf("usage: /deny <id> | /deny all <batchId>")
	case cmd.Args[0] == "all":
		if len(cmd.Args) != 2 {
			return "", fmt.Errorf("usage: /deny all <batchId>")
		}
		return a.gateway.DenyBatch(cmd.Args[1])
	default:
		return a.gateway.Deny(cmd.Args[0])
	}
}

// --- auth and model (§6) ---

func (a *Adapter) cmdAuth(_ context.Context, cmd *command) (string, error) {
	if len(cmd.Args) == 0 {
		return "", fmt.Errorf("usage: /auth <provider> <key> | /auth status | /auth remove <provider>")
	}
	switch cmd.Args[0] {
	case "status":
		return a.gateway.AuthStatus(), nil
	case "remove":
		if len(cmd.Args) != 2 {
			return "", fmt.Errorf("usage: /auth remove <provider>")
		}
		if err := a.gateway.RemoveCredential(cmd.Args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("removed credential for %q", cmd.Args[1]), nil
	default:
		if len(cmd.Args) < 2 {
			return "", fmt.Errorf("usage: /auth <provider> <key> [base_url]")
		}
		cred := entity.Credential{Provider: cmd.Args[0], APIKey: cmd.Args[1]}
		if len(cmd.Args) > 2 {
			cred.BaseURL = cmd.Args[2]
		}
		a.gateway.SetCredential(cred, true)
		return fmt.Sprintf("credential stored for %q and made active", cred.Provider), nil
	}
}

func (a *Adapter) cmdModel(_ context.Context, cmd *command) (string, error) {
	if len(cmd.Args) == 0 || cmd.Args[0] == "list" {
		return a.gateway.AuthStatus(), nil
	}
	a.gateway.SetModel(cmd.Args[0])
	return fmt.Sprintf("active model set to %q", cmd.Args[0]), nil
}

// --- info (§6) ---

// cmdAudit implements "/audit [n] [type]" and the distinct "/audit
// verbose [on|off]" form (§6): verbose prints each event's full details
// map instead of just its type, and is recognized before the generic
// n/type token scan so it is never mistaken for an event-type filter.
func (a *Adapter) cmdAudit(_ context.Context, cmd *command) (string, error) {
	n := 20
	eventType := ""
	verbose := false

	args := cmd.Args
	for i := 0; i < len(args); i++ {
		if strings.EqualFold(args[i], "verbose") {
			verbose = true
			if i+1 < len(args) && (strings.EqualFold(args[i+1], "on") || strings.EqualFold(args[i+1], "off")) {
				verbose = strings.EqualFold(args[i+1], "on")
				i++
			}
			continue
		}
		if v, err := strconv.Atoi(args[i]); err == nil {
			n = v
			continue
		}
		eventType = args[i]
	}

	events, err := a.gateway.Audit(n, eventType)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "no matching audit events.", nil
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "%s  %s", e.Timestamp.Format("2006-01-02T15:04:05"), e.Type)
		if verbose && len(e.Details) > 0 {
			fmt.Fprintf(&b, "  %v", e.Details)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func (a *Adapter) cmdSkills(_ context.Context, _ *command) (string, error) {
	names := a.gateway.Skills()
	if len(names) == 0 {
		return "no skills installed.", nil
	}
	return strings.Join(names, "\n"), nil
}

func (a *Adapter) cmdHelp(_ context.Context, _ *command) (string, error) {
	return strings.Join([]string{
		"/wake, /sleep, /kill — lifecycle",
		"/status — current state",
		"/tools, /enable <name>, /disable <name> — tool catalog",
		"/confirm | /confirm <id> | /confirm all <batchId> — approve pending calls (bare form confirms the lone pending ticket)",
		"/deny <id> | /deny all <batchId> — deny pending calls",
		"/auth <provider> <key> [base_url], /auth status, /auth remove <provider>",
		"/model <name> | /model list — active model",
		"/audit [n] [type] | /audit verbose [on|off] — recent audit events",
		"/skills — installed dynamic skills",
	}, "\n"), nil
}
