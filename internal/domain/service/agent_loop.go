package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// AgentLoopConfig holds the tunables for one Gateway's ReAct loop (§4.7),
// grounded on the teacher's AgentLoopConfig but trimmed to what SafeClaw's
// single-owner, token-budget-free design actually uses — no MaxSteps /
// RunTimeout / parallel-tool-execution knobs, since §5 specifies strictly
// ordered, single-threaded dispatch.
type AgentLoopConfig struct {
	CompactionThreshold int // estimateTokens() trigger for auto-compaction
	CompactionBatch     int // number of oldest messages folded into one summary
	MaxLoopDepth        int // ceiling on provider re-entries within one owner turn
	ToolResultCeiling   int // per-result truncation cap, in characters
	Temperature         float64
}

// DefaultAgentLoopConfig returns the defaults SafeClaw ships with.
func DefaultAgentLoopConfig() AgentLoopConfig {
	return AgentLoopConfig{
		CompactionThreshold: 3000,
		CompactionBatch:     20,
		MaxLoopDepth:        12,
		ToolResultCeiling:   4000,
		Temperature:         0.7,
	}
}

// ToolExecutor performs the actual work for a resolved builtin tool call.
// Implementations live in the infrastructure layer (filesystem, shell,
// browser, memory, patch); the loop never inspects execution internals,
// mirroring how it never inspects Provider internals (§4.5).
type ToolExecutor interface {
	Execute(ctx context.Context, resolved ResolvedTool, input map[string]interface{}) (string, error)
	// BuiltinSchema returns the static schema for a builtin tool name.
	BuiltinSchema(name string) (ToolSchema, bool)
}

// PathResolver resolves a user-supplied path against the workspace
// sandbox, rejecting traversals and symlink escapes (§6 Path sandbox).
// The resolved absolute path is what SecretGuard inspects.
type PathResolver interface {
	ResolvePath(raw string) (string, error)
}

// SkillInstaller persists, loads, and validates an approved dynamic skill
// (§4.8 step 5).
type SkillInstaller interface {
	Install(ctx context.Context, name, code string) (entity.ToolDefinition, error)
}

// RemoteDispatcher routes an mcp__<server>__<tool> call to its MCP
// collaborator (§6 MCP interface: dispatched by serverName/originalTool).
type RemoteDispatcher interface {
	Call(ctx context.Context, server, tool string, args map[string]interface{}) (string, error)
}

// Auditor appends one event to the audit log. The concrete implementation
// (infrastructure/audit) is WAL-backed; the loop only needs fire-and-forget
// append semantics.
type Auditor interface {
	Append(eventType string, details map[string]interface{})
}

// requestCapabilitySchema is always prepended to the tool schema list
// (§4.7 step 3, §4.8).
var requestCapabilitySchema = ToolSchema{
	Name:        "request_capability",
	Description: "Propose a new tool (a \"skill\") for the owner to review and install.",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"skill_name":          map[string]interface{}{"type": "string"},
			"skill_description":   map[string]interface{}{"type": "string"},
			"reason":              map[string]interface{}{"type": "string"},
			"dangerous":           map[string]interface{}{"type": "boolean"},
			"parameters_schema":   map[string]interface{}{"type": "object"},
			"implementation_code": map[string]interface{}{"type": "string"},
		},
		"required": []string{"skill_name", "implementation_code"},
	},
}

// AgentLoop implements the ReAct turn/dispatch/suspend/continue contract
// of §4.7, grounded on the teacher's AgentLoop but restructured around
// explicit safe/dangerous tool-call splitting instead of a doom-loop
// heuristic — SafeClaw's danger model is declarative (the tool
// definition), not behavioral.
type AgentLoop struct {
	provider Provider
	tools    *ToolRegistry
	approvals *ApprovalStore
	sm       *StateMachine
	executor ToolExecutor
	paths    PathResolver
	guard    *SecretGuard
	skills   SkillInstaller
	remote   RemoteDispatcher
	audit    Auditor
	config   AgentLoopConfig
	logger   *zap.Logger
}

// NewAgentLoop wires the loop against its collaborators. paths, skills,
// and remote may be nil during early bring-up; every call site nil-checks
// before use.
func NewAgentLoop(
	provider Provider,
	tools *ToolRegistry,
	approvals *ApprovalStore,
	sm *StateMachine,
	executor ToolExecutor,
	paths PathResolver,
	guard *SecretGuard,
	skills SkillInstaller,
	remote RemoteDispatcher,
	audit Auditor,
	config AgentLoopConfig,
	logger *zap.Logger,
) *AgentLoop {
	if config.CompactionThreshold <= 0 {
		config.CompactionThreshold = 3000
	}
	if config.CompactionBatch <= 0 {
		config.CompactionBatch = 20
	}
	if config.MaxLoopDepth <= 0 {
		config.MaxLoopDepth = 12
	}
	if config.ToolResultCeiling <= 0 {
		config.ToolResultCeiling = 4000
	}
	return &AgentLoop{
		provider: provider, tools: tools, approvals: approvals, sm: sm,
		executor: executor, paths: paths, guard: guard, skills: skills,
		remote: remote, audit: audit, config: config, logger: logger,
	}
}

// Run starts a new owner turn: appends the owner's message to Session and
// drives turns until the provider stops calling tools, a dangerous call
// suspends the run, or the loop depth ceiling is hit (§4.7 steps 1-6).
func (a *AgentLoop) Run(ctx context.Context, session *entity.Session, model, ownerText string) (string, error) {
	session.Append(entity.Message{Role: entity.RoleUser, Content: ownerText})
	session.Touch()
	return a.runTurns(ctx, session, model, 0)
}

func (a *AgentLoop) runTurns(ctx context.Context, session *entity.Session, model string, depth int) (string, error) {
	if depth >= a.config.MaxLoopDepth {
		if text := lastAssistantText(session); text != "" {
			return text, nil
		}
		return "turn limit reached", nil
	}

	notice := ""
	if a.maybeCompact(ctx, session, model) {
		notice = "Conversation summarized to stay within context. "
	}

	schemas := a.buildSchemas()
	resp, err := CallWithRetry(ctx, a.logger, func(ctx context.Context) (*LLMResponse, error) {
		return a.provider.Complete(ctx, LLMRequest{
			Model:       model,
			Messages:    toLLMMessages(session),
			Tools:       schemas,
			Temperature: a.config.Temperature,
		})
	})
	if err != nil {
		return "", err
	}

	session.Append(entity.Message{Role: entity.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

	if len(resp.ToolCalls) == 0 {
		return notice + resp.Content, nil
	}

	reply, loopBack, err := a.dispatchTurn(ctx, session, resp.ToolCalls)
	if err != nil {
		return "", err
	}
	if !loopBack {
		return notice + reply, nil
	}

	next, err := a.runTurns(ctx, session, model, depth+1)
	if err != nil {
		return "", err
	}
	return notice + next, nil
}

// dispatchTurn processes one assistant turn's tool calls in order (§4.7
// step 6). It returns (reply, loopBack, err): loopBack is true only when
// every call in the turn was safe, meaning the loop should re-enter the
// provider; it is false the moment any call is dangerous or a skill
// proposal, since those suspend the run until an owner decision arrives.
func (a *AgentLoop) dispatchTurn(ctx context.Context, session *entity.Session, calls []entity.ToolCallInfo) (string, bool, error) {
	dangerousCount := 0
	for _, call := range calls {
		if call.Name == "request_capability" || a.classifyDangerous(call.Name) {
			dangerousCount++
		}
	}
	batchID := ""
	if dangerousCount > 1 {
		batchID = uuid.NewString()
	}

	var created []*entity.PermissionRequest
	var replyParts []string

	for _, call := range calls {
		if call.Name == "request_capability" {
			if req := a.proposeSkill(session, call, batchID); req != nil {
				created = append(created, req)
			}
			continue
		}

		def, known := a.tools.Get(call.Name)
		if !known || !a.tools.IsEnabled(call.Name) {
			a.appendToolResult(session, call, "tool not enabled")
			continue
		}

		resolved := resolveToolCall(call.Name)
		if a.isDangerousDef(def, resolved) {
			req := a.approvals.Create(call.Name, resolved.Action, entity.PermissionDetails{
				Description: describeAction(call.Name, call.Input),
			}, batchID)
			session.AddPending(entity.PendingToolCall{
				ApprovalID: req.ApprovalID, ToolCallID: call.ID, ToolName: call.Name, Input: call.Input,
			})
			a.audit.Append(entity.AuditApprovalCreated, map[string]interface{}{"tool": call.Name, "approval_id": req.ApprovalID})
			created = append(created, req)
			continue
		}

		a.runToolAndAppend(ctx, session, def, resolved, call)
	}

	if len(created) == 0 {
		return "", true, nil
	}

	if err := a.sm.Transition(StateActionPending); err != nil {
		a.logger.Warn("state transition on dangerous dispatch failed", zap.Error(err))
	}
	if batchID != "" {
		replyParts = append(replyParts, a.approvals.FormatBatchRequest(batchID, created))
	} else {
		for _, req := range created {
			replyParts = append(replyParts, a.approvals.FormatPendingRequest(req))
		}
	}
	return strings.Join(replyParts, "\n\n"), false, nil
}

// classifyDangerous reports the builtin per-action classification (§6
// safe-actions table) for a bare tool name, used only for the up-front
// batchId sizing pass — the authoritative check is isDangerousDef, which
// also covers remote/dynamic tools.
func (a *AgentLoop) classifyDangerous(name string) bool {
	def, ok := a.tools.Get(name)
	if !ok {
		return true
	}
	return a.isDangerousDef(def, resolveToolCall(name))
}

// isDangerousDef classifies a known tool definition as safe or dangerous
// (§4.7 step 6): builtins use the fixed per-action table; remote and
// dynamic tools carry their own Dangerous flag.
func (a *AgentLoop) isDangerousDef(def entity.ToolDefinition, resolved ResolvedTool) bool {
	if def.Provenance == entity.ProvenanceBuiltin {
		return !isSafeAction(resolved.Action)
	}
	return def.Dangerous
}

// runToolAndAppend executes one safe tool call — consulting SecretGuard
// first, truncating and redacting the result, auditing it, and appending
// the tool-result message to Session — and returns the result text. def
// carries the non-lossy remote/dynamic provenance dispatchExecute needs;
// it is the same ToolDefinition already looked up by the caller.
func (a *AgentLoop) runToolAndAppend(ctx context.Context, session *entity.Session, def entity.ToolDefinition, resolved ResolvedTool, call entity.ToolCallInfo) string {
	if denial := a.checkGuard(resolved, call.Input); denial != "" {
		a.audit.Append(entity.AuditToolDenied, map[string]interface{}{"tool": call.Name, "reason": denial})
		a.appendToolResult(session, call, denial)
		return denial
	}

	result, err := a.dispatchExecute(ctx, def, resolved, call)
	if err != nil {
		result = fmt.Sprintf("tool error: %v", err)
	}

	result = truncateResult(result, a.config.ToolResultCeiling)
	if resolved.Category == "shell" && a.guard != nil {
		result = a.guard.RedactOutput(result)
	}

	a.audit.Append(entity.AuditToolExecuted, map[string]interface{}{"tool": call.Name})
	a.appendToolResult(session, call, result)
	return result
}

// dispatchExecute routes to the builtin executor or the MCP collaborator
// depending on provenance; skills execute through the same builtin
// executor path once installed and registered. Remote calls dispatch on
// def.RemoteServer/RemoteOriginalName rather than resolved.Server/Tool:
// the latter are recovered from the LLM-visible qualified name, which
// QualifyMCPName sanitizes to [a-zA-Z0-9_] and is therefore lossy for any
// server or tool name containing other characters (e.g. a hyphen).
func (a *AgentLoop) dispatchExecute(ctx context.Context, def entity.ToolDefinition, resolved ResolvedTool, call entity.ToolCallInfo) (string, error) {
	if resolved.Action == "mcp_call" {
		if a.remote == nil {
			return "", fmt.Errorf("remote tool dispatcher unavailable")
		}
		return a.remote.Call(ctx, def.RemoteServer, def.RemoteOriginalName, call.Input)
	}
	if a.executor == nil {
		return "", fmt.Errorf("tool executor unavailable")
	}
	return a.executor.Execute(ctx, resolved, call.Input)
}

// checkGuard consults SecretGuard for filesystem paths and shell commands
// before execution (§4.7 step 6 safe path, §6 SecretGuard denylist). No
// filesystem or process call is made for a denied input.
func (a *AgentLoop) checkGuard(resolved ResolvedTool, input map[string]interface{}) string {
	if a.guard == nil {
		return ""
	}
	switch resolved.Category {
	case "filesystem":
		raw, _ := input["path"].(string)
		resolvedPath := raw
		if a.paths != nil {
			rp, err := a.paths.ResolvePath(raw)
			if err != nil {
				return "refused: " + err.Error()
			}
			resolvedPath = rp
		}
		return a.guard.CheckPath(resolvedPath)
	case "shell":
		cmd, _ := input["command"].(string)
		if cmd == "" {
			return ""
		}
		return a.guard.CheckShellCommand(cmd)
	default:
		return ""
	}
}

// proposeSkill handles request_capability (§4.8 steps 1-4): sanitize,
// reject empty/duplicate, create the skill_install approval, record the
// pending mapping, and suspend the run.
func (a *AgentLoop) proposeSkill(session *entity.Session, call entity.ToolCallInfo, batchID string) *entity.PermissionRequest {
	rawName, _ := call.Input["skill_name"].(string)
	code, _ := call.Input["implementation_code"].(string)
	desc, _ := call.Input["skill_description"].(string)
	reason, _ := call.Input["reason"].(string)
	dangerous, _ := call.Input["dangerous"].(bool)

	name := sanitizeSkillName(rawName)
	if name == "" || code == "" {
		a.appendToolResult(session, call, "skill proposal rejected: name or implementation_code empty")
		return nil
	}
	if _, exists := a.tools.Get(QualifySkillName(name)); exists {
		a.appendToolResult(session, call, fmt.Sprintf("skill proposal rejected: %q is already installed", name))
		return nil
	}

	dangerHint := "safe"
	if dangerous {
		dangerHint = "DANGEROUS"
	}
	preview := code
	if len(preview) > 400 {
		preview = preview[:400] + "...[truncated]"
	}
	description := fmt.Sprintf("%s\nReason: %s\nDanger: %s\nCode preview:\n%s", desc, reason, dangerHint, preview)

	req := a.approvals.Create("skill_forge", "skill_install", entity.PermissionDetails{
		Description: description,
		Target:      name,
		Content:     code,
	}, batchID)
	session.AddPending(entity.PendingToolCall{
		ApprovalID: req.ApprovalID, ToolCallID: call.ID, ToolName: "skill_forge", Input: call.Input,
	})
	a.audit.Append(entity.AuditApprovalCreated, map[string]interface{}{"tool": "skill_forge", "approval_id": req.ApprovalID, "skill": name})
	return req
}

// ExecuteApproved runs one approved pending tool call after /confirm
// resolves its ticket (§4.7 step 7, §4.8 step 5). It looks up the pending
// mapping by approvalId, dispatches, and writes the tool-result into
// Session with the matching tool-call id.
func (a *AgentLoop) ExecuteApproved(ctx context.Context, session *entity.Session, req *entity.PermissionRequest) string {
	pending, ok := session.TakePending(req.ApprovalID)
	if !ok {
		return "no pending tool call for this approval"
	}

	if pending.ToolName == "skill_forge" {
		return a.installApprovedSkill(ctx, session, pending)
	}

	def, _ := a.tools.Get(pending.ToolName)
	resolved := resolveToolCall(pending.ToolName)
	call := entity.ToolCallInfo{ID: pending.ToolCallID, Name: pending.ToolName, Input: pending.Input}
	return a.runToolAndAppend(ctx, session, def, resolved, call)
}

func (a *AgentLoop) installApprovedSkill(ctx context.Context, session *entity.Session, pending entity.PendingToolCall) string {
	name := sanitizeSkillName(fmt.Sprint(pending.Input["skill_name"]))
	code, _ := pending.Input["implementation_code"].(string)

	var result string
	if a.skills == nil {
		result = "skill install unavailable: no installer configured"
	} else {
		def, err := a.skills.Install(ctx, name, code)
		if err != nil {
			result = fmt.Sprintf("skill install failed: %v", err)
		} else {
			a.tools.RegisterDynamic(def, true)
			a.audit.Append(entity.AuditSkillInstalled, map[string]interface{}{"skill": name})
			result = fmt.Sprintf("skill %q installed and enabled", name)
		}
	}

	call := entity.ToolCallInfo{ID: pending.ToolCallID, Name: "request_capability", Input: pending.Input}
	a.appendToolResult(session, call, result)
	return result
}

// ContinueAfterApproval drives §4.7 step 7 for a resolved batch: execute
// every approved ticket, then call the provider once more. Denied tickets
// contribute no tool-result and are not re-submitted.
func (a *AgentLoop) ContinueAfterApproval(ctx context.Context, session *entity.Session, model string, resolved []*entity.PermissionRequest) (string, error) {
	for _, req := range resolved {
		if req.Decision != nil && req.Decision.Approved {
			a.ExecuteApproved(ctx, session, req)
		}
	}
	if err := a.sm.Transition(StateAwake); err != nil {
		a.logger.Warn("state transition back to awake failed", zap.Error(err))
	}
	reply, err := a.runTurns(ctx, session, model, 0)
	if err != nil {
		return "", err
	}
	return "Approved. " + reply, nil
}

// FormatDenial renders a short acknowledgment for a resolved denial batch
// (§4.7 step 8). No tool-results are fed back to the provider.
func FormatDenial(resolved []*entity.PermissionRequest) string {
	if len(resolved) == 1 {
		return fmt.Sprintf("Denied %s (%s).", resolved[0].ToolName, resolved[0].ApprovalID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Denied %d actions:\n", len(resolved))
	for _, req := range resolved {
		fmt.Fprintf(&b, "  - %s (%s)\n", req.ToolName, req.ApprovalID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// maybeCompact implements §4.7 step 4. A failed summarizer call is
// skipped silently; a successful one replaces the oldest N messages with
// a single synthetic system message and signals the caller to prepend a
// one-line notice to the final reply.
func (a *AgentLoop) maybeCompact(ctx context.Context, session *entity.Session, model string) bool {
	if session.EstimateTokens() < a.config.CompactionThreshold {
		return false
	}
	n := a.config.CompactionBatch
	if n > len(session.Messages) {
		n = len(session.Messages)
	}
	if n == 0 {
		return false
	}

	var excerpt strings.Builder
	for _, m := range session.Messages[:n] {
		fmt.Fprintf(&excerpt, "[%s] %s\n", m.Role, m.Content)
	}

	resp, err := a.provider.Complete(ctx, LLMRequest{
		Model: model,
		Messages: []LLMMessage{
			{Role: entity.RoleSystem, Content: "Summarize the following conversation excerpt concisely, preserving facts and decisions relevant to continuing it."},
			{Role: entity.RoleUser, Content: excerpt.String()},
		},
		Temperature: 0.2,
	})
	if err != nil {
		a.logger.Warn("compaction summarizer call failed, skipping compaction", zap.Error(err))
		return false
	}

	summary := entity.Message{
		Role:    entity.RoleSystem,
		Content: fmt.Sprintf("[Conversation summary — %d messages compacted]\n\n%s", n, resp.Content),
	}
	rest := make([]entity.Message, 0, len(session.Messages)-n+1)
	rest = append(rest, summary)
	rest = append(rest, session.Messages[n:]...)
	session.Messages = rest
	return true
}

func (a *AgentLoop) buildSchemas() []ToolSchema {
	defs := a.tools.GetEnabled()
	out := make([]ToolSchema, 0, len(defs)+1)
	for _, def := range defs {
		switch def.Provenance {
		case entity.ProvenanceBuiltin:
			if a.executor != nil {
				if schema, ok := a.executor.BuiltinSchema(def.Name); ok {
					out = append(out, schema)
				}
			}
		case entity.ProvenanceRemote:
			out = append(out, ToolSchema{Name: def.Name, Description: def.Description, Parameters: def.RemoteSchema})
		case entity.ProvenanceDynamic:
			out = append(out, ToolSchema{Name: def.Name, Description: def.Description, Parameters: def.SkillParameters})
		}
	}
	out = append(out, requestCapabilitySchema)
	return out
}

func (a *AgentLoop) appendToolResult(session *entity.Session, call entity.ToolCallInfo, content string) {
	session.Append(entity.Message{
		Role:       entity.RoleToolResult,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	})
}

func toLLMMessages(session *entity.Session) []LLMMessage {
	out := make([]LLMMessage, 0, len(session.Messages))
	for _, m := range session.Messages {
		out = append(out, LLMMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		})
	}
	return out
}

func lastAssistantText(session *entity.Session) string {
	for i := len(session.Messages) - 1; i >= 0; i-- {
		m := session.Messages[i]
		if m.Role == entity.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

// truncateResult caps a tool result at ceiling characters, appending a
// marker that names the ceiling (§4.7 edge cases).
func truncateResult(s string, ceiling int) string {
	if len(s) <= ceiling {
		return s
	}
	return s[:ceiling] + fmt.Sprintf("...[truncated, ceiling=%d chars]", ceiling)
}

// sanitizeSkillName lowercases and strips everything but [a-z0-9_] (§4.8
// step 1).
func sanitizeSkillName(raw string) string {
	lower := strings.ToLower(raw)
	var b strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
