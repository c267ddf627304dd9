package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// fakeProvider replays a scripted queue of responses, one per Complete call.
type fakeProvider struct {
	responses []*LLMResponse
	calls     int
}

func (p *fakeProvider) Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	if p.calls >= len(p.responses) {
		return &LLMResponse{Content: "no more scripted responses"}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *fakeProvider) Name() string { return "fake" }

// loopingProvider always returns the same tool call, used to exercise the
// MaxLoopDepth ceiling.
type loopingProvider struct{ calls int }

func (p *loopingProvider) Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.calls++
	return &LLMResponse{
		Content:   "",
		ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "read_file", Input: map[string]interface{}{"path": "a.txt"}}},
	}, nil
}
func (p *loopingProvider) Name() string { return "looping" }

type fakeExecutor struct{ result string }

func (e *fakeExecutor) Execute(ctx context.Context, resolved ResolvedTool, input map[string]interface{}) (string, error) {
	if e.result != "" {
		return e.result, nil
	}
	return "ok", nil
}

func (e *fakeExecutor) BuiltinSchema(name string) (ToolSchema, bool) {
	return ToolSchema{Name: name, Description: "test tool", Parameters: map[string]interface{}{"type": "object"}}, true
}

type fakePathResolver struct{}

func (fakePathResolver) ResolvePath(raw string) (string, error) { return raw, nil }

type fakeSkillInstaller struct {
	installed entity.ToolDefinition
	err       error
}

func (f *fakeSkillInstaller) Install(ctx context.Context, name, code string) (entity.ToolDefinition, error) {
	if f.err != nil {
		return entity.ToolDefinition{}, f.err
	}
	return entity.ToolDefinition{Name: QualifySkillName(name), Description: "installed skill", SkillName: name}, nil
}

// fakeRemoteDispatcher records the exact (server, tool) pair it was
// called with, keyed the way mcp.Manager keys m.servers: by the
// original, unsanitized server name.
type fakeRemoteDispatcher struct {
	gotServer, gotTool string
	result             string
	err                error
}

func (f *fakeRemoteDispatcher) Call(ctx context.Context, server, tool string, args map[string]interface{}) (string, error) {
	f.gotServer, f.gotTool = server, tool
	if f.err != nil {
		return "", f.err
	}
	if f.result != "" {
		return f.result, nil
	}
	return "remote ok", nil
}

type fakeAuditor struct{ events []string }

func (a *fakeAuditor) Append(eventType string, details map[string]interface{}) {
	a.events = append(a.events, eventType)
}

func newTestRegistry() *ToolRegistry {
	builtins := []entity.ToolDefinition{
		{Name: "read_file"},
		{Name: "write_file"},
		{Name: "exec_shell"},
	}
	r := NewToolRegistry(builtins, testLogger())
	r.Enable("read_file")
	r.Enable("write_file")
	r.Enable("exec_shell")
	return r
}

func newTestLoop(provider Provider, tools *ToolRegistry, sm *StateMachine, approvals *ApprovalStore) (*AgentLoop, *fakeAuditor) {
	audit := &fakeAuditor{}
	loop := NewAgentLoop(
		provider, tools, approvals, sm,
		&fakeExecutor{}, fakePathResolver{}, nil, &fakeSkillInstaller{}, nil, audit,
		DefaultAgentLoopConfig(), testLogger(),
	)
	return loop, audit
}

func TestAgentLoop_Run_SafeToolCallLoopsBackAutomatically(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "read_file", Input: map[string]interface{}{"path": "a.txt"}}}},
		{Content: "done reading"},
	}}
	sm := NewStateMachine(testLogger())
	loop, _ := newTestLoop(provider, newTestRegistry(), sm, NewApprovalStore(0, testLogger()))
	session := entity.NewSession()

	reply, err := loop.Run(context.Background(), session, "test-model", "read a.txt please")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "done reading" {
		t.Errorf("expected final reply %q, got %q", "done reading", reply)
	}
	if provider.calls != 2 {
		t.Errorf("expected provider to be called twice, got %d", provider.calls)
	}
	if sm.State() != StateDormant {
		t.Errorf("safe tool calls must not touch state machine, got %s", sm.State())
	}
}

func TestAgentLoop_Run_RemoteToolDispatchesByOriginalServerName(t *testing.T) {
	qualified := QualifyMCPName("my-mcp", "do-thing")
	tools := newTestRegistry()
	tools.RegisterRemote(entity.ToolDefinition{
		Name:               qualified,
		Provenance:         entity.ProvenanceRemote,
		RemoteServer:       "my-mcp",
		RemoteOriginalName: "do-thing",
	})
	tools.Enable(qualified)

	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: qualified, Input: map[string]interface{}{"x": 1}}}},
		{Content: "done"},
	}}
	sm := NewStateMachine(testLogger())
	remote := &fakeRemoteDispatcher{}
	audit := &fakeAuditor{}
	loop := NewAgentLoop(
		provider, tools, NewApprovalStore(0, testLogger()), sm,
		&fakeExecutor{}, fakePathResolver{}, nil, &fakeSkillInstaller{}, remote, audit,
		DefaultAgentLoopConfig(), testLogger(),
	)
	session := entity.NewSession()

	if _, err := loop.Run(context.Background(), session, "test-model", "use the remote tool"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if remote.gotServer != "my-mcp" {
		t.Errorf("expected dispatch to use the original server name %q, got %q", "my-mcp", remote.gotServer)
	}
	if remote.gotTool != "do-thing" {
		t.Errorf("expected dispatch to use the original tool name %q, got %q", "do-thing", remote.gotTool)
	}
}

func TestAgentLoop_Run_DangerousToolCallSuspendsRun(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "write_file", Input: map[string]interface{}{"path": "b.txt"}}}},
	}}
	sm := NewStateMachine(testLogger())
	if err := sm.Transition(StateAwake); err != nil {
		t.Fatalf("setup transition: %v", err)
	}
	approvals := NewApprovalStore(time.Minute, testLogger())
	loop, audit := newTestLoop(provider, newTestRegistry(), sm, approvals)
	session := entity.NewSession()

	reply, err := loop.Run(context.Background(), session, "test-model", "write to b.txt")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply == "" {
		t.Error("expected a non-empty approval prompt")
	}
	if sm.State() != StateActionPending {
		t.Errorf("expected state action_pending after a dangerous call, got %s", sm.State())
	}
	if !approvals.HasPending() {
		t.Error("expected a pending approval ticket")
	}
	if len(session.PendingToolCalls) != 1 {
		t.Errorf("expected exactly one pending tool call recorded on session, got %d", len(session.PendingToolCalls))
	}
	foundCreated := false
	for _, e := range audit.events {
		if e == entity.AuditApprovalCreated {
			foundCreated = true
		}
	}
	if !foundCreated {
		t.Error("expected an approval_created audit event")
	}
}

func TestAgentLoop_ContinueAfterApproval_ExecutesAndResumes(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "write_file", Input: map[string]interface{}{"path": "b.txt"}}}},
		{Content: "wrote it"},
	}}
	sm := NewStateMachine(testLogger())
	if err := sm.Transition(StateAwake); err != nil {
		t.Fatalf("setup transition: %v", err)
	}
	approvals := NewApprovalStore(time.Minute, testLogger())
	loop, _ := newTestLoop(provider, newTestRegistry(), sm, approvals)
	session := entity.NewSession()

	if _, err := loop.Run(context.Background(), session, "test-model", "write to b.txt"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var pendingID string
	for id := range session.PendingToolCalls {
		pendingID = id
	}
	approved := approvals.Approve(pendingID)
	if approved == nil {
		t.Fatal("expected Approve to resolve the ticket")
	}

	reply, err := loop.ContinueAfterApproval(context.Background(), session, "test-model", []*entity.PermissionRequest{approved})
	if err != nil {
		t.Fatalf("ContinueAfterApproval: %v", err)
	}
	if !strings.Contains(reply, "wrote it") {
		t.Errorf("expected reply to contain the resumed completion, got %q", reply)
	}
	if sm.State() != StateAwake {
		t.Errorf("expected state back to awake after resolution, got %s", sm.State())
	}
	if len(session.PendingToolCalls) != 0 {
		t.Error("expected the pending tool call to be consumed")
	}
}

func TestAgentLoop_RequestCapability_ProposesSkillAndSuspends(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "request_capability", Input: map[string]interface{}{
			"skill_name":           "Weekly Report!",
			"implementation_code":  "print('hi')",
			"skill_description":    "summarizes the week",
			"reason":               "owner asked for it",
		}}}},
	}}
	sm := NewStateMachine(testLogger())
	if err := sm.Transition(StateAwake); err != nil {
		t.Fatalf("setup transition: %v", err)
	}
	approvals := NewApprovalStore(time.Minute, testLogger())
	loop, _ := newTestLoop(provider, newTestRegistry(), sm, approvals)
	session := entity.NewSession()

	reply, err := loop.Run(context.Background(), session, "test-model", "please build a weekly report skill")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply == "" {
		t.Error("expected a non-empty skill-install prompt")
	}
	if sm.State() != StateActionPending {
		t.Errorf("expected state action_pending after a skill proposal, got %s", sm.State())
	}
	pending := approvals.ListPending()
	if len(pending) != 1 || pending[0].ToolName != "skill_forge" {
		t.Fatalf("expected one skill_forge ticket, got %+v", pending)
	}
	if pending[0].Details.Target != "weeklyreport" {
		t.Errorf("expected sanitized skill name weeklyreport, got %q", pending[0].Details.Target)
	}
}

func TestAgentLoop_RequestCapability_RejectsEmptyName(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "request_capability", Input: map[string]interface{}{
			"skill_name":          "!!!",
			"implementation_code": "print('hi')",
		}}}},
		{Content: "ok, no skill created"},
	}}
	sm := NewStateMachine(testLogger())
	approvals := NewApprovalStore(0, testLogger())
	loop, _ := newTestLoop(provider, newTestRegistry(), sm, approvals)
	session := entity.NewSession()

	reply, err := loop.Run(context.Background(), session, "test-model", "make a nameless skill")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "ok, no skill created" {
		t.Errorf("expected the loop to continue past the rejected proposal, got %q", reply)
	}
	if approvals.HasPending() {
		t.Error("expected no approval ticket for an empty sanitized name")
	}
}

func TestAgentLoop_InstallApprovedSkill_RegistersAndEnablesTool(t *testing.T) {
	provider := &fakeProvider{}
	sm := NewStateMachine(testLogger())
	approvals := NewApprovalStore(0, testLogger())
	tools := newTestRegistry()
	loop, audit := newTestLoop(provider, tools, sm, approvals)
	session := entity.NewSession()

	req := approvals.Create("skill_forge", "skill_install", entity.PermissionDetails{Target: "weekly_report"}, "")
	session.AddPending(entity.PendingToolCall{
		ApprovalID: req.ApprovalID,
		ToolCallID: "c1",
		ToolName:   "skill_forge",
		Input:      map[string]interface{}{"skill_name": "weekly_report", "implementation_code": "print('hi')"},
	})

	result := loop.ExecuteApproved(context.Background(), session, req)
	if !strings.Contains(result, "installed") {
		t.Errorf("expected install confirmation, got %q", result)
	}
	if !tools.IsEnabled(QualifySkillName("weekly_report")) {
		t.Error("expected the installed skill to be registered and enabled")
	}
	foundInstalled := false
	for _, e := range audit.events {
		if e == entity.AuditSkillInstalled {
			foundInstalled = true
		}
	}
	if !foundInstalled {
		t.Error("expected a skill_installed audit event")
	}
}

func TestAgentLoop_Run_UnknownOrDisabledToolReturnsError(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "does_not_exist", Input: nil}}},
		{Content: "fell back"},
	}}
	sm := NewStateMachine(testLogger())
	loop, _ := newTestLoop(provider, newTestRegistry(), sm, NewApprovalStore(0, testLogger()))
	session := entity.NewSession()

	reply, err := loop.Run(context.Background(), session, "test-model", "call something unknown")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "fell back" {
		t.Errorf("expected the loop to continue after an unknown tool call, got %q", reply)
	}
	var toolMsg *entity.Message
	for i := range session.Messages {
		if session.Messages[i].ToolCallID == "c1" {
			toolMsg = &session.Messages[i]
		}
	}
	if toolMsg == nil || toolMsg.Content != "tool not enabled" {
		t.Errorf("expected a 'tool not enabled' result message, got %+v", toolMsg)
	}
}

func TestAgentLoop_Run_MaxLoopDepthStopsRecursion(t *testing.T) {
	provider := &loopingProvider{}
	sm := NewStateMachine(testLogger())
	loop, _ := newTestLoop(provider, newTestRegistry(), sm, NewApprovalStore(0, testLogger()))
	session := entity.NewSession()

	if _, err := loop.Run(context.Background(), session, "test-model", "loop forever"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls > DefaultAgentLoopConfig().MaxLoopDepth+1 {
		t.Errorf("expected provider calls bounded by MaxLoopDepth, got %d", provider.calls)
	}
}

func TestFormatDenial_SingleAndBatch(t *testing.T) {
	single := []*entity.PermissionRequest{{ApprovalID: "a1", ToolName: "write_file"}}
	if got := FormatDenial(single); got != "Denied write_file (a1)." {
		t.Errorf("FormatDenial(single) = %q", got)
	}

	batch := []*entity.PermissionRequest{
		{ApprovalID: "a1", ToolName: "write_file"},
		{ApprovalID: "a2", ToolName: "exec_shell"},
	}
	got := FormatDenial(batch)
	if !strings.Contains(got, "Denied 2 actions:") || !strings.Contains(got, "write_file (a1)") || !strings.Contains(got, "exec_shell (a2)") {
		t.Errorf("FormatDenial(batch) = %q", got)
	}
}

func TestTruncateResult(t *testing.T) {
	if got := truncateResult("short", 100); got != "short" {
		t.Errorf("expected untouched short string, got %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncateResult(long, 10)
	if len(got) <= 10 || !strings.HasPrefix(got, strings.Repeat("x", 10)) {
		t.Errorf("expected truncated output with marker, got %q", got)
	}
}

func TestSanitizeSkillName(t *testing.T) {
	if got := sanitizeSkillName("Weekly Report!"); got != "weeklyreport" {
		t.Errorf("sanitizeSkillName = %q, want weeklyreport", got)
	}
	if got := sanitizeSkillName("weekly_report_2"); got != "weekly_report_2" {
		t.Errorf("sanitizeSkillName = %q, want weekly_report_2", got)
	}
}
