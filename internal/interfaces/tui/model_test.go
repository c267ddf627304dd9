package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

type fakeGateway struct {
	status    string
	tools     []entity.ToolDefinition
	events    []entity.AuditEvent
	skills    []string
	auditErr  error
	wakeErr   error
	sleepErr  error
	woke      bool
	slept     bool
}

func (f *fakeGateway) Status() string                  { return f.status }
func (f *fakeGateway) Tools() []entity.ToolDefinition   { return f.tools }
func (f *fakeGateway) Skills() []string                 { return f.skills }
func (f *fakeGateway) Audit(n int, t string) ([]entity.AuditEvent, error) {
	if f.auditErr != nil {
		return nil, f.auditErr
	}
	return f.events, nil
}
func (f *fakeGateway) Wake(context.Context) error  { f.woke = true; return f.wakeErr }
func (f *fakeGateway) Sleep(context.Context) error { f.slept = true; return f.sleepErr }

func TestModel_RenderStatus_ShowsGatewayStatus(t *testing.T) {
	m := New(&fakeGateway{status: "state: awake (since 12:00)"})
	out := m.renderStatus()
	if !strings.Contains(out, "state: awake") {
		t.Errorf("renderStatus() = %q, want it to contain the gateway status", out)
	}
}

func TestModel_RenderTools_ListsEnabledAndDisabled(t *testing.T) {
	m := New(&fakeGateway{tools: []entity.ToolDefinition{
		{Name: "read_file", Status: entity.StatusEnabled, Provenance: entity.ProvenanceBuiltin},
		{Name: "exec_shell", Status: entity.StatusDisabled, Provenance: entity.ProvenanceBuiltin},
	}})
	out := m.renderTools()
	if !strings.Contains(out, "read_file") || !strings.Contains(out, "exec_shell") {
		t.Errorf("renderTools() = %q, want both tools listed", out)
	}
}

func TestModel_RenderTools_EmptyRegistry(t *testing.T) {
	m := New(&fakeGateway{})
	out := m.renderTools()
	if !strings.Contains(out, "no tools registered") {
		t.Errorf("renderTools() = %q, want the empty-registry message", out)
	}
}

func TestModel_RenderAudit_ShowsEventsMostRecentFirst(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New(&fakeGateway{events: []entity.AuditEvent{
		{Type: "wake", Timestamp: now},
		{Type: "sleep", Timestamp: now.Add(time.Minute)},
	}})
	out := m.renderAudit()
	wakeIdx := strings.Index(out, "wake")
	sleepIdx := strings.Index(out, "sleep")
	if sleepIdx == -1 || wakeIdx == -1 || sleepIdx > wakeIdx {
		t.Errorf("renderAudit() = %q, want the later sleep event rendered before wake", out)
	}
}

func TestModel_RenderAudit_EmptyLog(t *testing.T) {
	m := New(&fakeGateway{})
	out := m.renderAudit()
	if !strings.Contains(out, "no audit events") {
		t.Errorf("renderAudit() = %q, want the empty-log message", out)
	}
}

func TestModel_RenderAudit_PropagatesError(t *testing.T) {
	m := New(&fakeGateway{auditErr: errors.New("boom")})
	out := m.renderAudit()
	if !strings.Contains(out, "boom") {
		t.Errorf("renderAudit() = %q, want the error surfaced", out)
	}
}

func TestModel_RenderSkills_ListsInstalled(t *testing.T) {
	m := New(&fakeGateway{skills: []string{"weekly_report"}})
	out := m.renderSkills()
	if !strings.Contains(out, "weekly_report") {
		t.Errorf("renderSkills() = %q, want weekly_report listed", out)
	}
}

func TestModel_RenderSkills_EmptyByDefault(t *testing.T) {
	m := New(&fakeGateway{})
	out := m.renderSkills()
	if !strings.Contains(out, "no skills installed") {
		t.Errorf("renderSkills() = %q, want the empty-skills message", out)
	}
}

func TestTab_CyclesForwardAndBackward(t *testing.T) {
	if next := (tabSkills + 1) % tabCount; next != tabStatus {
		t.Errorf("expected tab wraparound forward from skills to status, got %v", next)
	}
	if prev := (tabStatus - 1 + tabCount) % tabCount; prev != tabSkills {
		t.Errorf("expected tab wraparound backward from status to skills, got %v", prev)
	}
}
