package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text     string
		wantNil  bool
		wantName string
		wantArgs []string
	}{
		{"hello there", true, "", nil},
		{"/wake", false, "wake", nil},
		{"/confirm all batch-1", false, "confirm", []string{"all", "batch-1"}},
		{"/enable@safeclaw_bot filesystem", false, "enable", []string{"filesystem"}},
	}
	for _, c := range cases {
		cmd := parseCommand(c.text)
		if c.wantNil {
			if cmd != nil {
				t.Errorf("parseCommand(%q) = %+v, want nil", c.text, cmd)
			}
			continue
		}
		if cmd == nil {
			t.Fatalf("parseCommand(%q) = nil, want name %q", c.text, c.wantName)
		}
		if cmd.Name != c.wantName {
			t.Errorf("parseCommand(%q).Name = %q, want %q", c.text, cmd.Name, c.wantName)
		}
		if strings.Join(cmd.Args, ",") != strings.Join(c.wantArgs, ",") {
			t.Errorf("parseCommand(%q).Args = %v, want %v", c.text, cmd.Args, c.wantArgs)
		}
	}
}

// stubGateway implements the Gateway interface with canned responses,
// enough to exercise command dispatch without a live bot connection.
type stubGateway struct {
	woke, slept, killed bool
	enabled, disabled   string
	confirmed, denied   string
	pending             []*entity.PermissionRequest
	auditEvents         []entity.AuditEvent
}

func (s *stubGateway) Wake(context.Context) error  { s.woke = true; return nil }
func (s *stubGateway) Sleep(context.Context) error { s.slept = true; return nil }
func (s *stubGateway) Kill(context.Context) error  { s.killed = true; return nil }
func (s *stubGateway) HandleMessage(context.Context, string) (string, error) {
	return "ok", nil
}
func (s *stubGateway) Confirm(_ context.Context, id string) (string, error) {
	s.confirmed = id
	return "approved", nil
}
func (s *stubGateway) ConfirmBatch(_ context.Context, batchID string) (string, error) {
	s.confirmed = batchID
	return "approved batch", nil
}
func (s *stubGateway) Deny(id string) (string, error) {
	s.denied = id
	return "denied", nil
}
func (s *stubGateway) DenyBatch(batchID string) (string, error) {
	s.denied = batchID
	return "denied batch", nil
}
func (s *stubGateway) Status() string { return "state: awake" }
func (s *stubGateway) Tools() []entity.ToolDefinition {
	return []entity.ToolDefinition{{Name: "read_file", Provenance: entity.ProvenanceBuiltin, Status: entity.StatusEnabled}}
}
func (s *stubGateway) EnableTool(name string) (string, error) {
	s.enabled = name
	return "enabled " + name, nil
}
func (s *stubGateway) DisableTool(name string) (string, error) {
	s.disabled = name
	return "disabled " + name, nil
}
func (s *stubGateway) SetCredential(entity.Credential, bool)   {}
func (s *stubGateway) RemoveCredential(string) error           { return nil }
func (s *stubGateway) AuthStatus() string                      { return "active: anthropic/claude" }
func (s *stubGateway) SetModel(string)                         {}
func (s *stubGateway) Audit(int, string) ([]entity.AuditEvent, error) {
	return s.auditEvents, nil
}
func (s *stubGateway) Skills() []string { return nil }
func (s *stubGateway) PendingApprovals() []*entity.PermissionRequest {
	return s.pending
}

func newTestAdapter() (*Adapter, *stubGateway) {
	gw := &stubGateway{}
	a := &Adapter{gateway: gw}
	a.registry = newCommandRegistry(a)
	return a, gw
}

func TestCommandRegistry_DispatchesLifecycleCommands(t *testing.T) {
	a, gw := newTestAdapter()
	ctx := context.Background()

	if _, handled, err := a.registry.handle(ctx, &command{Name: "wake"}); err != nil || !handled {
		t.Fatalf("handle(/wake) = handled=%v err=%v", handled, err)
	}
	if !gw.woke {
		t.Error("expected Wake to be called")
	}
}

func TestCommandRegistry_ConfirmRoutesBatchVsSingle(t *testing.T) {
	a, gw := newTestAdapter()
	ctx := context.Background()

	if _, _, err := a.registry.handle(ctx, &command{Name: "confirm", Args: []string{"req-1"}}); err != nil {
		t.Fatalf("confirm single: %v", err)
	}
	if gw.confirmed != "req-1" {
		t.Errorf("expected single confirm to route to Confirm, got %q", gw.confirmed)
	}

	if _, _, err := a.registry.handle(ctx, &command{Name: "confirm", Args: []string{"all", "batch-9"}}); err != nil {
		t.Fatalf("confirm batch: %v", err)
	}
	if gw.confirmed != "batch-9" {
		t.Errorf("expected batch confirm to route to ConfirmBatch, got %q", gw.confirmed)
	}
}

func TestCommandRegistry_BareConfirmResolvesTheLonePendingTicket(t *testing.T) {
	a, gw := newTestAdapter()
	gw.pending = []*entity.PermissionRequest{{ApprovalID: "req-only"}}
	ctx := context.Background()

	if _, _, err := a.registry.handle(ctx, &command{Name: "confirm"}); err != nil {
		t.Fatalf("bare confirm: %v", err)
	}
	if gw.confirmed != "req-only" {
		t.Errorf("expected bare /confirm to resolve the lone pending ticket, got %q", gw.confirmed)
	}
}

func TestCommandRegistry_BareConfirmErrorsWhenAmbiguousOrEmpty(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()
	if _, _, err := a.registry.handle(ctx, &command{Name: "confirm"}); err == nil {
		t.Error("expected bare /confirm with no pending tickets to error")
	}

	a2, gw2 := newTestAdapter()
	gw2.pending = []*entity.PermissionRequest{{ApprovalID: "req-1"}, {ApprovalID: "req-2"}}
	if _, _, err := a2.registry.handle(ctx, &command{Name: "confirm"}); err == nil {
		t.Error("expected bare /confirm with multiple pending tickets to error")
	}
}

func TestCommandRegistry_AuditVerboseIsNotTreatedAsEventTypeFilter(t *testing.T) {
	a, gw := newTestAdapter()
	gw.auditEvents = []entity.AuditEvent{
		{Type: entity.AuditWake, Details: map[string]interface{}{"x": 1}},
	}
	ctx := context.Background()

	reply, _, err := a.registry.handle(ctx, &command{Name: "audit", Args: []string{"verbose"}})
	if err != nil {
		t.Fatalf("audit verbose: %v", err)
	}
	if !strings.Contains(reply, "map[x:1]") {
		t.Errorf("expected verbose audit output to include event details, got %q", reply)
	}
}

func TestCommandRegistry_UnknownCommandNotHandled(t *testing.T) {
	a, _ := newTestAdapter()
	_, handled, err := a.registry.handle(context.Background(), &command{Name: "nonexistent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handled {
		t.Error("expected an unregistered command to report handled=false")
	}
}

func TestChunkMessage_SplitsLongTextOnBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 1000) // ~5000 chars, one long paragraph
	chunks := chunkMessage(para)
	if len(chunks) < 2 {
		t.Fatalf("expected text over the limit to split, got %d chunk(s)", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > telegramMessageLimit {
			t.Errorf("chunk exceeds telegram limit: %d bytes", len(c))
		}
	}
	if strings.Join(chunks, "") == "" {
		t.Error("expected reassembled chunks to be non-empty")
	}
}

func TestChunkMessage_ShortTextPassesThrough(t *testing.T) {
	chunks := chunkMessage("hello")
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("expected a single unchanged chunk, got %v", chunks)
	}
}
