package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

type fakeAuditor struct {
	events []entity.AuditEvent
}

func (f *fakeAuditor) Append(eventType string, details map[string]interface{}) {
	f.events = append(f.events, entity.AuditEvent{Type: eventType, Details: details})
}

func newTestAdapterWithAuditor(ownerID int64) (*Adapter, *stubGateway, *fakeAuditor) {
	gw := &stubGateway{}
	audit := &fakeAuditor{}
	a := &Adapter{gateway: gw, auditor: audit, cfg: Config{OwnerID: ownerID}, logger: zap.NewNop()}
	a.registry = newCommandRegistry(a)
	return a, gw, audit
}

func TestHandleUpdate_NonOwnerMessageIsAuditedAndRejected(t *testing.T) {
	a, gw, audit := newTestAdapterWithAuditor(42)

	update := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 999},
		Chat: &tgbotapi.Chat{ID: 999},
		Text: "/wake",
	}}
	a.handleUpdate(context.Background(), update)

	if gw.woke {
		t.Error("expected the non-owner message to never reach the gateway")
	}
	if len(audit.events) != 1 {
		t.Fatalf("expected exactly one audit event for the rejected message, got %d", len(audit.events))
	}
	if audit.events[0].Type != entity.AuditAuthRejected {
		t.Errorf("audit event type = %q, want %q", audit.events[0].Type, entity.AuditAuthRejected)
	}
}

func TestHandleUpdate_MissingFromIsAuditedAndRejected(t *testing.T) {
	a, gw, audit := newTestAdapterWithAuditor(42)

	update := tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 7},
		Text: "hello",
	}}
	a.handleUpdate(context.Background(), update)

	if gw.woke {
		t.Error("expected a message with no From user to never reach the gateway")
	}
	if len(audit.events) != 1 || audit.events[0].Type != entity.AuditAuthRejected {
		t.Fatalf("expected exactly one auth_rejected audit event, got %v", audit.events)
	}
	if audit.events[0].Details["from_id"] != int64(0) {
		t.Errorf("expected from_id to default to 0 when From is nil, got %v", audit.events[0].Details["from_id"])
	}
}
