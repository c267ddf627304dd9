// Package telegram implements the owner-facing chat transport (§6): a
// thin polling adapter over go-telegram-bot-api that restricts every
// update to a single configured owner chat, parses slash commands, and
// routes free text to the Gateway's AgentLoop. Grounded on the teacher's
// interfaces/telegram/adapter.go, stripped of its multi-chat/multi-agent
// surface (session manager, agent registry, cron, miniapp, voice) since
// SafeClaw serves exactly one owner with no per-chat routing.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// Config configures the adapter: the bot token and the single owner
// Telegram user ID every other chat is rejected against (§1 "single
// owner").
type Config struct {
	BotToken string
	OwnerID  int64
	Debug    bool
}

// Gateway is the subset of application.Gateway the adapter drives.
// Declared locally so this package doesn't import application (which
// would create a transport→application→infrastructure cycle risk as
// the module grows).
type Gateway interface {
	Wake(ctx context.Context) error
	Sleep(ctx context.Context) error
	Kill(ctx context.Context) error
	HandleMessage(ctx context.Context, text string) (string, error)

	Confirm(ctx context.Context, approvalID string) (string, error)
	ConfirmBatch(ctx context.Context, batchID string) (string, error)
	PendingApprovals() []*entity.PermissionRequest
	Deny(approvalID string) (string, error)
	DenyBatch(batchID string) (string, error)

	Status() string
	Tools() []entity.ToolDefinition
	EnableTool(name string) (string, error)
	DisableTool(name string) (string, error)

	SetCredential(cred entity.Credential, makeActive bool)
	RemoveCredential(name string) error
	AuthStatus() string
	SetModel(model string)

	Audit(n int, eventType string) ([]entity.AuditEvent, error)
	Skills() []string
}

// Auditor is the subset of application.Gateway's audit dependency the
// adapter needs to record rejected senders directly, without routing
// through the Gateway itself (§7 Unknown-sender must be audited even
// though the message never reaches HandleMessage).
type Auditor interface {
	Append(eventType string, details map[string]interface{})
}

// Adapter is the Telegram polling loop and command dispatcher.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	cfg      Config
	logger   *zap.Logger
	gateway  Gateway
	auditor  Auditor
	registry *CommandRegistry
	cancel   context.CancelFunc
}

// NewAdapter authorizes against the Telegram Bot API and wires the
// default command set.
func NewAdapter(cfg Config, gw Gateway, auditor Auditor, logger *zap.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("authorize telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))

	a := &Adapter{bot: bot, cfg: cfg, logger: logger, gateway: gw, auditor: auditor}
	a.registry = newCommandRegistry(a)
	return a, nil
}

// Start begins long-polling for updates. Returns immediately; updates
// are processed on an internal goroutine until ctx is cancelled or
// Stop is called.
func (a *Adapter) Start(ctx context.Context) error {
	innerCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.setupCommandMenu(); err != nil {
		a.logger.Warn("failed to set bot command menu", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := a.bot.GetUpdatesChan(u)

	a.logger.Info("telegram polling started")
	go func() {
		for {
			select {
			case <-innerCtx.Done():
				a.bot.StopReceivingUpdates()
				a.logger.Info("telegram polling stopped")
				return
			case update := <-updates:
				go a.handleUpdate(innerCtx, update)
			}
		}
	}()
	return nil
}

// Stop cancels the polling loop.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Adapter) setupCommandMenu() error {
	commands := []tgbotapi.BotCommand{
		{Command: "wake", Description: "wake the gateway"},
		{Command: "sleep", Description: "put the gateway to sleep"},
		{Command: "kill", Description: "shut the gateway down"},
		{Command: "status", Description: "current lifecycle state"},
		{Command: "tools", Description: "list the tool catalog"},
		{Command: "confirm", Description: "approve a pending tool call"},
		{Command: "deny", Description: "deny a pending tool call"},
		{Command: "auth", Description: "manage provider credentials"},
		{Command: "model", Description: "select the active model"},
		{Command: "skills", Description: "list installed dynamic skills"},
		{Command: "audit", Description: "recent audit events"},
		{Command: "help", Description: "command reference"},
	}
	_, err := a.bot.Request(tgbotapi.NewSetMyCommands(commands...))
	return err
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message
	if msg.From == nil || msg.From.ID != a.cfg.OwnerID {
		a.logger.Warn("rejected message from non-owner chat",
			zap.Int64("chat_id", msg.Chat.ID))
		if a.auditor != nil {
			var fromID int64
			if msg.From != nil {
				fromID = msg.From.ID
			}
			a.auditor.Append(entity.AuditAuthRejected, map[string]interface{}{
				"chat_id": msg.Chat.ID,
				"from_id": fromID,
			})
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if cmd := parseCommand(text); cmd != nil {
		cmd.ChatID = msg.Chat.ID
		reply, handled, err := a.registry.handle(ctx, cmd)
		if err != nil {
			a.send(cmd.ChatID, fmt.Sprintf("error: %v", err))
			return
		}
		if handled {
			a.send(cmd.ChatID, reply)
			return
		}
		a.send(cmd.ChatID, fmt.Sprintf("unknown command /%s — try /help", cmd.Name))
		return
	}

	reply, err := a.gateway.HandleMessage(ctx, text)
	if err != nil {
		a.send(msg.Chat.ID, fmt.Sprintf("error: %v", err))
		return
	}
	a.send(msg.Chat.ID, reply)
}

// send delivers text to chatID, splitting it across Telegram's message
// length limit (§6 is silent on chunking; grounded on the teacher's
// message_chunker.go, which exists for exactly this reason).
func (a *Adapter) send(chatID int64, text string) {
	if text == "" {
		return
	}
	for _, chunk := range chunkMessage(text) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if _, err := a.bot.Send(msg); err != nil {
			a.logger.Warn("failed to send telegram message", zap.Error(err))
		}
	}
}
