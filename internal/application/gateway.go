// Package application composes the domain layer's collaborators into one
// running SafeClaw gateway (§4.6): it owns the Session lifecycle, the
// inactivity timer, and the wake/sleep/kill side effects (remote-tool
// connect/disconnect, approval/process cleanup). The chat transport,
// command parsing, and LLM/MCP wire protocols are all external
// collaborators reached only through the interfaces this file wires
// together — Gateway itself never touches Telegram, HTTP, or a
// subprocess directly. Grounded on the teacher's
// internal/application/gateway.go composition root, restructured around
// SafeClaw's single-owner dormant/awake/action_pending/shutdown model.
package application

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
	"github.com/safeclaw/safeclaw/internal/domain/service"
	"github.com/safeclaw/safeclaw/internal/infrastructure/config"
	"github.com/safeclaw/safeclaw/internal/infrastructure/mcp"
	"github.com/safeclaw/safeclaw/internal/infrastructure/persistence"
	"github.com/safeclaw/safeclaw/internal/infrastructure/provider"
	"github.com/safeclaw/safeclaw/internal/infrastructure/skills"
	"github.com/safeclaw/safeclaw/internal/infrastructure/tool"
)

// Auditor is the subset of infrastructure/audit.Log that Gateway needs,
// declared locally so this package doesn't import the concrete type.
type Auditor interface {
	Append(eventType string, details map[string]interface{})
	Tail(n int) ([]entity.AuditEvent, error)
}

// Gateway is the composition root: one instance per running process,
// serving exactly one owner (§5 "single-threaded cooperative... one
// owner, one concurrent run at a time").
type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	sm        *service.StateMachine
	approvals *service.ApprovalStore
	tools     *service.ToolRegistry
	processes *service.ProcessRegistry
	guard     *service.SecretGuard
	paths     *tool.SandboxPath
	loop      *service.AgentLoop

	skillsMgr *skills.Manager
	mcpMgr    *mcp.Manager
	mcpConfig string
	audit     Auditor

	mu              sync.Mutex
	session         *entity.Session
	providerStore   *entity.ProviderStore
	inactivityTimer *time.Timer
	notifyAutoSleep func()
}

// New wires every collaborator named in DESIGN.md into one Gateway.
// mcpConfigPath may point at a non-existent file — MCP is an optional
// collaborator (§6) and Connect tolerates a missing config.
func New(cfg *config.Config, logger *zap.Logger, auditor Auditor, mcpConfigPath string) (*Gateway, error) {
	paths, err := tool.NewSandboxPath(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("workspace sandbox: %w", err)
	}
	homeDir, _ := os.UserHomeDir()
	guard := service.NewSecretGuard(cfg.StorageDir, homeDir)
	processes := service.NewProcessRegistry(logger)
	mem, err := tool.NewMemory(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	skillsMgr, err := skills.NewManager(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("skills manager: %w", err)
	}

	executor := tool.NewExecutor(
		tool.NewFilesystem(paths),
		tool.NewShell(cfg.WorkspaceDir, processes),
		tool.NewBrowser(),
		mem,
		tool.NewPatch(paths),
		skillsMgr,
	)

	tools := service.NewToolRegistry(tool.BuiltinDefinitions(), logger)
	sm := service.NewStateMachine(logger)
	approvals := service.NewApprovalStore(cfg.ApprovalTimeout(), logger)
	mcpMgr := mcp.NewManager(logger)

	providerStore, err := persistence.LoadProviderStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("load auth.json: %w", err)
	}

	g := &Gateway{
		cfg:           cfg,
		logger:        logger,
		sm:            sm,
		approvals:     approvals,
		tools:         tools,
		processes:     processes,
		guard:         guard,
		paths:         paths,
		skillsMgr:     skillsMgr,
		mcpMgr:        mcpMgr,
		mcpConfig:     mcpConfigPath,
		audit:         auditor,
		providerStore: providerStore,
	}

	loop := service.NewAgentLoop(
		g, // Gateway implements service.Provider by delegating to the active credential
		tools,
		approvals,
		sm,
		executor,
		paths,
		guard,
		skillsMgr,
		mcpMgr,
		auditorAdapter{auditor},
		service.DefaultAgentLoopConfig(),
		logger,
	)
	g.loop = loop
	return g, nil
}

func (g *Gateway) saveProviderStore() {
	if err := persistence.SaveProviderStore(g.cfg.StorageDir, g.providerStore); err != nil {
		g.logger.Warn("failed to persist auth.json", zap.Error(err))
	}
}

// auditorAdapter satisfies service.Auditor (Append(eventType, details))
// by forwarding to the wider Auditor interface above.
type auditorAdapter struct{ a Auditor }

func (a auditorAdapter) Append(eventType string, details map[string]interface{}) {
	if a.a != nil {
		a.a.Append(eventType, details)
	}
}

// Complete implements service.Provider, routing to whichever vendor
// client matches the ProviderStore's active credential. Gateway itself
// holds no HTTP state; it constructs a fresh infrastructure/provider
// client per call, which is cheap (stateless besides credentials, per
// §4.5 "a concrete provider is stateless across calls").
func (g *Gateway) Complete(ctx context.Context, req service.LLMRequest) (*service.LLMResponse, error) {
	active, err := g.activeProvider()
	if err != nil {
		return nil, err
	}
	return active.Complete(ctx, req)
}

// Name implements service.Provider, identifying the currently active
// vendor for audit logging and /status.
func (g *Gateway) Name() string {
	active, err := g.activeProvider()
	if err != nil {
		return "none"
	}
	return active.Name()
}

func (g *Gateway) activeProvider() (service.Provider, error) {
	g.mu.Lock()
	cred, ok := g.providerStore.ActiveCredential()
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active provider configured; use /auth to add one")
	}
	return provider.New(cred, g.logger), nil
}

// Wake implements dormant → awake (§4.6): new Session, disableAll
// tools, clearRemote, start the inactivity timer, and kick off
// remote-tool discovery without blocking the transition.
func (g *Gateway) Wake(ctx context.Context) error {
	if err := g.sm.Transition(service.StateAwake); err != nil {
		return err
	}

	g.mu.Lock()
	g.session = entity.NewSession()
	g.mu.Unlock()

	g.tools.DisableAll()
	g.tools.ClearRemote()
	for _, name := range g.skillsMgr.Installed() {
		g.tools.RegisterDynamic(entity.ToolDefinition{
			Name:        service.QualifySkillName(name),
			Description: fmt.Sprintf("dynamically installed skill %q", name),
			Dangerous:   true,
			SkillName:   name,
			SkillParameters: map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
			},
		}, true)
	}
	g.resetInactivityTimer()

	go func() {
		defs, err := g.mcpMgr.Connect(context.Background(), g.mcpConfig)
		if err != nil {
			g.logger.Warn("MCP discovery failed", zap.Error(err))
			return
		}
		for _, def := range defs {
			g.tools.RegisterRemote(def)
		}
	}()

	g.audit.Append(entity.AuditWake, nil)
	return nil
}

// Sleep implements awake → dormant (§4.6): stop timer, clear Session,
// disableAll, clearRemote, cleanupExpired, dispose processes, disconnect
// remote-tool clients.
func (g *Gateway) Sleep(context.Context) error {
	if err := g.sm.Transition(service.StateDormant); err != nil {
		return err
	}
	g.teardownAwake()
	g.audit.Append(entity.AuditSleep, nil)
	return nil
}

// Kill implements the terminal transition to shutdown (§4.6: "as sleep
// plus process exit handled by the hosting runtime" — the hosting
// runtime, i.e. main(), is responsible for the actual os.Exit).
func (g *Gateway) Kill(context.Context) error {
	if err := g.sm.Transition(service.StateShutdown); err != nil {
		return err
	}
	g.teardownAwake()
	g.audit.Append(entity.AuditKill, nil)
	return nil
}

func (g *Gateway) teardownAwake() {
	g.mu.Lock()
	if g.inactivityTimer != nil {
		g.inactivityTimer.Stop()
		g.inactivityTimer = nil
	}
	g.session = nil
	g.mu.Unlock()

	g.tools.DisableAll()
	g.tools.ClearRemote()
	g.approvals.CleanupExpired()
	g.processes.Dispose()
	g.mcpMgr.Close()
}

// resetInactivityTimer (re)schedules the single-shot auto-sleep callback,
// reset on every activity touch and on every transition into awake (§4.6).
func (g *Gateway) resetInactivityTimer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inactivityTimer != nil {
		g.inactivityTimer.Stop()
	}
	g.inactivityTimer = time.AfterFunc(g.cfg.InactivityTimeout(), g.autoSleep)
}

func (g *Gateway) autoSleep() {
	if g.sm.State() != service.StateAwake {
		return
	}
	if err := g.Sleep(context.Background()); err != nil {
		g.logger.Warn("auto-sleep transition failed", zap.Error(err))
		return
	}
	if g.notifyAutoSleep != nil {
		g.notifyAutoSleep()
	}
}

// OnAutoSleep registers a callback fired after an inactivity-timeout
// auto-sleep, so the transport can notify the owner (§4.6).
func (g *Gateway) OnAutoSleep(fn func()) { g.notifyAutoSleep = fn }

// HandleMessage runs one owner turn through the AgentLoop (§4.7). If
// Session is absent (dormant between turns), it returns a fallback
// message without calling the provider.
func (g *Gateway) HandleMessage(ctx context.Context, text string) (string, error) {
	g.mu.Lock()
	session := g.session
	model := g.providerStore.ActiveModel
	g.mu.Unlock()

	if session == nil {
		return "SafeClaw is asleep. Send /wake to start a session.", nil
	}
	g.resetInactivityTimer()
	return g.loop.Run(ctx, session, model, text)
}

// Confirm approves the single ticket approvalID and feeds its result
// back to the provider (§4.7 step 7); ConfirmBatch handles a whole batch.
func (g *Gateway) Confirm(ctx context.Context, approvalID string) (string, error) {
	req := g.approvals.Approve(approvalID)
	if req == nil {
		return "", fmt.Errorf("no pending approval %q", approvalID)
	}
	return g.continueApproval(ctx, []*entity.PermissionRequest{req})
}

// PendingApprovals returns every unresolved approval ticket, used by the
// bare "/confirm" form (§6) to resolve the lone pending ticket when
// exactly one exists.
func (g *Gateway) PendingApprovals() []*entity.PermissionRequest {
	return g.approvals.ListPending()
}

// ConfirmBatch resolves every pending ticket sharing batchID.
func (g *Gateway) ConfirmBatch(ctx context.Context, batchID string) (string, error) {
	reqs := g.approvals.ApproveBatch(batchID)
	if len(reqs) == 0 {
		return "", fmt.Errorf("no pending approvals in batch %q", batchID)
	}
	return g.continueApproval(ctx, reqs)
}

func (g *Gateway) continueApproval(ctx context.Context, reqs []*entity.PermissionRequest) (string, error) {
	g.mu.Lock()
	session := g.session
	model := g.providerStore.ActiveModel
	g.mu.Unlock()
	if session == nil {
		return "", fmt.Errorf("no active session")
	}
	g.resetInactivityTimer()
	return g.loop.ContinueAfterApproval(ctx, session, model, reqs)
}

// Deny resolves one ticket as denied (§4.7 step 8).
func (g *Gateway) Deny(approvalID string) (string, error) {
	req := g.approvals.Deny(approvalID)
	if req == nil {
		return "", fmt.Errorf("no pending approval %q", approvalID)
	}
	if err := g.sm.Transition(service.StateAwake); err != nil {
		g.logger.Warn("state transition back to awake after denial failed", zap.Error(err))
	}
	return service.FormatDenial([]*entity.PermissionRequest{req}), nil
}

// DenyBatch resolves every pending ticket sharing batchID as denied.
func (g *Gateway) DenyBatch(batchID string) (string, error) {
	reqs := g.approvals.DenyBatch(batchID)
	if len(reqs) == 0 {
		return "", fmt.Errorf("no pending approvals in batch %q", batchID)
	}
	if err := g.sm.Transition(service.StateAwake); err != nil {
		g.logger.Warn("state transition back to awake after batch denial failed", zap.Error(err))
	}
	return service.FormatDenial(reqs), nil
}

// Status reports the current lifecycle state and session summary for
// the /status command.
func (g *Gateway) Status() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.sm.State()
	if g.session == nil {
		return fmt.Sprintf("state: %s", state)
	}
	return fmt.Sprintf("state: %s, messages: %d, pending: %d",
		state, len(g.session.Messages), len(g.session.PendingToolCalls))
}

// Tools returns the full tool catalog for the /tools command.
func (g *Gateway) Tools() []entity.ToolDefinition { return g.tools.List() }

// EnableTool / DisableTool implement /enable <name> and /disable <name>,
// including the mcp:<server> and skill__<name> bulk/qualified forms
// (§6 command surface) — server-bulk toggling is dispatched here since
// ToolRegistry distinguishes EnableByServer from a single-name Enable.
func (g *Gateway) EnableTool(name string) (string, error) {
	if server, ok := mcpServerBulkName(name); ok {
		n := g.tools.EnableByServer(server)
		return fmt.Sprintf("enabled %d tools on server %q", n, server), nil
	}
	if !g.tools.Enable(name) {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return fmt.Sprintf("enabled %q", name), nil
}

func (g *Gateway) DisableTool(name string) (string, error) {
	if server, ok := mcpServerBulkName(name); ok {
		n := g.tools.DisableByServer(server)
		return fmt.Sprintf("disabled %d tools on server %q", n, server), nil
	}
	if !g.tools.Disable(name) {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return fmt.Sprintf("disabled %q", name), nil
}

func mcpServerBulkName(name string) (string, bool) {
	const prefix = "mcp:"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):], true
	}
	return "", false
}

// SetCredential implements /auth, persisting the updated ProviderStore.
func (g *Gateway) SetCredential(cred entity.Credential, makeActive bool) {
	g.mu.Lock()
	g.providerStore.SetCredential(cred)
	if makeActive || g.providerStore.ActiveProvider == "" {
		g.providerStore.ActiveProvider = cred.Provider
	}
	g.mu.Unlock()
	g.saveProviderStore()
}

// SetModel implements /model <name>, selecting the active model for the
// currently active provider.
func (g *Gateway) SetModel(model string) {
	g.mu.Lock()
	g.providerStore.ActiveModel = model
	g.mu.Unlock()
	g.saveProviderStore()
}

// RemoveCredential implements "/auth remove <provider>".
func (g *Gateway) RemoveCredential(name string) error {
	g.mu.Lock()
	_, ok := g.providerStore.Providers[name]
	if ok {
		g.providerStore.RemoveProvider(name)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("no credential stored for provider %q", name)
	}
	g.saveProviderStore()
	return nil
}

// AuthStatus implements "/auth status": the active provider/model and the
// names of every provider with a stored credential (never the key itself).
func (g *Gateway) AuthStatus() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.providerStore.Providers))
	for name := range g.providerStore.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("active: %s/%s\nconfigured: %s",
		orNone(g.providerStore.ActiveProvider), orNone(g.providerStore.ActiveModel), strings.Join(names, ", "))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// Audit returns the last n audit events of the given type (empty type
// matches all) for the /audit command.
func (g *Gateway) Audit(n int, eventType string) ([]entity.AuditEvent, error) {
	all, err := g.audit.Tail(0)
	if err != nil {
		return nil, err
	}
	if eventType != "" {
		filtered := all[:0]
		for _, e := range all {
			if e.Type == eventType {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Skills lists installed dynamic skills for the /skills command.
func (g *Gateway) Skills() []string { return g.skillsMgr.Installed() }
