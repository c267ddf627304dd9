package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// ApprovalStore creates, expires, approves, and denies permission tickets
// (§4.1). Expiration is passive: any read sweeps expired entries first.
type ApprovalStore struct {
	mu      sync.Mutex
	pending map[string]*entity.PermissionRequest
	timeout time.Duration
	clock   func() time.Time
	logger  *zap.Logger
}

// NewApprovalStore creates a store with the given approval timeout.
func NewApprovalStore(timeout time.Duration, logger *zap.Logger) *ApprovalStore {
	return &ApprovalStore{
		pending: make(map[string]*entity.PermissionRequest),
		timeout: timeout,
		clock:   time.Now,
		logger:  logger,
	}
}

func (s *ApprovalStore) newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create stamps createdAt/expiresAt and inserts a new pending ticket.
func (s *ApprovalStore) Create(tool, action string, details entity.PermissionDetails, batchID string) *entity.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	req := &entity.PermissionRequest{
		ApprovalID: s.newID(),
		BatchID:    batchID,
		ToolName:   tool,
		Action:     action,
		Details:    details,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.timeout),
	}
	s.pending[req.ApprovalID] = req
	return req
}

// sweepLocked resolves and drops expired entries. Must hold s.mu.
func (s *ApprovalStore) sweepLocked() {
	now := s.clock()
	for id, req := range s.pending {
		if req.IsExpired(now) {
			req.Decision = &entity.Decision{Approved: false, DecidedAt: now}
			delete(s.pending, id)
			s.logger.Debug("approval expired", zap.String("id", id))
		}
	}
}

// resolveLocked marks a pending ticket resolved and removes it. Returns
// nil if the id is absent or already resolved/expired.
func (s *ApprovalStore) resolveLocked(id string, approved bool) *entity.PermissionRequest {
	s.sweepLocked()
	req, ok := s.pending[id]
	if !ok {
		return nil
	}
	req.Decision = &entity.Decision{Approved: approved, DecidedAt: s.clock()}
	delete(s.pending, id)
	return req
}

// Approve resolves a single ticket as approved.
func (s *ApprovalStore) Approve(id string) *entity.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(id, true)
}

// Deny resolves a single ticket as denied.
func (s *ApprovalStore) Deny(id string) *entity.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(id, false)
}

// resolveBatchLocked resolves every pending ticket with the given batchId,
// in insertion (creation) order.
func (s *ApprovalStore) resolveBatchLocked(batchID string, approved bool) []*entity.PermissionRequest {
	s.sweepLocked()
	var matched []*entity.PermissionRequest
	for _, req := range s.pending {
		if req.BatchID == batchID {
			matched = append(matched, req)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	now := s.clock()
	for _, req := range matched {
		req.Decision = &entity.Decision{Approved: approved, DecidedAt: now}
		delete(s.pending, req.ApprovalID)
	}
	return matched
}

// ApproveBatch resolves every pending ticket in a batch as approved.
func (s *ApprovalStore) ApproveBatch(batchID string) []*entity.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveBatchLocked(batchID, true)
}

// DenyBatch resolves every pending ticket in a batch as denied.
func (s *ApprovalStore) DenyBatch(batchID string) []*entity.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveBatchLocked(batchID, false)
}

// ListPending sweeps expirations, then returns the remaining tickets.
func (s *ApprovalStore) ListPending() []*entity.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	out := make([]*entity.PermissionRequest, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListBatch returns the pending tickets sharing a batchId, after sweeping.
func (s *ApprovalStore) ListBatch(batchID string) []*entity.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	var out []*entity.PermissionRequest
	for _, req := range s.pending {
		if req.BatchID == batchID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// HasPending reports whether any tickets remain after sweeping.
func (s *ApprovalStore) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.pending) > 0
}

// CleanupExpired proactively sweeps; used on gateway sleep/kill so stale
// tickets do not linger across wakes (§4.6).
func (s *ApprovalStore) CleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
}

// FormatPendingRequest renders one ticket as an owner-facing card.
func (s *ApprovalStore) FormatPendingRequest(req *entity.PermissionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval required [%s]\n", req.ApprovalID)
	fmt.Fprintf(&b, "Tool: %s (%s)\n", req.ToolName, req.Action)
	if req.Details.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Details.Description)
	}
	if req.Details.Target != "" {
		fmt.Fprintf(&b, "Target: %s\n", req.Details.Target)
	}
	fmt.Fprintf(&b, "Expires: %s\n", req.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Reply /confirm %s or /deny %s", req.ApprovalID, req.ApprovalID)
	return b.String()
}

// FormatBatchRequest renders a whole batch as one owner-facing card.
func (s *ApprovalStore) FormatBatchRequest(batchID string, reqs []*entity.PermissionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval required for %d actions [batch %s]\n", len(reqs), batchID)
	for _, req := range reqs {
		fmt.Fprintf(&b, "  - [%s] %s (%s): %s\n", req.ApprovalID, req.ToolName, req.Action, req.Details.Description)
	}
	fmt.Fprintf(&b, "Reply /confirm all %s or /deny all %s", batchID, batchID)
	return b.String()
}

// FormatAllPending renders every currently pending ticket, grouped by batch.
func (s *ApprovalStore) FormatAllPending() string {
	reqs := s.ListPending()
	if len(reqs) == 0 {
		return "No pending approvals."
	}
	byBatch := make(map[string][]*entity.PermissionRequest)
	var order []string
	for _, req := range reqs {
		key := req.BatchID
		if _, seen := byBatch[key]; !seen {
			order = append(order, key)
		}
		byBatch[key] = append(byBatch[key], req)
	}
	var b strings.Builder
	for _, key := range order {
		group := byBatch[key]
		if key == "" {
			for _, req := range group {
				b.WriteString(s.FormatPendingRequest(req))
				b.WriteString("\n\n")
			}
			continue
		}
		b.WriteString(s.FormatBatchRequest(key, group))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
