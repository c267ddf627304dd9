package entity

import "time"

// PermissionDetails carries the human-readable description of a gated
// action plus optional target/content payloads (e.g. a file path, or the
// code blob proposed by request_capability).
type PermissionDetails struct {
	Description string
	Target      string
	Content     string
}

// Decision records how a PermissionRequest was resolved.
type Decision struct {
	Approved  bool
	DecidedAt time.Time
}

// PermissionRequest is a short-lived approval ticket (§3 PermissionRequest).
type PermissionRequest struct {
	ApprovalID string
	BatchID    string // empty if not part of a batch
	ToolName   string
	Action     string
	Details    PermissionDetails
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Decision   *Decision // nil while pending
}

// IsExpired reports whether the ticket has passed its expiry at time t.
func (p *PermissionRequest) IsExpired(t time.Time) bool {
	return p.Decision == nil && t.After(p.ExpiresAt)
}
