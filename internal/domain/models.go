package domain

import "time"

// AuditOutcome is the result of an authentication decision.
type AuditOutcome string

const (
	AuditAuthenticated AuditOutcome = "authenticated"
	AuditRejected      AuditOutcome = "rejected"
)

// AuditEntry records one authentication decision taken by the gateway.
//
// Only the user id and the route are kept; tokens and claims beyond the
// subject are never stored.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: authenticated subject; empty for rejected requests.
//   - Method / Route: request method and path that triggered the decision.
//   - Outcome: authenticated or rejected (enforced by DB constraint).
//   - Reason: short machine-readable cause for rejections (e.g. "expired").
//   - ClientIP: resolved client address used for rate limiting.
//   - CreatedAt: decision time, indexed for retention sweeps.
type AuditEntry struct {
	ID        string       `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string       `json:"user_id"    gorm:"type:varchar(64);index:idx_audit_user"`
	Method    string       `json:"method"     gorm:"type:varchar(16);not null"`
	Route     string       `json:"route"      gorm:"type:varchar(512);not null"`
	Outcome   AuditOutcome `json:"outcome"    gorm:"type:varchar(16);not null;check:outcome IN ('authenticated','rejected')"`
	Reason    string       `json:"reason"     gorm:"type:varchar(64)"`
	ClientIP  string       `json:"client_ip"  gorm:"type:varchar(64)"`
	CreatedAt time.Time    `json:"created_at" gorm:"index:idx_audit_created"`
}

// TableName returns the database table name for AuditEntry.
func (AuditEntry) TableName() string { return "auth_audit" }
