package engine

import (
	"context"
	"time"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/identity"
	"github.com/gatehouse/gatehouse/internal/policy"
	"github.com/gatehouse/gatehouse/internal/rbac"
	"github.com/gatehouse/gatehouse/internal/routemap"
)

// IdentityStore reads the requesting user and their role set.
type IdentityStore interface {
	GetUser(ctx context.Context, id int64) (identity.User, error)
	GetUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error)
}

// CapabilityStore reads the capability matrix.
type CapabilityStore interface {
	Capability(ctx context.Context, roleID, featureID int64) (rbac.Capabilities, bool, error)
}

// PolicyStore reads the policy set attached to a feature.
type PolicyStore interface {
	ForFeature(ctx context.Context, featureID int64) ([]policy.Policy, error)
}

// RouteResolver maps a request to the feature guarding it.
type RouteResolver interface {
	Resolve(ctx context.Context, path, method string) (*routemap.RouteFeature, error)
}

// AccessRecorder is the audit sink. Both writes are append-only.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, entry audit.AccessLog) error
	RecordViolations(ctx context.Context, violations []audit.PolicyViolation) error
}

// Metrics is the operator-visible channel for decisions and audit failures.
type Metrics interface {
	ObserveDecision(decision, reason string)
	IncAuditFailure(kind string)
}

// CachedRoles is one role cache entry. Stamp carries the user's
// roles_updated_at at fill time; a mismatch invalidates the entry.
type CachedRoles struct {
	Roles []rbac.Role `json:"roles"`
	Stamp time.Time   `json:"stamp"`
}

// RoleCache avoids re-reading a user's role set on every decision.
type RoleCache interface {
	Get(ctx context.Context, userID int64) (CachedRoles, bool)
	Set(ctx context.Context, userID int64, entry CachedRoles)
	Invalidate(ctx context.Context, userID int64) error
}
