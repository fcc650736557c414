// Package engine implements the access decision core: route resolution,
// role capability aggregation, policy evaluation, and the audit trail that
// records every decision.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/identity"
	"github.com/gatehouse/gatehouse/internal/policy"
	"github.com/gatehouse/gatehouse/internal/rbac"
)

// Decision reasons. These are stable strings: they end up in access_logs
// and operators filter on them.
const (
	ReasonNoRouteMapping    = "no route mapping"
	ReasonUnsupportedMethod = "unsupported http method"
	ReasonUnknownUser       = "unknown user"
	ReasonNoRoles           = "no roles assigned"
	ReasonGrantsAll         = "grants-all role"
	ReasonNoCapability      = "insufficient role capability"
	ReasonPolicyFailed      = "policy check failed"
	ReasonLookupFailed      = "authorization lookup failed"
)

// ErrStoreUnavailable distinguishes transient store failures from ordinary
// denials so callers can fail closed explicitly.
var ErrStoreUnavailable = errors.New("engine: store unavailable")

// Decision is the outcome of one Decide invocation.
type Decision struct {
	Allow     bool   `json:"allow"`
	Reason    string `json:"reason"`
	FeatureID *int64 `json:"feature_id,omitempty"`
	// RoleID is set when a single role determined the outcome, such as a
	// grants-all role.
	RoleID *int64 `json:"role_id,omitempty"`
}

// Request carries the inputs of one decision.
type Request struct {
	UserID    int64
	Path      string
	Method    string
	RequestID string
}

// Options tunes engine behavior.
type Options struct {
	// LookupTimeout bounds each group of store reads. Zero disables the
	// bound.
	LookupTimeout time.Duration
}

// Engine resolves access decisions. It holds no mutable state of its own;
// every decision is a pure function of store reads plus one audit write.
type Engine struct {
	identity IdentityStore
	caps     CapabilityStore
	policies PolicyStore
	routes   RouteResolver
	recorder AccessRecorder
	cache    RoleCache
	metrics  Metrics
	logger   *slog.Logger
	opts     Options
}

// New constructs an Engine. All collaborators are injected; cache and
// metrics may be nil.
func New(identityStore IdentityStore, caps CapabilityStore, policies PolicyStore, routes RouteResolver, recorder AccessRecorder, cache RoleCache, metrics Metrics, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		identity: identityStore,
		caps:     caps,
		policies: policies,
		routes:   routes,
		recorder: recorder,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Decide runs the full decision algorithm for one request. It always emits
// exactly one access log record before returning, whatever the outcome. A
// non-nil error reports a store failure; the accompanying decision is
// already the fail-closed deny.
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, error) {
	decision, violations, err := e.evaluate(ctx, req)

	// The audit record is the artifact of lasting value: write it on a
	// context detached from the client so an aborted request cannot lose it.
	auditCtx := context.WithoutCancel(ctx)
	if e.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		auditCtx, cancel = context.WithTimeout(auditCtx, e.opts.LookupTimeout)
		defer cancel()
	}
	if len(violations) > 0 {
		if verr := e.recorder.RecordViolations(auditCtx, violations); verr != nil {
			e.logger.Error("policy violation write failed", slog.Any("error", verr))
			if e.metrics != nil {
				e.metrics.IncAuditFailure("policy_violations")
			}
		}
	}
	entry := audit.AccessLog{
		RoleID:    decision.RoleID,
		FeatureID: decision.FeatureID,
		Path:      req.Path,
		Method:    req.Method,
		Decision:  audit.DecisionDeny,
		Reason:    decision.Reason,
		RequestID: req.RequestID,
	}
	if decision.Allow {
		entry.Decision = audit.DecisionAllow
	}
	// access_logs.user_id carries a foreign key: an id that matched no
	// users row cannot be stored, or the insert itself is rejected and the
	// deny loses its record. The attempted id goes to the log instead.
	if decision.Reason == ReasonUnknownUser {
		e.logger.Warn("access attempt by unknown user",
			slog.Int64("user_id", req.UserID),
			slog.String("path", req.Path),
			slog.String("request_id", req.RequestID))
	} else {
		entry.UserID = &req.UserID
	}
	if aerr := e.recorder.RecordAccess(auditCtx, entry); aerr != nil {
		// The guarded request must not fail on a lost audit record, but the
		// gap is a compliance problem and has to reach an operator.
		e.logger.Error("access log write failed",
			slog.String("path", req.Path),
			slog.String("reason", decision.Reason),
			slog.Any("error", aerr))
		if e.metrics != nil {
			e.metrics.IncAuditFailure("access_logs")
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveDecision(entry.Decision, decision.Reason)
	}
	return decision, err
}

func (e *Engine) evaluate(ctx context.Context, req Request) (Decision, []audit.PolicyViolation, error) {
	lookupCtx, cancel := e.boundCtx(ctx)
	defer cancel()

	// Step 1: resolve the route. No mapping means default deny; the guard
	// never fails open on an unregistered path.
	mapping, err := e.routes.Resolve(lookupCtx, req.Path, req.Method)
	if err != nil {
		return e.storeFailure("resolve route", err)
	}
	if mapping == nil {
		return Decision{Reason: ReasonNoRouteMapping}, nil, nil
	}
	featureID := mapping.FeatureID

	required, ok := rbac.CapabilityForMethod(req.Method)
	if !ok {
		return Decision{Reason: ReasonUnsupportedMethod, FeatureID: &featureID}, nil, nil
	}

	// Step 2: load the user. An unknown id is a plain deny, never an error
	// escaping the engine boundary.
	user, err := e.identity.GetUser(lookupCtx, req.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Decision{Reason: ReasonUnknownUser, FeatureID: &featureID}, nil, nil
		}
		return e.storeFailure("load user", err)
	}

	roles, err := e.loadRoles(lookupCtx, user)
	if err != nil {
		return e.storeFailure("load roles", err)
	}
	if len(roles) == 0 {
		return Decision{Reason: ReasonNoRoles, FeatureID: &featureID}, nil, nil
	}

	// Step 3: a grants-all role short-circuits capability and policy
	// checks entirely.
	for _, role := range roles {
		if role.GrantsAll {
			roleID := role.ID
			return Decision{Allow: true, Reason: ReasonGrantsAll, FeatureID: &featureID, RoleID: &roleID}, nil, nil
		}
	}

	// Step 4: aggregate capability flags across all roles, OR per flag.
	aggregated, err := e.aggregateCapabilities(lookupCtx, roles, featureID)
	if err != nil {
		return e.storeFailure("load capabilities", err)
	}
	if !aggregated.Has(required) {
		return Decision{Reason: ReasonNoCapability, FeatureID: &featureID}, nil, nil
	}

	// Step 5: evaluate the feature's policy set against the user's
	// attributes. Every failing policy is recorded, not just the first.
	policies, err := e.policies.ForFeature(lookupCtx, featureID)
	if err != nil {
		return e.storeFailure("load policies", err)
	}
	result := policy.Evaluate(user.AttributeMap(), policies)
	if !result.Pass {
		return Decision{Reason: ReasonPolicyFailed, FeatureID: &featureID},
			toViolations(req.UserID, featureID, result.Violations), nil
	}

	return Decision{Allow: true, Reason: "capability and policies satisfied", FeatureID: &featureID}, nil, nil
}

// loadRoles returns the user's role set, served from cache while the cached
// stamp still matches roles_updated_at.
func (e *Engine) loadRoles(ctx context.Context, user identity.User) ([]rbac.Role, error) {
	if e.cache != nil {
		if entry, ok := e.cache.Get(ctx, user.ID); ok && entry.Stamp.Equal(user.RolesUpdatedAt) {
			return entry.Roles, nil
		}
	}
	roles, err := e.identity.GetUserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(ctx, user.ID, CachedRoles{Roles: roles, Stamp: user.RolesUpdatedAt})
	}
	return roles, nil
}

// aggregateCapabilities fetches the capability row of every role
// concurrently and folds them into one flag set.
func (e *Engine) aggregateCapabilities(ctx context.Context, roles []rbac.Role, featureID int64) (rbac.Capabilities, error) {
	var (
		mu  sync.Mutex
		agg rbac.Capabilities
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		roleID := role.ID
		g.Go(func() error {
			caps, ok, err := e.caps.Capability(gctx, roleID, featureID)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			mu.Lock()
			agg = agg.Union(caps)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rbac.Capabilities{}, err
	}
	return agg, nil
}

func (e *Engine) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.LookupTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.opts.LookupTimeout)
}

// storeFailure converts a store error into the fail-closed deny plus a
// distinguishable error for the caller. A timeout denies rather than hangs:
// the guard must not outlive the resource it protects, but it must also
// never fail open.
func (e *Engine) storeFailure(op string, err error) (Decision, []audit.PolicyViolation, error) {
	return Decision{Reason: ReasonLookupFailed}, nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func toViolations(userID, featureID int64, violations []policy.Violation) []audit.PolicyViolation {
	out := make([]audit.PolicyViolation, 0, len(violations))
	for _, v := range violations {
		policyID := v.Policy.ID
		out = append(out, audit.PolicyViolation{
			UserID:        &userID,
			FeatureID:     &featureID,
			PolicyID:      &policyID,
			Attribute:     v.Policy.Attribute,
			ExpectedValue: v.Expected,
			ActualValue:   v.Actual,
		})
	}
	return out
}
