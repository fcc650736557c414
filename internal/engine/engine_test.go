package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/identity"
	"github.com/gatehouse/gatehouse/internal/policy"
	"github.com/gatehouse/gatehouse/internal/rbac"
	"github.com/gatehouse/gatehouse/internal/routemap"
)

type memoryStores struct {
	mu         sync.Mutex
	users      map[int64]identity.User
	userRoles  map[int64][]rbac.Role
	caps       map[[2]int64]rbac.Capabilities
	policies   map[int64][]policy.Policy
	routes     map[string]routemap.RouteFeature
	failUser   error
	failRoles  error
	failCaps   error
	failRoutes error

	accessLogs []audit.AccessLog
	violations []audit.PolicyViolation
	failAccess error
}

func newMemoryStores() *memoryStores {
	return &memoryStores{
		users:     make(map[int64]identity.User),
		userRoles: make(map[int64][]rbac.Role),
		caps:      make(map[[2]int64]rbac.Capabilities),
		policies:  make(map[int64][]policy.Policy),
		routes:    make(map[string]routemap.RouteFeature),
	}
}

func (m *memoryStores) GetUser(ctx context.Context, id int64) (identity.User, error) {
	if m.failUser != nil {
		return identity.User{}, m.failUser
	}
	u, ok := m.users[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (m *memoryStores) GetUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	if m.failRoles != nil {
		return nil, m.failRoles
	}
	return m.userRoles[userID], nil
}

func (m *memoryStores) Capability(ctx context.Context, roleID, featureID int64) (rbac.Capabilities, bool, error) {
	if m.failCaps != nil {
		return rbac.Capabilities{}, false, m.failCaps
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	caps, ok := m.caps[[2]int64{roleID, featureID}]
	return caps, ok, nil
}

func (m *memoryStores) ForFeature(ctx context.Context, featureID int64) ([]policy.Policy, error) {
	return m.policies[featureID], nil
}

func (m *memoryStores) Resolve(ctx context.Context, path, method string) (*routemap.RouteFeature, error) {
	if m.failRoutes != nil {
		return nil, m.failRoutes
	}
	rf, ok := m.routes[path]
	if !ok {
		return nil, nil
	}
	return &rf, nil
}

func (m *memoryStores) RecordAccess(ctx context.Context, entry audit.AccessLog) error {
	if m.failAccess != nil {
		return m.failAccess
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessLogs = append(m.accessLogs, entry)
	return nil
}

func (m *memoryStores) RecordViolations(ctx context.Context, violations []audit.PolicyViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, violations...)
	return nil
}

type countingMetrics struct {
	mu            sync.Mutex
	decisions     map[string]int
	auditFailures map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{decisions: make(map[string]int), auditFailures: make(map[string]int)}
}

func (m *countingMetrics) ObserveDecision(decision, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[decision+"/"+reason]++
}

func (m *countingMetrics) IncAuditFailure(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditFailures[kind]++
}

func fixtureStores() *memoryStores {
	stores := newMemoryStores()
	stores.routes["/api/v1/users"] = routemap.RouteFeature{ID: 1, Path: "/api/v1/users", FeatureID: 10}
	stores.users[7] = identity.User{ID: 7, Email: "u7@test.local", Level: 1, IsActive: true}
	return stores
}

func newTestEngine(stores *memoryStores, metrics Metrics) *Engine {
	return New(stores, stores, stores, stores, stores, nil, metrics, nil, Options{})
}

func TestDecideNoRolesDenies(t *testing.T) {
	stores := fixtureStores()
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonNoRoles, decision.Reason)
	require.Len(t, stores.accessLogs, 1)
	require.Equal(t, audit.DecisionDeny, stores.accessLogs[0].Decision)
}

func TestDecideGrantsAllShortCircuits(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 3, Name: "superadmin", GrantsAll: true}}
	// Policies exist, flags are absent: neither may matter.
	stores.policies[10] = []policy.Policy{{ID: 1, Attribute: "level", Operator: policy.OpGreaterEqual, Value: "99"}}
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "DELETE"})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Equal(t, ReasonGrantsAll, decision.Reason)
	require.NotNil(t, decision.RoleID)
	require.Equal(t, int64(3), *decision.RoleID)
	require.Empty(t, stores.violations)
	require.Len(t, stores.accessLogs, 1)
	require.Equal(t, audit.DecisionAllow, stores.accessLogs[0].Decision)
}

func TestDecideAggregatesCapabilitiesAcrossRoles(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}, {ID: 2, Name: "editor"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}
	stores.caps[[2]int64{2, 10}] = rbac.Capabilities{CanUpdate: true}
	eng := newTestEngine(stores, nil)

	// Neither role alone grants update+read, together they do.
	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "PUT"})
	require.NoError(t, err)
	require.True(t, decision.Allow)

	decision, err = eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.True(t, decision.Allow)

	// No role contributes delete.
	decision, err = eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "DELETE"})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonNoCapability, decision.Reason)
}

func TestDecideAllFlagsFalseDenies(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "ghost"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{}
	eng := newTestEngine(stores, nil)

	for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
		decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: method})
		require.NoError(t, err)
		require.False(t, decision.Allow, method)
		require.Equal(t, ReasonNoCapability, decision.Reason)
	}
}

func TestDecidePolicyFailureRecordsViolation(t *testing.T) {
	stores := fixtureStores()
	stores.users[7] = identity.User{ID: 7, Level: 2, IsActive: true}
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}
	stores.policies[10] = []policy.Policy{{ID: 5, FeatureID: 10, Attribute: "level", Operator: policy.OpGreaterEqual, Value: "3"}}
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonPolicyFailed, decision.Reason)

	require.Len(t, stores.violations, 1)
	v := stores.violations[0]
	require.Equal(t, "level", v.Attribute)
	require.Equal(t, "3", v.ExpectedValue)
	require.NotNil(t, v.ActualValue)
	require.Equal(t, "2", *v.ActualValue)
	require.Equal(t, int64(5), *v.PolicyID)
	require.Len(t, stores.accessLogs, 1)
}

func TestDecideAllFailingPoliciesRecorded(t *testing.T) {
	stores := fixtureStores()
	stores.users[7] = identity.User{ID: 7, Level: 1, Department: "sales", IsActive: true}
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}
	stores.policies[10] = []policy.Policy{
		{ID: 5, Attribute: "level", Operator: policy.OpGreaterEqual, Value: "3"},
		{ID: 6, Attribute: "department", Operator: policy.OpEqual, Value: "finance"},
	}
	eng := newTestEngine(stores, nil)

	_, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.Len(t, stores.violations, 2)
}

func TestDecideNoPoliciesPassesOnCapability(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Empty(t, stores.violations)
}

func TestDecideIsIdempotentButAlwaysLogs(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}
	eng := newTestEngine(stores, nil)

	req := Request{UserID: 7, Path: "/api/v1/users", Method: "GET"}
	first, err := eng.Decide(context.Background(), req)
	require.NoError(t, err)
	second, err := eng.Decide(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first, second)
	// Same decision twice, but two audit rows: the trail is per request.
	require.Len(t, stores.accessLogs, 2)
}

func TestDecideUserDeleteScenario(t *testing.T) {
	// User 7 (level 1) sends DELETE /api/v1/users/3. Their only role reads
	// but never deletes.
	stores := newMemoryStores()
	stores.routes["/api/v1/users/3"] = routemap.RouteFeature{ID: 1, Path: "/api/v1/users", FeatureID: 10}
	stores.users[7] = identity.User{ID: 7, Level: 1, IsActive: true}
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "viewer"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users/3", Method: "DELETE"})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonNoCapability, decision.Reason)

	require.Len(t, stores.accessLogs, 1)
	entry := stores.accessLogs[0]
	require.Equal(t, audit.DecisionDeny, entry.Decision)
	require.Equal(t, "/api/v1/users/3", entry.Path)
	require.Equal(t, "DELETE", entry.Method)
	require.Equal(t, int64(7), *entry.UserID)
}

func TestDecideUnmappedRouteDeniesByDefault(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 3, Name: "superadmin", GrantsAll: true}}
	eng := newTestEngine(stores, nil)

	// Even a grants-all user is denied on a path nothing maps: the guard
	// never fails open on an unregistered route.
	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/unmapped", Method: "GET"})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonNoRouteMapping, decision.Reason)
	require.Len(t, stores.accessLogs, 1)
}

func TestDecideUnknownUserDenies(t *testing.T) {
	stores := fixtureStores()
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 999, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonUnknownUser, decision.Reason)

	// The deny still lands in the trail, but without a user reference: the
	// id matched no users row, so persisting it would break the insert.
	require.Len(t, stores.accessLogs, 1)
	require.Nil(t, stores.accessLogs[0].UserID)
	require.Equal(t, ReasonUnknownUser, stores.accessLogs[0].Reason)
}

func TestDecideUnsupportedMethodDenies(t *testing.T) {
	stores := fixtureStores()
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "TRACE"})
	require.NoError(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonUnsupportedMethod, decision.Reason)
}

func TestDecideStoreFailureFailsClosed(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}}
	stores.failRoles = errors.New("connection refused")
	eng := newTestEngine(stores, nil)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonLookupFailed, decision.Reason)
	// The failure itself is audited.
	require.Len(t, stores.accessLogs, 1)
	require.Equal(t, ReasonLookupFailed, stores.accessLogs[0].Reason)
}

func TestDecideAuditFailureSurfacesOnMetrics(t *testing.T) {
	stores := fixtureStores()
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}
	stores.failAccess = errors.New("disk full")
	metrics := newCountingMetrics()
	eng := newTestEngine(stores, metrics)

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	// The request outcome stands even when the audit write is lost.
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Equal(t, 1, metrics.auditFailures["access_logs"])
}

func TestDecideObservesMetrics(t *testing.T) {
	stores := fixtureStores()
	metrics := newCountingMetrics()
	eng := newTestEngine(stores, metrics)

	_, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.Equal(t, 1, metrics.decisions["deny/"+ReasonNoRoles])
}

type staticCache struct {
	mu      sync.Mutex
	entries map[int64]CachedRoles
	fills   int
}

func (c *staticCache) Get(ctx context.Context, userID int64) (CachedRoles, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	return entry, ok
}

func (c *staticCache) Set(ctx context.Context, userID int64, entry CachedRoles) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = entry
	c.fills++
}

func (c *staticCache) Invalidate(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

func TestDecideRoleCacheStampMismatchRefetches(t *testing.T) {
	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stores := fixtureStores()
	stores.users[7] = identity.User{ID: 7, IsActive: true, RolesUpdatedAt: stamp}
	stores.userRoles[7] = []rbac.Role{{ID: 1, Name: "reader"}}
	stores.caps[[2]int64{1, 10}] = rbac.Capabilities{CanRead: true}

	cache := &staticCache{entries: map[int64]CachedRoles{
		// Stale entry filled before the user's roles changed.
		7: {Roles: []rbac.Role{{ID: 9, Name: "stale"}}, Stamp: stamp.Add(-time.Hour)},
	}}
	eng := New(stores, stores, stores, stores, stores, cache, nil, nil, Options{})

	decision, err := eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.True(t, decision.Allow)
	require.Equal(t, 1, cache.fills)
	require.Equal(t, stamp, cache.entries[7].Stamp)

	// Second request is served from the refreshed entry.
	_, err = eng.Decide(context.Background(), Request{UserID: 7, Path: "/api/v1/users", Method: "GET"})
	require.NoError(t, err)
	require.Equal(t, 1, cache.fills)
}
