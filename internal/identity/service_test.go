package identity

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/rbac"
)

type memoryUserRepo struct {
	users  map[int64]User
	roles  map[int64][]rbac.Role
	nextID int64
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]User), roles: make(map[int64][]rbac.Role)}
}

func (r *memoryUserRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memoryUserRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (r *memoryUserRepo) FindByEmail(ctx context.Context, email string) (User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, pgx.ErrNoRows
}

func (r *memoryUserRepo) CreateUser(ctx context.Context, u User) (User, error) {
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return User{}, &pgconn.PgError{Code: "23505"}
		}
	}
	r.nextID++
	u.ID = r.nextID
	r.users[u.ID] = u
	return u, nil
}

func (r *memoryUserRepo) UpdateUser(ctx context.Context, u User) (User, error) {
	old, ok := r.users[u.ID]
	if !ok {
		return User{}, pgx.ErrNoRows
	}
	u.PasswordHash = old.PasswordHash
	r.users[u.ID] = u
	return u, nil
}

func (r *memoryUserRepo) ListUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	return r.roles[userID], nil
}

func (r *memoryUserRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	r.roles[userID] = append(r.roles[userID], rbac.Role{ID: roleID})
	return nil
}

func (r *memoryUserRepo) RemoveRole(ctx context.Context, userID, roleID int64) error {
	kept := r.roles[userID][:0]
	for _, role := range r.roles[userID] {
		if role.ID != roleID {
			kept = append(kept, role)
		}
	}
	r.roles[userID] = kept
	return nil
}

type userChanges struct {
	changes []audit.Change
}

func (c *userChanges) RecordChange(ctx context.Context, change audit.Change) {
	c.changes = append(c.changes, change)
}

type recordingInvalidator struct {
	invalidated []int64
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, userID int64) error {
	r.invalidated = append(r.invalidated, userID)
	return nil
}

func TestCreateUserHashesPassword(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateUser(context.Background(), nil, User{Email: "  Admin@Test.Local "}, "secret-pass")
	require.NoError(t, err)
	require.Equal(t, "admin@test.local", created.Email)
	require.NotEqual(t, "secret-pass", created.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("secret-pass")))
}

func TestCreateUserValidation(t *testing.T) {
	svc := NewService(newMemoryUserRepo(), nil, nil)

	_, err := svc.CreateUser(context.Background(), nil, User{Email: ""}, "secret-pass")
	require.ErrorIs(t, err, ErrInvalid)

	_, err = svc.CreateUser(context.Background(), nil, User{Email: "a@b.c"}, "short")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.CreateUser(context.Background(), nil, User{Email: "a@b.c"}, "secret-pass")
	require.NoError(t, err)
	_, err = svc.CreateUser(context.Background(), nil, User{Email: "a@b.c"}, "secret-pass")
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestGetUserNotFound(t *testing.T) {
	svc := NewService(newMemoryUserRepo(), nil, nil)
	_, err := svc.GetUser(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateUserInvalidatesRoleCache(t *testing.T) {
	repo := newMemoryUserRepo()
	inv := &recordingInvalidator{}
	changes := &userChanges{}
	svc := NewService(repo, changes, inv)

	created, err := svc.CreateUser(context.Background(), nil, User{Email: "a@b.c"}, "secret-pass")
	require.NoError(t, err)

	created.Department = "finance"
	_, err = svc.UpdateUser(context.Background(), nil, created)
	require.NoError(t, err)
	require.Equal(t, []int64{created.ID}, inv.invalidated)

	last := changes.changes[len(changes.changes)-1]
	require.Equal(t, "users", last.TableName)
	require.Equal(t, audit.ActionUpdate, last.Action)
	require.Equal(t, "", last.OldValues["department"])
	require.Equal(t, "finance", last.NewValues["department"])
}

func TestAssignAndRemoveRoleRecordChanges(t *testing.T) {
	repo := newMemoryUserRepo()
	inv := &recordingInvalidator{}
	changes := &userChanges{}
	svc := NewService(repo, changes, inv)

	created, err := svc.CreateUser(context.Background(), nil, User{Email: "a@b.c"}, "secret-pass")
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(context.Background(), nil, created.ID, 5))
	roles, err := svc.GetUserRoles(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	require.NoError(t, svc.RemoveRole(context.Background(), nil, created.ID, 5))
	roles, err = svc.GetUserRoles(context.Background(), created.ID)
	require.NoError(t, err)
	require.Empty(t, roles)

	// Both mutations invalidated the role cache and left change records.
	require.Len(t, inv.invalidated, 2)
	last := changes.changes[len(changes.changes)-1]
	require.Equal(t, "user_roles", last.TableName)
	require.Equal(t, audit.ActionDelete, last.Action)
}

func TestAssignRoleUnknownUser(t *testing.T) {
	svc := NewService(newMemoryUserRepo(), nil, nil)
	require.ErrorIs(t, svc.AssignRole(context.Background(), nil, 42, 1), ErrNotFound)
}

func TestAttributeMapColumnsWin(t *testing.T) {
	u := User{
		Department: "finance",
		Region:     "emea",
		Level:      3,
		IsActive:   true,
		Attributes: map[string]any{"department": "override", "clearance": "high"},
	}
	attrs := u.AttributeMap()
	require.Equal(t, "finance", attrs["department"])
	require.Equal(t, "emea", attrs["region"])
	require.Equal(t, 3, attrs["level"])
	require.Equal(t, true, attrs["active"])
	require.Equal(t, "high", attrs["clearance"])
}
