package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/rbac"
)

var (
	// ErrNotFound indicates that the requested user does not exist.
	ErrNotFound = errors.New("identity: not found")
	// ErrDuplicateEmail indicates an email collision.
	ErrDuplicateEmail = errors.New("identity: email already in use")
	// ErrInvalid marks validation failures on user writes.
	ErrInvalid = errors.New("identity: invalid")
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	ListUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
}

// ChangeRecorder captures mutation snapshots.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, change audit.Change)
}

// RoleCacheInvalidator drops cached role sets after identity mutations.
type RoleCacheInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Service handles user administration and the identity lookups the decision
// engine depends on.
type Service struct {
	repo    RepositoryPort
	changes ChangeRecorder
	cache   RoleCacheInvalidator
}

// NewService builds Service instance. cache may be nil when no role cache is
// configured.
func NewService(repo RepositoryPort, changes ChangeRecorder, cache RoleCacheInvalidator) *Service {
	return &Service{repo: repo, changes: changes, cache: cache}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// GetUserRoles returns the roles assigned to a user.
func (s *Service) GetUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	return s.repo.ListUserRoles(ctx, userID)
}

// CreateUser hashes the password and inserts a new user.
func (s *Service) CreateUser(ctx context.Context, actorID *int64, u User, password string) (User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	if u.Email == "" {
		return User{}, fmt.Errorf("%w: email required", ErrInvalid)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("identity: hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	created, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		if rbac.IsUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	s.record(ctx, actorID, created.ID, audit.ActionCreate, nil, userSnapshot(created))
	return created, nil
}

// UpdateUser rewrites profile and attributes. Attribute changes invalidate
// the engine's cached role data for the user.
func (s *Service) UpdateUser(ctx context.Context, actorID *int64, u User) (User, error) {
	u.Name = strings.TrimSpace(u.Name)
	old, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	updated, err := s.repo.UpdateUser(ctx, u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	s.invalidate(ctx, u.ID)
	s.record(ctx, actorID, updated.ID, audit.ActionUpdate, userSnapshot(old), userSnapshot(updated))
	return updated, nil
}

// AssignRole links a role to a user.
func (s *Service) AssignRole(ctx context.Context, actorID *int64, userID, roleID int64) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	if s.changes != nil {
		s.changes.RecordChange(ctx, audit.Change{
			ActorID:   actorID,
			TableName: "user_roles",
			RecordID:  userRoleRecordID(userID, roleID),
			Action:    audit.ActionCreate,
			NewValues: map[string]any{"user_id": userID, "role_id": roleID},
		})
	}
	return nil
}

// RemoveRole unlinks a role from a user.
func (s *Service) RemoveRole(ctx context.Context, actorID *int64, userID, roleID int64) error {
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	if s.changes != nil {
		s.changes.RecordChange(ctx, audit.Change{
			ActorID:   actorID,
			TableName: "user_roles",
			RecordID:  userRoleRecordID(userID, roleID),
			Action:    audit.ActionDelete,
			OldValues: map[string]any{"user_id": userID, "role_id": roleID},
		})
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	// Best effort: a stale cache entry ages out via its stamp check anyway.
	_ = s.cache.Invalidate(ctx, userID)
}

func (s *Service) record(ctx context.Context, actorID *int64, id int64, action string, oldValues, newValues map[string]any) {
	if s.changes == nil {
		return
	}
	s.changes.RecordChange(ctx, audit.Change{
		ActorID:   actorID,
		TableName: "users",
		RecordID:  strconv.FormatInt(id, 10),
		Action:    action,
		OldValues: oldValues,
		NewValues: newValues,
	})
}

func userRoleRecordID(userID, roleID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(roleID, 10)
}

func userSnapshot(u User) map[string]any {
	return map[string]any{
		"email":      u.Email,
		"name":       u.Name,
		"department": u.Department,
		"region":     u.Region,
		"level":      u.Level,
		"is_active":  u.IsActive,
		"attributes": u.Attributes,
	}
}
