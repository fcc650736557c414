package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gatehouse/gatehouse/internal/audit"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicateName indicates a unique name collision.
	ErrDuplicateName = errors.New("rbac: name already in use")
	// ErrInvalid marks validation failures on role/feature writes.
	ErrInvalid = errors.New("rbac: invalid")
)

// RepositoryPort defines data access methods for the role/feature graph.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) (int64, error)

	ListCategories(ctx context.Context) ([]FeatureCategory, error)
	CreateCategory(ctx context.Context, c FeatureCategory) (FeatureCategory, error)

	ListFeatures(ctx context.Context) ([]Feature, error)
	GetFeature(ctx context.Context, id int64) (Feature, error)
	CreateFeature(ctx context.Context, f Feature) (Feature, error)
	UpdateFeature(ctx context.Context, f Feature) (Feature, error)
	DeleteFeature(ctx context.Context, id int64) (int64, error)

	GetRoleFeature(ctx context.Context, roleID, featureID int64) (RoleFeature, error)
	ListRoleFeatures(ctx context.Context, roleID int64) ([]RoleFeature, error)
	UpsertRoleFeature(ctx context.Context, rf RoleFeature) (RoleFeature, error)
	DeleteRoleFeature(ctx context.Context, roleID, featureID int64) (int64, error)
}

// ChangeRecorder captures mutation snapshots.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, change audit.Change)
}

// Service orchestrates role/feature graph administration.
type Service struct {
	repo    RepositoryPort
	changes ChangeRecorder
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, changes ChangeRecorder) *Service {
	return &Service{repo: repo, changes: changes}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role. Role names are unique.
func (s *Service) CreateRole(ctx context.Context, actorID *int64, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	role.Description = strings.TrimSpace(role.Description)
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalid)
	}
	created, err := s.repo.CreateRole(ctx, role)
	if err != nil {
		if IsUniqueViolation(err) {
			return Role{}, ErrDuplicateName
		}
		return Role{}, err
	}
	s.record(ctx, actorID, "roles", created.ID, audit.ActionCreate, nil, roleSnapshot(created))
	return created, nil
}

// UpdateRole updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, actorID *int64, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	role.Description = strings.TrimSpace(role.Description)
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalid)
	}
	old, err := s.GetRole(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	updated, err := s.repo.UpdateRole(ctx, role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		if IsUniqueViolation(err) {
			return Role{}, ErrDuplicateName
		}
		return Role{}, err
	}
	s.record(ctx, actorID, "roles", updated.ID, audit.ActionUpdate, roleSnapshot(old), roleSnapshot(updated))
	return updated, nil
}

// DeleteRole removes a role by ID. Returns ErrNotFound if nothing was
// deleted.
func (s *Service) DeleteRole(ctx context.Context, actorID *int64, id int64) error {
	old, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	rows, err := s.repo.DeleteRole(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.record(ctx, actorID, "roles", id, audit.ActionDelete, roleSnapshot(old), nil)
	return nil
}

// ListCategories returns all feature categories.
func (s *Service) ListCategories(ctx context.Context) ([]FeatureCategory, error) {
	return s.repo.ListCategories(ctx)
}

// CreateCategory inserts a new feature category, deriving its slug from the
// name.
func (s *Service) CreateCategory(ctx context.Context, actorID *int64, c FeatureCategory) (FeatureCategory, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return FeatureCategory{}, fmt.Errorf("%w: category name required", ErrInvalid)
	}
	c.Slug = Slugify(c.Name)
	if c.Slug == "" {
		return FeatureCategory{}, fmt.Errorf("%w: category name %q yields empty slug", ErrInvalid, c.Name)
	}
	created, err := s.repo.CreateCategory(ctx, c)
	if err != nil {
		if IsUniqueViolation(err) {
			return FeatureCategory{}, ErrDuplicateName
		}
		return FeatureCategory{}, err
	}
	s.record(ctx, actorID, "feature_categories", created.ID, audit.ActionCreate, nil, map[string]any{
		"name": created.Name, "slug": created.Slug, "color": created.Color, "icon": created.Icon,
	})
	return created, nil
}

// ListFeatures returns all features ordered by name.
func (s *Service) ListFeatures(ctx context.Context) ([]Feature, error) {
	return s.repo.ListFeatures(ctx)
}

// GetFeature fetches a feature by ID.
func (s *Service) GetFeature(ctx context.Context, id int64) (Feature, error) {
	f, err := s.repo.GetFeature(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feature{}, ErrNotFound
		}
		return Feature{}, err
	}
	return f, nil
}

// CreateFeature inserts a new feature. Feature names are unique.
func (s *Service) CreateFeature(ctx context.Context, actorID *int64, f Feature) (Feature, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
	if f.Name == "" {
		return Feature{}, fmt.Errorf("%w: feature name required", ErrInvalid)
	}
	created, err := s.repo.CreateFeature(ctx, f)
	if err != nil {
		if IsUniqueViolation(err) {
			return Feature{}, ErrDuplicateName
		}
		return Feature{}, err
	}
	s.record(ctx, actorID, "features", created.ID, audit.ActionCreate, nil, featureSnapshot(created))
	return created, nil
}

// UpdateFeature updates an existing feature.
func (s *Service) UpdateFeature(ctx context.Context, actorID *int64, f Feature) (Feature, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
	if f.Name == "" {
		return Feature{}, fmt.Errorf("%w: feature name required", ErrInvalid)
	}
	old, err := s.GetFeature(ctx, f.ID)
	if err != nil {
		return Feature{}, err
	}
	updated, err := s.repo.UpdateFeature(ctx, f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feature{}, ErrNotFound
		}
		if IsUniqueViolation(err) {
			return Feature{}, ErrDuplicateName
		}
		return Feature{}, err
	}
	s.record(ctx, actorID, "features", updated.ID, audit.ActionUpdate, featureSnapshot(old), featureSnapshot(updated))
	return updated, nil
}

// DeleteFeature removes a feature by ID.
func (s *Service) DeleteFeature(ctx context.Context, actorID *int64, id int64) error {
	old, err := s.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	rows, err := s.repo.DeleteFeature(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.record(ctx, actorID, "features", id, audit.ActionDelete, featureSnapshot(old), nil)
	return nil
}

// Capability returns the capability flags for one (role, feature) pair.
// The second return is false when the matrix has no row for the pair.
func (s *Service) Capability(ctx context.Context, roleID, featureID int64) (Capabilities, bool, error) {
	rf, err := s.repo.GetRoleFeature(ctx, roleID, featureID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Capabilities{}, false, nil
		}
		return Capabilities{}, false, err
	}
	return rf.Capabilities, true, nil
}

// RoleCapabilities returns the capability rows of one role.
func (s *Service) RoleCapabilities(ctx context.Context, roleID int64) ([]RoleFeature, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListRoleFeatures(ctx, roleID)
}

// SetRoleFeature writes one capability matrix row. An existing row for the
// (role, feature) pair is replaced, never duplicated.
func (s *Service) SetRoleFeature(ctx context.Context, actorID *int64, rf RoleFeature) (RoleFeature, error) {
	if _, err := s.GetRole(ctx, rf.RoleID); err != nil {
		return RoleFeature{}, err
	}
	if _, err := s.GetFeature(ctx, rf.FeatureID); err != nil {
		return RoleFeature{}, err
	}
	old, err := s.repo.GetRoleFeature(ctx, rf.RoleID, rf.FeatureID)
	hadOld := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return RoleFeature{}, err
	}
	written, err := s.repo.UpsertRoleFeature(ctx, rf)
	if err != nil {
		return RoleFeature{}, err
	}
	action := audit.ActionCreate
	var oldSnap map[string]any
	if hadOld {
		action = audit.ActionUpdate
		oldSnap = roleFeatureSnapshot(old)
	}
	s.record(ctx, actorID, "role_features", written.ID, action, oldSnap, roleFeatureSnapshot(written))
	return written, nil
}

// ClearRoleFeature removes one capability matrix row.
func (s *Service) ClearRoleFeature(ctx context.Context, actorID *int64, roleID, featureID int64) error {
	old, err := s.repo.GetRoleFeature(ctx, roleID, featureID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	rows, err := s.repo.DeleteRoleFeature(ctx, roleID, featureID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.record(ctx, actorID, "role_features", old.ID, audit.ActionDelete, roleFeatureSnapshot(old), nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID *int64, table string, id int64, action string, oldValues, newValues map[string]any) {
	if s.changes == nil {
		return
	}
	s.changes.RecordChange(ctx, audit.Change{
		ActorID:   actorID,
		TableName: table,
		RecordID:  strconv.FormatInt(id, 10),
		Action:    action,
		OldValues: oldValues,
		NewValues: newValues,
	})
}

func roleSnapshot(r Role) map[string]any {
	return map[string]any{
		"name":        r.Name,
		"description": r.Description,
		"grants_all":  r.GrantsAll,
	}
}

func featureSnapshot(f Feature) map[string]any {
	snap := map[string]any{
		"name":        f.Name,
		"description": f.Description,
	}
	if f.CategoryID != nil {
		snap["category_id"] = *f.CategoryID
	}
	return snap
}

func roleFeatureSnapshot(rf RoleFeature) map[string]any {
	return map[string]any{
		"role_id":    rf.RoleID,
		"feature_id": rf.FeatureID,
		"can_create": rf.CanCreate,
		"can_read":   rf.CanRead,
		"can_update": rf.CanUpdate,
		"can_delete": rf.CanDelete,
	}
}
