package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gatehouse/gatehouse/internal/audit"
)

// ErrNotFound indicates that the requested policy does not exist.
var ErrNotFound = errors.New("policy: not found")

// RepositoryPort defines data access methods for policies.
type RepositoryPort interface {
	ListPolicies(ctx context.Context) ([]Policy, error)
	GetPoliciesForFeature(ctx context.Context, featureID int64) ([]Policy, error)
	GetPolicy(ctx context.Context, id int64) (Policy, error)
	CreatePolicy(ctx context.Context, p Policy) (Policy, error)
	UpdatePolicy(ctx context.Context, p Policy) (Policy, error)
	DeletePolicy(ctx context.Context, id int64) (int64, error)
}

// ChangeRecorder captures mutation snapshots. Implementations isolate their
// own failures; the admin operation never fails on a missed snapshot.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, change audit.Change)
}

// Service handles policy administration.
type Service struct {
	repo    RepositoryPort
	changes ChangeRecorder
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, changes ChangeRecorder) *Service {
	return &Service{repo: repo, changes: changes}
}

// List returns all policies.
func (s *Service) List(ctx context.Context) ([]Policy, error) {
	return s.repo.ListPolicies(ctx)
}

// ForFeature returns the policy set attached to one feature.
func (s *Service) ForFeature(ctx context.Context, featureID int64) ([]Policy, error) {
	return s.repo.GetPoliciesForFeature(ctx, featureID)
}

// Get fetches one policy by id.
func (s *Service) Get(ctx context.Context, id int64) (Policy, error) {
	p, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, ErrNotFound
		}
		return Policy{}, err
	}
	return p, nil
}

// Create validates and inserts a new policy.
func (s *Service) Create(ctx context.Context, actorID *int64, p Policy) (Policy, error) {
	if err := normalize(&p); err != nil {
		return Policy{}, err
	}
	created, err := s.repo.CreatePolicy(ctx, p)
	if err != nil {
		return Policy{}, err
	}
	s.recordChange(ctx, actorID, audit.ActionCreate, created.ID, nil, snapshot(created))
	return created, nil
}

// Update validates and rewrites an existing policy.
func (s *Service) Update(ctx context.Context, actorID *int64, p Policy) (Policy, error) {
	if err := normalize(&p); err != nil {
		return Policy{}, err
	}
	old, err := s.Get(ctx, p.ID)
	if err != nil {
		return Policy{}, err
	}
	updated, err := s.repo.UpdatePolicy(ctx, p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, ErrNotFound
		}
		return Policy{}, err
	}
	s.recordChange(ctx, actorID, audit.ActionUpdate, updated.ID, snapshot(old), snapshot(updated))
	return updated, nil
}

// Delete removes a policy by id.
func (s *Service) Delete(ctx context.Context, actorID *int64, id int64) error {
	old, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rows, err := s.repo.DeletePolicy(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.recordChange(ctx, actorID, audit.ActionDelete, id, snapshot(old), nil)
	return nil
}

func normalize(p *Policy) error {
	p.Attribute = strings.TrimSpace(p.Attribute)
	p.Value = strings.TrimSpace(p.Value)
	p.Operator = Operator(strings.TrimSpace(strings.ToLower(string(p.Operator))))
	if p.FeatureID <= 0 {
		return fmt.Errorf("%w: feature required", ErrInvalid)
	}
	if p.Attribute == "" {
		return fmt.Errorf("%w: attribute required", ErrInvalid)
	}
	if err := ValidateOperator(p.Operator); err != nil {
		return err
	}
	if p.Value == "" {
		return fmt.Errorf("%w: value required for operator %q", ErrInvalid, p.Operator)
	}
	return nil
}

func (s *Service) recordChange(ctx context.Context, actorID *int64, action string, id int64, oldValues, newValues map[string]any) {
	if s.changes == nil {
		return
	}
	s.changes.RecordChange(ctx, audit.Change{
		ActorID:   actorID,
		TableName: "policies",
		RecordID:  strconv.FormatInt(id, 10),
		Action:    action,
		OldValues: oldValues,
		NewValues: newValues,
	})
}

func snapshot(p Policy) map[string]any {
	return map[string]any{
		"feature_id": p.FeatureID,
		"attribute":  p.Attribute,
		"operator":   string(p.Operator),
		"value":      p.Value,
	}
}
