package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/identity"
	"github.com/gatehouse/gatehouse/internal/shared"
)

// UserLookup finds accounts by email.
type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (identity.User, error)
}

// SessionStore persists durable session records.
type SessionStore interface {
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// Service wraps authentication business rules.
type Service struct {
	users    UserLookup
	sessions SessionStore
}

// NewService constructs a new Service.
func NewService(users UserLookup, sessions SessionStore) *Service {
	return &Service{users: users, sessions: sessions}
}

// Authenticate validates email/password credentials. Every failure mode
// collapses into ErrInvalidCredentials so responses do not leak which part
// was wrong.
func (s *Service) Authenticate(ctx context.Context, email, password string) (identity.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return identity.User{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return identity.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return identity.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if id == "" {
		return errors.New("auth: session id required")
	}
	return s.sessions.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.sessions.DeleteSession(ctx, id)
}
