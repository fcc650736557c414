package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/identity"
	"github.com/gatehouse/gatehouse/internal/shared"
)

type staticUsers struct {
	users map[string]identity.User
}

func (s *staticUsers) FindByEmail(ctx context.Context, email string) (identity.User, error) {
	u, ok := s.users[email]
	if !ok {
		return identity.User{}, pgx.ErrNoRows
	}
	return u, nil
}

type memorySessions struct {
	records map[string]int64
}

func (s *memorySessions) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.records == nil {
		s.records = make(map[string]int64)
	}
	s.records[id] = userID
	return nil
}

func (s *memorySessions) DeleteSession(ctx context.Context, id string) error {
	delete(s.records, id)
	return nil
}

func fixtureUsers(t *testing.T) *staticUsers {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &staticUsers{users: map[string]identity.User{
		"active@test.local":   {ID: 1, Email: "active@test.local", PasswordHash: string(hash), IsActive: true},
		"inactive@test.local": {ID: 2, Email: "inactive@test.local", PasswordHash: string(hash), IsActive: false},
	}}
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(fixtureUsers(t), &memorySessions{})
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, "active@test.local", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)
}

func TestAuthenticateFailuresCollapse(t *testing.T) {
	svc := NewService(fixtureUsers(t), &memorySessions{})
	ctx := context.Background()

	// Wrong password, unknown account, and a disabled account all return
	// the same error: a caller cannot probe which part failed.
	_, err := svc.Authenticate(ctx, "active@test.local", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@test.local", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "inactive@test.local", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRegisterAndRemoveSession(t *testing.T) {
	sessions := &memorySessions{}
	svc := NewService(fixtureUsers(t), sessions)
	ctx := context.Background()

	require.Error(t, svc.RegisterSession(ctx, "", 1, time.Now(), "", ""))

	require.NoError(t, svc.RegisterSession(ctx, "sess-1", 1, time.Now().Add(time.Hour), "127.0.0.1", "test-agent"))
	require.Equal(t, int64(1), sessions.records["sess-1"])

	require.NoError(t, svc.RemoveSession(ctx, "sess-1"))
	require.NotContains(t, sessions.records, "sess-1")
}
