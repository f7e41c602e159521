package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("Str0ng!pass")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	require.NoError(t, ValidatePassword("Str0ng!pass", hash))
	assert.ErrorIs(t, ValidatePassword("wrong-pass", hash), ErrInvalidCredentials)
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	h1, err := HashPassword("Str0ng!pass")
	require.NoError(t, err)
	h2, err := HashPassword("Str0ng!pass")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestValidatePasswordMalformedHash(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("x", "not-a-hash"), ErrMalformedHash)
	assert.ErrorIs(t, ValidatePassword("x", "$bcrypt$whatever"), ErrMalformedHash)
}

func TestCheckPasswordStrength(t *testing.T) {
	assert.ErrorIs(t, CheckPasswordStrength("", false), ErrEmptyPassword)
	assert.ErrorIs(t, CheckPasswordStrength("short", false), ErrPasswordTooShort)
	assert.NoError(t, CheckPasswordStrength("longenough", false))
	assert.ErrorIs(t, CheckPasswordStrength("alllowercase1!", true), ErrWeakPassword)
	assert.NoError(t, CheckPasswordStrength("G00d!Password", true))
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	user := &domain.User{
		UserID:            "u1",
		Username:          "lead_a",
		Role:              domain.RoleLeader,
		AssignedClientIDs: []string{"SITE-A", "SITE-B"},
	}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, domain.RoleLeader, claims.Role)
	assert.ElementsMatch(t, []string{"SITE-A", "SITE-B"}, claims.ClientIDs)

	actor := ActorFromClaims(claims)
	assert.Equal(t, "u1", actor.UserID)
	assert.True(t, actor.Allowed("SITE-B"))
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	other := NewTokenService("other-secret", time.Hour)

	token, err := svc.GenerateToken(&domain.User{UserID: "u1", Username: "op", Role: domain.RoleOperator})
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)
	token, err := svc.GenerateToken(&domain.User{UserID: "u1", Username: "op", Role: domain.RoleOperator})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}

type fakeUserStore map[string]*domain.User

func (f fakeUserStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	if u, ok := f[username]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func TestLogin(t *testing.T) {
	hash, err := HashPassword("Correct!1pass")
	require.NoError(t, err)

	users := fakeUserStore{
		"op_a": &domain.User{
			UserID:            "u1",
			Username:          "op_a",
			PasswordHash:      hash,
			Role:              domain.RoleOperator,
			Active:            true,
			AssignedClientIDs: []string{"SITE-A"},
		},
		"gone": &domain.User{
			UserID:       "u2",
			Username:     "gone",
			PasswordHash: hash,
			Role:         domain.RoleViewer,
			Active:       false,
		},
	}

	svc := NewService(users, NewTokenService("test-secret", time.Hour))

	t.Run("success", func(t *testing.T) {
		res, err := svc.Login(context.Background(), "op_a", "Correct!1pass")
		require.NoError(t, err)
		assert.Equal(t, "u1", res.Actor.UserID)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, []string{"SITE-A"}, res.Actor.AllowedClientIDs)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "op_a", "nope")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindUnauthenticated))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "who_dis", "whatever")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindUnauthenticated))
	})

	t.Run("disabled account", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "gone", "Correct!1pass")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindUnauthenticated))
	})
}
