package auth

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// Service authenticates users and issues tokens.
type Service struct {
	users  UserStore
	tokens *TokenService
}

// NewService creates an authentication service.
func NewService(users UserStore, tokens *TokenService) *Service {
	return &Service{users: users, tokens: tokens}
}

// LoginResult carries the resolved actor and its signed token claims.
type LoginResult struct {
	Actor     tenant.Actor `json:"actor"`
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
}

// Login verifies credentials and returns the actor with a signed token.
// Unknown users and wrong passwords both surface UNAUTHENTICATED after a
// full hash verification so response timing does not reveal which happened.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, domain.Unauthenticated("invalid credentials")
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || domain.IsKind(err, domain.KindNotFound) {
			// Burn a verification on a dummy hash to equalize timing.
			_ = ValidatePassword(password, dummyHash)
			return nil, domain.Unauthenticated("invalid credentials")
		}
		return nil, domain.Infra(err, "user lookup failed")
	}

	if !user.Active {
		return nil, domain.Unauthenticated("account is disabled")
	}

	if err := ValidatePassword(password, user.PasswordHash); err != nil {
		common.Logger.WithFields(logrus.Fields{
			"username": username,
		}).Warn("failed login attempt")
		return nil, domain.Unauthenticated("invalid credentials")
	}

	token, err := s.tokens.GenerateToken(user)
	if err != nil {
		return nil, domain.Internal(err, "token generation failed")
	}

	return &LoginResult{
		Actor: tenant.Actor{
			UserID:           user.UserID,
			Role:             user.Role,
			AllowedClientIDs: user.AssignedClientIDs,
		},
		Token:     token,
		ExpiresIn: int64(s.tokens.expiration.Seconds()),
	}, nil
}

// ActorFromClaims rebuilds the tenant actor from validated token claims.
func ActorFromClaims(claims *Claims) tenant.Actor {
	return tenant.Actor{
		UserID:           claims.UserID,
		Role:             claims.Role,
		AllowedClientIDs: claims.ClientIDs,
	}
}

// dummyHash is a valid argon2id encoding of an unused password; Login
// verifies against it when the user does not exist.
var dummyHash = func() string {
	h, err := HashPassword("timing-equalizer")
	if err != nil {
		panic(err)
	}
	return h
}()
