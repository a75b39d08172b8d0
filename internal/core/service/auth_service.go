package service

import (
	"context"
	"time"

	"github.com/rl1809/retail-pos/internal/auth"
	"github.com/rl1809/retail-pos/internal/core/domain"
)

type TokenIssuer interface {
	Issue(id domain.Identity) (string, time.Time, error)
}

type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

type AuthService struct {
	users  *UserService
	tokens TokenIssuer
}

func NewAuthService(users *UserService, tokens TokenIssuer) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

// Login checks the credentials and issues a bearer token. Unknown emails,
// wrong passwords and disabled accounts all fail the same way.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if u == nil || u.Disabled || !auth.CheckPassword(u.Password, password) {
		return LoginResult{}, domain.Unauthorized("invalid email or password")
	}

	token, expires, err := s.tokens.Issue(u.Identity())
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: expires, User: u.Public()}, nil
}
