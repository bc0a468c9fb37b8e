package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"musicmarket/internal/domain"
	"musicmarket/internal/repos"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCreds  = errors.New("invalid email or password")
	ErrNoSession = errors.New("no user bound to session")
)

// AuthService binds sellers to browser sessions.
type AuthService struct {
	Users *repos.UserRepo
}

func (s *AuthService) Login(ctx context.Context, sid, email, password string) (*domain.User, error) {
	u, err := s.Users.ByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Users.BindSession(ctx, sid, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Logout(ctx context.Context, sid string) error {
	return s.Users.UnbindSession(ctx, sid)
}

// CurrentUser returns ErrNoSession for an unknown or logged out sid.
func (s *AuthService) CurrentUser(ctx context.Context, sid string) (*domain.User, error) {
	if sid == "" {
		return nil, ErrNoSession
	}
	u, err := s.Users.SessionUser(ctx, sid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	return u, err
}
