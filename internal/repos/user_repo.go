package repos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"musicmarket/internal/domain"
)

type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `u.id, u.email, u.name, u.password_hash`

// ByEmail matches case-insensitively.
func (r *UserRepo) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	if err := r.DB.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users u WHERE LOWER(u.email) = LOWER(?)`, email); err != nil {
		return nil, err
	}
	return &u, nil
}

// BindSession points sid at userID, creating the session row if needed.
func (r *UserRepo) BindSession(ctx context.Context, sid, userID string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, last_seen)
		VALUES(?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, last_seen = CURRENT_TIMESTAMP
	`, sid, userID)
	if err != nil {
		return fmt.Errorf("bind session: %w", err)
	}
	return nil
}

// SessionUser returns sql.ErrNoRows when sid is unknown or logged out.
func (r *UserRepo) SessionUser(ctx context.Context, sid string) (*domain.User, error) {
	var u domain.User
	err := r.DB.GetContext(ctx, &u, `
		SELECT `+userColumns+`
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
	`, sid)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) UnbindSession(ctx context.Context, sid string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sid); err != nil {
		return fmt.Errorf("unbind session: %w", err)
	}
	return nil
}
