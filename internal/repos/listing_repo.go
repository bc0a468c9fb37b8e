package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"musicmarket/internal/domain"
)

type ListingRepo struct{ db *sqlx.DB }

func NewListingRepo(db *sqlx.DB) *ListingRepo { return &ListingRepo{db: db} }

const listingColumns = `id, user_id, title, description, price, picture, created_at, updated_at`

// Create stores l, assigning its id and timestamps.
func (r *ListingRepo) Create(ctx context.Context, l *domain.Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	ts := now()
	l.CreatedAt, l.UpdatedAt = ts, ts
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO listings(`+listingColumns+`)
		VALUES(:id, :user_id, :title, :description, :price, :picture, :created_at, :updated_at)
	`, l)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// All returns every listing in insertion order.
func (r *ListingRepo) All(ctx context.Context) ([]domain.Listing, error) {
	out := []domain.Listing{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+listingColumns+`
		FROM listings
		ORDER BY created_at, rowid
	`)
	return out, err
}

// ByID returns domain.ErrListingNotFound when no row matches.
func (r *ListingRepo) ByID(ctx context.Context, id string) (domain.Listing, error) {
	var l domain.Listing
	err := r.db.GetContext(ctx, &l, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

// FindOwned looks id up on behalf of ownerID. The listing is only returned
// when the outcome is domain.Owned.
func (r *ListingRepo) FindOwned(ctx context.Context, id, ownerID string) (domain.Listing, domain.Ownership, error) {
	l, err := r.ByID(ctx, id)
	if errors.Is(err, domain.ErrListingNotFound) {
		return domain.Listing{}, domain.Missing, nil
	}
	if err != nil {
		return domain.Listing{}, domain.Missing, err
	}
	if l.UserID != ownerID {
		return domain.Listing{}, domain.Foreign, nil
	}
	return l, domain.Owned, nil
}

// Update writes the mutable fields of l. The owner is part of the match so a
// row can never change hands.
func (r *ListingRepo) Update(ctx context.Context, l *domain.Listing) error {
	l.UpdatedAt = now()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE listings
		SET title = :title, description = :description, price = :price,
		    picture = :picture, updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id
	`, l)
	if err != nil {
		return fmt.Errorf("update listing %s: %w", l.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}

// Delete removes l if it still exists under the same owner.
func (r *ListingRepo) Delete(ctx context.Context, l domain.Listing) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ? AND user_id = ?`, l.ID, l.UserID); err != nil {
		return fmt.Errorf("delete listing %s: %w", l.ID, err)
	}
	return nil
}
