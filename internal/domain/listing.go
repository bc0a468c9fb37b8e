package domain

import "errors"

var ErrListingNotFound = errors.New("listing not found")

type Listing struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Title       string `db:"title"`
	Description string `db:"description"`
	Price       int64  `db:"price"` // whole currency units
	Picture     string `db:"picture"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

// Ownership is the outcome of looking a listing up on behalf of a user.
type Ownership int

const (
	Missing Ownership = iota
	Owned
	Foreign
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Foreign:
		return "foreign"
	default:
		return "missing"
	}
}

// Picture is an uploaded image waiting to be stored.
type Picture struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ListingInput holds the permitted listing fields from a form. A nil field
// was not submitted and leaves the stored value alone on update.
type ListingInput struct {
	Title       *string
	Description *string
	Price       *string
	Picture     *Picture
}

// FieldErrors maps a form field to a human readable message.
type FieldErrors map[string]string

func (e FieldErrors) Any() bool { return len(e) > 0 }

func (e FieldErrors) Add(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}
