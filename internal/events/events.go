// Package events announces listing changes to other services.
package events

import (
	"context"
	"time"

	"musicmarket/internal/domain"
)

const (
	ListingCreated = "created"
	ListingUpdated = "updated"
	ListingDeleted = "deleted"
)

type ListingEvent struct {
	Type      string    `json:"type"`
	ListingID string    `json:"listing_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Price     int64     `json:"price,omitempty"`
	At        time.Time `json:"at"`
}

func NewListingEvent(typ string, l domain.Listing) ListingEvent {
	return ListingEvent{
		Type:      typ,
		ListingID: l.ID,
		UserID:    l.UserID,
		Title:     l.Title,
		Price:     l.Price,
		At:        time.Now().UTC(),
	}
}

type Publisher interface {
	PublishListing(ctx context.Context, ev ListingEvent) error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishListing(context.Context, ListingEvent) error { return nil }
