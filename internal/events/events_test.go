package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"musicmarket/internal/domain"
)

func TestNewListingEvent(t *testing.T) {
	ev := NewListingEvent(ListingCreated, domain.Listing{ID: "l1", UserID: "u-alice", Title: "Guitar", Price: 100})
	assert.Equal(t, "created", ev.Type)
	assert.Equal(t, "l1", ev.ListingID)
	assert.Equal(t, "u-alice", ev.UserID)
	assert.False(t, ev.At.IsZero())
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "listings.deleted", Subject("listings", ListingDeleted))
	assert.Equal(t, "updated", Subject("", ListingUpdated))
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.PublishListing(context.Background(), ListingEvent{}))
}
