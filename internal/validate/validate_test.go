package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"musicmarket/internal/domain"
)

func strp(s string) *string { return &s }

func TestApplyListingCreate(t *testing.T) {
	var l domain.Listing
	errs := ApplyListing(&l, domain.ListingInput{
		Title:       strp("  Guitar "),
		Description: strp("Used"),
		Price:       strp("100"),
	}, true)
	assert.False(t, errs.Any(), "unexpected errors: %v", errs)
	assert.Equal(t, "Guitar", l.Title)
	assert.Equal(t, "Used", l.Description)
	assert.Equal(t, int64(100), l.Price)
}

func TestApplyListingCreateMissingFields(t *testing.T) {
	var l domain.Listing
	errs := ApplyListing(&l, domain.ListingInput{}, true)
	assert.Equal(t, "can't be blank", errs["title"])
	assert.Equal(t, "can't be blank", errs["description"])
	assert.Equal(t, "can't be blank", errs["price"])
}

func TestApplyListingPrice(t *testing.T) {
	cases := []struct {
		name  string
		price string
		want  string
	}{
		{"not a number", "ten", "must be a whole number"},
		{"decimal", "10.50", "must be a whole number"},
		{"negative", "-1", "must be greater than or equal to 0"},
		{"too large", "100000001", "must be less than or equal to 100000000"},
		{"blank", "  ", "can't be blank"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := domain.Listing{Title: "Amp", Description: "Loud", Price: 5}
			errs := ApplyListing(&l, domain.ListingInput{Price: strp(tc.price)}, false)
			assert.Equal(t, tc.want, errs["price"])
		})
	}
}

func TestApplyListingPartialUpdateKeepsStoredValues(t *testing.T) {
	l := domain.Listing{Title: "Guitar", Description: "Used", Price: 100}
	errs := ApplyListing(&l, domain.ListingInput{Price: strp("150")}, false)
	assert.False(t, errs.Any())
	assert.Equal(t, "Guitar", l.Title)
	assert.Equal(t, "Used", l.Description)
	assert.Equal(t, int64(150), l.Price)
}

func TestApplyListingTitleTooLong(t *testing.T) {
	l := domain.Listing{Title: "Guitar", Description: "Used", Price: 100}
	errs := ApplyListing(&l, domain.ListingInput{Title: strp(strings.Repeat("x", 101))}, false)
	assert.Equal(t, "is too long (maximum is 100 characters)", errs["title"])
}

func TestPicture(t *testing.T) {
	_, ok := Picture(nil, 10)
	assert.True(t, ok)

	_, ok = Picture(&domain.Picture{ContentType: "image/png", Data: []byte("png")}, 10)
	assert.True(t, ok)

	msg, ok := Picture(&domain.Picture{ContentType: "text/html", Data: []byte("<p>")}, 10)
	assert.False(t, ok)
	assert.Contains(t, msg, "JPEG")

	_, ok = Picture(&domain.Picture{ContentType: "image/png", Data: make([]byte, 11)}, 10)
	assert.False(t, ok)
}

func TestUnpermitted(t *testing.T) {
	got := Unpermitted([]string{"title", "csrf", "user_id", "price", "_method", "id"})
	assert.Equal(t, []string{"user_id", "id"}, got)
	assert.Empty(t, Unpermitted(ListingFields))
}

func TestEmailAndID(t *testing.T) {
	_, ok := Email("alice@musicmarket.test")
	assert.True(t, ok)
	_, ok = Email("not-an-email")
	assert.False(t, ok)

	_, ok = ID("0b0c3d4e-1111-2222-3333-444455556666")
	assert.True(t, ok)
	_, ok = ID("../etc/passwd")
	assert.False(t, ok)
}
