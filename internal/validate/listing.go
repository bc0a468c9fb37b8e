package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"musicmarket/internal/domain"
)

// ListingFields are the only keys a listing form may carry.
var ListingFields = []string{"title", "price", "description", "picture"}

// Keys the framework adds to every form.
var frameworkFields = map[string]bool{"csrf": true, "_method": true}

var pictureTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type listingFields struct {
	Title       string `form:"title" validate:"required,max=100"`
	Description string `form:"description" validate:"required,max=5000"`
	Price       int64  `form:"price" validate:"gte=0,lte=100000000"`
}

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	return val
}

// ApplyListing merges the submitted fields into dst and validates the
// result. dst is modified even when errors are returned so a form can be
// re-rendered with what the user typed.
func ApplyListing(dst *domain.Listing, in domain.ListingInput, creating bool) domain.FieldErrors {
	errs := domain.FieldErrors{}

	if in.Title != nil {
		dst.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		dst.Description = strings.TrimSpace(*in.Description)
	}
	switch {
	case in.Price != nil:
		raw := strings.TrimSpace(*in.Price)
		if raw == "" {
			errs.Add("price", "can't be blank")
			break
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs.Add("price", "must be a whole number")
			break
		}
		dst.Price = n
	case creating:
		errs.Add("price", "can't be blank")
	}

	err := v.Struct(listingFields{Title: dst.Title, Description: dst.Description, Price: dst.Price})
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			errs.Add(fe.Field(), message(fe))
		}
	}
	return errs
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "can't be blank"
	case "max":
		return fmt.Sprintf("is too long (maximum is %s characters)", fe.Param())
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	default:
		return "is invalid"
	}
}

// Picture checks an upload against the accepted image types and a size limit.
func Picture(p *domain.Picture, maxBytes int) (string, bool) {
	if p == nil {
		return "", true
	}
	if len(p.Data) == 0 {
		return "is empty", false
	}
	if len(p.Data) > maxBytes {
		return fmt.Sprintf("must be at most %d bytes", maxBytes), false
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(p.ContentType, ";", 2)[0]))
	if !pictureTypes[ct] {
		return "must be a JPEG, PNG, GIF or WebP image", false
	}
	return "", true
}

// Unpermitted returns the submitted keys outside the listing allow-list.
func Unpermitted(keys []string) []string {
	var out []string
	for _, k := range keys {
		if frameworkFields[k] || permitted(k) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func permitted(k string) bool {
	for _, f := range ListingFields {
		if f == k {
			return true
		}
	}
	return false
}
