package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"musicmarket/internal/domain"
	applog "musicmarket/internal/log"
	"musicmarket/internal/metrics"
	"musicmarket/internal/payments"
	"musicmarket/internal/services"
	"musicmarket/internal/validate"
)

type ListingHandler struct {
	Listings *services.ListingService
	// Donations is nil when no payment provider is configured.
	Donations      *payments.Donations
	PublishableKey string
	// FailOpen renders the index without a checkout session when the
	// provider fails instead of failing the request.
	FailOpen bool
	Metrics  *metrics.Metrics
}

// GET /listings
func (h *ListingHandler) Index(c *fiber.Ctx) error {
	listings, err := h.Listings.List(c.UserContext())
	if err != nil {
		return err
	}
	sessionID, err := h.checkoutSession(c)
	if err != nil {
		return err
	}
	return render(c, "listings/index", fiber.Map{
		"Listings":  listings,
		"SessionID": sessionID,
		"StripeKey": h.PublishableKey,
	})
}

func (h *ListingHandler) checkoutSession(c *fiber.Ctx) (string, error) {
	if h.Donations == nil {
		return "", nil
	}
	cl, ok := callerFrom(c)
	if !ok {
		return "", nil
	}
	id, err := h.Donations.Session(c.UserContext(), cl.UserID, cl.Email)
	if err != nil {
		h.Metrics.CheckoutFailed()
		applog.Error(c, "payments.session.fail", err, map[string]any{"fail_open": h.FailOpen})
		if h.FailOpen {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// GET /listings/new
func (h *ListingHandler) New(c *fiber.Ctx) error {
	return render(c, "listings/new", fiber.Map{
		"Listing": domain.Listing{},
		"Errors":  domain.FieldErrors{},
	})
}

// POST /listings
func (h *ListingHandler) Create(c *fiber.Ctx) error {
	cl, ok := callerFrom(c)
	if !ok {
		return c.Redirect("/login")
	}
	in, err := listingInput(c, h.Listings.MaxPictureBytes)
	if err != nil {
		return err
	}
	l, errs, err := h.Listings.Create(c.UserContext(), cl, in)
	if err != nil {
		h.Metrics.Action("create", "error")
		return err
	}
	if errs.Any() {
		h.Metrics.Action("create", "invalid")
		return renderStatus(c, fiber.StatusUnprocessableEntity, "listings/new", formData(l, in, errs))
	}
	h.Metrics.Action("create", "ok")
	applog.Audit(c, "listing.create", map[string]any{"listing_id": l.ID})
	return c.Redirect("/listings")
}

// GET /listings/:id/edit
func (h *ListingHandler) Edit(c *fiber.Ctx) error {
	l, ok, err := h.owned(c, "edit")
	if err != nil || !ok {
		return err
	}
	return render(c, "listings/edit", formData(l, domain.ListingInput{}, domain.FieldErrors{}))
}

// PATCH|PUT /listings/:id
func (h *ListingHandler) Update(c *fiber.Ctx) error {
	l, ok, err := h.owned(c, "update")
	if err != nil || !ok {
		return err
	}
	cl, _ := callerFrom(c)
	in, err := listingInput(c, h.Listings.MaxPictureBytes)
	if err != nil {
		return err
	}
	updated, errs, err := h.Listings.Update(c.UserContext(), cl, l, in)
	if errors.Is(err, domain.ErrListingNotFound) {
		// Deleted or reassigned between the lookup and the write.
		h.Metrics.Action("update", "absent")
		return c.Redirect("/listings")
	}
	if err != nil {
		h.Metrics.Action("update", "error")
		return err
	}
	if errs.Any() {
		h.Metrics.Action("update", "invalid")
		return renderStatus(c, fiber.StatusUnprocessableEntity, "listings/edit", formData(updated, in, errs))
	}
	h.Metrics.Action("update", "ok")
	applog.Audit(c, "listing.update", map[string]any{"listing_id": updated.ID})
	return c.Redirect("/listings")
}

// GET /listings/:id
func (h *ListingHandler) Show(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Listing not found")
	}
	l, err := h.Listings.Get(c.UserContext(), id)
	if errors.Is(err, domain.ErrListingNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Listing not found")
	}
	if err != nil {
		return err
	}
	return render(c, "listings/show", fiber.Map{"Listing": l})
}

// DELETE /listings/:id
func (h *ListingHandler) Destroy(c *fiber.Ctx) error {
	l, ok, err := h.owned(c, "destroy")
	if err != nil || !ok {
		return err
	}
	cl, _ := callerFrom(c)
	err = h.Listings.Destroy(c.UserContext(), cl, l)
	if err != nil && !errors.Is(err, domain.ErrListingNotFound) {
		h.Metrics.Action("destroy", "error")
		return err
	}
	h.Metrics.Action("destroy", "ok")
	applog.Audit(c, "listing.destroy", map[string]any{"listing_id": l.ID})
	return c.Redirect("/listings")
}

// owned resolves :id among the caller's own listings. When it reports
// false the response has already been set to a redirect to the index, so
// a missing id and someone else's listing look the same to the client.
func (h *ListingHandler) owned(c *fiber.Ctx, action string) (domain.Listing, bool, error) {
	cl, ok := callerFrom(c)
	if !ok {
		return domain.Listing{}, false, c.Redirect("/login")
	}
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		applog.Security(c, "listing.id.invalid", map[string]any{"action": action})
		h.Metrics.Action(action, "absent")
		return domain.Listing{}, false, c.Redirect("/listings")
	}
	l, own, err := h.Listings.FindOwned(c.UserContext(), cl, id)
	if err != nil {
		return domain.Listing{}, false, err
	}
	switch own {
	case domain.Owned:
		return l, true, nil
	case domain.Foreign:
		applog.Security(c, "listing.scope.foreign", map[string]any{"action": action, "listing_id": id})
	default:
		applog.Info(c, "listing.scope.missing", map[string]any{"action": action, "listing_id": id})
	}
	h.Metrics.Action(action, "absent")
	return domain.Listing{}, false, c.Redirect("/listings")
}

func formData(l domain.Listing, in domain.ListingInput, errs domain.FieldErrors) fiber.Map {
	price := ""
	if l.ID != "" || l.Price != 0 {
		price = strconv.FormatInt(l.Price, 10)
	}
	if in.Price != nil {
		price = strings.TrimSpace(*in.Price)
	}
	return fiber.Map{
		"Listing":    l,
		"PriceInput": price,
		"Errors":     errs,
	}
}

// listingInput reads the permitted listing fields from the request body.
// Anything else that was submitted is logged and dropped.
func listingInput(c *fiber.Ctx, maxPicture int) (domain.ListingInput, error) {
	var in domain.ListingInput
	var keys []string

	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return in, fiber.NewError(fiber.StatusBadRequest, "Malformed form")
		}
		for k, vals := range form.Value {
			keys = append(keys, k)
			if len(vals) > 0 {
				assignField(&in, k, vals[0])
			}
		}
		for k, files := range form.File {
			keys = append(keys, k)
			if k != "picture" || len(files) == 0 {
				continue
			}
			p, err := readPicture(files[0], maxPicture)
			if err != nil {
				return in, err
			}
			in.Picture = p
		}
	} else {
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			key := string(k)
			keys = append(keys, key)
			assignField(&in, key, string(v))
		})
	}

	if extra := validate.Unpermitted(keys); len(extra) > 0 {
		sort.Strings(extra)
		applog.Security(c, "listing.params.unpermitted", map[string]any{"keys": extra})
	}
	return in, nil
}

func assignField(in *domain.ListingInput, key, val string) {
	switch key {
	case "title":
		if in.Title == nil {
			in.Title = &val
		}
	case "description":
		if in.Description == nil {
			in.Description = &val
		}
	case "price":
		if in.Price == nil {
			in.Price = &val
		}
	}
}

// readPicture loads at most maxBytes+1 bytes so oversize uploads are
// reported by validation rather than buffered whole. An empty file input
// counts as no upload.
func readPicture(fh *multipart.FileHeader, maxBytes int) (*domain.Picture, error) {
	if fh.Filename == "" && fh.Size == 0 {
		return nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)+1))
	if err != nil {
		return nil, err
	}
	return &domain.Picture{
		Filename:    fh.Filename,
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}
