package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"musicmarket/internal/domain"
	"musicmarket/internal/events"
	"musicmarket/internal/pictures"
	"musicmarket/internal/validate"
)

// Caller identifies the authenticated user a request runs on behalf of.
type Caller struct {
	UserID string
	Email  string
}

type ListingStore interface {
	Create(ctx context.Context, l *domain.Listing) error
	All(ctx context.Context) ([]domain.Listing, error)
	ByID(ctx context.Context, id string) (domain.Listing, error)
	FindOwned(ctx context.Context, id, ownerID string) (domain.Listing, domain.Ownership, error)
	Update(ctx context.Context, l *domain.Listing) error
	Delete(ctx context.Context, l domain.Listing) error
}

type ListingService struct {
	Store           ListingStore
	Pictures        pictures.Store
	Events          events.Publisher
	MaxPictureBytes int
	log             *zap.Logger
}

func NewListingService(store ListingStore, pics pictures.Store, pub events.Publisher, maxPictureBytes int, log *zap.Logger) *ListingService {
	if pub == nil {
		pub = events.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ListingService{Store: store, Pictures: pics, Events: pub, MaxPictureBytes: maxPictureBytes, log: log}
}

func (s *ListingService) List(ctx context.Context) ([]domain.Listing, error) {
	return s.Store.All(ctx)
}

// Get returns domain.ErrListingNotFound for an unknown id.
func (s *ListingService) Get(ctx context.Context, id string) (domain.Listing, error) {
	return s.Store.ByID(ctx, id)
}

// FindOwned looks id up among the caller's own listings.
func (s *ListingService) FindOwned(ctx context.Context, caller Caller, id string) (domain.Listing, domain.Ownership, error) {
	return s.Store.FindOwned(ctx, id, caller.UserID)
}

// Create builds a listing owned by the caller from the permitted fields.
// Field errors come back with the listing as typed; nothing is stored.
func (s *ListingService) Create(ctx context.Context, caller Caller, in domain.ListingInput) (domain.Listing, domain.FieldErrors, error) {
	l := domain.Listing{UserID: caller.UserID}
	errs := validate.ApplyListing(&l, in, true)
	s.checkPicture(in.Picture, errs)
	if errs.Any() {
		return l, errs, nil
	}

	if in.Picture != nil {
		ref, err := s.savePicture(ctx, in.Picture)
		if err != nil {
			return l, nil, err
		}
		l.Picture = ref
	}
	if err := s.Store.Create(ctx, &l); err != nil {
		s.dropPicture(ctx, l.Picture)
		return l, nil, err
	}
	s.publish(ctx, events.ListingCreated, l)
	return l, nil, nil
}

// Update applies the submitted fields to l, which must come from FindOwned.
// On field errors the stored record is left untouched.
func (s *ListingService) Update(ctx context.Context, caller Caller, l domain.Listing, in domain.ListingInput) (domain.Listing, domain.FieldErrors, error) {
	if l.UserID != caller.UserID {
		return l, nil, domain.ErrListingNotFound
	}
	oldPicture := l.Picture
	errs := validate.ApplyListing(&l, in, false)
	s.checkPicture(in.Picture, errs)
	if errs.Any() {
		return l, errs, nil
	}

	if in.Picture != nil {
		ref, err := s.savePicture(ctx, in.Picture)
		if err != nil {
			return l, nil, err
		}
		l.Picture = ref
	}
	if err := s.Store.Update(ctx, &l); err != nil {
		if l.Picture != oldPicture {
			s.dropPicture(ctx, l.Picture)
		}
		return l, nil, err
	}
	if l.Picture != oldPicture {
		s.dropPicture(ctx, oldPicture)
	}
	s.publish(ctx, events.ListingUpdated, l)
	return l, nil, nil
}

// Destroy deletes l, which must come from FindOwned.
func (s *ListingService) Destroy(ctx context.Context, caller Caller, l domain.Listing) error {
	if l.UserID != caller.UserID {
		return domain.ErrListingNotFound
	}
	if err := s.Store.Delete(ctx, l); err != nil {
		return err
	}
	s.dropPicture(ctx, l.Picture)
	s.publish(ctx, events.ListingDeleted, l)
	return nil
}

func (s *ListingService) checkPicture(p *domain.Picture, errs domain.FieldErrors) {
	if p == nil {
		return
	}
	if s.Pictures == nil {
		errs.Add("picture", "uploads are not available")
		return
	}
	if msg, ok := validate.Picture(p, s.MaxPictureBytes); !ok {
		errs.Add("picture", msg)
	}
}

func (s *ListingService) savePicture(ctx context.Context, p *domain.Picture) (string, error) {
	if s.Pictures == nil {
		return "", errors.New("picture store not configured")
	}
	return s.Pictures.Save(ctx, pictures.NewKey(p.Filename, p.ContentType), p.ContentType, p.Data)
}

func (s *ListingService) dropPicture(ctx context.Context, ref string) {
	if ref == "" || s.Pictures == nil {
		return
	}
	if err := s.Pictures.Delete(ctx, ref); err != nil {
		s.log.Warn("listing.picture.delete.fail", zap.String("ref", ref), zap.Error(err))
	}
}

func (s *ListingService) publish(ctx context.Context, typ string, l domain.Listing) {
	if err := s.Events.PublishListing(ctx, events.NewListingEvent(typ, l)); err != nil {
		s.log.Warn("listing.event.publish.fail", zap.String("type", typ), zap.String("listing_id", l.ID), zap.Error(err))
	}
}
