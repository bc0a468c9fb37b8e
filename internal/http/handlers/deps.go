package handlers

import (
	"strings"

	"musicmarket/internal/config"
	"musicmarket/internal/metrics"
	"musicmarket/internal/payments"
	"musicmarket/internal/services"
)

type Deps struct {
	AuthHandler    *AuthHandler
	ListingHandler *ListingHandler
	PagesHandler   *PagesHandler
}

// NewDeps wires handlers; donations may be nil when payments are disabled.
func NewDeps(cfg config.Config, auth *services.AuthService, listings *services.ListingService, donations *payments.Donations, m *metrics.Metrics) *Deps {
	return &Deps{
		AuthHandler: &AuthHandler{Auth: auth, SecureCookies: strings.HasPrefix(cfg.BaseURL, "https://")},
		ListingHandler: &ListingHandler{
			Listings:       listings,
			Donations:      donations,
			PublishableKey: cfg.Stripe.PublishableKey,
			FailOpen:       cfg.Stripe.FailOpen,
			Metrics:        m,
		},
		PagesHandler: &PagesHandler{},
	}
}
