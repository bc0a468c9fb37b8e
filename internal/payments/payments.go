// Package payments creates hosted checkout sessions for site donations.
package payments

import (
	"context"
	"errors"
	"net/url"
)

var ErrNoSession = errors.New("payments: provider returned no session id")

// CheckoutRequest describes a single line item checkout for one payer.
type CheckoutRequest struct {
	Amount     int64 // minor units
	Currency   string
	ItemName   string
	PayerEmail string
	PayerID    string
	SuccessURL string
	CancelURL  string
}

type SessionProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// Donations turns a payer into a CheckoutRequest for the configured
// donation and asks the provider for a session.
type Donations struct {
	Provider SessionProvider
	Amount   int64
	Currency string
	ItemName string
	BaseURL  string
}

func (d *Donations) Request(payerID, payerEmail string) CheckoutRequest {
	return CheckoutRequest{
		Amount:     d.Amount,
		Currency:   d.Currency,
		ItemName:   d.ItemName,
		PayerEmail: payerEmail,
		PayerID:    payerID,
		SuccessURL: d.BaseURL + "/pages/donated?userId=" + url.QueryEscape(payerID),
		CancelURL:  d.BaseURL + "/",
	}
}

func (d *Donations) Session(ctx context.Context, payerID, payerEmail string) (string, error) {
	id, err := d.Provider.CreateCheckoutSession(ctx, d.Request(payerID, payerEmail))
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}
