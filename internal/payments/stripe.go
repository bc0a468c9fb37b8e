package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProvider creates Stripe Checkout sessions in payment mode.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider uses the default Stripe backends when backends is nil.
func NewStripeProvider(secretKey string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, backends)}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := checkoutParams(req)
	params.Context = ctx
	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session: %w", err)
	}
	return s.ID, nil
}

func checkoutParams(req CheckoutRequest) *stripe.CheckoutSessionParams {
	return &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CustomerEmail:      stripe.String(req.PayerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ItemName),
				},
				UnitAmount: stripe.Int64(req.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"user_id": req.PayerID},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
}
