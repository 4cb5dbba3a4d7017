package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient holds, captures and releases the blood processing charge a
// hospital levies when it issues units.
type StripeClient struct {
	PerUnit  int64
	Currency string
}

// NewStripeClient sets the global stripe key. perUnit is in the currency's minor unit.
func NewStripeClient(apiKey string, perUnit int64, currency string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{PerUnit: perUnit, Currency: currency}
}

// Hold creates a manual-capture PaymentIntent for units and returns its id.
func (s *StripeClient) Hold(ctx context.Context, requestID string, units int) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(s.PerUnit * int64(units)),
		Currency: stripe.String(s.Currency),
	}
	params.Context = ctx
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("blood_request_id", requestID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}
