package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// FareHolder places a hold on the rider's card when a ride is accepted and
// settles it at pickup. The ledger remains the system of record; holds are
// best effort and never block a ride.
type FareHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

// StripeClient implements FareHolder via PaymentIntents with manual capture.
type StripeClient struct{}

func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

func (s *StripeClient) Cancel(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
