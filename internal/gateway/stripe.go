package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string // defaults to "usd"
}

// Stripe implements Adapter on top of Stripe Checkout. A Checkout Session is
// the charge handle; settlement arrives as checkout.session webhook events
// verified with the endpoint's signing secret.
type Stripe struct {
	cfg StripeConfig
	api *client.API
}

// NewStripe creates a Stripe adapter.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Stripe{cfg: cfg, api: api}, nil
}

// CreateCharge opens a Checkout Session carrying our reference.
func (s *Stripe) CreateCharge(ctx context.Context, amount int64, orderRef string, customer Customer) (charge *Charge, err error) {
	defer func() { observeGateway("create_charge", err) }()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(orderRef),
		CustomerEmail:     stripe.String(customer.Email),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ExpiresAt:         stripe.Int64(time.Now().Add(24 * time.Hour).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.Currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Job posting points"),
				},
			},
		}},
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}

	return &Charge{
		Token:       sess.ID,
		RedirectURL: sess.URL,
		Raw: map[string]string{
			RawProviderRef:     sess.ID,
			"checkout_session": sess.ID,
			"payment_status":   string(sess.PaymentStatus),
		},
	}, nil
}

// VerifyNotification validates the Stripe-Signature header against the
// endpoint signing secret and maps the event to a provider status.
func (s *Stripe) VerifyNotification(ctx context.Context, payload []byte, signature string) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		// Signature failures still need the reference for logging; parse
		// the body without trusting it.
		var raw stripe.Event
		if jsonErr := json.Unmarshal(payload, &raw); jsonErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, jsonErr)
		}
		n, parseErr := s.parseEvent(&raw)
		if parseErr != nil {
			return nil, parseErr
		}
		n.Trusted = false
		return n, nil
	}

	n, err := s.parseEvent(&event)
	if err != nil {
		return nil, err
	}
	n.Trusted = true
	return n, nil
}

func (s *Stripe) parseEvent(event *stripe.Event) (*Notification, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if sess.ClientReferenceID == "" {
		return nil, ErrBadPayload
	}

	var status Status
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		status = StatusSettlement
	case "checkout.session.expired":
		status = StatusExpire
	case "checkout.session.async_payment_failed":
		status = StatusDeny
	default:
		return nil, fmt.Errorf("%w: event %s", ErrStatusUnknown, event.Type)
	}

	return &Notification{
		OrderReference: sess.ClientReferenceID,
		ProviderStatus: status,
		Raw: map[string]string{
			"event_id":         string(event.ID),
			"event_type":       string(event.Type),
			"checkout_session": sess.ID,
			"payment_status":   string(sess.PaymentStatus),
		},
	}, nil
}

// QueryStatus fetches the Checkout Session recorded at charge time and maps
// its state. ref must be the session ID from RawProviderRef; Stripe offers
// no session lookup by client reference.
func (s *Stripe) QueryStatus(ctx context.Context, ref string) (status Status, err error) {
	defer func() { observeGateway("query_status", err) }()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.Get(ref, params)
	if err != nil {
		var sErr *stripe.Error
		if errors.As(err, &sErr) && sErr.Code == stripe.ErrorCodeResourceMissing {
			return "", ErrOrderNotFound
		}
		return "", err
	}

	switch sess.Status {
	case stripe.CheckoutSessionStatusComplete:
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return StatusPending, nil
		}
		return StatusSettlement, nil
	case stripe.CheckoutSessionStatusExpired:
		return StatusExpire, nil
	default:
		return StatusPending, nil
	}
}
