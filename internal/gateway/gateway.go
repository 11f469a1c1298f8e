// Package gateway abstracts the external payment provider.
//
// The points core only ever sees this interface: create a charge, verify an
// inbound notification, query a charge's status. Any provider with these
// three capabilities is substitutable.
package gateway

import (
	"context"
	"errors"
)

var (
	ErrChargeFailed   = errors.New("gateway: charge request failed")
	ErrBadPayload     = errors.New("gateway: malformed notification payload")
	ErrOrderNotFound  = errors.New("gateway: order not found")
	ErrStatusUnknown  = errors.New("gateway: unknown provider status")
	ErrNotConfigured  = errors.New("gateway: provider not configured")
)

// Status is the provider-side state of a charge, normalized across providers.
type Status string

const (
	StatusCapture    Status = "capture"
	StatusSettlement Status = "settlement"
	StatusPending    Status = "pending"
	StatusDeny       Status = "deny"
	StatusCancel     Status = "cancel"
	StatusExpire     Status = "expire"
)

// Fraud statuses attached to card captures.
const (
	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)

// RawProviderRef is the Charge.Raw (and transaction metadata) key under
// which an adapter records the provider-side handle its QueryStatus
// resolves, when that handle differs from our order reference.
const RawProviderRef = "provider_ref"

// Customer identifies the paying company to the provider.
type Customer struct {
	ID    string
	Name  string
	Email string
}

// Charge is the handle returned when a payment is initiated. The caller
// completes payment out-of-band (redirect or embedded widget).
type Charge struct {
	Token       string            // provider payment token / session id
	RedirectURL string            // hosted payment page, if any
	Raw         map[string]string // provider response fields, for the metadata bag
}

// Notification is a verified, parsed webhook payload.
type Notification struct {
	Trusted        bool              // signature checked out
	OrderReference string            // our external_reference
	ProviderStatus Status
	FraudStatus    string            // empty when the provider has no fraud layer
	Raw            map[string]string // provider payload fields, for the metadata bag
}

// Adapter is the capability interface the points core consumes.
type Adapter interface {
	// CreateCharge registers a charge with the provider and returns the
	// payment handle. amount is in the smallest currency unit.
	CreateCharge(ctx context.Context, amount int64, orderRef string, customer Customer) (*Charge, error)

	// VerifyNotification authenticates and parses a raw webhook body.
	// signature carries transport-level signature material (e.g. the
	// Stripe-Signature header); providers that sign in-band ignore it.
	// An authentic-looking but unverifiable payload returns Trusted=false,
	// not an error; errors mean the payload could not even be parsed.
	VerifyNotification(ctx context.Context, payload []byte, signature string) (*Notification, error)

	// QueryStatus fetches the current provider status for an order. ref
	// is the provider-side handle: the RawProviderRef value recorded at
	// charge time when present, otherwise our order reference. Used for
	// user-initiated polling and the reconciliation sweep.
	QueryStatus(ctx context.Context, ref string) (Status, error)
}
