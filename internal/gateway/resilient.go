package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/circuitbreaker"
)

// ErrGatewayUnavailable is returned when the circuit to the provider is open.
var ErrGatewayUnavailable = errors.New("gateway: provider temporarily unavailable")

// Resilient wraps an Adapter with a circuit breaker on outbound provider
// calls. Webhook verification is local and never tripped.
type Resilient struct {
	inner   Adapter
	breaker *circuitbreaker.Breaker
}

var _ Adapter = (*Resilient)(nil)

// WithBreaker wraps an adapter so repeated provider failures short-circuit
// instead of piling up timeouts.
func WithBreaker(inner Adapter) *Resilient {
	return &Resilient{
		inner:   inner,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (r *Resilient) CreateCharge(ctx context.Context, amount int64, orderRef string, customer Customer) (*Charge, error) {
	if !r.breaker.Allow("charge") {
		return nil, ErrGatewayUnavailable
	}
	charge, err := r.inner.CreateCharge(ctx, amount, orderRef, customer)
	if err != nil {
		r.breaker.RecordFailure("charge")
		return nil, err
	}
	r.breaker.RecordSuccess("charge")
	return charge, nil
}

func (r *Resilient) VerifyNotification(ctx context.Context, payload []byte, signature string) (*Notification, error) {
	return r.inner.VerifyNotification(ctx, payload, signature)
}

func (r *Resilient) QueryStatus(ctx context.Context, orderRef string) (Status, error) {
	if !r.breaker.Allow("status") {
		return "", ErrGatewayUnavailable
	}
	status, err := r.inner.QueryStatus(ctx, orderRef)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		r.breaker.RecordFailure("status")
		return "", err
	}
	r.breaker.RecordSuccess("status")
	return status, err
}
