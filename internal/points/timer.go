package points

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically resolves stale pending purchases by polling the
// gateway, the safety net for webhooks that never arrived.
type Timer struct {
	service  *Service
	interval time.Duration
	maxAge   time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
}

// TimerOption configures the sweep timer.
type TimerOption func(*Timer)

// WithSweepInterval overrides how often the sweep runs.
func WithSweepInterval(d time.Duration) TimerOption {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// NewTimer creates a stale-purchase sweep timer.
func NewTimer(service *Service, logger *slog.Logger, opts ...TimerOption) *Timer {
	t := &Timer{
		service:  service,
		interval: 15 * time.Minute,
		maxAge:   1 * time.Hour,
		batch:    50,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-t.maxAge)
	stale, err := t.service.store.StalePending(ctx, cutoff, t.batch)
	if err != nil {
		t.logger.Warn("failed to list stale pending purchases", "error", err)
		return
	}

	resolved := 0
	for _, txn := range stale {
		_, result, err := t.service.SyncPurchase(ctx, txn.ExternalReference)
		if err != nil {
			t.logger.Warn("failed to sync stale purchase",
				"reference", txn.ExternalReference, "error", err)
			continue
		}
		if result.Outcome == OutcomeApplied {
			resolved++
			stalePendingSwept.Inc()
		}
	}

	if len(stale) > 0 {
		t.logger.Info("stale purchase sweep finished",
			"checked", len(stale), "resolved", resolved)
	}
}
