// Package notify delivers point lifecycle events to an external endpoint,
// typically the main job-board application, as HMAC-signed webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/idgen"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/points"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/retry"
)

// EventType represents the type of outbound notification.
type EventType string

const (
	EventPurchaseSettled EventType = "points.purchase_settled"
	EventPurchaseFailed  EventType = "points.purchase_failed"
	EventPointsDebited   EventType = "points.debited"
)

// Event is the payload posted to the configured endpoint.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Settings is the delivery target. It is read on every send, so it can be
// swapped at runtime without restarting the service.
type Settings struct {
	URL    string
	Secret string
}

// SettingsFunc returns the current delivery settings. Returning an empty
// URL disables delivery.
type SettingsFunc func() Settings

// StaticSettings adapts a fixed Settings value to a SettingsFunc.
func StaticSettings(s Settings) SettingsFunc {
	return func() Settings { return s }
}

// Dispatcher posts signed events. Sends are asynchronous and retried with
// backoff; a dead endpoint never blocks or fails the ledger path.
type Dispatcher struct {
	settings SettingsFunc
	client   *http.Client
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// Compile-time check that Dispatcher plugs into the points service.
var _ points.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(settings SettingsFunc, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		settings: settings,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// PurchaseSettled reports a settled point purchase.
func (d *Dispatcher) PurchaseSettled(companyID string, pts int, reference string) {
	d.dispatch(EventPurchaseSettled, map[string]any{
		"companyId": companyID,
		"points":    pts,
		"reference": reference,
	})
}

// PurchaseFailed reports a failed or cancelled purchase.
func (d *Dispatcher) PurchaseFailed(companyID, reference, reason string) {
	d.dispatch(EventPurchaseFailed, map[string]any{
		"companyId": companyID,
		"reference": reference,
		"reason":    reason,
	})
}

// PointsDebited reports a usage debit and the remaining balance.
func (d *Dispatcher) PointsDebited(companyID string, pts, remaining int, description string) {
	d.dispatch(EventPointsDebited, map[string]any{
		"companyId":   companyID,
		"points":      pts,
		"remaining":   remaining,
		"description": description,
	})
}

// Wait blocks until in-flight deliveries finish. For shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(eventType EventType, data map[string]any) {
	target := d.settings()
	if target.URL == "" {
		return
	}

	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(target, event); err != nil {
			deliveriesTotal.WithLabelValues(string(eventType), "failed").Inc()
			d.logger.Warn("notification delivery failed",
				"event", event.ID, "type", eventType, "error", err)
			return
		}
		deliveriesTotal.WithLabelValues(string(eventType), "delivered").Inc()
	}()
}

func (d *Dispatcher) send(target Settings, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	signature := Sign(payload, target.Secret)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	return retry.Do(ctx, 3, time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Id", event.ID)
		req.Header.Set("X-Signature", signature)

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(fmt.Errorf("endpoint rejected event: status %d", resp.StatusCode))
		}
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	})
}

// Sign computes the hex HMAC-SHA256 of the payload. Receivers verify it
// from the X-Signature header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
