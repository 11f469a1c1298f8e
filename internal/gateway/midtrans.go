package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MidtransConfig configures the Midtrans adapter.
type MidtransConfig struct {
	ServerKey string
	BaseURL   string // e.g. https://api.sandbox.midtrans.com
	Timeout   time.Duration
}

// Midtrans implements Adapter against the Midtrans Core API.
//
// Webhook authenticity is checked with the documented signature scheme:
// sha512(order_id + status_code + gross_amount + server_key).
type Midtrans struct {
	cfg    MidtransConfig
	client *http.Client
}

// NewMidtrans creates a Midtrans adapter.
func NewMidtrans(cfg MidtransConfig) (*Midtrans, error) {
	if cfg.ServerKey == "" || cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Midtrans{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type midtransChargeRequest struct {
	PaymentType        string                 `json:"payment_type"`
	TransactionDetails map[string]interface{} `json:"transaction_details"`
	CustomerDetails    map[string]string      `json:"customer_details"`
}

type midtransChargeResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	RedirectURL       string `json:"redirect_url"`
	Token             string `json:"token"`
}

// CreateCharge registers a charge and returns the payment token/redirect.
func (m *Midtrans) CreateCharge(ctx context.Context, amount int64, orderRef string, customer Customer) (charge *Charge, err error) {
	defer func() { observeGateway("create_charge", err) }()

	body, err := json.Marshal(midtransChargeRequest{
		PaymentType: "bank_transfer",
		TransactionDetails: map[string]interface{}{
			"order_id":     orderRef,
			"gross_amount": amount,
		},
		CustomerDetails: map[string]string{
			"first_name": customer.Name,
			"email":      customer.Email,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v2/charge", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	m.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out midtransChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrChargeFailed, err)
	}
	// Midtrans signals errors in-band via status_code (2xx strings mean ok).
	if resp.StatusCode >= 300 || (out.StatusCode != "" && out.StatusCode[0] != '2') {
		return nil, fmt.Errorf("%w: status %s %s", ErrChargeFailed, out.StatusCode, out.StatusMessage)
	}

	return &Charge{
		Token:       firstNonEmpty(out.Token, out.TransactionID),
		RedirectURL: out.RedirectURL,
		Raw: map[string]string{
			"transaction_id":     out.TransactionID,
			"transaction_status": out.TransactionStatus,
			"status_code":        out.StatusCode,
		},
	}, nil
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
}

// VerifyNotification checks the in-band payload signature and parses it.
// The transport signature argument is unused; Midtrans signs inside the body.
func (m *Midtrans) VerifyNotification(ctx context.Context, payload []byte, _ string) (*Notification, error) {
	var n midtransNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if n.OrderID == "" || n.TransactionStatus == "" {
		return nil, ErrBadPayload
	}

	status, err := parseMidtransStatus(n.TransactionStatus)
	if err != nil {
		return nil, err
	}

	expected := midtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, m.cfg.ServerKey)
	trusted := subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) == 1

	return &Notification{
		Trusted:        trusted,
		OrderReference: n.OrderID,
		ProviderStatus: status,
		FraudStatus:    n.FraudStatus,
		Raw: map[string]string{
			"transaction_id":     n.TransactionID,
			"transaction_status": n.TransactionStatus,
			"status_code":        n.StatusCode,
			"gross_amount":       n.GrossAmount,
			"payment_type":       n.PaymentType,
			"fraud_status":       n.FraudStatus,
		},
	}, nil
}

type midtransStatusResponse struct {
	StatusCode        string `json:"status_code"`
	TransactionStatus string `json:"transaction_status"`
}

// QueryStatus fetches the order's transaction status from the provider.
func (m *Midtrans) QueryStatus(ctx context.Context, orderRef string) (status Status, err error) {
	defer func() { observeGateway("query_status", err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/v2/"+orderRef+"/status", nil)
	if err != nil {
		return "", err
	}
	m.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrOrderNotFound
	}

	var out midtransStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	if out.StatusCode == "404" {
		return "", ErrOrderNotFound
	}
	return parseMidtransStatus(out.TransactionStatus)
}

// authorize sets HTTP basic auth with the server key as username.
func (m *Midtrans) authorize(req *http.Request) {
	cred := base64.StdEncoding.EncodeToString([]byte(m.cfg.ServerKey + ":"))
	req.Header.Set("Authorization", "Basic "+cred)
}

func midtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func parseMidtransStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCapture, StatusSettlement, StatusPending, StatusDeny, StatusCancel, StatusExpire:
		return Status(s), nil
	case "refund", "partial_refund":
		// Provider-side refunds are handled by the admin refund flow, not
		// the reconciler; surface them as cancel so pending rows terminate.
		return StatusCancel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrStatusUnknown, s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
