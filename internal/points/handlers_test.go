package points

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/gateway"
)

func setupHandlerTestRouter(opts ...Option) (*gin.Engine, *Service, *mockGateway) {
	gin.SetMode(gin.TestMode)

	svc, _, gw := newTestService(opts...)
	handler := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterWebhookRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group("/admin"))

	return r, svc, gw
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// POST /v1/companies/:id/purchases
// ---------------------------------------------------------------------------

func TestHandler_InitiatePurchase_201(t *testing.T) {
	router, _, _ := setupHandlerTestRouter()

	w := doJSON(router, "POST", "/v1/companies/com_1/purchases", gin.H{"packageId": "pkg_basic"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Purchase struct {
			Reference   string `json:"reference"`
			Token       string `json:"token"`
			RedirectURL string `json:"redirectUrl"`
			Points      int    `json:"points"`
		} `json:"purchase"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Purchase.Token != "tok_test" || resp.Purchase.Points != 100 {
		t.Errorf("Unexpected purchase payload: %+v", resp.Purchase)
	}
	if resp.Purchase.Reference == "" {
		t.Error("Expected an order reference")
	}
}

func TestHandler_InitiatePurchase_400_MissingPackage(t *testing.T) {
	router, _, _ := setupHandlerTestRouter()

	w := doJSON(router, "POST", "/v1/companies/com_1/purchases", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandler_InitiatePurchase_404_UnknownPackage(t *testing.T) {
	router, _, _ := setupHandlerTestRouter()

	w := doJSON(router, "POST", "/v1/companies/com_1/purchases", gin.H{"packageId": "pkg_nope"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_InitiatePurchase_502_GatewayDown(t *testing.T) {
	router, _, gw := setupHandlerTestRouter()
	gw.chargeErr = gateway.ErrChargeFailed

	w := doJSON(router, "POST", "/v1/companies/com_1/purchases", gin.H{"packageId": "pkg_basic"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// POST /v1/webhooks/payment
// ---------------------------------------------------------------------------

func TestHandler_PaymentNotification_200_Applied(t *testing.T) {
	router, svc, gw := setupHandlerTestRouter()

	handle, _ := svc.InitiatePurchase(context.Background(), "com_1", "pkg_basic")
	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusSettlement,
	}

	w := doJSON(router, "POST", "/v1/webhooks/payment", gin.H{"order_id": handle.Reference})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Reconciliation ReconciliationResult `json:"reconciliation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Reconciliation.Outcome != OutcomeApplied {
		t.Errorf("Expected applied, got %s", resp.Reconciliation.Outcome)
	}
}

func TestHandler_PaymentNotification_200_UnknownReference(t *testing.T) {
	router, _, gw := setupHandlerTestRouter()

	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: "ord_ghost",
		ProviderStatus: gateway.StatusSettlement,
	}

	// The gateway retries on non-2xx; an unknown order still gets a 200 ack.
	w := doJSON(router, "POST", "/v1/webhooks/payment", gin.H{"order_id": "ord_ghost"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 ack for unknown reference, got %d", w.Code)
	}
}

func TestHandler_PaymentNotification_200_BadSignature(t *testing.T) {
	router, svc, gw := setupHandlerTestRouter()

	handle, _ := svc.InitiatePurchase(context.Background(), "com_1", "pkg_basic")
	gw.notif = &gateway.Notification{
		Trusted:        false,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusSettlement,
	}

	// A bad signature is still acknowledged; a 401 here would put the
	// gateway into a redelivery loop whenever a key is misconfigured.
	w := doJSON(router, "POST", "/v1/webhooks/payment", gin.H{"order_id": handle.Reference})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 ack for untrusted payload, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Reconciliation ReconciliationResult `json:"reconciliation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Reconciliation.Outcome != OutcomeRejected {
		t.Errorf("Expected rejected, got %s", resp.Reconciliation.Outcome)
	}

	// The untrusted payload must not have moved the transaction.
	txn, err := svc.GetPurchase(context.Background(), handle.Reference)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if txn.Status != StatusPending {
		t.Errorf("Untrusted payload mutated transaction to %s", txn.Status)
	}
}

// ---------------------------------------------------------------------------
// POST /v1/companies/:id/debits
// ---------------------------------------------------------------------------

func TestHandler_DebitForUsage_201(t *testing.T) {
	router, svc, gw := setupHandlerTestRouter()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusSettlement,
	}
	svc.HandleNotification(ctx, []byte("{}"), "")

	w := doJSON(router, "POST", "/v1/companies/com_1/debits", gin.H{
		"referenceKind": "job_posting",
		"referenceId":   "job_7",
		"description":   "Publish senior engineer role",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Transaction.Points != -1 || resp.Transaction.ReferenceID != "job_7" {
		t.Errorf("Unexpected debit transaction: %+v", resp.Transaction)
	}
}

func TestHandler_DebitForUsage_402_InsufficientBalance(t *testing.T) {
	router, _, _ := setupHandlerTestRouter()

	w := doJSON(router, "POST", "/v1/companies/com_broke/debits", gin.H{
		"referenceKind": "job_posting",
		"referenceId":   "job_1",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Balance, history, purchase lookup
// ---------------------------------------------------------------------------

func TestHandler_GetBalance_200(t *testing.T) {
	router, svc, _ := setupHandlerTestRouter()
	svc.GrantBonus(context.Background(), "com_1", 40, "seed")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/companies/com_1/balance", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Points int `json:"points"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Points != 40 {
		t.Errorf("Expected 40 points, got %d", resp.Points)
	}
}

func TestHandler_GetPurchase_404(t *testing.T) {
	router, _, _ := setupHandlerTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/purchases/ord_ghost", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_History_200_WithFilter(t *testing.T) {
	router, svc, _ := setupHandlerTestRouter()
	ctx := context.Background()
	svc.GrantBonus(ctx, "com_1", 10, "a")
	svc.GrantBonus(ctx, "com_1", 10, "b")
	svc.InitiatePurchase(ctx, "com_1", "pkg_basic")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/companies/com_1/transactions?kind=bonus", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Transactions []Transaction `json:"transactions"`
		Count        int           `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 bonus transactions, got %d", resp.Count)
	}
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestHandler_GrantBonus_201(t *testing.T) {
	router, _, _ := setupHandlerTestRouter()

	w := doJSON(router, "POST", "/v1/admin/companies/com_1/bonus", gin.H{"points": 15, "description": "promo"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_RefundTransaction_409_Twice(t *testing.T) {
	router, svc, gw := setupHandlerTestRouter()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusSettlement,
	}
	svc.HandleNotification(ctx, []byte("{}"), "")
	purchase, _ := svc.GetPurchase(ctx, handle.Reference)

	w := doJSON(router, "POST", "/v1/admin/transactions/"+purchase.ID+"/refund", gin.H{"reason": "test"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/v1/admin/transactions/"+purchase.ID+"/refund", gin.H{"reason": "test"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on double refund, got %d", w.Code)
	}
}

func TestHandler_Audit_200(t *testing.T) {
	router, svc, _ := setupHandlerTestRouter()
	svc.GrantBonus(context.Background(), "com_1", 10, "seed")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/admin/companies/com_1/audit", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Audit AuditReport `json:"audit"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Audit.Consistent {
		t.Error("Expected consistent audit")
	}
}
