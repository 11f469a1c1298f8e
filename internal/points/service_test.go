package points

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/gateway"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockGateway struct {
	mu        sync.Mutex
	charge    *gateway.Charge
	chargeErr error
	notif     *gateway.Notification
	verifyErr error
	status    gateway.Status
	statusErr error
	charged   []string
	queried   []string
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		charge: &gateway.Charge{Token: "tok_test", RedirectURL: "https://pay.example/tok_test"},
	}
}

func (m *mockGateway) CreateCharge(_ context.Context, amount int64, orderRef string, _ gateway.Customer) (*gateway.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chargeErr != nil {
		return nil, m.chargeErr
	}
	m.charged = append(m.charged, orderRef)
	return m.charge, nil
}

func (m *mockGateway) VerifyNotification(_ context.Context, _ []byte, _ string) (*gateway.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	return m.notif, nil
}

func (m *mockGateway) QueryStatus(_ context.Context, ref string) (gateway.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queried = append(m.queried, ref)
	if m.statusErr != nil {
		return "", m.statusErr
	}
	return m.status, nil
}

type mockPackages struct {
	pkgs map[string]*PointPackage
}

func (m *mockPackages) GetPackage(_ context.Context, id string) (*PointPackage, error) {
	pkg, ok := m.pkgs[id]
	if !ok {
		return nil, ErrPackageUnavailable
	}
	return pkg, nil
}

type mockCustomers struct{}

func (m *mockCustomers) GetCustomer(_ context.Context, companyID string) (*gateway.Customer, error) {
	if companyID == "com_missing" {
		return nil, ErrCompanyNotFound
	}
	return &gateway.Customer{ID: companyID, Name: "Acme Corp", Email: "billing@acme.test"}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	settled []string
	failed  []string
	debited []string
}

func (r *recordingNotifier) PurchaseSettled(companyID string, points int, reference string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, reference)
}

func (r *recordingNotifier) PurchaseFailed(companyID, reference, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reference)
}

func (r *recordingNotifier) PointsDebited(companyID string, points, remaining int, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debited = append(r.debited, companyID)
}

var _ gateway.Adapter = (*mockGateway)(nil)
var _ PackageProvider = (*mockPackages)(nil)
var _ CustomerProvider = (*mockCustomers)(nil)
var _ Notifier = (*recordingNotifier)(nil)

// ---------------------------------------------------------------------------
// Helper: create a fully-wired test service
// ---------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(opts ...Option) (*Service, *MemoryStore, *mockGateway) {
	store := NewMemoryStore()
	gw := newMockGateway()
	pkgs := &mockPackages{pkgs: map[string]*PointPackage{
		"pkg_basic": {ID: "pkg_basic", Name: "Basic", Points: 100, Price: 150000, Active: true},
		"pkg_promo": {ID: "pkg_promo", Name: "Promo", Points: 200, BonusPoints: 50, Price: 250000, Active: true},
		"pkg_dead":  {ID: "pkg_dead", Name: "Retired", Points: 10, Price: 10000, Active: false},
	}}
	svc := NewService(store, gw, pkgs, &mockCustomers{}, testLogger(), opts...)
	return svc, store, gw
}

func settle(t *testing.T, svc *Service, gw *mockGateway, reference string) *ReconciliationResult {
	t.Helper()
	gw.mu.Lock()
	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: reference,
		ProviderStatus: gateway.StatusSettlement,
	}
	gw.mu.Unlock()
	result, err := svc.HandleNotification(context.Background(), []byte("{}"), "")
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	return result
}

// ===========================================================================
// Purchase initiation
// ===========================================================================

func TestInitiatePurchase_CreatesPendingTransaction(t *testing.T) {
	svc, store, gw := newTestService()
	ctx := context.Background()

	handle, err := svc.InitiatePurchase(ctx, "com_1", "pkg_promo")
	if err != nil {
		t.Fatalf("InitiatePurchase failed: %v", err)
	}
	if handle.Token != "tok_test" {
		t.Errorf("Expected gateway token, got %q", handle.Token)
	}
	if handle.Points != 250 {
		t.Errorf("Expected 250 points (200 + 50 bonus), got %d", handle.Points)
	}

	txn, err := store.FindByReference(ctx, handle.Reference)
	if err != nil {
		t.Fatalf("Pending transaction not found: %v", err)
	}
	if txn.Status != StatusPending {
		t.Errorf("Expected pending, got %s", txn.Status)
	}
	if txn.Kind != KindPurchase {
		t.Errorf("Expected purchase kind, got %s", txn.Kind)
	}
	if txn.Metadata["package_id"] != "pkg_promo" {
		t.Errorf("Expected package_id in metadata, got %v", txn.Metadata)
	}

	// No points until the gateway settles.
	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Balance should be 0 before settlement, got %d", bal.Points)
	}

	if len(gw.charged) != 1 || gw.charged[0] != handle.Reference {
		t.Errorf("Gateway charge not registered for %s: %v", handle.Reference, gw.charged)
	}
}

func TestInitiatePurchase_InactivePackageRejected(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.InitiatePurchase(context.Background(), "com_1", "pkg_dead")
	if !errors.Is(err, ErrPackageUnavailable) {
		t.Errorf("Expected ErrPackageUnavailable, got %v", err)
	}
}

func TestInitiatePurchase_UnknownCompanyRejected(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.InitiatePurchase(context.Background(), "com_missing", "pkg_basic")
	if !errors.Is(err, ErrCompanyNotFound) {
		t.Errorf("Expected ErrCompanyNotFound, got %v", err)
	}
}

func TestInitiatePurchase_GatewayFailureCompensates(t *testing.T) {
	svc, store, gw := newTestService()
	gw.chargeErr = gateway.ErrChargeFailed
	ctx := context.Background()

	_, err := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	if !errors.Is(err, ErrPaymentInitiationFailed) {
		t.Fatalf("Expected ErrPaymentInitiationFailed, got %v", err)
	}

	// The pending row must have been flipped to failed, not left dangling.
	txns, _ := store.History(ctx, "com_1", HistoryFilter{})
	if len(txns) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(txns))
	}
	if txns[0].Status != StatusFailed {
		t.Errorf("Expected compensated failed status, got %s", txns[0].Status)
	}
}

// ===========================================================================
// Webhook reconciliation
// ===========================================================================

func TestHandleNotification_SettlementCreditsOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store, gw := newTestService(WithNotifier(notifier))
	ctx := context.Background()

	handle, err := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	if err != nil {
		t.Fatalf("InitiatePurchase failed: %v", err)
	}

	result := settle(t, svc, gw, handle.Reference)
	if result.Outcome != OutcomeApplied {
		t.Fatalf("Expected applied, got %s (%s)", result.Outcome, result.Reason)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", result.Status)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 100 {
		t.Errorf("Expected 100 points after settlement, got %d", bal.Points)
	}
	if len(notifier.settled) != 1 {
		t.Errorf("Expected 1 settled notification, got %d", len(notifier.settled))
	}

	// Gateway redelivery: same notification again is a no-op.
	replay := settle(t, svc, gw, handle.Reference)
	if replay.Outcome != OutcomeNoop {
		t.Errorf("Expected noop on replay, got %s", replay.Outcome)
	}
	bal, _ = store.Balance(ctx, "com_1")
	if bal.Points != 100 {
		t.Errorf("Replay must not double-credit: got %d", bal.Points)
	}
	if len(notifier.settled) != 1 {
		t.Errorf("Replay must not re-notify: got %d", len(notifier.settled))
	}
}

func TestHandleNotification_ChallengeKeepsPending(t *testing.T) {
	svc, store, gw := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")

	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusCapture,
		FraudStatus:    gateway.FraudChallenge,
		Raw:            map[string]string{"fraud_status": "challenge"},
	}
	result, err := svc.HandleNotification(ctx, []byte("{}"), "")
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if result.Outcome != OutcomeNoop {
		t.Errorf("Challenge should be a noop, got %s", result.Outcome)
	}

	txn, _ := store.FindByReference(ctx, handle.Reference)
	if txn.Status != StatusPending {
		t.Errorf("Challenge must keep transaction pending, got %s", txn.Status)
	}
	if txn.Metadata["fraud_status"] != "challenge" {
		t.Errorf("Challenge metadata not recorded: %v", txn.Metadata)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Challenge must not credit points, got %d", bal.Points)
	}

	// Review passes later: settlement completes the purchase.
	if r := settle(t, svc, gw, handle.Reference); r.Outcome != OutcomeApplied {
		t.Fatalf("Settlement after challenge should apply, got %s", r.Outcome)
	}
	bal, _ = store.Balance(ctx, "com_1")
	if bal.Points != 100 {
		t.Errorf("Expected 100 points after review passes, got %d", bal.Points)
	}
}

func TestHandleNotification_DenyFailsWithoutCredit(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store, gw := newTestService(WithNotifier(notifier))
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")

	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusDeny,
	}
	result, err := svc.HandleNotification(ctx, []byte("{}"), "")
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if result.Outcome != OutcomeApplied || result.Status != StatusFailed {
		t.Errorf("Deny should fail the purchase, got %s/%s", result.Outcome, result.Status)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Failed purchase must not credit, got %d", bal.Points)
	}
	if len(notifier.failed) != 1 {
		t.Errorf("Expected failure notification, got %d", len(notifier.failed))
	}

	// A late settlement for a failed order must be rejected, not applied.
	late := settle(t, svc, gw, handle.Reference)
	if late.Outcome != OutcomeRejected {
		t.Errorf("Settlement after failure should be rejected, got %s", late.Outcome)
	}
	bal, _ = store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Rejected settlement must not credit, got %d", bal.Points)
	}
}

func TestHandleNotification_CancelIsCancelled(t *testing.T) {
	svc, store, gw := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")

	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusCancel,
	}
	result, err := svc.HandleNotification(ctx, []byte("{}"), "")
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Errorf("Cancel should cancel, got %s", result.Status)
	}

	txn, _ := store.FindByReference(ctx, handle.Reference)
	if txn.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", txn.Status)
	}
}

func TestHandleNotification_UntrustedRejected(t *testing.T) {
	svc, store, gw := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")

	gw.notif = &gateway.Notification{
		Trusted:        false,
		OrderReference: handle.Reference,
		ProviderStatus: gateway.StatusSettlement,
	}
	_, err := svc.HandleNotification(ctx, []byte("{}"), "")
	if !errors.Is(err, ErrUntrustedNotification) {
		t.Fatalf("Expected ErrUntrustedNotification, got %v", err)
	}

	txn, _ := store.FindByReference(ctx, handle.Reference)
	if txn.Status != StatusPending {
		t.Errorf("Untrusted notification must not change state, got %s", txn.Status)
	}
}

func TestHandleNotification_UnknownReferenceRejectedWithoutError(t *testing.T) {
	svc, _, gw := newTestService()

	gw.notif = &gateway.Notification{
		Trusted:        true,
		OrderReference: "ord_nobody",
		ProviderStatus: gateway.StatusSettlement,
	}
	result, err := svc.HandleNotification(context.Background(), []byte("{}"), "")
	if err != nil {
		t.Fatalf("Unknown reference should not error (the webhook must ack): %v", err)
	}
	if result.Outcome != OutcomeRejected {
		t.Errorf("Expected rejected, got %s", result.Outcome)
	}
}

// ===========================================================================
// Status polling / lost-webhook recovery
// ===========================================================================

func TestSyncPurchase_ResolvesPending(t *testing.T) {
	svc, store, gw := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	gw.status = gateway.StatusSettlement

	txn, result, err := svc.SyncPurchase(ctx, handle.Reference)
	if err != nil {
		t.Fatalf("SyncPurchase failed: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Errorf("Expected applied, got %s", result.Outcome)
	}
	if txn.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", txn.Status)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 100 {
		t.Errorf("Expected 100 points after sync, got %d", bal.Points)
	}
}

func TestSyncPurchase_TerminalIsNoop(t *testing.T) {
	svc, _, gw := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	settle(t, svc, gw, handle.Reference)

	gw.statusErr = gateway.ErrChargeFailed // must not even be consulted
	txn, result, err := svc.SyncPurchase(ctx, handle.Reference)
	if err != nil {
		t.Fatalf("SyncPurchase failed: %v", err)
	}
	if result.Outcome != OutcomeNoop || txn.Status != StatusCompleted {
		t.Errorf("Terminal sync should be noop/completed, got %s/%s", result.Outcome, txn.Status)
	}
}

func TestSyncPurchase_GatewayDownKeepsLocalState(t *testing.T) {
	svc, _, gw := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	gw.statusErr = gateway.ErrOrderNotFound

	txn, result, err := svc.SyncPurchase(ctx, handle.Reference)
	if err != nil {
		t.Fatalf("SyncPurchase should not fail when the gateway is down: %v", err)
	}
	if result.Outcome != OutcomeNoop || txn.Status != StatusPending {
		t.Errorf("Expected noop/pending, got %s/%s", result.Outcome, txn.Status)
	}
}

func TestSyncPurchase_QueriesProviderReference(t *testing.T) {
	svc, _, gw := newTestService()
	ctx := context.Background()

	// Providers like Stripe resolve status by their own session id, which
	// the charge records into the metadata bag at initiation.
	gw.charge.Raw = map[string]string{gateway.RawProviderRef: "cs_test_123"}
	gw.status = gateway.StatusSettlement

	handle, err := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	if err != nil {
		t.Fatalf("InitiatePurchase failed: %v", err)
	}
	if _, _, err := svc.SyncPurchase(ctx, handle.Reference); err != nil {
		t.Fatalf("SyncPurchase failed: %v", err)
	}

	gw.mu.Lock()
	queried := append([]string(nil), gw.queried...)
	gw.mu.Unlock()
	if len(queried) != 1 || queried[0] != "cs_test_123" {
		t.Errorf("Expected status query for cs_test_123, got %v", queried)
	}
}

func TestSyncPurchase_FallsBackToOrderReference(t *testing.T) {
	svc, _, gw := newTestService()
	ctx := context.Background()

	gw.status = gateway.StatusSettlement
	handle, err := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	if err != nil {
		t.Fatalf("InitiatePurchase failed: %v", err)
	}
	if _, _, err := svc.SyncPurchase(ctx, handle.Reference); err != nil {
		t.Fatalf("SyncPurchase failed: %v", err)
	}

	gw.mu.Lock()
	queried := append([]string(nil), gw.queried...)
	gw.mu.Unlock()
	if len(queried) != 1 || queried[0] != handle.Reference {
		t.Errorf("Expected status query for %s, got %v", handle.Reference, queried)
	}
}

// ===========================================================================
// Usage debits
// ===========================================================================

func TestDebitForUsage_DebitsAndRecords(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store, gw := newTestService(WithNotifier(notifier), WithUsageCost(3))
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	settle(t, svc, gw, handle.Reference)

	txn, err := svc.DebitForUsage(ctx, "com_1", "job_posting", "job_42", "Publish job")
	if err != nil {
		t.Fatalf("DebitForUsage failed: %v", err)
	}
	if txn.Points != -3 {
		t.Errorf("Expected -3 points, got %d", txn.Points)
	}
	if txn.Status != StatusCompleted {
		t.Errorf("Usage debits complete immediately, got %s", txn.Status)
	}
	if txn.ReferenceKind != "job_posting" || txn.ReferenceID != "job_42" {
		t.Errorf("Domain reference not recorded: %s/%s", txn.ReferenceKind, txn.ReferenceID)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 97 {
		t.Errorf("Expected 97 points, got %d", bal.Points)
	}
	if len(notifier.debited) != 1 {
		t.Errorf("Expected debit notification, got %d", len(notifier.debited))
	}
}

func TestDebitForUsage_InsufficientBalance(t *testing.T) {
	svc, store, _ := newTestService(WithUsageCost(5))
	ctx := context.Background()

	_, err := svc.DebitForUsage(ctx, "com_broke", "job_posting", "job_1", "")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// No ledger row for a rejected debit.
	txns, _ := store.History(ctx, "com_broke", HistoryFilter{})
	if len(txns) != 0 {
		t.Errorf("Rejected debit must not leave a transaction, got %d", len(txns))
	}
}

func TestDebitForUsage_ConcurrentNeverOverdraws(t *testing.T) {
	svc, store, gw := newTestService(WithUsageCost(10))
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic") // 100 points
	settle(t, svc, gw, handle.Reference)

	const workers = 25 // only 10 debits fit in 100 points
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.DebitForUsage(ctx, "com_1", "job_posting", "job_"+string(rune('a'+n)), "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("Expected exactly 10 debits to succeed, got %d", succeeded)
	}
	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Expected balance 0, got %d", bal.Points)
	}
	if bal.Points < 0 {
		t.Error("Balance went negative")
	}
}

// ===========================================================================
// Admin adjustments
// ===========================================================================

func TestGrantBonus(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	txn, err := svc.GrantBonus(ctx, "com_1", 25, "Launch promo")
	if err != nil {
		t.Fatalf("GrantBonus failed: %v", err)
	}
	if txn.Kind != KindBonus || txn.Points != 25 {
		t.Errorf("Unexpected bonus transaction: %+v", txn)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 25 {
		t.Errorf("Expected 25 points, got %d", bal.Points)
	}

	if _, err := svc.GrantBonus(ctx, "com_1", 0, ""); !errors.Is(err, ErrInvalidPoints) {
		t.Errorf("Zero bonus should be rejected, got %v", err)
	}
	if _, err := svc.GrantBonus(ctx, "com_1", -5, ""); !errors.Is(err, ErrInvalidPoints) {
		t.Errorf("Negative bonus should be rejected, got %v", err)
	}
}

func TestRefundTransaction_ReversesAndIsIdempotent(t *testing.T) {
	svc, store, gw := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	settle(t, svc, gw, handle.Reference)
	purchase, _ := store.FindByReference(ctx, handle.Reference)

	refund, err := svc.RefundTransaction(ctx, purchase.ID, "customer request")
	if err != nil {
		t.Fatalf("RefundTransaction failed: %v", err)
	}
	if refund.Points != -100 {
		t.Errorf("Expected -100 refund, got %d", refund.Points)
	}
	if refund.ReferenceID != purchase.ID {
		t.Errorf("Refund should reference the source transaction")
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Expected 0 after full refund, got %d", bal.Points)
	}

	// Second refund of the same transaction hits the reference uniqueness.
	_, err = svc.RefundTransaction(ctx, purchase.ID, "again")
	if !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("Double refund should fail with ErrDuplicateReference, got %v", err)
	}
}

func TestRefundTransaction_CappedAtBalance(t *testing.T) {
	svc, store, gw := newTestService(WithUsageCost(80))
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic") // 100 points
	settle(t, svc, gw, handle.Reference)
	if _, err := svc.DebitForUsage(ctx, "com_1", "job_posting", "job_1", ""); err != nil {
		t.Fatalf("debit failed: %v", err)
	} // 20 left

	purchase, _ := store.FindByReference(ctx, handle.Reference)
	refund, err := svc.RefundTransaction(ctx, purchase.ID, "partial")
	if err != nil {
		t.Fatalf("RefundTransaction failed: %v", err)
	}
	if refund.Points != -20 {
		t.Errorf("Refund should be capped at remaining 20, got %d", refund.Points)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Expected 0 after capped refund, got %d", bal.Points)
	}
}

func TestRefundTransaction_PendingNotRefundable(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	pending, _ := store.FindByReference(ctx, handle.Reference)

	_, err := svc.RefundTransaction(ctx, pending.ID, "too early")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pending refund should be rejected, got %v", err)
	}
}

func TestExpirePoints_Capped(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.GrantBonus(ctx, "com_1", 30, "seed"); err != nil {
		t.Fatalf("seed bonus failed: %v", err)
	}

	txn, err := svc.ExpirePoints(ctx, "com_1", 100, "annual expiry")
	if err != nil {
		t.Fatalf("ExpirePoints failed: %v", err)
	}
	if txn.Points != -30 {
		t.Errorf("Expiry should cap at balance 30, got %d", txn.Points)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != 0 {
		t.Errorf("Expected 0 after expiry, got %d", bal.Points)
	}

	// Nothing left: no transaction at all.
	txn, err = svc.ExpirePoints(ctx, "com_1", 10, "again")
	if err != nil {
		t.Fatalf("ExpirePoints failed: %v", err)
	}
	if txn != nil {
		t.Errorf("Expiry with zero balance should do nothing, got %+v", txn)
	}
}

// ===========================================================================
// Balance audit and history
// ===========================================================================

func TestAudit_ConsistentAfterMixedActivity(t *testing.T) {
	svc, store, gw := newTestService(WithUsageCost(10))
	ctx := context.Background()

	handle, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_promo") // 250
	settle(t, svc, gw, handle.Reference)
	svc.GrantBonus(ctx, "com_1", 50, "promo")
	svc.DebitForUsage(ctx, "com_1", "job_posting", "job_1", "")
	svc.DebitForUsage(ctx, "com_1", "invitation", "inv_1", "")

	// A failed purchase must not show up in the ledger sum.
	failed, _ := svc.InitiatePurchase(ctx, "com_1", "pkg_basic")
	gw.notif = &gateway.Notification{Trusted: true, OrderReference: failed.Reference, ProviderStatus: gateway.StatusDeny}
	svc.HandleNotification(ctx, []byte("{}"), "")

	report, err := svc.Audit(ctx, "com_1")
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("Balance %d diverged from ledger sum %d", report.Balance, report.LedgerSum)
	}
	if report.Balance != 280 {
		t.Errorf("Expected 280 points (250+50-10-10), got %d", report.Balance)
	}

	bal, _ := store.Balance(ctx, "com_1")
	if bal.Points != report.Balance {
		t.Errorf("Report balance mismatch: %d vs %d", bal.Points, report.Balance)
	}
}

func TestHistory_FiltersAndPaginates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.GrantBonus(ctx, "com_1", 10, "seed"); err != nil {
			t.Fatalf("seed bonus failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	svc.InitiatePurchase(ctx, "com_1", "pkg_basic")

	// Kind filter.
	bonuses, _, err := svc.History(ctx, "com_1", HistoryFilter{Kind: KindBonus})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(bonuses) != 5 {
		t.Errorf("Expected 5 bonus transactions, got %d", len(bonuses))
	}

	// Status filter.
	pending, _, _ := svc.History(ctx, "com_1", HistoryFilter{Status: StatusPending})
	if len(pending) != 1 {
		t.Errorf("Expected 1 pending transaction, got %d", len(pending))
	}

	// Pagination: page of 2, walk the cursor.
	page1, cursor, err := svc.History(ctx, "com_1", HistoryFilter{Kind: KindBonus, Limit: 2})
	if err != nil {
		t.Fatalf("History page 1 failed: %v", err)
	}
	if len(page1) != 2 || cursor == "" {
		t.Fatalf("Expected 2 rows and a cursor, got %d rows, cursor %q", len(page1), cursor)
	}
	page2, cursor2, err := svc.History(ctx, "com_1", HistoryFilter{Kind: KindBonus, Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("History page 2 failed: %v", err)
	}
	if len(page2) != 2 || cursor2 == "" {
		t.Fatalf("Expected 2 more rows and a cursor, got %d rows", len(page2))
	}
	page3, cursor3, err := svc.History(ctx, "com_1", HistoryFilter{Kind: KindBonus, Limit: 2, Cursor: cursor2})
	if err != nil {
		t.Fatalf("History page 3 failed: %v", err)
	}
	if len(page3) != 1 || cursor3 != "" {
		t.Errorf("Expected final page of 1 with no cursor, got %d rows, cursor %q", len(page3), cursor3)
	}

	// No overlap across pages.
	seen := map[string]bool{}
	for _, txn := range append(append(page1, page2...), page3...) {
		if seen[txn.ID] {
			t.Errorf("Transaction %s appeared on two pages", txn.ID)
		}
		seen[txn.ID] = true
	}
}
