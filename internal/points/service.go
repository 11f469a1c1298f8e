package points

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/gateway"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/idgen"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/pagination"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/traces"
)

// DefaultUsageCost is the points charged per usage debit unless configured.
const DefaultUsageCost = 1

// DefaultHistoryLimit bounds history pages.
const DefaultHistoryLimit = 50

// PointPackage is the read-only catalog input to a purchase.
type PointPackage struct {
	ID          string
	Name        string
	Points      int
	BonusPoints int
	Price       int64
	Active      bool
}

// PackageProvider looks up purchasable packages. Implemented by the catalog.
type PackageProvider interface {
	GetPackage(ctx context.Context, id string) (*PointPackage, error)
}

// CustomerProvider resolves a company into a gateway customer.
type CustomerProvider interface {
	GetCustomer(ctx context.Context, companyID string) (*gateway.Customer, error)
}

// Notifier receives fire-and-forget domain notifications. Implementations
// must never block the ledger path; delivery failures are their problem.
type Notifier interface {
	PurchaseSettled(companyID string, points int, reference string)
	PurchaseFailed(companyID, reference, reason string)
	PointsDebited(companyID string, points, remaining int, description string)
}

// EventSink receives transaction lifecycle events for live streaming.
type EventSink interface {
	TransactionEvent(eventType string, txn *Transaction)
}

// PaymentHandle is returned to the caller after a purchase is initiated.
// The company completes payment out-of-band using the token / redirect.
type PaymentHandle struct {
	TransactionID string `json:"transactionId"`
	Reference     string `json:"reference"`
	Token         string `json:"token"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
	Points        int    `json:"points"`
	Amount        int64  `json:"amount"`
}

// ReconciliationOutcome classifies what a notification did.
type ReconciliationOutcome string

const (
	OutcomeApplied  ReconciliationOutcome = "applied"
	OutcomeNoop     ReconciliationOutcome = "noop"
	OutcomeRejected ReconciliationOutcome = "rejected"
)

// ReconciliationResult reports the effect of one notification, for logs
// and metrics. The webhook endpoint acknowledges regardless.
type ReconciliationResult struct {
	Outcome   ReconciliationOutcome `json:"outcome"`
	Reference string                `json:"reference,omitempty"`
	Status    Status                `json:"status,omitempty"`
	Reason    string                `json:"reason,omitempty"`
}

// AuditReport compares the denormalized balance against the ledger sum.
type AuditReport struct {
	CompanyID  string `json:"companyId"`
	Balance    int    `json:"balance"`
	LedgerSum  int    `json:"ledgerSum"`
	Consistent bool   `json:"consistent"`
}

// Service implements the points business logic: purchase orchestration,
// webhook reconciliation, usage debits, and admin adjustments.
type Service struct {
	store     Store
	gateway   gateway.Adapter
	packages  PackageProvider
	customers CustomerProvider
	notifier  Notifier
	events    EventSink
	usageCost int
	logger    *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithNotifier attaches an outbound notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEvents attaches a realtime event sink.
func WithEvents(e EventSink) Option {
	return func(s *Service) { s.events = e }
}

// WithUsageCost overrides the per-usage point cost.
func WithUsageCost(cost int) Option {
	return func(s *Service) {
		if cost > 0 {
			s.usageCost = cost
		}
	}
}

// NewService creates the points service.
func NewService(store Store, gw gateway.Adapter, packages PackageProvider, customers CustomerProvider, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		gateway:   gw,
		packages:  packages,
		customers: customers,
		usageCost: DefaultUsageCost,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiatePurchase creates a pending purchase transaction and registers a
// charge with the payment gateway. If the gateway call fails, the pending
// row is compensated to failed so no ambiguous state is left behind.
func (s *Service) InitiatePurchase(ctx context.Context, companyID, packageID string) (*PaymentHandle, error) {
	ctx, span := traces.StartSpan(ctx, "points.InitiatePurchase",
		traces.CompanyID(companyID),
		traces.PackageID(packageID),
	)
	defer span.End()
	done := observeOp("initiate_purchase")
	defer done()

	pkg, err := s.packages.GetPackage(ctx, packageID)
	if err != nil || !pkg.Active {
		return nil, ErrPackageUnavailable
	}

	customer, err := s.customers.GetCustomer(ctx, companyID)
	if err != nil {
		return nil, ErrCompanyNotFound
	}

	txn := &Transaction{
		ID:                idgen.WithPrefix("ptx_"),
		CompanyID:         companyID,
		Kind:              KindPurchase,
		Points:            pkg.Points + pkg.BonusPoints,
		Amount:            pkg.Price,
		Status:            StatusPending,
		ExternalReference: idgen.WithPrefix("ord_"),
		Metadata:          map[string]string{"package_id": pkg.ID, "package_name": pkg.Name},
		Description:       fmt.Sprintf("purchase of %s", pkg.Name),
	}

	if err := s.store.Insert(ctx, txn); err != nil {
		return nil, fmt.Errorf("insert pending purchase: %w", err)
	}

	charge, err := s.gateway.CreateCharge(ctx, pkg.Price, txn.ExternalReference, *customer)
	if err != nil {
		// Compensating transition: don't leave a pending row the gateway
		// never heard of.
		meta := map[string]string{"gateway_error": err.Error()}
		if _, _, ferr := s.store.Transition(ctx, txn.ID, StatusFailed, meta); ferr != nil {
			s.logger.Error("failed to compensate purchase after gateway error",
				"transaction", txn.ID, "reference", txn.ExternalReference, "error", ferr)
		}
		s.logger.Warn("payment initiation failed",
			"company", companyID, "reference", txn.ExternalReference, "error", err)
		transactionsTotal.WithLabelValues(string(KindPurchase), string(StatusFailed)).Inc()
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
	}

	if len(charge.Raw) > 0 {
		if err := s.store.AppendMetadata(ctx, txn.ID, charge.Raw); err != nil {
			s.logger.Warn("failed to record charge metadata", "transaction", txn.ID, "error", err)
		}
	}

	transactionsTotal.WithLabelValues(string(KindPurchase), string(StatusPending)).Inc()
	s.emit("purchase.initiated", txn)
	s.logger.Info("purchase initiated",
		"company", companyID, "reference", txn.ExternalReference,
		"points", txn.Points, "amount", pkg.Price)

	return &PaymentHandle{
		TransactionID: txn.ID,
		Reference:     txn.ExternalReference,
		Token:         charge.Token,
		RedirectURL:   charge.RedirectURL,
		Points:        txn.Points,
		Amount:        pkg.Price,
	}, nil
}

// HandleNotification processes an asynchronous payment notification. It is
// safe to call any number of times with the same payload: re-delivery of a
// settled order is a no-op, never a double credit.
//
// Unverifiable payloads return ErrUntrustedNotification and change nothing.
// Unknown references are reported as rejected without an error so the HTTP
// layer can acknowledge and stop redelivery.
func (s *Service) HandleNotification(ctx context.Context, payload []byte, signature string) (*ReconciliationResult, error) {
	ctx, span := traces.StartSpan(ctx, "points.HandleNotification")
	defer span.End()
	done := observeOp("handle_notification")
	defer done()

	n, err := s.gateway.VerifyNotification(ctx, payload, signature)
	if err != nil {
		reconciliationsTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		return nil, fmt.Errorf("%w: %v", ErrUntrustedNotification, err)
	}
	if !n.Trusted {
		reconciliationsTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		s.logger.Warn("untrusted payment notification dropped", "reference", n.OrderReference)
		return nil, ErrUntrustedNotification
	}

	txn, err := s.store.FindByReference(ctx, n.OrderReference)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			reconciliationsTotal.WithLabelValues(string(OutcomeRejected)).Inc()
			s.logger.Warn("notification for unknown reference", "reference", n.OrderReference)
			return &ReconciliationResult{
				Outcome:   OutcomeRejected,
				Reference: n.OrderReference,
				Reason:    "unknown reference",
			}, nil
		}
		return nil, err
	}

	return s.applyProviderStatus(ctx, txn, n.ProviderStatus, n.FraudStatus, n.Raw)
}

// SyncPurchase queries the gateway for an order's current status and applies
// it through the same state machine as a webhook. This is the user-polling
// and lost-webhook recovery path.
func (s *Service) SyncPurchase(ctx context.Context, reference string) (*Transaction, *ReconciliationResult, error) {
	ctx, span := traces.StartSpan(ctx, "points.SyncPurchase", traces.Reference(reference))
	defer span.End()

	txn, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		return nil, nil, err
	}
	if txn.Status.Terminal() {
		return txn, &ReconciliationResult{Outcome: OutcomeNoop, Reference: reference, Status: txn.Status}, nil
	}

	status, err := s.gateway.QueryStatus(ctx, providerRef(txn))
	if err != nil {
		// Polling is best-effort: report the local state.
		s.logger.Warn("gateway status query failed", "reference", reference, "error", err)
		return txn, &ReconciliationResult{Outcome: OutcomeNoop, Reference: reference, Status: txn.Status, Reason: "gateway unavailable"}, nil
	}

	res, err := s.applyProviderStatus(ctx, txn, status, "", map[string]string{"source": "status_poll"})
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		return nil, nil, err
	}
	return updated, res, nil
}

// providerRef picks the handle a status query needs: the provider-side id
// recorded at charge time, falling back to our order reference for
// providers keyed directly by it.
func providerRef(txn *Transaction) string {
	if ref := txn.Metadata[gateway.RawProviderRef]; ref != "" {
		return ref
	}
	return txn.ExternalReference
}

// applyProviderStatus maps a provider status onto the internal state machine
// and applies the transition. The credit on pending→completed happens inside
// the store's unit of work, never here.
func (s *Service) applyProviderStatus(ctx context.Context, txn *Transaction, provider gateway.Status, fraud string, meta map[string]string) (*ReconciliationResult, error) {
	target, ok := mapProviderStatus(provider, fraud)
	if !ok {
		reconciliationsTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		s.logger.Warn("unmapped provider status",
			"reference", txn.ExternalReference, "provider_status", provider, "fraud_status", fraud)
		return &ReconciliationResult{
			Outcome:   OutcomeRejected,
			Reference: txn.ExternalReference,
			Status:    txn.Status,
			Reason:    fmt.Sprintf("unmapped provider status %q", provider),
		}, nil
	}

	// pending → pending: keep waiting, record the notification.
	if target == StatusPending {
		if txn.Status == StatusPending {
			if err := s.store.AppendMetadata(ctx, txn.ID, meta); err != nil {
				return nil, err
			}
		}
		reconciliationsTotal.WithLabelValues(string(OutcomeNoop)).Inc()
		return &ReconciliationResult{Outcome: OutcomeNoop, Reference: txn.ExternalReference, Status: txn.Status}, nil
	}

	updated, applied, err := s.store.Transition(ctx, txn.ID, target, meta)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Terminal states are sticky; a late conflicting notification
			// is logged and dropped, not applied.
			reconciliationsTotal.WithLabelValues(string(OutcomeRejected)).Inc()
			s.logger.Warn("notification rejected by state machine",
				"reference", txn.ExternalReference, "from", txn.Status, "to", target)
			return &ReconciliationResult{
				Outcome:   OutcomeRejected,
				Reference: txn.ExternalReference,
				Status:    txn.Status,
				Reason:    "invalid transition",
			}, nil
		}
		return nil, err
	}

	if !applied {
		reconciliationsTotal.WithLabelValues(string(OutcomeNoop)).Inc()
		return &ReconciliationResult{Outcome: OutcomeNoop, Reference: txn.ExternalReference, Status: updated.Status}, nil
	}

	transactionsTotal.WithLabelValues(string(updated.Kind), string(updated.Status)).Inc()
	reconciliationsTotal.WithLabelValues(string(OutcomeApplied)).Inc()
	s.logger.Info("payment notification applied",
		"reference", updated.ExternalReference, "company", updated.CompanyID,
		"status", updated.Status, "points", updated.Points)

	switch updated.Status {
	case StatusCompleted:
		s.emit("purchase.settled", updated)
		if s.notifier != nil {
			s.notifier.PurchaseSettled(updated.CompanyID, updated.Points, updated.ExternalReference)
		}
	case StatusFailed, StatusCancelled:
		s.emit("purchase.failed", updated)
		if s.notifier != nil {
			s.notifier.PurchaseFailed(updated.CompanyID, updated.ExternalReference, string(provider))
		}
	}

	return &ReconciliationResult{Outcome: OutcomeApplied, Reference: updated.ExternalReference, Status: updated.Status}, nil
}

// mapProviderStatus translates a gateway status (plus card fraud status)
// into the target ledger status. A capture under fraud review stays pending.
func mapProviderStatus(provider gateway.Status, fraud string) (Status, bool) {
	switch provider {
	case gateway.StatusSettlement:
		return StatusCompleted, true
	case gateway.StatusCapture:
		switch fraud {
		case gateway.FraudChallenge:
			return StatusPending, true
		case gateway.FraudDeny:
			return StatusFailed, true
		default:
			return StatusCompleted, true
		}
	case gateway.StatusPending:
		return StatusPending, true
	case gateway.StatusDeny, gateway.StatusExpire:
		return StatusFailed, true
	case gateway.StatusCancel:
		return StatusCancelled, true
	}
	return "", false
}

// DebitForUsage atomically checks and debits the configured usage cost,
// recording a completed usage transaction that points at the triggering
// domain object. Callers must rely on this single call: checking the
// balance first and then debiting reintroduces the race this closes.
func (s *Service) DebitForUsage(ctx context.Context, companyID, referenceKind, referenceID, description string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "points.DebitForUsage",
		traces.CompanyID(companyID),
		attribute.String("reference_kind", referenceKind),
	)
	defer span.End()
	done := observeOp("debit_usage")
	defer done()

	txn := &Transaction{
		ID:                idgen.WithPrefix("ptx_"),
		CompanyID:         companyID,
		Kind:              KindUsage,
		Points:            -s.usageCost,
		Status:            StatusCompleted,
		ExternalReference: idgen.WithPrefix("use_"),
		ReferenceKind:     referenceKind,
		ReferenceID:       referenceID,
		Description:       description,
	}

	if err := s.store.InsertCompleted(ctx, txn); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			debitRejections.Inc()
		}
		return nil, err
	}

	transactionsTotal.WithLabelValues(string(KindUsage), string(StatusCompleted)).Inc()
	s.emit("usage.debited", txn)

	if s.notifier != nil {
		if bal, err := s.store.Balance(ctx, companyID); err == nil {
			s.notifier.PointsDebited(companyID, s.usageCost, bal.Points, description)
		}
	}

	s.logger.Info("usage debit applied",
		"company", companyID, "cost", s.usageCost,
		"reference_kind", referenceKind, "reference_id", referenceID)
	return txn, nil
}

// GrantBonus credits promotional points immediately (no async step).
func (s *Service) GrantBonus(ctx context.Context, companyID string, points int, description string) (*Transaction, error) {
	if points <= 0 {
		return nil, ErrInvalidPoints
	}
	done := observeOp("grant_bonus")
	defer done()

	txn := &Transaction{
		ID:                idgen.WithPrefix("ptx_"),
		CompanyID:         companyID,
		Kind:              KindBonus,
		Points:            points,
		Status:            StatusCompleted,
		ExternalReference: idgen.WithPrefix("bon_"),
		Description:       description,
	}
	if err := s.store.InsertCompleted(ctx, txn); err != nil {
		return nil, err
	}
	transactionsTotal.WithLabelValues(string(KindBonus), string(StatusCompleted)).Inc()
	s.emit("bonus.granted", txn)
	return txn, nil
}

// RefundTransaction reverses a completed transaction's point effect,
// capped so the balance never goes negative. Idempotent per source
// transaction: the refund reference is derived from the source ID, so a
// second attempt hits the uniqueness constraint.
func (s *Service) RefundTransaction(ctx context.Context, transactionID, reason string) (*Transaction, error) {
	done := observeOp("refund")
	defer done()

	src, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if src.Status != StatusCompleted || src.Points == 0 {
		return nil, fmt.Errorf("%w: only completed transactions can be refunded", ErrInvalidTransition)
	}

	delta := -src.Points
	if delta < 0 {
		// Refunding a credit: cap at what the company still has.
		bal, err := s.store.Balance(ctx, src.CompanyID)
		if err != nil {
			return nil, err
		}
		if bal.Points == 0 {
			return nil, ErrInsufficientBalance
		}
		if -delta > bal.Points {
			delta = -bal.Points
		}
	}

	txn := &Transaction{
		ID:                idgen.WithPrefix("ptx_"),
		CompanyID:         src.CompanyID,
		Kind:              KindRefund,
		Points:            delta,
		Status:            StatusCompleted,
		ExternalReference: "ref_" + src.ID,
		ReferenceKind:     "point_transaction",
		ReferenceID:       src.ID,
		Description:       reason,
	}
	if err := s.store.InsertCompleted(ctx, txn); err != nil {
		return nil, err
	}
	transactionsTotal.WithLabelValues(string(KindRefund), string(StatusCompleted)).Inc()
	s.emit("refund.applied", txn)
	return txn, nil
}

// ExpirePoints debits up to the requested number of points as expired,
// capped at the current balance. Returns nil, nil when there is nothing
// to expire.
func (s *Service) ExpirePoints(ctx context.Context, companyID string, points int, description string) (*Transaction, error) {
	if points <= 0 {
		return nil, ErrInvalidPoints
	}
	done := observeOp("expire")
	defer done()

	bal, err := s.store.Balance(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if bal.Points == 0 {
		return nil, nil
	}
	if points > bal.Points {
		points = bal.Points
	}

	txn := &Transaction{
		ID:                idgen.WithPrefix("ptx_"),
		CompanyID:         companyID,
		Kind:              KindExpired,
		Points:            -points,
		Status:            StatusCompleted,
		ExternalReference: idgen.WithPrefix("exp_"),
		Description:       description,
	}
	if err := s.store.InsertCompleted(ctx, txn); err != nil {
		return nil, err
	}
	transactionsTotal.WithLabelValues(string(KindExpired), string(StatusCompleted)).Inc()
	s.emit("points.expired", txn)
	return txn, nil
}

// CurrentBalance returns the company's denormalized balance.
func (s *Service) CurrentBalance(ctx context.Context, companyID string) (int, error) {
	bal, err := s.store.Balance(ctx, companyID)
	if err != nil {
		return 0, err
	}
	return bal.Points, nil
}

// GetPurchase returns a transaction by external reference.
func (s *Service) GetPurchase(ctx context.Context, reference string) (*Transaction, error) {
	return s.store.FindByReference(ctx, reference)
}

// History returns a page of transactions, newest first, with an opaque
// cursor for the next page.
func (s *Service) History(ctx context.Context, companyID string, f HistoryFilter) ([]*Transaction, string, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = DefaultHistoryLimit
	}
	limit := f.Limit
	f.Limit = limit + 1 // fetch one extra to detect another page
	txns, err := s.store.History(ctx, companyID, f)
	if err != nil {
		return nil, "", err
	}
	page, next, _ := pagination.ComputePage(txns, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, nil
}

// Audit recomputes the ledger sum and compares it to the stored balance.
func (s *Service) Audit(ctx context.Context, companyID string) (*AuditReport, error) {
	bal, err := s.store.Balance(ctx, companyID)
	if err != nil {
		return nil, err
	}
	sum, err := s.store.SumCompleted(ctx, companyID)
	if err != nil {
		return nil, err
	}
	report := &AuditReport{
		CompanyID:  companyID,
		Balance:    bal.Points,
		LedgerSum:  sum,
		Consistent: bal.Points == sum,
	}
	if !report.Consistent {
		s.logger.Error("balance diverged from ledger",
			"company", companyID, "balance", bal.Points, "ledger_sum", sum)
	}
	return report, nil
}

func (s *Service) emit(eventType string, txn *Transaction) {
	if s.events != nil {
		s.events.TransactionEvent(eventType, txn)
	}
}
