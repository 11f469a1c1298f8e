// Package points tracks company job-posting point balances.
//
// Flow:
//  1. Company buys a point package → pending transaction + gateway charge
//  2. Gateway settles asynchronously → webhook credits the balance exactly once
//  3. Company publishes a job / sends an invitation → synchronous usage debit
//  4. Admin grants bonuses, refunds transactions, expires stale points
package points

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateReference      = errors.New("external reference already used")
	ErrInvalidTransition       = errors.New("status transition not allowed")
	ErrInsufficientBalance     = errors.New("insufficient point balance")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrUntrustedNotification   = errors.New("notification failed verification")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrPackageUnavailable      = errors.New("point package unavailable")
	ErrCompanyNotFound         = errors.New("company not found")
	ErrInvalidPoints           = errors.New("invalid point amount")
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindUsage    Kind = "usage"
	KindRefund   Kind = "refund"
	KindBonus    Kind = "bonus"
	KindExpired  Kind = "expired"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a transaction may move from one status to
// another. Same-status "moves" on pending are allowed (re-notification with
// updated metadata); terminal states accept nothing.
func CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Transaction is one ledger entry. Rows are immutable once terminal; only
// status and metadata ever change, and only while pending.
type Transaction struct {
	ID                string            `json:"id"`
	CompanyID         string            `json:"companyId"`
	Kind              Kind              `json:"kind"`
	Points            int               `json:"points"` // signed: positive = credit, negative = debit
	Amount            int64             `json:"amount,omitempty"`
	Status            Status            `json:"status"`
	ExternalReference string            `json:"externalReference"`
	ReferenceKind     string            `json:"referenceKind,omitempty"`
	ReferenceID       string            `json:"referenceId,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Description       string            `json:"description,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Balance is the denormalized point balance of a company. It always equals
// the sum of that company's completed transaction points.
type Balance struct {
	CompanyID string    `json:"companyId"`
	Points    int       `json:"points"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryFilter narrows and pages a history query.
type HistoryFilter struct {
	Kind   Kind   // empty = all kinds
	Status Status // empty = all statuses
	Limit  int
	Cursor string // opaque pagination cursor
}

// Store persists transactions and company balances. Every mutation that
// touches both a transaction row and a balance happens inside a single
// database transaction; partial application is a store bug.
type Store interface {
	// Insert adds a new pending transaction without touching the balance.
	Insert(ctx context.Context, txn *Transaction) error

	// InsertCompleted adds an immediately-completed transaction and applies
	// its point delta to the company balance atomically. Negative deltas
	// fail with ErrInsufficientBalance rather than overdraw.
	InsertCompleted(ctx context.Context, txn *Transaction) error

	// Transition moves a pending transaction to a new status. When the
	// target is completed, the company balance is credited in the same unit
	// of work. Returns the updated transaction and whether anything was
	// applied: a transaction already in the target status is a no-op, not
	// an error. Illegal moves fail with ErrInvalidTransition.
	Transition(ctx context.Context, id string, to Status, metadata map[string]string) (*Transaction, bool, error)

	// AppendMetadata merges keys into a pending transaction's metadata
	// bag. Missing or terminal rows are a no-op: terminal rows never
	// change, even under a racing late notification.
	AppendMetadata(ctx context.Context, id string, metadata map[string]string) error

	Get(ctx context.Context, id string) (*Transaction, error)
	FindByReference(ctx context.Context, ref string) (*Transaction, error)

	Balance(ctx context.Context, companyID string) (*Balance, error)
	History(ctx context.Context, companyID string, f HistoryFilter) ([]*Transaction, error)

	// SumCompleted recomputes the balance from the ledger, for audits.
	SumCompleted(ctx context.Context, companyID string) (int, error)

	// StalePending lists pending purchases created before the cutoff, for
	// the reconciliation sweep.
	StalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
}
