package points

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/pagination"
)

// MemoryStore is an in-memory points store for demo/development mode.
type MemoryStore struct {
	txns     map[string]*Transaction // by ID
	byRef    map[string]string       // external reference → ID
	balances map[string]*Balance     // by company ID
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory points store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns:     make(map[string]*Transaction),
		byRef:    make(map[string]string),
		balances: make(map[string]*Balance),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byRef[txn.ExternalReference]; ok {
		return ErrDuplicateReference
	}
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	cp := cloneTxn(txn)
	m.txns[txn.ID] = cp
	m.byRef[txn.ExternalReference] = txn.ID
	return nil
}

func (m *MemoryStore) InsertCompleted(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byRef[txn.ExternalReference]; ok {
		return ErrDuplicateReference
	}

	bal := m.balances[txn.CompanyID]
	current := 0
	if bal != nil {
		current = bal.Points
	}
	if current+txn.Points < 0 {
		return ErrInsufficientBalance
	}

	now := time.Now().UTC()
	txn.Status = StatusCompleted
	txn.CreatedAt = now
	txn.UpdatedAt = now
	cp := cloneTxn(txn)
	m.txns[txn.ID] = cp
	m.byRef[txn.ExternalReference] = txn.ID
	m.credit(txn.CompanyID, txn.Points, now)
	return nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, to Status, metadata map[string]string) (*Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[id]
	if !ok {
		return nil, false, ErrTransactionNotFound
	}
	if txn.Status == to {
		return cloneTxn(txn), false, nil
	}
	if !CanTransition(txn.Status, to) {
		return nil, false, ErrInvalidTransition
	}

	now := time.Now().UTC()
	txn.Status = to
	txn.UpdatedAt = now
	mergeMetadata(txn, metadata)
	if to == StatusCompleted {
		m.credit(txn.CompanyID, txn.Points, now)
	}
	return cloneTxn(txn), true, nil
}

// AppendMetadata merges metadata into a pending transaction; missing or
// terminal rows are a no-op.
func (m *MemoryStore) AppendMetadata(ctx context.Context, id string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[id]
	if !ok || txn.Status != StatusPending {
		return nil
	}
	mergeMetadata(txn, metadata)
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return cloneTxn(txn), nil
}

func (m *MemoryStore) FindByReference(ctx context.Context, ref string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[ref]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return cloneTxn(m.txns[id]), nil
}

func (m *MemoryStore) Balance(ctx context.Context, companyID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bal, ok := m.balances[companyID]
	if !ok {
		return &Balance{CompanyID: companyID}, nil
	}
	cp := *bal
	return &cp, nil
}

func (m *MemoryStore) History(ctx context.Context, companyID string, f HistoryFilter) ([]*Transaction, error) {
	cur, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, txn := range m.txns {
		if txn.CompanyID != companyID {
			continue
		}
		if f.Kind != "" && txn.Kind != f.Kind {
			continue
		}
		if f.Status != "" && txn.Status != f.Status {
			continue
		}
		result = append(result, cloneTxn(txn))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if cur != nil {
		idx := 0
		for i, txn := range result {
			if txn.CreatedAt.Before(cur.CreatedAt) ||
				(txn.CreatedAt.Equal(cur.CreatedAt) && txn.ID < cur.ID) {
				idx = i
				break
			}
			idx = len(result)
		}
		result = result[idx:]
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryStore) SumCompleted(ctx context.Context, companyID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := 0
	for _, txn := range m.txns {
		if txn.CompanyID == companyID && txn.Status == StatusCompleted {
			sum += txn.Points
		}
	}
	return sum, nil
}

func (m *MemoryStore) StalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, txn := range m.txns {
		if txn.Status == StatusPending && txn.Kind == KindPurchase && txn.CreatedAt.Before(before) {
			result = append(result, cloneTxn(txn))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) credit(companyID string, points int, now time.Time) {
	bal, ok := m.balances[companyID]
	if !ok {
		bal = &Balance{CompanyID: companyID}
		m.balances[companyID] = bal
	}
	bal.Points += points
	bal.UpdatedAt = now
}

func cloneTxn(txn *Transaction) *Transaction {
	cp := *txn
	if txn.Metadata != nil {
		cp.Metadata = make(map[string]string, len(txn.Metadata))
		for k, v := range txn.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func mergeMetadata(txn *Transaction, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	if txn.Metadata == nil {
		txn.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		txn.Metadata[k] = v
	}
}
