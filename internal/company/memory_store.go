package company

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory company store for demo/development mode.
type MemoryStore struct {
	companies map[string]*Company
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory company store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{companies: make(map[string]*Company)}
}

func (m *MemoryStore) Create(ctx context.Context, company *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.companies[company.ID]; ok {
		return ErrCompanyExists
	}
	cp := *company
	m.companies[company.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	company, ok := m.companies[id]
	if !ok {
		return nil, ErrCompanyNotFound
	}
	cp := *company
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Company
	for _, company := range m.companies {
		cp := *company
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
