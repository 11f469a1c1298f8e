package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory catalog store for demo/development mode.
type MemoryStore struct {
	pkgs map[string]*Package
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pkgs: make(map[string]*Package)}
}

func (m *MemoryStore) Create(ctx context.Context, pkg *Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pkgs[pkg.ID]; ok {
		return ErrPackageExists
	}
	cp := *pkg
	m.pkgs[pkg.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pkg, ok := m.pkgs[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	cp := *pkg
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, pkg *Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pkgs[pkg.ID]; !ok {
		return ErrPackageNotFound
	}
	cp := *pkg
	m.pkgs[pkg.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, activeOnly bool) ([]*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Package
	for _, pkg := range m.pkgs {
		if activeOnly && !pkg.Active {
			continue
		}
		cp := *pkg
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Price < result[j].Price })
	return result, nil
}
