package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/idgen"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/points"
)

// Compile-time check that Service satisfies the purchase flow's lookup.
var _ points.PackageProvider = (*Service)(nil)

// Service manages the package catalog.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a catalog service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Create adds a new package to the catalog.
func (s *Service) Create(ctx context.Context, pkg *Package) (*Package, error) {
	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	if pkg.ID == "" {
		pkg.ID = idgen.WithPrefix("pkg_")
	}
	pkg.Active = true
	pkg.CreatedAt = time.Now().UTC()
	pkg.UpdatedAt = pkg.CreatedAt

	if err := s.store.Create(ctx, pkg); err != nil {
		return nil, err
	}
	s.logger.Info("package created", "package", pkg.ID, "points", pkg.Points, "price", pkg.Price)
	return pkg, nil
}

// Get returns a package by ID.
func (s *Service) Get(ctx context.Context, id string) (*Package, error) {
	return s.store.Get(ctx, id)
}

// List returns packages, optionally restricted to active ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*Package, error) {
	return s.store.List(ctx, activeOnly)
}

// Update modifies a package's fields.
func (s *Service) Update(ctx context.Context, pkg *Package) (*Package, error) {
	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	existing, err := s.store.Get(ctx, pkg.ID)
	if err != nil {
		return nil, err
	}
	pkg.CreatedAt = existing.CreatedAt
	pkg.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

// Deactivate retires a package. Pending purchases against it still settle;
// new purchases are refused.
func (s *Service) Deactivate(ctx context.Context, id string) (*Package, error) {
	pkg, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return pkg, nil
	}
	pkg.Active = false
	pkg.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, pkg); err != nil {
		return nil, err
	}
	s.logger.Info("package deactivated", "package", id)
	return pkg, nil
}

// GetPackage adapts the catalog to the purchase flow's package lookup.
func (s *Service) GetPackage(ctx context.Context, id string) (*points.PointPackage, error) {
	pkg, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, points.ErrPackageUnavailable
	}
	return &points.PointPackage{
		ID:          pkg.ID,
		Name:        pkg.Name,
		Points:      pkg.Points,
		BonusPoints: pkg.BonusPoints,
		Price:       pkg.Price,
		Active:      pkg.Active,
	}, nil
}
