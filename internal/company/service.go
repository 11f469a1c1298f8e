package company

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/gateway"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/idgen"
	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/points"
)

// Compile-time check that Service satisfies the purchase flow's lookup.
var _ points.CustomerProvider = (*Service)(nil)

// Service manages company records.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a company service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Register creates a new company account.
func (s *Service) Register(ctx context.Context, company *Company) (*Company, error) {
	if err := company.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompany, err)
	}
	if company.ID == "" {
		company.ID = idgen.WithPrefix("com_")
	}
	company.CreatedAt = time.Now().UTC()

	if err := s.store.Create(ctx, company); err != nil {
		return nil, err
	}
	s.logger.Info("company registered", "company", company.ID, "name", company.Name)
	return company, nil
}

// Get returns a company by ID.
func (s *Service) Get(ctx context.Context, id string) (*Company, error) {
	return s.store.Get(ctx, id)
}

// List returns registered companies.
func (s *Service) List(ctx context.Context, limit int) ([]*Company, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// GetCustomer adapts a company record to the gateway's customer shape.
func (s *Service) GetCustomer(ctx context.Context, companyID string) (*gateway.Customer, error) {
	company, err := s.store.Get(ctx, companyID)
	if err != nil {
		return nil, points.ErrCompanyNotFound
	}
	return &gateway.Customer{ID: company.ID, Name: company.Name, Email: company.Email}, nil
}
