// Package company holds the employer records that own point balances.
package company

import (
	"context"
	"errors"
	"time"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/validation"
)

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrCompanyExists   = errors.New("company already exists")
	ErrInvalidCompany  = errors.New("invalid company")
)

// Company is an employer account. The points balance lives on the same
// record and is mutated only by the points store.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks company fields before registration.
func (c *Company) Validate() error {
	errs := validation.Validate(
		validation.Required("name", c.Name),
		validation.MaxLength("name", c.Name, 255),
		validation.Required("email", c.Email),
		validation.ValidEmail("email", c.Email),
	)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Store persists company records.
type Store interface {
	Create(ctx context.Context, company *Company) error
	Get(ctx context.Context, id string) (*Company, error)
	List(ctx context.Context, limit int) ([]*Company, error)
}
