// Package catalog manages the point packages companies can purchase.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPackageNotFound = errors.New("package not found")
	ErrPackageExists   = errors.New("package already exists")
	ErrInvalidPackage  = errors.New("invalid package")
)

// Package is a purchasable bundle of points at a fixed price.
type Package struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Points      int       `json:"points"`
	BonusPoints int       `json:"bonusPoints,omitempty"`
	Price       int64     `json:"price"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks package fields before create/update.
func (p *Package) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.Points <= 0 {
		return errors.New("points must be positive")
	}
	if p.BonusPoints < 0 {
		return errors.New("bonus points cannot be negative")
	}
	if p.Price <= 0 {
		return errors.New("price must be positive")
	}
	return nil
}

// Store persists point packages.
type Store interface {
	Create(ctx context.Context, pkg *Package) error
	Get(ctx context.Context, id string) (*Package, error)
	Update(ctx context.Context, pkg *Package) error
	List(ctx context.Context, activeOnly bool) ([]*Package, error)
}
