package company

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. The companies table
// is shared with the points store, which owns the balance columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed company store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, company *Company) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
	`, company.ID, company.Name, company.Email, company.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrCompanyExists
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Company, error) {
	company := &Company{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM companies WHERE id = $1
	`, id).Scan(&company.ID, &company.Name, &company.Email, &company.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	return company, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Company, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, created_at FROM companies
		ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var result []*Company
	for rows.Next() {
		company := &Company{}
		if err := rows.Scan(&company.ID, &company.Name, &company.Email, &company.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		result = append(result, company)
	}
	return result, rows.Err()
}
