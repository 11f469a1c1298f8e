package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the point_packages table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS point_packages (
			id           VARCHAR(64) PRIMARY KEY,
			name         VARCHAR(255) NOT NULL,
			description  TEXT,
			points       INTEGER NOT NULL CHECK (points > 0),
			bonus_points INTEGER NOT NULL DEFAULT 0 CHECK (bonus_points >= 0),
			price        BIGINT NOT NULL CHECK (price > 0),
			active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, pkg *Package) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO point_packages (id, name, description, points, bonus_points, price, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, pkg.ID, pkg.Name, pkg.Description, pkg.Points, pkg.BonusPoints, pkg.Price, pkg.Active, pkg.CreatedAt, pkg.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrPackageExists
		}
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Package, error) {
	pkg := &Package{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, description, points, bonus_points, price, active, created_at, updated_at
		FROM point_packages WHERE id = $1
	`, id).Scan(&pkg.ID, &pkg.Name, &pkg.Description, &pkg.Points, &pkg.BonusPoints,
		&pkg.Price, &pkg.Active, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

func (p *PostgresStore) Update(ctx context.Context, pkg *Package) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE point_packages
		SET name = $2, description = $3, points = $4, bonus_points = $5,
			price = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, pkg.ID, pkg.Name, pkg.Description, pkg.Points, pkg.BonusPoints, pkg.Price, pkg.Active, pkg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPackageNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, activeOnly bool) ([]*Package, error) {
	query := `
		SELECT id, name, description, points, bonus_points, price, active, created_at, updated_at
		FROM point_packages`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY price ASC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var result []*Package
	for rows.Next() {
		pkg := &Package{}
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Description, &pkg.Points, &pkg.BonusPoints,
			&pkg.Price, &pkg.Active, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		result = append(result, pkg)
	}
	return result, rows.Err()
}
