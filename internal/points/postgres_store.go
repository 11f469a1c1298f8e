package points

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/pagination"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Balance mutations
// ride in the same database transaction as the ledger row they belong to,
// with the company row locked for the duration.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed points store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the point ledger tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS companies (
			id                  VARCHAR(64) PRIMARY KEY,
			name                VARCHAR(255) NOT NULL,
			email               VARCHAR(255) NOT NULL,
			points_balance      INTEGER NOT NULL DEFAULT 0 CHECK (points_balance >= 0),
			points_last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS point_transactions (
			id                 VARCHAR(64) PRIMARY KEY,
			company_id         VARCHAR(64) NOT NULL,
			kind               VARCHAR(20) NOT NULL,
			points             INTEGER NOT NULL,
			amount             BIGINT NOT NULL DEFAULT 0,
			status             VARCHAR(20) NOT NULL DEFAULT 'pending',
			external_reference VARCHAR(128) NOT NULL,
			reference_kind     VARCHAR(64),
			reference_id       VARCHAR(64),
			metadata           JSONB,
			description        TEXT,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT point_transactions_reference_key UNIQUE (external_reference)
		);
		CREATE INDEX IF NOT EXISTS idx_point_transactions_company
			ON point_transactions(company_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_point_transactions_status
			ON point_transactions(status, created_at);
	`)
	return err
}

func (p *PostgresStore) Insert(ctx context.Context, txn *Transaction) error {
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	meta, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO point_transactions (
			id, company_id, kind, points, amount, status,
			external_reference, reference_kind, reference_id,
			metadata, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		txn.ID, txn.CompanyID, string(txn.Kind), txn.Points, txn.Amount, string(txn.Status),
		txn.ExternalReference, nullString(txn.ReferenceKind), nullString(txn.ReferenceID),
		meta, nullString(txn.Description), txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) InsertCompleted(ctx context.Context, txn *Transaction) error {
	now := time.Now().UTC()
	txn.Status = StatusCompleted
	txn.CreatedAt = now
	txn.UpdatedAt = now

	meta, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := applyDelta(ctx, tx, txn.CompanyID, txn.Points, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO point_transactions (
			id, company_id, kind, points, amount, status,
			external_reference, reference_kind, reference_id,
			metadata, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		txn.ID, txn.CompanyID, string(txn.Kind), txn.Points, txn.Amount, string(txn.Status),
		txn.ExternalReference, nullString(txn.ReferenceKind), nullString(txn.ReferenceID),
		meta, nullString(txn.Description), txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert completed transaction: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) Transition(ctx context.Context, id string, to Status, metadata map[string]string) (*Transaction, bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectTxn+` WHERE id = $1 FOR UPDATE`, id)
	txn, err := scanTxn(row)
	if err == sql.ErrNoRows {
		return nil, false, ErrTransactionNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("lock transaction: %w", err)
	}

	if txn.Status == to {
		return txn, false, nil
	}
	if !CanTransition(txn.Status, to) {
		return nil, false, ErrInvalidTransition
	}

	now := time.Now().UTC()
	mergeMetadata(txn, metadata)
	meta, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE point_transactions
		SET status = $2, metadata = $3, updated_at = $4
		WHERE id = $1
	`, id, string(to), meta, now)
	if err != nil {
		return nil, false, fmt.Errorf("update transaction: %w", err)
	}

	if to == StatusCompleted {
		if err := applyDelta(ctx, tx, txn.CompanyID, txn.Points, now); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transition: %w", err)
	}

	txn.Status = to
	txn.UpdatedAt = now
	return txn, true, nil
}

// AppendMetadata merges metadata into a pending transaction. Rows that are
// missing or already terminal are left untouched; a notification racing a
// settlement must not mutate the row it lost to.
func (p *PostgresStore) AppendMetadata(ctx context.Context, id string, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE point_transactions
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, meta)
	if err != nil {
		return fmt.Errorf("append metadata: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, selectTxn+` WHERE id = $1`, id)
	txn, err := scanTxn(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return txn, nil
}

func (p *PostgresStore) FindByReference(ctx context.Context, ref string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, selectTxn+` WHERE external_reference = $1`, ref)
	txn, err := scanTxn(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return txn, nil
}

func (p *PostgresStore) Balance(ctx context.Context, companyID string) (*Balance, error) {
	bal := &Balance{CompanyID: companyID}
	err := p.db.QueryRowContext(ctx, `
		SELECT points_balance, points_last_updated FROM companies WHERE id = $1
	`, companyID).Scan(&bal.Points, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return bal, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

func (p *PostgresStore) History(ctx context.Context, companyID string, f HistoryFilter) ([]*Transaction, error) {
	cur, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, err
	}

	query := selectTxn + ` WHERE company_id = $1`
	args := []any{companyID}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if cur != nil {
		args = append(args, cur.CreatedAt, cur.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		txn, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SumCompleted(ctx context.Context, companyID string) (int, error) {
	var sum int
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM point_transactions
		WHERE company_id = $1 AND status = 'completed'
	`, companyID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum completed: %w", err)
	}
	return sum, nil
}

func (p *PostgresStore) StalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectTxn+`
		WHERE status = 'pending' AND kind = 'purchase' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale pending: %w", err)
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		txn, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

// applyDelta adjusts a company's balance inside an open transaction, holding
// a row lock. The CHECK constraint is the backstop; the explicit guard is
// what turns overdraws into ErrInsufficientBalance instead of a raw pq error.
func applyDelta(ctx context.Context, tx *sql.Tx, companyID string, delta int, now time.Time) error {
	var current int
	err := tx.QueryRowContext(ctx, `
		SELECT points_balance FROM companies WHERE id = $1 FOR UPDATE
	`, companyID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrCompanyNotFound
	}
	if err != nil {
		return fmt.Errorf("lock company: %w", err)
	}
	if current+delta < 0 {
		return ErrInsufficientBalance
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE companies SET points_balance = points_balance + $2, points_last_updated = $3
		WHERE id = $1
	`, companyID, delta, now)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

const selectTxn = `
	SELECT id, company_id, kind, points, amount, status,
		external_reference, reference_kind, reference_id,
		metadata, description, created_at, updated_at
	FROM point_transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTxn(row rowScanner) (*Transaction, error) {
	var txn Transaction
	var kind, status string
	var refKind, refID, description sql.NullString
	var meta []byte

	err := row.Scan(
		&txn.ID, &txn.CompanyID, &kind, &txn.Points, &txn.Amount, &status,
		&txn.ExternalReference, &refKind, &refID,
		&meta, &description, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Kind = Kind(kind)
	txn.Status = Status(status)
	txn.ReferenceKind = refKind.String
	txn.ReferenceID = refID.String
	txn.Description = description.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &txn, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return true
	}
	return false
}
