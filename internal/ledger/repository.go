package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpilot/stockpilot/internal/platform/db"
)

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// WithTx runs fn inside a transaction exposing TxRepository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const movementColumns = `id, tenant_id, product_id, variant_id, variant_sku, movement_type, quantity, previous_stock, new_stock, reference, note, performed_by, created_at`

// ListMovements returns a page of movements, newest first.
func (r *Repository) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []any{tenantID}
	argCount := 1

	if filter.VariantID != 0 {
		argCount++
		where += ` AND variant_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.VariantID)
	}
	if filter.ProductID != 0 {
		argCount++
		where += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ProductID)
	}
	if filter.Type != "" {
		argCount++
		where += ` AND movement_type = $` + strconv.Itoa(argCount)
		args = append(args, filter.Type)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + movementColumns + ` FROM stock_movements` + where + ` ORDER BY created_at DESC, id DESC`
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, filter.PerPage)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	offset := (filter.Page - 1) * filter.PerPage
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ProductID, &m.VariantID, &m.VariantSKU, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock, &m.Reference, &m.Note, &m.PerformedBy, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	return movements, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules can post
// movements on it via ApplyMovement.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// GetVariantForUpdate locks the variant row until the transaction ends.
func (t *txRepository) GetVariantForUpdate(ctx context.Context, tenantID, variantID int64) (*VariantRef, error) {
	var ref VariantRef
	err := t.tx.QueryRow(ctx, `SELECT v.id, v.product_id, p.name, v.sku, v.stock, v.low_stock_threshold
		FROM variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.tenant_id = $1 AND v.id = $2
		FOR UPDATE OF v`, tenantID, variantID).
		Scan(&ref.ID, &ref.ProductID, &ref.ProductName, &ref.SKU, &ref.Stock, &ref.LowStockThreshold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, err
	}
	return &ref, nil
}

func (t *txRepository) UpdateVariantStock(ctx context.Context, tenantID, variantID, newStock int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE variants SET stock = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`, tenantID, variantID, newStock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

func (t *txRepository) InsertMovement(ctx context.Context, movement *Movement) error {
	return t.tx.QueryRow(ctx, `INSERT INTO stock_movements (tenant_id, product_id, variant_id, variant_sku, movement_type, quantity, previous_stock, new_stock, reference, note, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW()) RETURNING id, created_at`,
		movement.TenantID, movement.ProductID, movement.VariantID, movement.VariantSKU, movement.Type, movement.Quantity,
		movement.PreviousStock, movement.NewStock, movement.Reference, movement.Note, movement.PerformedBy).
		Scan(&movement.ID, &movement.CreatedAt)
}
