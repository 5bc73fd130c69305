package dashboard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// InventoryValue sums stock on hand at selling price.
func (r *PGRepository) InventoryValue(ctx context.Context, tenantID int64) (float64, error) {
	var value float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(stock * price), 0) FROM variants WHERE tenant_id = $1`, tenantID).Scan(&value)
	return value, err
}

func (r *PGRepository) ProductCount(ctx context.Context, tenantID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}

func (r *PGRepository) SupplierCount(ctx context.Context, tenantID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}

// PendingOrderCount counts orders that are out with a supplier but not
// yet fully received.
func (r *PGRepository) PendingOrderCount(ctx context.Context, tenantID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders
		WHERE tenant_id = $1 AND status IN ('sent', 'confirmed', 'partially_received')`, tenantID).Scan(&count)
	return count, err
}

// LowStockRows lists variants at or below their threshold alongside the
// quantity still outstanding on open purchase orders.
func (r *PGRepository) LowStockRows(ctx context.Context, tenantID int64) ([]LowStockRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.name, v.sku, v.stock, v.low_stock_threshold,
			COALESCE((SELECT SUM(i.quantity - i.received_quantity)
				FROM purchase_order_items i
				JOIN purchase_orders o ON o.id = i.order_id
				WHERE i.variant_id = v.id AND o.tenant_id = $1
					AND o.status IN ('sent', 'confirmed', 'partially_received')), 0)
		FROM variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.tenant_id = $1 AND v.stock <= v.low_stock_threshold
		ORDER BY v.stock - v.low_stock_threshold, v.sku`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LowStockRow
	for rows.Next() {
		var row LowStockRow
		if err := rows.Scan(&row.ProductName, &row.SKU, &row.Stock, &row.LowStockThreshold, &row.PendingFromPO); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// TopSellers ranks variants by quantity sold since the cutoff.
func (r *PGRepository) TopSellers(ctx context.Context, tenantID int64, since time.Time, limit int) ([]TopSeller, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.name, m.variant_sku, SUM(m.quantity)
		FROM stock_movements m
		JOIN products p ON p.id = m.product_id
		WHERE m.tenant_id = $1 AND m.movement_type = 'sale' AND m.created_at >= $2
		GROUP BY p.name, m.variant_sku
		ORDER BY SUM(m.quantity) DESC, m.variant_sku
		LIMIT $3`, tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sellers []TopSeller
	for rows.Next() {
		var seller TopSeller
		if err := rows.Scan(&seller.ProductName, &seller.VariantSKU, &seller.TotalSold); err != nil {
			return nil, err
		}
		sellers = append(sellers, seller)
	}
	return sellers, rows.Err()
}

// MovementSeries aggregates signed stock changes per day from the
// cutoff onward.
func (r *PGRepository) MovementSeries(ctx context.Context, tenantID int64, from time.Time) ([]StockPoint, error) {
	rows, err := r.pool.Query(ctx, `SELECT TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD'),
			COALESCE(SUM(CASE WHEN new_stock > previous_stock THEN new_stock - previous_stock ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN new_stock < previous_stock THEN previous_stock - new_stock ELSE 0 END), 0)
		FROM stock_movements
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY 1 ORDER BY 1`, tenantID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []StockPoint
	for rows.Next() {
		var point StockPoint
		if err := rows.Scan(&point.Date, &point.Incoming, &point.Outgoing); err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}
