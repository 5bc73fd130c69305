package purchase

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/platform/db"
	"github.com/stockpilot/stockpilot/internal/shared"
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

const orderColumns = `o.id, o.tenant_id, o.order_number, o.supplier_id, s.name, o.status, o.notes, o.expected_delivery, o.total_amount, o.created_by, o.created_at, o.updated_at`

// Get loads an order with its items.
func (r *Repository) Get(ctx context.Context, tenantID, orderID int64) (*PurchaseOrder, error) {
	var o PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders o
		JOIN suppliers s ON s.id = o.supplier_id
		WHERE o.tenant_id = $1 AND o.id = $2`, tenantID, orderID).
		Scan(&o.ID, &o.TenantID, &o.OrderNumber, &o.SupplierID, &o.SupplierName, &o.Status, &o.Notes, &o.ExpectedDelivery, &o.TotalAmount, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := r.itemsForOrders(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	if o.Items == nil {
		o.Items = []Item{}
	}
	return &o, nil
}

// List returns a page of orders, newest first.
func (r *Repository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, int, error) {
	where := ` WHERE o.tenant_id = $1`
	args := []any{tenantID}
	argCount := 1

	if filter.Status != "" {
		argCount++
		where += ` AND o.status = $` + strconv.Itoa(argCount)
		args = append(args, filter.Status)
	}
	if filter.SupplierID != 0 {
		argCount++
		where += ` AND o.supplier_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.SupplierID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders o`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM purchase_orders o JOIN suppliers s ON s.id = o.supplier_id` + where + ` ORDER BY o.created_at DESC, o.id DESC`
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

	var orders []PurchaseOrder
	ids := make([]int64, 0)
	for rows.Next() {
		var o PurchaseOrder
		if err := rows.Scan(&o.ID, &o.TenantID, &o.OrderNumber, &o.SupplierID, &o.SupplierName, &o.Status, &o.Notes, &o.ExpectedDelivery, &o.TotalAmount, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		o.Items = []Item{}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) > 0 {
		items, err := r.itemsForOrders(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range orders {
			if list, ok := items[orders[i].ID]; ok {
				orders[i].Items = list
			}
		}
	}
	return orders, total, nil
}

// Delete removes an order and its items.
func (r *Repository) Delete(ctx context.Context, tenantID, orderID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, orderID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM purchase_orders WHERE tenant_id = $1 AND id = $2`, tenantID, orderID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SupplierName verifies the supplier belongs to the tenant.
func (r *Repository) SupplierName(ctx context.Context, tenantID, supplierID int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM suppliers WHERE tenant_id = $1 AND id = $2`, tenantID, supplierID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSupplierNotFound
		}
		return "", err
	}
	return name, nil
}

// VariantRef verifies the variant belongs to the tenant.
func (r *Repository) VariantRef(ctx context.Context, tenantID, variantID int64) (*VariantRef, error) {
	var ref VariantRef
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, sku FROM variants WHERE tenant_id = $1 AND id = $2`, tenantID, variantID).
		Scan(&ref.ID, &ref.ProductID, &ref.SKU)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, err
	}
	return &ref, nil
}

// ProductName resolves a product's display name.
func (r *Repository) ProductName(ctx context.Context, tenantID, productID int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, productID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrVariantNotFound
		}
		return "", err
	}
	return name, nil
}

func (r *Repository) itemsForOrders(ctx context.Context, orderIDs []int64) (map[int64][]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, product_name, variant_id, variant_sku, quantity, unit_price, received_quantity
		FROM purchase_order_items WHERE order_id = ANY($1) ORDER BY id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[int64][]Item)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.VariantID, &item.VariantSKU, &item.Quantity, &item.UnitPrice, &item.ReceivedQuantity); err != nil {
			return nil, err
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	return items, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NextOrderNumber increments the tenant's order counter. The upsert
// locks the counter row so concurrent creates get distinct numbers.
func (t *txRepository) NextOrderNumber(ctx context.Context, tenantID int64) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO po_counters (tenant_id, last_number) VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET last_number = po_counters.last_number + 1
		RETURNING last_number`, tenantID).Scan(&seq)
	return seq, err
}

func (t *txRepository) InsertOrder(ctx context.Context, order *PurchaseOrder) error {
	return t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (tenant_id, order_number, supplier_id, status, notes, expected_delivery, total_amount, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		order.TenantID, order.OrderNumber, order.SupplierID, order.Status, order.Notes, order.ExpectedDelivery, order.TotalAmount, order.CreatedBy).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

func (t *txRepository) InsertItem(ctx context.Context, item *Item) error {
	return t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (order_id, product_id, product_name, variant_id, variant_sku, quantity, unit_price, received_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		item.OrderID, item.ProductID, item.ProductName, item.VariantID, item.VariantSKU, item.Quantity, item.UnitPrice, item.ReceivedQuantity).
		Scan(&item.ID)
}

func (t *txRepository) DeleteItems(ctx context.Context, tenantID, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1
		AND EXISTS (SELECT 1 FROM purchase_orders WHERE id = $1 AND tenant_id = $2)`, orderID, tenantID)
	return err
}

func (t *txRepository) UpdateOrder(ctx context.Context, order *PurchaseOrder) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET supplier_id = $3, notes = $4, expected_delivery = $5, total_amount = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		order.TenantID, order.ID, order.SupplierID, order.Notes, order.ExpectedDelivery, order.TotalAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves the order only when it is still in the status the
// caller read, so a concurrent transition loses with ErrStaleStatus
// instead of silently overwriting.
func (t *txRepository) UpdateStatus(ctx context.Context, tenantID, orderID int64, from, to Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $3`, tenantID, orderID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// PostMovement books a stock movement on the order's transaction so
// receipt rows and ledger rows commit or roll back together.
func (t *txRepository) PostMovement(ctx context.Context, actor shared.Actor, input ledger.MovementInput) (*ledger.Movement, error) {
	movement, _, err := ledger.ApplyMovement(ctx, ledger.NewTxRepository(t.tx), actor, input)
	return movement, err
}

func (t *txRepository) UpdateItemReceived(ctx context.Context, tenantID, itemID, receivedQuantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_order_items i SET received_quantity = $3
		FROM purchase_orders o
		WHERE i.id = $2 AND o.id = i.order_id AND o.tenant_id = $1`, tenantID, itemID, receivedQuantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}
