package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpilot/stockpilot/internal/platform/db"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const variantColumns = `id, product_id, sku, attributes, price, cost_price, stock, low_stock_threshold, created_at, updated_at`

func (r *repository) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Product, int, error) {
	where := ` WHERE p.tenant_id = $1`
	args := []any{tenantID}
	argCount := 1

	if filters.Category != "" {
		argCount++
		where += ` AND p.category = $` + strconv.Itoa(argCount)
		args = append(args, filters.Category)
	}
	if filters.Search != "" {
		argCount++
		where += ` AND (p.name ILIKE $` + strconv.Itoa(argCount) +
			` OR EXISTS (SELECT 1 FROM variants v WHERE v.product_id = p.id AND v.sku ILIKE $` + strconv.Itoa(argCount) + `))`
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT p.id, p.tenant_id, p.name, p.description, p.category, p.created_at, p.updated_at FROM products p` + where + ` ORDER BY p.created_at DESC`
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, filters.PerPage)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	offset := (filters.Page - 1) * filters.PerPage
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	ids := make([]int64, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		p.Variants = []Variant{}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return products, total, nil
	}

	variantRows, err := r.pool.Query(ctx, `SELECT `+variantColumns+` FROM variants WHERE product_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, 0, err
	}
	defer variantRows.Close()

	byProduct := make(map[int64][]Variant, len(ids))
	for variantRows.Next() {
		variant, err := scanVariant(variantRows)
		if err != nil {
			return nil, 0, err
		}
		byProduct[variant.ProductID] = append(byProduct[variant.ProductID], *variant)
	}
	if err := variantRows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range products {
		if vs, ok := byProduct[products[i].ID]; ok {
			products[i].Variants = vs
		}
	}
	return products, total, nil
}

func (r *repository) Get(ctx context.Context, tenantID, productID int64) (*Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, name, description, category, created_at, updated_at FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, productID).
		Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+variantColumns+` FROM variants WHERE product_id = $1 ORDER BY id`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.Variants = []Variant{}
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		p.Variants = append(p.Variants, *variant)
	}
	return &p, rows.Err()
}

func (r *repository) CreateProduct(ctx context.Context, product *Product) (*Product, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO products (tenant_id, name, description, category, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id, created_at, updated_at`,
			product.TenantID, product.Name, product.Description, product.Category)
		if err := row.Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt); err != nil {
			return fmt.Errorf("catalog: insert product: %w", err)
		}
		for i := range product.Variants {
			product.Variants[i].ProductID = product.ID
			if err := insertVariantTx(ctx, tx, product.TenantID, &product.Variants[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (r *repository) UpdateProduct(ctx context.Context, product *Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET name = $3, description = $4, category = $5, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		product.TenantID, product.ID, product.Name, product.Description, product.Category)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *repository) DeleteProduct(ctx context.Context, tenantID, productID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM variants WHERE tenant_id = $1 AND product_id = $2`, tenantID, productID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, productID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrProductNotFound
		}
		return nil
	})
}

func (r *repository) InsertVariant(ctx context.Context, tenantID int64, variant *Variant) (*Variant, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertVariantTx(ctx, tx, tenantID, variant)
	})
	if err != nil {
		return nil, err
	}
	return variant, nil
}

func (r *repository) UpdateVariant(ctx context.Context, tenantID int64, variant *Variant) error {
	attrs, err := json.Marshal(variant.Attributes)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE variants SET attributes = $3, price = $4, cost_price = $5, low_stock_threshold = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, variant.ID, attrs, variant.Price, variant.CostPrice, variant.LowStockThreshold)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

func (r *repository) DeleteVariant(ctx context.Context, tenantID, productID, variantID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM variants WHERE tenant_id = $1 AND product_id = $2 AND id = $3`, tenantID, productID, variantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

func (r *repository) Categories(ctx context.Context, tenantID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT category FROM products WHERE tenant_id = $1 AND category <> '' ORDER BY category`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *repository) VariantMovementCount(ctx context.Context, tenantID, productID int64, variantID *int64) (int, error) {
	query := `SELECT COUNT(*) FROM stock_movements WHERE tenant_id = $1 AND product_id = $2`
	args := []any{tenantID, productID}
	if variantID != nil {
		query += ` AND variant_id = $3`
		args = append(args, *variantID)
	}
	var count int
	err := r.pool.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

func (r *repository) OpenOrderCount(ctx context.Context, tenantID, productID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_order_items i
		JOIN purchase_orders o ON o.id = i.order_id
		WHERE o.tenant_id = $1 AND i.product_id = $2 AND o.status NOT IN ('received', 'cancelled')`,
		tenantID, productID).Scan(&count)
	return count, err
}

func insertVariantTx(ctx context.Context, tx pgx.Tx, tenantID int64, variant *Variant) error {
	attrs, err := json.Marshal(variant.Attributes)
	if err != nil {
		return err
	}
	row := tx.QueryRow(ctx, `INSERT INTO variants (tenant_id, product_id, sku, attributes, price, cost_price, stock, low_stock_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		tenantID, variant.ProductID, variant.SKU, attrs, variant.Price, variant.CostPrice, variant.Stock, variant.LowStockThreshold)
	if err := row.Scan(&variant.ID, &variant.CreatedAt, &variant.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSKUTaken
		}
		return fmt.Errorf("catalog: insert variant: %w", err)
	}
	return nil
}

func scanVariant(rows pgx.Rows) (*Variant, error) {
	var v Variant
	var attrs []byte
	if err := rows.Scan(&v.ID, &v.ProductID, &v.SKU, &attrs, &v.Price, &v.CostPrice, &v.Stock, &v.LowStockThreshold, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &v.Attributes); err != nil {
			return nil, err
		}
	}
	return &v, nil
}
