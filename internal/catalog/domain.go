// Package catalog manages the tenant product catalog: products, their
// sellable variants and the stock figure attached to each variant. Stock
// is set once when a variant is created; afterwards it only changes
// through recorded stock movements.
package catalog

import (
	"fmt"
	"time"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
)

// Product groups one or more sellable variants.
type Product struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenantId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Variants    []Variant `json:"variants"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Variant is the unit stock is tracked against. SKU is unique per tenant.
type Variant struct {
	ID                int64             `json:"id"`
	ProductID         int64             `json:"productId"`
	SKU               string            `json:"sku"`
	Attributes        map[string]string `json:"attributes"`
	Price             float64           `json:"price"`
	CostPrice         float64           `json:"costPrice"`
	Stock             int64             `json:"stock"`
	LowStockThreshold int64             `json:"lowStockThreshold"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

var (
	// ErrProductNotFound indicates the product does not exist in this tenant.
	ErrProductNotFound = fmt.Errorf("product not found: %w", httpx.ErrNotFound)
	// ErrVariantNotFound indicates the variant does not exist on the product.
	ErrVariantNotFound = fmt.Errorf("variant not found: %w", httpx.ErrNotFound)
	// ErrSKUTaken indicates the SKU is already used inside the tenant.
	ErrSKUTaken = fmt.Errorf("sku already in use: %w", httpx.ErrConflict)
	// ErrProductInUse blocks deleting a product whose variants carry
	// movement history or open purchase orders.
	ErrProductInUse = fmt.Errorf("product has movement history or open purchase orders: %w", httpx.ErrConflict)
	// ErrVariantInUse blocks deleting a variant with movement history.
	ErrVariantInUse = fmt.Errorf("variant has movement history: %w", httpx.ErrConflict)
)
