// Package suppliers manages the tenant's supplier directory.
package suppliers

import (
	"fmt"
	"time"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
)

// Supplier is a vendor purchase orders are placed with.
type Supplier struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenantId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	// ErrNotFound indicates the supplier does not exist in this tenant.
	ErrNotFound = fmt.Errorf("supplier not found: %w", httpx.ErrNotFound)
	// ErrInUse blocks deleting a supplier that purchase orders reference.
	ErrInUse = fmt.Errorf("supplier is referenced by purchase orders: %w", httpx.ErrConflict)
)
