// Package ledger is the append-only record of every stock change. A
// variant's stock figure is only ever written here, inside one
// transaction together with the movement row describing the change.
package ledger

import (
	"fmt"
	"time"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
)

// MovementType classifies a stock movement.
type MovementType string

const (
	TypePurchase   MovementType = "purchase"
	TypeSale       MovementType = "sale"
	TypeReturn     MovementType = "return"
	TypeAdjustment MovementType = "adjustment"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case TypePurchase, TypeSale, TypeReturn, TypeAdjustment:
		return true
	}
	return false
}

// Direction disambiguates adjustments, which can go either way.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// Movement is one immutable ledger entry. Movements are never updated
// or deleted once written.
type Movement struct {
	ID            int64        `json:"id"`
	TenantID      int64        `json:"tenantId"`
	ProductID     int64        `json:"productId"`
	VariantID     int64        `json:"variantId"`
	VariantSKU    string       `json:"variantSku"`
	Type          MovementType `json:"type"`
	Quantity      int64        `json:"quantity"`
	PreviousStock int64        `json:"previousStock"`
	NewStock      int64        `json:"newStock"`
	Reference     string       `json:"reference,omitempty"`
	Note          string       `json:"note,omitempty"`
	PerformedBy   int64        `json:"performedBy"`
	CreatedAt     time.Time    `json:"createdAt"`
}

var (
	// ErrInsufficientStock rejects movements that would drive stock negative.
	ErrInsufficientStock = fmt.Errorf("stock would drop below zero: %w", httpx.ErrInsufficientStock)
	// ErrVariantNotFound indicates the variant does not exist in this tenant.
	ErrVariantNotFound = fmt.Errorf("variant not found: %w", httpx.ErrNotFound)
	// ErrUnknownType rejects movement types outside the taxonomy.
	ErrUnknownType = fmt.Errorf("unknown movement type: %w", httpx.ErrValidation)
	// ErrDirectionRequired rejects adjustments without an explicit direction.
	ErrDirectionRequired = fmt.Errorf("adjustment requires direction increase or decrease: %w", httpx.ErrValidation)
)
