// Package purchase implements the purchase order lifecycle from draft
// to receipt. Receiving goods is the only path that increases stock
// through purchase movements.
package purchase

import (
	"fmt"
	"time"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
)

// Status is the lifecycle state of a purchase order.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusSent              Status = "sent"
	StatusConfirmed         Status = "confirmed"
	StatusPartiallyReceived Status = "partially_received"
	StatusReceived          Status = "received"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// PurchaseOrder is an order placed with a supplier.
type PurchaseOrder struct {
	ID               int64      `json:"id"`
	TenantID         int64      `json:"tenantId"`
	OrderNumber      string     `json:"orderNumber"`
	SupplierID       int64      `json:"supplierId"`
	SupplierName     string     `json:"supplierName"`
	Status           Status     `json:"status"`
	Notes            string     `json:"notes,omitempty"`
	ExpectedDelivery *time.Time `json:"expectedDelivery,omitempty"`
	TotalAmount      float64    `json:"totalAmount"`
	Items            []Item     `json:"items"`
	CreatedBy        int64      `json:"createdBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Item is one ordered variant line.
type Item struct {
	ID               int64   `json:"id"`
	OrderID          int64   `json:"orderId"`
	ProductID        int64   `json:"productId"`
	ProductName      string  `json:"productName"`
	VariantID        int64   `json:"variantId"`
	VariantSKU       string  `json:"variantSku"`
	Quantity         int64   `json:"quantity"`
	UnitPrice        float64 `json:"unitPrice"`
	ReceivedQuantity int64   `json:"receivedQuantity"`
}

// Outstanding returns the quantity still expected for this line.
func (i Item) Outstanding() int64 {
	return i.Quantity - i.ReceivedQuantity
}

var (
	// ErrNotFound indicates the order does not exist in this tenant.
	ErrNotFound = fmt.Errorf("purchase order not found: %w", httpx.ErrNotFound)
	// ErrItemNotFound indicates a receive line references an unknown item.
	ErrItemNotFound = fmt.Errorf("purchase order item not found: %w", httpx.ErrNotFound)
	// ErrSupplierNotFound indicates the supplier does not exist in this tenant.
	ErrSupplierNotFound = fmt.Errorf("supplier not found: %w", httpx.ErrValidation)
	// ErrVariantNotFound indicates an ordered variant does not exist in this tenant.
	ErrVariantNotFound = fmt.Errorf("variant not found: %w", httpx.ErrValidation)
	// ErrInvalidTransition rejects state changes the workflow does not allow.
	ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", httpx.ErrConflict)
	// ErrOverReceipt rejects receiving more than the outstanding quantity.
	ErrOverReceipt = fmt.Errorf("received quantity exceeds outstanding quantity: %w", httpx.ErrOverReceipt)
	// ErrNotEditable rejects edits to orders that already left draft.
	ErrNotEditable = fmt.Errorf("only draft orders can be edited: %w", httpx.ErrConflict)
	// ErrStaleStatus signals the order's status changed under a concurrent request.
	ErrStaleStatus = fmt.Errorf("purchase order status changed concurrently: %w", httpx.ErrConflict)
)

// transitions lists the allowed explicit status changes. The two receipt
// states are only reachable through Receive.
var transitions = map[Status][]Status{
	StatusDraft:             {StatusSent, StatusCancelled},
	StatusSent:              {StatusConfirmed, StatusCancelled},
	StatusConfirmed:         {StatusCancelled},
	StatusPartiallyReceived: {StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
