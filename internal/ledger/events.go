package ledger

// StockUpdatedEvent is emitted after every committed movement.
type StockUpdatedEvent struct {
	VariantID     int64  `json:"variantId"`
	VariantSKU    string `json:"variantSku"`
	ProductName   string `json:"productName"`
	Type          string `json:"type"`
	PreviousStock int64  `json:"previousStock"`
	NewStock      int64  `json:"newStock"`
}

// LowStockEvent is emitted when a movement drops a variant to or below
// its low stock threshold.
type LowStockEvent struct {
	VariantID   int64  `json:"variantId"`
	VariantSKU  string `json:"variantSku"`
	ProductName string `json:"productName"`
	Stock       int64  `json:"stock"`
	Threshold   int64  `json:"threshold"`
}
