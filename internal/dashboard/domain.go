// Package dashboard aggregates inventory and purchasing data into the
// read models behind the overview screens.
package dashboard

// Stats is the headline summary for a tenant.
type Stats struct {
	InventoryValue float64 `json:"inventoryValue"`
	ProductCount   int64   `json:"productCount"`
	SupplierCount  int64   `json:"supplierCount"`
	PendingPOCount int64   `json:"pendingPOCount"`
}

// LowStockRow is one variant at or below its low stock threshold.
// PendingFromPO counts quantities still expected from open purchase
// orders, NeedsAlert is set when even those will not lift the variant
// above its threshold.
type LowStockRow struct {
	ProductName       string `json:"productName"`
	SKU               string `json:"sku"`
	Stock             int64  `json:"stock"`
	LowStockThreshold int64  `json:"lowStockThreshold"`
	PendingFromPO     int64  `json:"pendingFromPO"`
	NeedsAlert        bool   `json:"needsAlert"`
}

// TopSeller is one variant ranked by quantity sold.
type TopSeller struct {
	ProductName string `json:"productName"`
	VariantSKU  string `json:"variantSku"`
	TotalSold   int64  `json:"totalSold"`
}

// StockPoint is one day of aggregated stock movement.
type StockPoint struct {
	Date     string `json:"date"`
	Incoming int64  `json:"incoming"`
	Outgoing int64  `json:"outgoing"`
}
