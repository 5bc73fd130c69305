package purchase

// OrderUpdatedEvent is emitted when an order is created or changes
// status.
type OrderUpdatedEvent struct {
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}
