package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// VariantRef identifies an orderable variant inside the tenant.
type VariantRef struct {
	ID        int64
	ProductID int64
	SKU       string
}

// TxRepository exposes the operations available inside an order
// transaction. UpdateStatus only moves rows still in the expected
// status so concurrent transitions cannot both win. PostMovement books
// a stock movement on the same transaction as the order rows.
type TxRepository interface {
	NextOrderNumber(ctx context.Context, tenantID int64) (int64, error)
	InsertOrder(ctx context.Context, order *PurchaseOrder) error
	InsertItem(ctx context.Context, item *Item) error
	DeleteItems(ctx context.Context, tenantID, orderID int64) error
	UpdateOrder(ctx context.Context, order *PurchaseOrder) error
	UpdateStatus(ctx context.Context, tenantID, orderID int64, from, to Status) error
	UpdateItemReceived(ctx context.Context, tenantID, itemID, receivedQuantity int64) error
	PostMovement(ctx context.Context, actor shared.Actor, input ledger.MovementInput) (*ledger.Movement, error)
}

// RepositoryPort describes repository operations used by the Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, orderID int64) (*PurchaseOrder, error)
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, int, error)
	Delete(ctx context.Context, tenantID, orderID int64) error
	SupplierName(ctx context.Context, tenantID, supplierID int64) (string, error)
	VariantRef(ctx context.Context, tenantID, variantID int64) (*VariantRef, error)
	ProductName(ctx context.Context, tenantID, productID int64) (string, error)
}

// EventPublisher pushes order and stock events to the tenant's live
// channel.
type EventPublisher interface {
	PublishOrderUpdated(ctx context.Context, tenantID int64, event OrderUpdatedEvent) error
	PublishStockUpdated(ctx context.Context, tenantID int64, event ledger.StockUpdatedEvent) error
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status     Status
	SupplierID int64
	Page       int
	PerPage    int
}

// Service orchestrates the purchase order workflow.
type Service struct {
	repo      RepositoryPort
	audit     *shared.AuditLogger
	publisher EventPublisher
	cache     shared.CacheInvalidator
}

// NewService constructs the Service.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, publisher EventPublisher, cache shared.CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, publisher: publisher, cache: cache}
}

// ItemInput is one ordered line in a create or update request.
type ItemInput struct {
	VariantID int64
	Quantity  int64
	UnitPrice float64
}

// CreateInput carries the order creation form.
type CreateInput struct {
	SupplierID       int64
	Notes            string
	ExpectedDelivery *time.Time
	Items            []ItemInput
}

// Create persists a new draft order with a tenant-sequential number.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (*PurchaseOrder, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("at least one item is required: %w", httpx.ErrValidation)
	}
	supplierName, err := s.repo.SupplierName(ctx, actor.TenantID, input.SupplierID)
	if err != nil {
		return nil, err
	}
	items, total, err := s.buildItems(ctx, actor.TenantID, input.Items)
	if err != nil {
		return nil, err
	}

	order := &PurchaseOrder{
		TenantID:         actor.TenantID,
		SupplierID:       input.SupplierID,
		SupplierName:     supplierName,
		Status:           StatusDraft,
		Notes:            input.Notes,
		ExpectedDelivery: input.ExpectedDelivery,
		TotalAmount:      total,
		Items:            items,
		CreatedBy:        actor.UserID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextOrderNumber(ctx, actor.TenantID)
		if err != nil {
			return err
		}
		order.OrderNumber = fmt.Sprintf("PO-%06d", seq)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
			if err := tx.InsertItem(ctx, &order.Items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "po.create", order, map[string]any{"orderNumber": order.OrderNumber, "total": order.TotalAmount})
	s.publishUpdate(ctx, actor.TenantID, order)
	return order, nil
}

// Get fetches an order with its items.
func (s *Service) Get(ctx context.Context, actor shared.Actor, orderID int64) (*PurchaseOrder, error) {
	return s.repo.Get(ctx, actor.TenantID, orderID)
}

// List returns a page of orders, newest first.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]PurchaseOrder, shared.Pagination, error) {
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	orders, total, err := s.repo.List(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// UpdateInput carries editable draft fields.
type UpdateInput struct {
	SupplierID       int64
	Notes            string
	ExpectedDelivery *time.Time
	Items            []ItemInput
}

// UpdateDraft replaces the items and header of a draft order.
func (s *Service) UpdateDraft(ctx context.Context, actor shared.Actor, orderID int64, input UpdateInput) (*PurchaseOrder, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	order, err := s.repo.Get(ctx, actor.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusDraft {
		return nil, ErrNotEditable
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("at least one item is required: %w", httpx.ErrValidation)
	}
	supplierName, err := s.repo.SupplierName(ctx, actor.TenantID, input.SupplierID)
	if err != nil {
		return nil, err
	}
	items, total, err := s.buildItems(ctx, actor.TenantID, input.Items)
	if err != nil {
		return nil, err
	}

	order.SupplierID = input.SupplierID
	order.SupplierName = supplierName
	order.Notes = input.Notes
	order.ExpectedDelivery = input.ExpectedDelivery
	order.TotalAmount = total
	order.Items = items
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, actor.TenantID, order.ID); err != nil {
			return err
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
			if err := tx.InsertItem(ctx, &order.Items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "po.update", order, nil)
	return order, nil
}

// UpdateStatus applies an explicit workflow transition: send, confirm
// or cancel. Receipt states are reached through Receive only.
func (s *Service) UpdateStatus(ctx context.Context, actor shared.Actor, orderID int64, target Status) (*PurchaseOrder, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	switch target {
	case StatusSent, StatusConfirmed, StatusCancelled:
	default:
		return nil, fmt.Errorf("status %q cannot be set directly: %w", target, httpx.ErrValidation)
	}
	order, err := s.repo.Get(ctx, actor.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	if !canTransition(order.Status, target) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, target)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, actor.TenantID, orderID, order.Status, target)
	})
	if err != nil {
		return nil, err
	}
	order.Status = target
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "po.status", order, map[string]any{"status": target})
	s.publishUpdate(ctx, actor.TenantID, order)
	return order, nil
}

// ReceiveLine is one received quantity against an order item.
type ReceiveLine struct {
	ItemID   int64
	Quantity int64
}

// Receive books arrived goods against a confirmed order. Every line is
// validated before anything is written so an invalid line rejects the
// whole batch. Each received line posts a purchase movement referencing
// the order number.
func (s *Service) Receive(ctx context.Context, actor shared.Actor, orderID int64, lines []ReceiveLine) (*PurchaseOrder, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("at least one received item is required: %w", httpx.ErrValidation)
	}
	order, err := s.repo.Get(ctx, actor.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusConfirmed && order.Status != StatusPartiallyReceived {
		return nil, fmt.Errorf("%w: cannot receive in status %s", ErrInvalidTransition, order.Status)
	}

	itemByID := make(map[int64]*Item, len(order.Items))
	for i := range order.Items {
		itemByID[order.Items[i].ID] = &order.Items[i]
	}
	seen := make(map[int64]int64, len(lines))
	for _, line := range lines {
		item, ok := itemByID[line.ItemID]
		if !ok {
			return nil, ErrItemNotFound
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("received quantity must be positive: %w", httpx.ErrValidation)
		}
		seen[line.ItemID] += line.Quantity
		if seen[line.ItemID] > item.Outstanding() {
			return nil, fmt.Errorf("%w: item %d has %d outstanding", ErrOverReceipt, item.ID, item.Outstanding())
		}
	}

	var movements []*ledger.Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements = movements[:0]
		for itemID, qty := range seen {
			item := itemByID[itemID]
			if err := tx.UpdateItemReceived(ctx, actor.TenantID, itemID, item.ReceivedQuantity+qty); err != nil {
				return err
			}
		}
		next := receiptStatusAfter(order.Items, seen)
		if err := tx.UpdateStatus(ctx, actor.TenantID, orderID, order.Status, next); err != nil {
			return err
		}
		for itemID, qty := range seen {
			item := itemByID[itemID]
			movement, err := tx.PostMovement(ctx, actor, ledger.MovementInput{
				VariantID: item.VariantID,
				Type:      ledger.TypePurchase,
				Quantity:  qty,
				Reference: order.OrderNumber,
				Note:      fmt.Sprintf("receipt for %s", order.OrderNumber),
			})
			if err != nil {
				return err
			}
			movements = append(movements, movement)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for itemID, qty := range seen {
		itemByID[itemID].ReceivedQuantity += qty
	}
	order.Status = receiptStatus(order.Items)
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "po.receive", order, map[string]any{"status": order.Status})
	s.publishUpdate(ctx, actor.TenantID, order)
	s.publishStockUpdates(ctx, actor.TenantID, order, movements)
	return order, nil
}

// Delete removes an order that never left draft. Anything past draft is
// part of the tenant's history and is cancelled instead. Only the owner
// may delete.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, orderID int64) error {
	if actor.Role != shared.RoleOwner {
		return fmt.Errorf("only the owner can delete purchase orders: %w", httpx.ErrForbidden)
	}
	order, err := s.repo.Get(ctx, actor.TenantID, orderID)
	if err != nil {
		return err
	}
	if order.Status != StatusDraft {
		return fmt.Errorf("only draft orders can be deleted: %w", httpx.ErrConflict)
	}
	if err := s.repo.Delete(ctx, actor.TenantID, orderID); err != nil {
		return err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "po.delete", order, nil)
	return nil
}

func (s *Service) buildItems(ctx context.Context, tenantID int64, inputs []ItemInput) ([]Item, float64, error) {
	var total float64
	items := make([]Item, 0, len(inputs))
	seen := make(map[int64]struct{}, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, 0, fmt.Errorf("item quantity must be positive: %w", httpx.ErrValidation)
		}
		if in.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("unit price must not be negative: %w", httpx.ErrValidation)
		}
		if _, dup := seen[in.VariantID]; dup {
			return nil, 0, fmt.Errorf("variant %d listed twice: %w", in.VariantID, httpx.ErrValidation)
		}
		seen[in.VariantID] = struct{}{}
		ref, err := s.repo.VariantRef(ctx, tenantID, in.VariantID)
		if err != nil {
			return nil, 0, err
		}
		productName, err := s.repo.ProductName(ctx, tenantID, ref.ProductID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, Item{
			ProductID:   ref.ProductID,
			ProductName: productName,
			VariantID:   ref.ID,
			VariantSKU:  ref.SKU,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		})
		total += float64(in.Quantity) * in.UnitPrice
	}
	return items, total, nil
}

func receiptStatus(items []Item) Status {
	for _, item := range items {
		if item.ReceivedQuantity < item.Quantity {
			return StatusPartiallyReceived
		}
	}
	return StatusReceived
}

// receiptStatusAfter computes the status the order lands in once the
// pending receipts are applied, without mutating the items yet.
func receiptStatusAfter(items []Item, received map[int64]int64) Status {
	for _, item := range items {
		if item.ReceivedQuantity+received[item.ID] < item.Quantity {
			return StatusPartiallyReceived
		}
	}
	return StatusReceived
}

func requireEditor(actor shared.Actor) error {
	if !actor.Role.OneOf(shared.RoleOwner, shared.RoleManager) {
		return fmt.Errorf("purchase orders require owner or manager role: %w", httpx.ErrForbidden)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, order *PurchaseOrder, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprint(order.ID),
		Meta:     meta,
	})
}

func (s *Service) publishUpdate(ctx context.Context, tenantID int64, order *PurchaseOrder) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.PublishOrderUpdated(ctx, tenantID, OrderUpdatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
	})
}

func (s *Service) publishStockUpdates(ctx context.Context, tenantID int64, order *PurchaseOrder, movements []*ledger.Movement) {
	if s.publisher == nil {
		return
	}
	names := make(map[int64]string, len(order.Items))
	for _, item := range order.Items {
		names[item.VariantID] = item.ProductName
	}
	for _, movement := range movements {
		_ = s.publisher.PublishStockUpdated(ctx, tenantID, ledger.StockUpdatedEvent{
			VariantID:     movement.VariantID,
			VariantSKU:    movement.VariantSKU,
			ProductName:   names[movement.VariantID],
			Type:          string(movement.Type),
			PreviousStock: movement.PreviousStock,
			NewStock:      movement.NewStock,
		})
	}
}

func (s *Service) bumpCache(ctx context.Context, tenantID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Bump(ctx, tenantID)
}
