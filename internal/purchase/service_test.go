package purchase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

var (
	poOwner   = shared.Actor{UserID: 1, TenantID: 1, Role: shared.RoleOwner}
	poManager = shared.Actor{UserID: 2, TenantID: 1, Role: shared.RoleManager}
	poStaff   = shared.Actor{UserID: 3, TenantID: 1, Role: shared.RoleStaff}
	poOther   = shared.Actor{UserID: 9, TenantID: 2, Role: shared.RoleOwner}
)

type memoryPurchaseRepo struct {
	suppliers map[int64]map[int64]string
	variants  map[int64]map[int64]VariantRef
	products  map[int64]map[int64]string
	orders    map[int64]*PurchaseOrder
	counters  map[int64]int64
	nextOrder int64
	nextItem  int64

	movements  []ledger.MovementInput
	postCalls  int
	failPostAt int // 1-based PostMovement call that fails, 0 never

	afterGet func() // runs once after the next Get
}

func newMemoryPurchaseRepo() *memoryPurchaseRepo {
	return &memoryPurchaseRepo{
		suppliers: map[int64]map[int64]string{
			1: {1: "Acme Parts"},
			2: {2: "Globex Supply"},
		},
		variants: map[int64]map[int64]VariantRef{
			1: {
				10: {ID: 10, ProductID: 100, SKU: "WID-S"},
				11: {ID: 11, ProductID: 100, SKU: "WID-L"},
			},
			2: {
				20: {ID: 20, ProductID: 200, SKU: "GIZ-1"},
			},
		},
		products: map[int64]map[int64]string{
			1: {100: "Widget"},
			2: {200: "Gizmo"},
		},
		orders:   map[int64]*PurchaseOrder{},
		counters: map[int64]int64{},
	}
}

func cloneOrder(o *PurchaseOrder) *PurchaseOrder {
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}

func (m *memoryPurchaseRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]*PurchaseOrder, len(m.orders))
	for id, o := range m.orders {
		snapshot[id] = cloneOrder(o)
	}
	counters := make(map[int64]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	movements := append([]ledger.MovementInput(nil), m.movements...)
	if err := fn(ctx, m); err != nil {
		m.orders = snapshot
		m.counters = counters
		m.movements = movements
		return err
	}
	return nil
}

func (m *memoryPurchaseRepo) Get(ctx context.Context, tenantID, orderID int64) (*PurchaseOrder, error) {
	order, ok := m.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return nil, ErrNotFound
	}
	clone := cloneOrder(order)
	if m.afterGet != nil {
		hook := m.afterGet
		m.afterGet = nil
		hook()
	}
	return clone, nil
}

func (m *memoryPurchaseRepo) List(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, int, error) {
	var matched []PurchaseOrder
	for _, order := range m.orders {
		if order.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.SupplierID != 0 && order.SupplierID != filter.SupplierID {
			continue
		}
		matched = append(matched, *cloneOrder(order))
	}
	return matched, len(matched), nil
}

func (m *memoryPurchaseRepo) Delete(ctx context.Context, tenantID, orderID int64) error {
	order, ok := m.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.orders, orderID)
	return nil
}

func (m *memoryPurchaseRepo) SupplierName(ctx context.Context, tenantID, supplierID int64) (string, error) {
	name, ok := m.suppliers[tenantID][supplierID]
	if !ok {
		return "", ErrSupplierNotFound
	}
	return name, nil
}

func (m *memoryPurchaseRepo) VariantRef(ctx context.Context, tenantID, variantID int64) (*VariantRef, error) {
	ref, ok := m.variants[tenantID][variantID]
	if !ok {
		return nil, ErrVariantNotFound
	}
	return &ref, nil
}

func (m *memoryPurchaseRepo) ProductName(ctx context.Context, tenantID, productID int64) (string, error) {
	name, ok := m.products[tenantID][productID]
	if !ok {
		return "", ErrVariantNotFound
	}
	return name, nil
}

func (m *memoryPurchaseRepo) NextOrderNumber(ctx context.Context, tenantID int64) (int64, error) {
	m.counters[tenantID]++
	return m.counters[tenantID], nil
}

func (m *memoryPurchaseRepo) InsertOrder(ctx context.Context, order *PurchaseOrder) error {
	m.nextOrder++
	order.ID = m.nextOrder
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	// Items arrive through InsertItem, mirroring the SQL repository.
	stored := cloneOrder(order)
	stored.Items = nil
	m.orders[order.ID] = stored
	return nil
}

func (m *memoryPurchaseRepo) InsertItem(ctx context.Context, item *Item) error {
	m.nextItem++
	item.ID = m.nextItem
	order, ok := m.orders[item.OrderID]
	if !ok {
		return ErrNotFound
	}
	order.Items = append(order.Items, *item)
	return nil
}

func (m *memoryPurchaseRepo) DeleteItems(ctx context.Context, tenantID, orderID int64) error {
	order, ok := m.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return ErrNotFound
	}
	order.Items = nil
	return nil
}

func (m *memoryPurchaseRepo) UpdateOrder(ctx context.Context, updated *PurchaseOrder) error {
	order, ok := m.orders[updated.ID]
	if !ok || order.TenantID != updated.TenantID {
		return ErrNotFound
	}
	order.SupplierID = updated.SupplierID
	order.SupplierName = updated.SupplierName
	order.Notes = updated.Notes
	order.ExpectedDelivery = updated.ExpectedDelivery
	order.TotalAmount = updated.TotalAmount
	return nil
}

func (m *memoryPurchaseRepo) UpdateStatus(ctx context.Context, tenantID, orderID int64, from, to Status) error {
	order, ok := m.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return ErrStaleStatus
	}
	if order.Status != from {
		return ErrStaleStatus
	}
	order.Status = to
	return nil
}

func (m *memoryPurchaseRepo) UpdateItemReceived(ctx context.Context, tenantID, itemID, receivedQuantity int64) error {
	for _, order := range m.orders {
		if order.TenantID != tenantID {
			continue
		}
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				order.Items[i].ReceivedQuantity = receivedQuantity
				return nil
			}
		}
	}
	return ErrItemNotFound
}

func (m *memoryPurchaseRepo) PostMovement(ctx context.Context, actor shared.Actor, input ledger.MovementInput) (*ledger.Movement, error) {
	m.postCalls++
	if m.failPostAt != 0 && m.postCalls == m.failPostAt {
		return nil, errors.New("stock write failed")
	}
	m.movements = append(m.movements, input)
	return &ledger.Movement{
		TenantID:  actor.TenantID,
		VariantID: input.VariantID,
		Type:      input.Type,
		Quantity:  input.Quantity,
		Reference: input.Reference,
	}, nil
}

type capturedOrderEvents struct {
	events []OrderUpdatedEvent
	stock  []ledger.StockUpdatedEvent
}

func (c *capturedOrderEvents) PublishOrderUpdated(ctx context.Context, tenantID int64, event OrderUpdatedEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturedOrderEvents) PublishStockUpdated(ctx context.Context, tenantID int64, event ledger.StockUpdatedEvent) error {
	c.stock = append(c.stock, event)
	return nil
}

type stubInvalidator struct {
	bumps int
}

func (s *stubInvalidator) Bump(ctx context.Context, tenantID int64) error {
	s.bumps++
	return nil
}

func newPurchaseFixture() (*Service, *memoryPurchaseRepo, *capturedOrderEvents) {
	repo := newMemoryPurchaseRepo()
	events := &capturedOrderEvents{}
	return NewService(repo, nil, events, nil), repo, events
}

func draftOrder(t *testing.T, svc *Service, items ...ItemInput) *PurchaseOrder {
	t.Helper()
	if len(items) == 0 {
		items = []ItemInput{{VariantID: 10, Quantity: 10, UnitPrice: 2.5}}
	}
	order, err := svc.Create(context.Background(), poOwner, CreateInput{SupplierID: 1, Items: items})
	require.NoError(t, err)
	return order
}

func confirmOrder(t *testing.T, svc *Service, orderID int64) {
	t.Helper()
	_, err := svc.UpdateStatus(context.Background(), poOwner, orderID, StatusSent)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), poOwner, orderID, StatusConfirmed)
	require.NoError(t, err)
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	svc, repo, _ := newPurchaseFixture()

	first := draftOrder(t, svc)
	second := draftOrder(t, svc)
	require.Equal(t, "PO-000001", first.OrderNumber)
	require.Equal(t, "PO-000002", second.OrderNumber)
	require.Equal(t, StatusDraft, first.Status)
	require.Equal(t, "Acme Parts", first.SupplierName)
	require.InDelta(t, 25.0, first.TotalAmount, 0.001)

	// Each tenant counts from one.
	other, err := svc.Create(context.Background(), poOther, CreateInput{
		SupplierID: 2,
		Items:      []ItemInput{{VariantID: 20, Quantity: 1, UnitPrice: 9}},
	})
	require.NoError(t, err)
	require.Equal(t, "PO-000001", other.OrderNumber)
	require.Len(t, repo.orders, 3)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, poOwner, CreateInput{SupplierID: 1})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, poOwner, CreateInput{SupplierID: 99, Items: []ItemInput{{VariantID: 10, Quantity: 1}}})
	require.ErrorIs(t, err, ErrSupplierNotFound)

	_, err = svc.Create(ctx, poOwner, CreateInput{SupplierID: 1, Items: []ItemInput{{VariantID: 777, Quantity: 1}}})
	require.ErrorIs(t, err, ErrVariantNotFound)

	_, err = svc.Create(ctx, poOwner, CreateInput{SupplierID: 1, Items: []ItemInput{{VariantID: 10, Quantity: 0}}})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, poOwner, CreateInput{SupplierID: 1, Items: []ItemInput{
		{VariantID: 10, Quantity: 1, UnitPrice: 1},
		{VariantID: 10, Quantity: 2, UnitPrice: 1},
	}})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateStaffForbidden(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	_, err := svc.Create(context.Background(), poStaff, CreateInput{
		SupplierID: 1,
		Items:      []ItemInput{{VariantID: 10, Quantity: 1}},
	})
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestStatusFlow(t *testing.T) {
	svc, _, events := newPurchaseFixture()
	order := draftOrder(t, svc)

	sent, err := svc.UpdateStatus(context.Background(), poManager, order.ID, StatusSent)
	require.NoError(t, err)
	require.Equal(t, StatusSent, sent.Status)

	confirmed, err := svc.UpdateStatus(context.Background(), poManager, order.ID, StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)

	require.Len(t, events.events, 3)
	require.Equal(t, string(StatusConfirmed), events.events[2].Status)
}

func TestStatusInvalidTransition(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	order := draftOrder(t, svc)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, poOwner, order.ID, StatusConfirmed)
	require.ErrorIs(t, err, httpx.ErrConflict)

	// Receipt states never come from a direct status change.
	_, err = svc.UpdateStatus(ctx, poOwner, order.ID, StatusReceived)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.UpdateStatus(ctx, poOwner, order.ID, StatusCancelled)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, poOwner, order.ID, StatusSent)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCancelAfterPartialReceive(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	order := draftOrder(t, svc)
	confirmOrder(t, svc, order.ID)
	ctx := context.Background()

	partial, err := svc.Receive(ctx, poOwner, order.ID, []ReceiveLine{{ItemID: order.Items[0].ID, Quantity: 4}})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, partial.Status)

	cancelled, err := svc.UpdateStatus(ctx, poOwner, order.ID, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// Fully received orders stay closed.
	other := draftOrder(t, svc)
	confirmOrder(t, svc, other.ID)
	_, err = svc.Receive(ctx, poOwner, other.ID, []ReceiveLine{{ItemID: other.Items[0].ID, Quantity: 10}})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, poOwner, other.ID, StatusCancelled)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestStatusChangeLosesToConcurrentTransition(t *testing.T) {
	svc, repo, _ := newPurchaseFixture()
	order := draftOrder(t, svc)
	ctx := context.Background()

	// Another request cancels between our read and our write.
	repo.afterGet = func() {
		repo.orders[order.ID].Status = StatusCancelled
	}
	_, err := svc.UpdateStatus(ctx, poOwner, order.ID, StatusSent)
	require.ErrorIs(t, err, ErrStaleStatus)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, StatusCancelled, repo.orders[order.ID].Status)
}

func TestReceiveLosesToConcurrentTransition(t *testing.T) {
	svc, repo, _ := newPurchaseFixture()
	order := draftOrder(t, svc)
	confirmOrder(t, svc, order.ID)

	repo.afterGet = func() {
		repo.orders[order.ID].Status = StatusCancelled
	}
	_, err := svc.Receive(context.Background(), poOwner, order.ID, []ReceiveLine{{ItemID: order.Items[0].ID, Quantity: 2}})
	require.ErrorIs(t, err, ErrStaleStatus)
	require.Empty(t, repo.movements)
	require.Equal(t, int64(0), repo.orders[order.ID].Items[0].ReceivedQuantity)
}

func TestMutationsBumpDashboardCache(t *testing.T) {
	repo := newMemoryPurchaseRepo()
	inv := &stubInvalidator{}
	svc := NewService(repo, nil, nil, inv)
	ctx := context.Background()

	order := draftOrder(t, svc)
	require.Equal(t, 1, inv.bumps)

	_, err := svc.UpdateStatus(ctx, poOwner, order.ID, StatusSent)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, poOwner, order.ID, StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, 3, inv.bumps)

	_, err = svc.Receive(ctx, poOwner, order.ID, []ReceiveLine{{ItemID: order.Items[0].ID, Quantity: 10}})
	require.NoError(t, err)
	require.Equal(t, 4, inv.bumps)
}

func TestReceivePartialThenFull(t *testing.T) {
	svc, repo, events := newPurchaseFixture()
	order := draftOrder(t, svc)
	confirmOrder(t, svc, order.ID)
	ctx := context.Background()

	partial, err := svc.Receive(ctx, poManager, order.ID, []ReceiveLine{{ItemID: order.Items[0].ID, Quantity: 4}})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, partial.Status)
	require.Equal(t, int64(4), partial.Items[0].ReceivedQuantity)

	require.Len(t, repo.movements, 1)
	require.Equal(t, ledger.TypePurchase, repo.movements[0].Type)
	require.Equal(t, int64(4), repo.movements[0].Quantity)
	require.Equal(t, order.OrderNumber, repo.movements[0].Reference)

	full, err := svc.Receive(ctx, poManager, order.ID, []ReceiveLine{{ItemID: order.Items[0].ID, Quantity: 6}})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, full.Status)
	require.Len(t, repo.movements, 2)
	require.Len(t, events.stock, 2)
	require.Equal(t, "Widget", events.stock[0].ProductName)
}

func TestReceiveOverReceiptRejectsBatch(t *testing.T) {
	svc, repo, _ := newPurchaseFixture()
	order := draftOrder(t, svc,
		ItemInput{VariantID: 10, Quantity: 5, UnitPrice: 1},
		ItemInput{VariantID: 11, Quantity: 5, UnitPrice: 1},
	)
	confirmOrder(t, svc, order.ID)

	_, err := svc.Receive(context.Background(), poOwner, order.ID, []ReceiveLine{
		{ItemID: order.Items[0].ID, Quantity: 5},
		{ItemID: order.Items[1].ID, Quantity: 6},
	})
	require.ErrorIs(t, err, httpx.ErrOverReceipt)
	require.Empty(t, repo.movements)

	stored, err := repo.Get(context.Background(), 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, stored.Status)
	require.Equal(t, int64(0), stored.Items[0].ReceivedQuantity)
}

func TestReceiveAccumulatesDuplicateLines(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	order := draftOrder(t, svc, ItemInput{VariantID: 10, Quantity: 5, UnitPrice: 1})
	confirmOrder(t, svc, order.ID)

	// Two lines for one item count against the same outstanding total.
	_, err := svc.Receive(context.Background(), poOwner, order.ID, []ReceiveLine{
		{ItemID: order.Items[0].ID, Quantity: 3},
		{ItemID: order.Items[0].ID, Quantity: 3},
	})
	require.ErrorIs(t, err, httpx.ErrOverReceipt)
}

func TestReceiveRequiresConfirmedOrder(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	order := draftOrder(t, svc)

	_, err := svc.Receive(context.Background(), poOwner, order.ID, []ReceiveLine{{ItemID: order.Items[0].ID, Quantity: 1}})
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestReceiveUnknownItem(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	order := draftOrder(t, svc)
	confirmOrder(t, svc, order.ID)

	_, err := svc.Receive(context.Background(), poOwner, order.ID, []ReceiveLine{{ItemID: 999, Quantity: 1}})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestReceiveLedgerFailureRollsBack(t *testing.T) {
	svc, repo, _ := newPurchaseFixture()
	order := draftOrder(t, svc)
	confirmOrder(t, svc, order.ID)
	repo.failPostAt = 1

	_, err := svc.Receive(context.Background(), poOwner, order.ID, []ReceiveLine{{ItemID: order.Items[0].ID, Quantity: 2}})
	require.Error(t, err)

	stored, err := repo.Get(context.Background(), 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, stored.Status)
	require.Equal(t, int64(0), stored.Items[0].ReceivedQuantity)
}

func TestReceiveMultiLineFailureLeavesNoPartialWrite(t *testing.T) {
	svc, repo, events := newPurchaseFixture()
	order := draftOrder(t, svc,
		ItemInput{VariantID: 10, Quantity: 5, UnitPrice: 1},
		ItemInput{VariantID: 11, Quantity: 5, UnitPrice: 1},
	)
	confirmOrder(t, svc, order.ID)
	repo.failPostAt = 2

	lines := []ReceiveLine{
		{ItemID: order.Items[0].ID, Quantity: 5},
		{ItemID: order.Items[1].ID, Quantity: 5},
	}
	_, err := svc.Receive(context.Background(), poOwner, order.ID, lines)
	require.Error(t, err)

	// The line that posted before the failure must not survive.
	require.Empty(t, repo.movements)
	require.Empty(t, events.stock)
	stored, err := repo.Get(context.Background(), 1, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, stored.Status)
	require.Equal(t, int64(0), stored.Items[0].ReceivedQuantity)
	require.Equal(t, int64(0), stored.Items[1].ReceivedQuantity)

	// Nothing was half applied, so the same request goes through.
	received, err := svc.Receive(context.Background(), poOwner, order.ID, lines)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.Len(t, repo.movements, 2)
}

func TestUpdateDraftOnly(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	order := draftOrder(t, svc)
	ctx := context.Background()

	updated, err := svc.UpdateDraft(ctx, poOwner, order.ID, UpdateInput{
		SupplierID: 1,
		Notes:      "rush order",
		Items:      []ItemInput{{VariantID: 11, Quantity: 3, UnitPrice: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, "rush order", updated.Notes)
	require.Len(t, updated.Items, 1)
	require.Equal(t, int64(11), updated.Items[0].VariantID)
	require.InDelta(t, 12.0, updated.TotalAmount, 0.001)

	_, err = svc.UpdateStatus(ctx, poOwner, order.ID, StatusSent)
	require.NoError(t, err)
	_, err = svc.UpdateDraft(ctx, poOwner, order.ID, UpdateInput{
		SupplierID: 1,
		Items:      []ItemInput{{VariantID: 10, Quantity: 1}},
	})
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestDeleteRules(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	ctx := context.Background()

	order := draftOrder(t, svc)
	require.ErrorIs(t, svc.Delete(ctx, poManager, order.ID), httpx.ErrForbidden)

	_, err := svc.UpdateStatus(ctx, poOwner, order.ID, StatusSent)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx, poOwner, order.ID), httpx.ErrConflict)

	_, err = svc.UpdateStatus(ctx, poOwner, order.ID, StatusCancelled)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx, poOwner, order.ID), httpx.ErrConflict)

	draft := draftOrder(t, svc)
	require.NoError(t, svc.Delete(ctx, poOwner, draft.ID))

	_, err = svc.Get(ctx, poOwner, draft.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestOrdersAreTenantScoped(t *testing.T) {
	svc, _, _ := newPurchaseFixture()
	order := draftOrder(t, svc)

	_, err := svc.Get(context.Background(), poOther, order.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	orders, _, err := svc.List(context.Background(), poOther, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}
