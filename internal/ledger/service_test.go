package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// memoryLedgerRepo serialises transactions with a mutex the way the row
// lock does in PostgreSQL.
type memoryLedgerRepo struct {
	mu        sync.Mutex
	variants  map[int64]*VariantRef
	tenant    map[int64]int64 // variantID -> tenantID
	movements []Movement
	nextID    int64
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		variants: make(map[int64]*VariantRef),
		tenant:   make(map[int64]int64),
	}
}

func (m *memoryLedgerRepo) addVariant(tenantID int64, ref VariantRef) {
	m.variants[ref.ID] = &ref
	m.tenant[ref.ID] = tenantID
}

type memoryLedgerTx struct {
	repo    *memoryLedgerRepo
	pending []Movement
	stocks  map[int64]int64
}

func (m *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryLedgerTx{repo: m, stocks: make(map[int64]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// commit
	for id, stock := range tx.stocks {
		m.variants[id].Stock = stock
	}
	m.movements = append(m.movements, tx.pending...)
	return nil
}

func (m *memoryLedgerRepo) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, int, error) {
	var out []Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if mv.TenantID != tenantID {
			continue
		}
		if filter.VariantID != 0 && mv.VariantID != filter.VariantID {
			continue
		}
		if filter.Type != "" && mv.Type != filter.Type {
			continue
		}
		out = append(out, mv)
	}
	return out, len(out), nil
}

func (t *memoryLedgerTx) GetVariantForUpdate(ctx context.Context, tenantID, variantID int64) (*VariantRef, error) {
	ref, ok := t.repo.variants[variantID]
	if !ok || t.repo.tenant[variantID] != tenantID {
		return nil, ErrVariantNotFound
	}
	clone := *ref
	return &clone, nil
}

func (t *memoryLedgerTx) UpdateVariantStock(ctx context.Context, tenantID, variantID, newStock int64) error {
	if _, ok := t.repo.variants[variantID]; !ok || t.repo.tenant[variantID] != tenantID {
		return ErrVariantNotFound
	}
	t.stocks[variantID] = newStock
	return nil
}

func (t *memoryLedgerTx) InsertMovement(ctx context.Context, movement *Movement) error {
	t.repo.nextID++
	movement.ID = t.repo.nextID
	t.pending = append(t.pending, *movement)
	return nil
}

type capturedEvents struct {
	mu       sync.Mutex
	stock    []StockUpdatedEvent
	lowStock []LowStockEvent
}

func (c *capturedEvents) PublishStockUpdated(ctx context.Context, tenantID int64, event StockUpdatedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock = append(c.stock, event)
	return nil
}

func (c *capturedEvents) PublishLowStock(ctx context.Context, tenantID int64, event LowStockEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lowStock = append(c.lowStock, event)
	return nil
}

var (
	ledgerOwner = shared.Actor{UserID: 1, TenantID: 1, Role: shared.RoleOwner}
	ledgerStaff = shared.Actor{UserID: 3, TenantID: 1, Role: shared.RoleStaff}
)

func newLedgerFixture() (*Service, *memoryLedgerRepo, *capturedEvents) {
	repo := newMemoryLedgerRepo()
	repo.addVariant(1, VariantRef{ID: 10, ProductID: 100, ProductName: "T-Shirt", SKU: "TS-RED-M", Stock: 50, LowStockThreshold: 10})
	events := &capturedEvents{}
	svc := NewService(repo, nil, nil, events, nil, nil, nil)
	return svc, repo, events
}

func TestRecordSaleMovesStockAndAppendsEntry(t *testing.T) {
	svc, repo, _ := newLedgerFixture()

	movement, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Quantity: 5,
	})
	require.NoError(t, err)
	require.EqualValues(t, 50, movement.PreviousStock)
	require.EqualValues(t, 45, movement.NewStock)
	require.EqualValues(t, 45, repo.variants[10].Stock)
	require.Len(t, repo.movements, 1)
	require.Equal(t, "TS-RED-M", repo.movements[0].VariantSKU)
}

func TestRecordSaleRejectsInsufficientStock(t *testing.T) {
	svc, repo, events := newLedgerFixture()

	_, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Quantity: 51,
	})
	require.ErrorIs(t, err, httpx.ErrInsufficientStock)
	require.EqualValues(t, 50, repo.variants[10].Stock)
	require.Empty(t, repo.movements)
	require.Empty(t, events.stock)
}

func TestSaleOfExactStockReachesZero(t *testing.T) {
	svc, repo, _ := newLedgerFixture()

	movement, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Quantity: 50,
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, movement.NewStock)
	require.EqualValues(t, 0, repo.variants[10].Stock)
}

func TestPurchaseAndReturnIncreaseStock(t *testing.T) {
	svc, repo, _ := newLedgerFixture()

	_, err := svc.RecordMovement(context.Background(), ledgerOwner, MovementInput{
		VariantID: 10, Type: TypePurchase, Quantity: 20, Reference: "PO-000001",
	})
	require.NoError(t, err)
	require.EqualValues(t, 70, repo.variants[10].Stock)

	_, err = svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeReturn, Quantity: 2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 72, repo.variants[10].Stock)
}

func TestAdjustmentRequiresDirection(t *testing.T) {
	svc, _, _ := newLedgerFixture()

	_, err := svc.RecordMovement(context.Background(), ledgerOwner, MovementInput{
		VariantID: 10, Type: TypeAdjustment, Quantity: 5,
	})
	require.ErrorIs(t, err, ErrDirectionRequired)

	movement, err := svc.RecordMovement(context.Background(), ledgerOwner, MovementInput{
		VariantID: 10, Type: TypeAdjustment, Direction: DirectionDecrease, Quantity: 5,
	})
	require.NoError(t, err)
	require.EqualValues(t, 45, movement.NewStock)
}

func TestImpliedDirectionMismatchRejected(t *testing.T) {
	svc, repo, _ := newLedgerFixture()
	ctx := context.Background()

	// Sales always decrease; a client asking for the opposite is a bug
	// on their side, not something to silently correct.
	_, err := svc.RecordMovement(ctx, ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Direction: DirectionIncrease, Quantity: 5,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.RecordMovement(ctx, ledgerOwner, MovementInput{
		VariantID: 10, Type: TypePurchase, Direction: DirectionDecrease, Quantity: 5,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.RecordMovement(ctx, ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeReturn, Direction: DirectionDecrease, Quantity: 5,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.EqualValues(t, 50, repo.variants[10].Stock)
	require.Empty(t, repo.movements)

	// A matching explicit direction is redundant but fine.
	movement, err := svc.RecordMovement(ctx, ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Direction: DirectionDecrease, Quantity: 5,
	})
	require.NoError(t, err)
	require.EqualValues(t, 45, movement.NewStock)
}

func TestUnknownMovementTypeRejected(t *testing.T) {
	svc, _, _ := newLedgerFixture()

	_, err := svc.RecordMovement(context.Background(), ledgerOwner, MovementInput{
		VariantID: 10, Type: "transfer", Quantity: 5,
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestStaffCannotRecordAdjustments(t *testing.T) {
	svc, _, _ := newLedgerFixture()

	_, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeAdjustment, Direction: DirectionIncrease, Quantity: 5,
	})
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestMovementScopedToTenant(t *testing.T) {
	svc, _, _ := newLedgerFixture()

	intruder := shared.Actor{UserID: 9, TenantID: 2, Role: shared.RoleOwner}
	_, err := svc.RecordMovement(context.Background(), intruder, MovementInput{
		VariantID: 10, Type: TypeSale, Quantity: 1,
	})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

type countingInvalidator struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingInvalidator) Bump(ctx context.Context, tenantID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

func TestMovementInvalidatesDashboardCache(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addVariant(1, VariantRef{ID: 10, ProductID: 100, ProductName: "T-Shirt", SKU: "TS-RED-M", Stock: 50, LowStockThreshold: 10})
	inv := &countingInvalidator{}
	svc := NewService(repo, nil, nil, nil, nil, inv, nil)

	_, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Quantity: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 1, inv.bumps)

	// A rejected movement leaves the cached aggregates valid.
	_, err = svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Quantity: 100,
	})
	require.ErrorIs(t, err, httpx.ErrInsufficientStock)
	require.Equal(t, 1, inv.bumps)
}

func TestConcurrentSalesDoNotLoseUpdates(t *testing.T) {
	svc, repo, _ := newLedgerFixture()

	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
				VariantID: 10, Type: TypeSale, Quantity: 3,
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}
	require.EqualValues(t, 50-workers*3, repo.variants[10].Stock)
	require.Len(t, repo.movements, workers)

	// previous/new stock figures must chain without gaps
	seen := make(map[int64]bool)
	for _, m := range repo.movements {
		require.Equal(t, m.PreviousStock-3, m.NewStock)
		require.False(t, seen[m.NewStock])
		seen[m.NewStock] = true
	}
}

func TestLowStockEventEmittedOnThresholdCross(t *testing.T) {
	svc, _, events := newLedgerFixture()

	_, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{
		VariantID: 10, Type: TypeSale, Quantity: 45,
	})
	require.NoError(t, err)

	require.Len(t, events.stock, 1)
	require.EqualValues(t, 5, events.stock[0].NewStock)
	require.Len(t, events.lowStock, 1)
	require.EqualValues(t, 5, events.lowStock[0].Stock)
	require.EqualValues(t, 10, events.lowStock[0].Threshold)
}

func TestNoLowStockEventWhenStockRises(t *testing.T) {
	svc, repo, events := newLedgerFixture()
	repo.variants[10].Stock = 2

	_, err := svc.RecordMovement(context.Background(), ledgerOwner, MovementInput{
		VariantID: 10, Type: TypePurchase, Quantity: 3,
	})
	require.NoError(t, err)
	require.Len(t, events.stock, 1)
	require.Empty(t, events.lowStock)
}

func TestListMovementsFiltersByTypeAndVariant(t *testing.T) {
	svc, _, _ := newLedgerFixture()

	_, err := svc.RecordMovement(context.Background(), ledgerStaff, MovementInput{VariantID: 10, Type: TypeSale, Quantity: 1})
	require.NoError(t, err)
	_, err = svc.RecordMovement(context.Background(), ledgerOwner, MovementInput{VariantID: 10, Type: TypePurchase, Quantity: 4})
	require.NoError(t, err)

	movements, pagination, err := svc.ListMovements(context.Background(), ledgerOwner, MovementFilter{Type: TypeSale})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, TypeSale, movements[0].Type)
	require.Equal(t, 1, pagination.Total)
}
