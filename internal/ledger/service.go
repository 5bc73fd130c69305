package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// VariantRef is the locked variant row a movement is applied against.
type VariantRef struct {
	ID                int64
	ProductID         int64
	ProductName       string
	SKU               string
	Stock             int64
	LowStockThreshold int64
}

// TxRepository exposes the operations available inside a movement
// transaction.
type TxRepository interface {
	GetVariantForUpdate(ctx context.Context, tenantID, variantID int64) (*VariantRef, error)
	UpdateVariantStock(ctx context.Context, tenantID, variantID, newStock int64) error
	InsertMovement(ctx context.Context, movement *Movement) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, int, error)
}

// EventPublisher pushes stock events to the tenant's live channel.
// Publishing is best effort and must never fail a movement.
type EventPublisher interface {
	PublishStockUpdated(ctx context.Context, tenantID int64, event StockUpdatedEvent) error
	PublishLowStock(ctx context.Context, tenantID int64, event LowStockEvent) error
}

// MetricsPort counts recorded movements.
type MetricsPort interface {
	ObserveMovement(movementType string)
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	VariantID int64
	ProductID int64
	Type      MovementType
	Page      int
	PerPage   int
}

// Service coordinates ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       *shared.AuditLogger
	idempotency *shared.IdempotencyStore
	publisher   EventPublisher
	metrics     MetricsPort
	cache       shared.CacheInvalidator
	logger      *slog.Logger
}

// NewService builds the Service.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, idem *shared.IdempotencyStore, publisher EventPublisher, metrics MetricsPort, cache shared.CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, publisher: publisher, metrics: metrics, cache: cache, logger: logger}
}

// MovementInput carries a movement request.
type MovementInput struct {
	VariantID      int64
	Type           MovementType
	Direction      Direction
	Quantity       int64
	Reference      string
	Note           string
	IdempotencyKey string
}

// RecordMovement appends a ledger entry and moves the variant's stock
// figure in the same transaction. The variant row is locked for the
// duration so concurrent movements serialise instead of losing updates.
func (s *Service) RecordMovement(ctx context.Context, actor shared.Actor, input MovementInput) (*Movement, error) {
	if err := validateMovement(input); err != nil {
		return nil, err
	}
	if err := s.checkRole(actor, input.Type); err != nil {
		return nil, err
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, actor.TenantID, input.IdempotencyKey, "ledger"); err != nil {
			if err == shared.ErrIdempotencyConflict {
				return nil, fmt.Errorf("movement already recorded: %w", httpx.ErrConflict)
			}
			return nil, err
		}
		insertedKey = true
	}

	var movement *Movement
	var variant *VariantRef
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, variant, err = ApplyMovement(ctx, tx, actor, input)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, actor.TenantID, input.IdempotencyKey)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveMovement(string(movement.Type))
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, movement)
	s.publish(ctx, actor.TenantID, movement, variant)
	return movement, nil
}

// ApplyMovement locks the variant row, appends the ledger entry and
// moves the stock figure, all on the caller's transaction. Other
// modules post their movements through this so a multi-line write
// stays atomic with its own rows.
func ApplyMovement(ctx context.Context, tx TxRepository, actor shared.Actor, input MovementInput) (*Movement, *VariantRef, error) {
	if err := validateMovement(input); err != nil {
		return nil, nil, err
	}
	delta, err := movementDelta(input)
	if err != nil {
		return nil, nil, err
	}
	variant, err := tx.GetVariantForUpdate(ctx, actor.TenantID, input.VariantID)
	if err != nil {
		return nil, nil, err
	}
	newStock := variant.Stock + delta
	if newStock < 0 {
		return nil, nil, ErrInsufficientStock
	}
	movement := &Movement{
		TenantID:      actor.TenantID,
		ProductID:     variant.ProductID,
		VariantID:     variant.ID,
		VariantSKU:    variant.SKU,
		Type:          input.Type,
		Quantity:      input.Quantity,
		PreviousStock: variant.Stock,
		NewStock:      newStock,
		Reference:     input.Reference,
		Note:          input.Note,
		PerformedBy:   actor.UserID,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return nil, nil, err
	}
	if err := tx.UpdateVariantStock(ctx, actor.TenantID, variant.ID, newStock); err != nil {
		return nil, nil, err
	}
	return movement, variant, nil
}

func validateMovement(input MovementInput) error {
	if !input.Type.Valid() {
		return ErrUnknownType
	}
	if input.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive: %w", httpx.ErrValidation)
	}
	if input.VariantID == 0 {
		return fmt.Errorf("variant is required: %w", httpx.ErrValidation)
	}
	_, err := movementDelta(input)
	return err
}

// ListMovements returns a page of ledger entries, newest first.
func (s *Service) ListMovements(ctx context.Context, actor shared.Actor, filter MovementFilter) ([]Movement, shared.Pagination, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Pagination{}, ErrUnknownType
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	movements, total, err := s.repo.ListMovements(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// movementDelta resolves the signed stock change. Purchases, sales and
// returns carry an implied direction; a contradictory client value is
// rejected rather than ignored.
func movementDelta(input MovementInput) (int64, error) {
	switch input.Type {
	case TypePurchase, TypeReturn:
		if input.Direction != "" && input.Direction != DirectionIncrease {
			return 0, fmt.Errorf("%s movements always increase stock: %w", input.Type, httpx.ErrValidation)
		}
		return input.Quantity, nil
	case TypeSale:
		if input.Direction != "" && input.Direction != DirectionDecrease {
			return 0, fmt.Errorf("sale movements always decrease stock: %w", httpx.ErrValidation)
		}
		return -input.Quantity, nil
	case TypeAdjustment:
		switch input.Direction {
		case DirectionIncrease:
			return input.Quantity, nil
		case DirectionDecrease:
			return -input.Quantity, nil
		default:
			return 0, ErrDirectionRequired
		}
	}
	return 0, ErrUnknownType
}

// checkRole gates who may record which movement type. Staff handle the
// counter so sales and customer returns are theirs; adjustments and
// purchases need a manager or the owner.
func (s *Service) checkRole(actor shared.Actor, movementType MovementType) error {
	switch movementType {
	case TypeSale, TypeReturn:
		if actor.Role.Valid() {
			return nil
		}
	case TypePurchase, TypeAdjustment:
		if actor.Role.OneOf(shared.RoleOwner, shared.RoleManager) {
			return nil
		}
	}
	return fmt.Errorf("role %q cannot record %s movements: %w", actor.Role, movementType, httpx.ErrForbidden)
}

func (s *Service) bumpCache(ctx context.Context, tenantID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		s.logger.Warn("bump dashboard cache", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, movement *Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   "movement." + string(movement.Type),
		Entity:   "movement",
		EntityID: fmt.Sprint(movement.ID),
		Meta: map[string]any{
			"variantSku":    movement.VariantSKU,
			"quantity":      movement.Quantity,
			"previousStock": movement.PreviousStock,
			"newStock":      movement.NewStock,
		},
	})
}

func (s *Service) publish(ctx context.Context, tenantID int64, movement *Movement, variant *VariantRef) {
	if s.publisher == nil {
		return
	}
	event := StockUpdatedEvent{
		VariantID:     movement.VariantID,
		VariantSKU:    movement.VariantSKU,
		ProductName:   variant.ProductName,
		Type:          string(movement.Type),
		PreviousStock: movement.PreviousStock,
		NewStock:      movement.NewStock,
	}
	if err := s.publisher.PublishStockUpdated(ctx, tenantID, event); err != nil {
		s.logger.Warn("publish stock update", slog.Any("error", err))
	}
	if movement.NewStock <= variant.LowStockThreshold && movement.NewStock < movement.PreviousStock {
		low := LowStockEvent{
			VariantID:   movement.VariantID,
			VariantSKU:  movement.VariantSKU,
			ProductName: variant.ProductName,
			Stock:       movement.NewStock,
			Threshold:   variant.LowStockThreshold,
		}
		if err := s.publisher.PublishLowStock(ctx, tenantID, low); err != nil {
			s.logger.Warn("publish low stock", slog.Any("error", err))
		}
	}
}
