package suppliers

import (
	"context"
	"fmt"
	"strings"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// ListFilters narrows supplier listings.
type ListFilters struct {
	Search  string
	Page    int
	PerPage int
}

// Repository defines persistence operations for suppliers.
type Repository interface {
	List(ctx context.Context, tenantID int64, filters ListFilters) ([]Supplier, int, error)
	Get(ctx context.Context, tenantID, supplierID int64) (*Supplier, error)
	Create(ctx context.Context, supplier *Supplier) (*Supplier, error)
	Update(ctx context.Context, supplier *Supplier) error
	Delete(ctx context.Context, tenantID, supplierID int64) error
	OrderCount(ctx context.Context, tenantID, supplierID int64) (int, error)
}

// Service wraps supplier business rules.
type Service struct {
	repo  Repository
	audit *shared.AuditLogger
	cache shared.CacheInvalidator
}

// NewService constructs a new Service.
func NewService(repo Repository, audit *shared.AuditLogger, cache shared.CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

// Input carries supplier form fields.
type Input struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// List returns a page of suppliers.
func (s *Service) List(ctx context.Context, actor shared.Actor, filters ListFilters) ([]Supplier, shared.Pagination, error) {
	if filters.PerPage <= 0 {
		filters.PerPage = 20
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	items, total, err := s.repo.List(ctx, actor.TenantID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// Get fetches a single supplier.
func (s *Service) Get(ctx context.Context, actor shared.Actor, supplierID int64) (*Supplier, error) {
	return s.repo.Get(ctx, actor.TenantID, supplierID)
}

// Create adds a supplier to the tenant.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input Input) (*Supplier, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("supplier name is required: %w", httpx.ErrValidation)
	}
	supplier := &Supplier{
		TenantID: actor.TenantID,
		Name:     strings.TrimSpace(input.Name),
		Email:    strings.TrimSpace(input.Email),
		Phone:    strings.TrimSpace(input.Phone),
		Address:  input.Address,
	}
	created, err := s.repo.Create(ctx, supplier)
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "supplier.create", fmt.Sprint(created.ID), map[string]any{"name": created.Name})
	return created, nil
}

// Update edits a supplier.
func (s *Service) Update(ctx context.Context, actor shared.Actor, supplierID int64, input Input) (*Supplier, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("supplier name is required: %w", httpx.ErrValidation)
	}
	supplier, err := s.repo.Get(ctx, actor.TenantID, supplierID)
	if err != nil {
		return nil, err
	}
	supplier.Name = strings.TrimSpace(input.Name)
	supplier.Email = strings.TrimSpace(input.Email)
	supplier.Phone = strings.TrimSpace(input.Phone)
	supplier.Address = input.Address
	if err := s.repo.Update(ctx, supplier); err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "supplier.update", fmt.Sprint(supplier.ID), nil)
	return supplier, nil
}

// Delete removes a supplier no purchase order references. Only the
// owner may delete.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, supplierID int64) error {
	if actor.Role != shared.RoleOwner {
		return fmt.Errorf("only the owner can delete suppliers: %w", httpx.ErrForbidden)
	}
	if _, err := s.repo.Get(ctx, actor.TenantID, supplierID); err != nil {
		return err
	}
	count, err := s.repo.OrderCount(ctx, actor.TenantID, supplierID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrInUse
	}
	if err := s.repo.Delete(ctx, actor.TenantID, supplierID); err != nil {
		return err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "supplier.delete", fmt.Sprint(supplierID), nil)
	return nil
}

func requireEditor(actor shared.Actor) error {
	if !actor.Role.OneOf(shared.RoleOwner, shared.RoleManager) {
		return fmt.Errorf("supplier changes require owner or manager role: %w", httpx.ErrForbidden)
	}
	return nil
}

func (s *Service) bumpCache(ctx context.Context, tenantID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Bump(ctx, tenantID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "supplier",
		EntityID: entityID,
		Meta:     meta,
	})
}
