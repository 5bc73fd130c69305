package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// ListFilters narrows product listings.
type ListFilters struct {
	Search   string
	Category string
	Page     int
	PerPage  int
}

// Repository defines persistence operations for the catalog.
type Repository interface {
	List(ctx context.Context, tenantID int64, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, tenantID, productID int64) (*Product, error)
	CreateProduct(ctx context.Context, product *Product) (*Product, error)
	UpdateProduct(ctx context.Context, product *Product) error
	DeleteProduct(ctx context.Context, tenantID, productID int64) error
	InsertVariant(ctx context.Context, tenantID int64, variant *Variant) (*Variant, error)
	UpdateVariant(ctx context.Context, tenantID int64, variant *Variant) error
	DeleteVariant(ctx context.Context, tenantID, productID, variantID int64) error
	Categories(ctx context.Context, tenantID int64) ([]string, error)
	VariantMovementCount(ctx context.Context, tenantID, productID int64, variantID *int64) (int, error)
	OpenOrderCount(ctx context.Context, tenantID, productID int64) (int, error)
}

// Service wraps catalog business rules.
type Service struct {
	repo  Repository
	audit *shared.AuditLogger
	cache shared.CacheInvalidator
}

// NewService constructs a new Service.
func NewService(repo Repository, audit *shared.AuditLogger, cache shared.CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

// VariantInput carries variant fields for creation.
type VariantInput struct {
	SKU               string
	Attributes        map[string]string
	Price             float64
	CostPrice         float64
	InitialStock      int64
	LowStockThreshold int64
}

// CreateProductInput carries the product creation form.
type CreateProductInput struct {
	Name        string
	Description string
	Category    string
	Variants    []VariantInput
}

// ListProducts returns a page of products with their variants.
func (s *Service) ListProducts(ctx context.Context, actor shared.Actor, filters ListFilters) ([]Product, shared.Pagination, error) {
	if filters.PerPage <= 0 {
		filters.PerPage = 20
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	products, total, err := s.repo.List(ctx, actor.TenantID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return products, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// GetProduct fetches a single product with variants.
func (s *Service) GetProduct(ctx context.Context, actor shared.Actor, productID int64) (*Product, error) {
	return s.repo.Get(ctx, actor.TenantID, productID)
}

// Categories returns the distinct categories used by the tenant.
func (s *Service) Categories(ctx context.Context, actor shared.Actor) ([]string, error) {
	return s.repo.Categories(ctx, actor.TenantID)
}

// CreateProduct creates a product together with its initial variants.
// Initial stock is only accepted here; later stock changes go through
// the inventory ledger.
func (s *Service) CreateProduct(ctx context.Context, actor shared.Actor, input CreateProductInput) (*Product, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("product name is required: %w", httpx.ErrValidation)
	}
	if len(input.Variants) == 0 {
		return nil, fmt.Errorf("at least one variant is required: %w", httpx.ErrValidation)
	}
	seen := make(map[string]struct{}, len(input.Variants))
	variants := make([]Variant, 0, len(input.Variants))
	for _, v := range input.Variants {
		variant, err := buildVariant(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[variant.SKU]; dup {
			return nil, fmt.Errorf("duplicate sku %q in request: %w", variant.SKU, httpx.ErrValidation)
		}
		seen[variant.SKU] = struct{}{}
		variants = append(variants, *variant)
	}
	product := &Product{
		TenantID:    actor.TenantID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Category:    strings.TrimSpace(input.Category),
		Variants:    variants,
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "product.create", fmt.Sprint(created.ID), map[string]any{"name": created.Name, "variants": len(created.Variants)})
	return created, nil
}

// UpdateProductInput carries editable product fields.
type UpdateProductInput struct {
	Name        string
	Description string
	Category    string
}

// UpdateProduct edits product attributes. Variants are edited separately.
func (s *Service) UpdateProduct(ctx context.Context, actor shared.Actor, productID int64, input UpdateProductInput) (*Product, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("product name is required: %w", httpx.ErrValidation)
	}
	product, err := s.repo.Get(ctx, actor.TenantID, productID)
	if err != nil {
		return nil, err
	}
	product.Name = strings.TrimSpace(input.Name)
	product.Description = input.Description
	product.Category = strings.TrimSpace(input.Category)
	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "product.update", fmt.Sprint(product.ID), nil)
	return product, nil
}

// DeleteProduct removes a product. Only the owner may delete. Products
// whose variants have movement history or appear on open purchase
// orders are kept to preserve the audit trail.
func (s *Service) DeleteProduct(ctx context.Context, actor shared.Actor, productID int64) error {
	if err := requireOwner(actor); err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, actor.TenantID, productID); err != nil {
		return err
	}
	movements, err := s.repo.VariantMovementCount(ctx, actor.TenantID, productID, nil)
	if err != nil {
		return err
	}
	if movements > 0 {
		return ErrProductInUse
	}
	open, err := s.repo.OpenOrderCount(ctx, actor.TenantID, productID)
	if err != nil {
		return err
	}
	if open > 0 {
		return ErrProductInUse
	}
	if err := s.repo.DeleteProduct(ctx, actor.TenantID, productID); err != nil {
		return err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "product.delete", fmt.Sprint(productID), nil)
	return nil
}

// AddVariant attaches a new variant to an existing product.
func (s *Service) AddVariant(ctx context.Context, actor shared.Actor, productID int64, input VariantInput) (*Variant, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, actor.TenantID, productID); err != nil {
		return nil, err
	}
	variant, err := buildVariant(input)
	if err != nil {
		return nil, err
	}
	variant.ProductID = productID
	created, err := s.repo.InsertVariant(ctx, actor.TenantID, variant)
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "variant.create", fmt.Sprint(created.ID), map[string]any{"sku": created.SKU})
	return created, nil
}

// UpdateVariantInput carries editable variant fields. Stock is absent on
// purpose: it only changes through recorded movements.
type UpdateVariantInput struct {
	Attributes        map[string]string
	Price             float64
	CostPrice         float64
	LowStockThreshold int64
}

// UpdateVariant edits variant pricing and attributes.
func (s *Service) UpdateVariant(ctx context.Context, actor shared.Actor, productID, variantID int64, input UpdateVariantInput) (*Variant, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if input.Price < 0 || input.CostPrice < 0 {
		return nil, fmt.Errorf("price must not be negative: %w", httpx.ErrValidation)
	}
	if input.LowStockThreshold < 0 {
		return nil, fmt.Errorf("low stock threshold must not be negative: %w", httpx.ErrValidation)
	}
	product, err := s.repo.Get(ctx, actor.TenantID, productID)
	if err != nil {
		return nil, err
	}
	variant := findVariant(product, variantID)
	if variant == nil {
		return nil, ErrVariantNotFound
	}
	variant.Attributes = input.Attributes
	variant.Price = input.Price
	variant.CostPrice = input.CostPrice
	variant.LowStockThreshold = input.LowStockThreshold
	if err := s.repo.UpdateVariant(ctx, actor.TenantID, variant); err != nil {
		return nil, err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "variant.update", fmt.Sprint(variant.ID), nil)
	return variant, nil
}

// DeleteVariant removes a variant without movement history. Only the
// owner may delete.
func (s *Service) DeleteVariant(ctx context.Context, actor shared.Actor, productID, variantID int64) error {
	if err := requireOwner(actor); err != nil {
		return err
	}
	product, err := s.repo.Get(ctx, actor.TenantID, productID)
	if err != nil {
		return err
	}
	if findVariant(product, variantID) == nil {
		return ErrVariantNotFound
	}
	if len(product.Variants) == 1 {
		return fmt.Errorf("product must keep at least one variant: %w", httpx.ErrValidation)
	}
	movements, err := s.repo.VariantMovementCount(ctx, actor.TenantID, productID, &variantID)
	if err != nil {
		return err
	}
	if movements > 0 {
		return ErrVariantInUse
	}
	if err := s.repo.DeleteVariant(ctx, actor.TenantID, productID, variantID); err != nil {
		return err
	}
	s.bumpCache(ctx, actor.TenantID)
	s.recordAudit(ctx, actor, "variant.delete", fmt.Sprint(variantID), nil)
	return nil
}

func buildVariant(input VariantInput) (*Variant, error) {
	sku := strings.TrimSpace(input.SKU)
	if sku == "" {
		return nil, fmt.Errorf("sku is required: %w", httpx.ErrValidation)
	}
	if input.Price < 0 || input.CostPrice < 0 {
		return nil, fmt.Errorf("price must not be negative: %w", httpx.ErrValidation)
	}
	if input.InitialStock < 0 {
		return nil, fmt.Errorf("initial stock must not be negative: %w", httpx.ErrValidation)
	}
	if input.LowStockThreshold < 0 {
		return nil, fmt.Errorf("low stock threshold must not be negative: %w", httpx.ErrValidation)
	}
	return &Variant{
		SKU:               sku,
		Attributes:        input.Attributes,
		Price:             input.Price,
		CostPrice:         input.CostPrice,
		Stock:             input.InitialStock,
		LowStockThreshold: input.LowStockThreshold,
	}, nil
}

func findVariant(product *Product, variantID int64) *Variant {
	for i := range product.Variants {
		if product.Variants[i].ID == variantID {
			return &product.Variants[i]
		}
	}
	return nil
}

func requireEditor(actor shared.Actor) error {
	if !actor.Role.OneOf(shared.RoleOwner, shared.RoleManager) {
		return fmt.Errorf("catalog changes require owner or manager role: %w", httpx.ErrForbidden)
	}
	return nil
}

func requireOwner(actor shared.Actor) error {
	if actor.Role != shared.RoleOwner {
		return fmt.Errorf("only the owner can delete catalog entries: %w", httpx.ErrForbidden)
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
		Entity:   "product",
		EntityID: entityID,
		Meta:     meta,
	})
}
