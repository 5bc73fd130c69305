package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// Handler wires HTTP endpoints for the product catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/categories", h.handleCategories)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/variants", h.handleAddVariant)
	r.Put("/{id}/variants/{variantID}", h.handleUpdateVariant)
	r.Delete("/{id}/variants/{variantID}", h.handleDeleteVariant)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	page, perPage := shared.PageFromRequest(r, 20)
	products, pagination, err := h.service.ListProducts(r.Context(), actor, ListFilters{
		Search:   r.URL.Query().Get("search"),
		Category: r.URL.Query().Get("category"),
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, http.StatusOK, products, httpx.Pagination{
		Page:  pagination.Page,
		Pages: pagination.TotalPages,
		Total: pagination.Total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	product, err := h.service.GetProduct(r.Context(), actor, productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, product)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	categories, err := h.service.Categories(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	httpx.Data(w, http.StatusOK, categories)
}

type variantRequest struct {
	SKU               string            `json:"sku" validate:"required"`
	Attributes        map[string]string `json:"attributes"`
	Price             float64           `json:"price" validate:"gte=0"`
	CostPrice         float64           `json:"costPrice" validate:"gte=0"`
	InitialStock      int64             `json:"initialStock" validate:"gte=0"`
	LowStockThreshold int64             `json:"lowStockThreshold" validate:"gte=0"`
}

type createProductRequest struct {
	Name        string           `json:"name" validate:"required"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Variants    []variantRequest `json:"variants" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	input := CreateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
	}
	for _, v := range req.Variants {
		input.Variants = append(input.Variants, VariantInput{
			SKU:               v.SKU,
			Attributes:        v.Attributes,
			Price:             v.Price,
			CostPrice:         v.CostPrice,
			InitialStock:      v.InitialStock,
			LowStockThreshold: v.LowStockThreshold,
		})
	}
	product, err := h.service.CreateProduct(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, product)
}

type updateProductRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req updateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), actor, productID, UpdateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, product)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(r.Context(), actor, productID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req variantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	variant, err := h.service.AddVariant(r.Context(), actor, productID, VariantInput{
		SKU:               req.SKU,
		Attributes:        req.Attributes,
		Price:             req.Price,
		CostPrice:         req.CostPrice,
		InitialStock:      req.InitialStock,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, variant)
}

type updateVariantRequest struct {
	Attributes        map[string]string `json:"attributes"`
	Price             float64           `json:"price" validate:"gte=0"`
	CostPrice         float64           `json:"costPrice" validate:"gte=0"`
	LowStockThreshold int64             `json:"lowStockThreshold" validate:"gte=0"`
}

func (h *Handler) handleUpdateVariant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	variantID, ok := idParam(w, r, "variantID")
	if !ok {
		return
	}
	var req updateVariantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	variant, err := h.service.UpdateVariant(r.Context(), actor, productID, variantID, UpdateVariantInput{
		Attributes:        req.Attributes,
		Price:             req.Price,
		CostPrice:         req.CostPrice,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, variant)
}

func (h *Handler) handleDeleteVariant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	variantID, ok := idParam(w, r, "variantID")
	if !ok {
		return
	}
	if err := h.service.DeleteVariant(r.Context(), actor, productID, variantID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, map[string]any{"deleted": true})
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Message(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func validationMessage(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return "invalid field: " + errs[0].Field()
	}
	return "validation failed"
}
