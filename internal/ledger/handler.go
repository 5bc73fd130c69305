package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// Handler wires HTTP endpoints for the inventory ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.handleList)
	r.Post("/movements", h.handleRecord)
}

type movementRequest struct {
	VariantID int64  `json:"variantId" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required"`
	Direction string `json:"direction"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	movement, err := h.service.RecordMovement(r.Context(), actor, MovementInput{
		VariantID:      req.VariantID,
		Type:           MovementType(req.Type),
		Direction:      Direction(req.Direction),
		Quantity:       req.Quantity,
		Reference:      req.Reference,
		Note:           req.Note,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, movement)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	page, perPage := shared.PageFromRequest(r, 20)
	variantID, _ := strconv.ParseInt(r.URL.Query().Get("variantId"), 10, 64)
	productID, _ := strconv.ParseInt(r.URL.Query().Get("productId"), 10, 64)

	movements, pagination, err := h.service.ListMovements(r.Context(), actor, MovementFilter{
		VariantID: variantID,
		ProductID: productID,
		Type:      MovementType(r.URL.Query().Get("type")),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.Paginated(w, http.StatusOK, movements, httpx.Pagination{
		Page:  pagination.Page,
		Pages: pagination.TotalPages,
		Total: pagination.Total,
	})
}

func validationMessage(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return "invalid field: " + errs[0].Field()
	}
	return "validation failed"
}
