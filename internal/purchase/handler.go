package purchase

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchase order routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Patch("/{id}/status", h.handleStatus)
	r.Post("/{id}/receive", h.handleReceive)
}

type itemRequest struct {
	VariantID int64   `json:"variantId" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
}

type orderRequest struct {
	SupplierID       int64         `json:"supplierId" validate:"required,gt=0"`
	Notes            string        `json:"notes"`
	ExpectedDelivery *time.Time    `json:"expectedDelivery"`
	Items            []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req orderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	order, err := h.service.Create(r.Context(), actor, CreateInput{
		SupplierID:       req.SupplierID,
		Notes:            req.Notes,
		ExpectedDelivery: req.ExpectedDelivery,
		Items:            toItemInputs(req.Items),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, order)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.service.Get(r.Context(), actor, orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, order)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	page, perPage := shared.PageFromRequest(r, 20)
	supplierID, _ := strconv.ParseInt(r.URL.Query().Get("supplierId"), 10, 64)

	orders, pagination, err := h.service.List(r.Context(), actor, ListFilter{
		Status:     Status(r.URL.Query().Get("status")),
		SupplierID: supplierID,
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if orders == nil {
		orders = []PurchaseOrder{}
	}
	httpx.Paginated(w, http.StatusOK, orders, httpx.Pagination{
		Page:  pagination.Page,
		Pages: pagination.TotalPages,
		Total: pagination.Total,
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req orderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	order, err := h.service.UpdateDraft(r.Context(), actor, orderID, UpdateInput{
		SupplierID:       req.SupplierID,
		Notes:            req.Notes,
		ExpectedDelivery: req.ExpectedDelivery,
		Items:            toItemInputs(req.Items),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, order)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	order, err := h.service.UpdateStatus(r.Context(), actor, orderID, Status(req.Status))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, order)
}

type receiveRequest struct {
	ReceivedItems []struct {
		ItemID   int64 `json:"itemId" validate:"required,gt=0"`
		Quantity int64 `json:"quantity" validate:"required,gt=0"`
	} `json:"receivedItems" validate:"required,min=1,dive"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	lines := make([]ReceiveLine, 0, len(req.ReceivedItems))
	for _, line := range req.ReceivedItems {
		lines = append(lines, ReceiveLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	order, err := h.service.Receive(r.Context(), actor, orderID, lines)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, order)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := h.service.Delete(r.Context(), actor, orderID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Message(w, http.StatusOK, "purchase order deleted")
}

func toItemInputs(items []itemRequest) []ItemInput {
	inputs := make([]ItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, ItemInput{VariantID: item.VariantID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return inputs
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func validationMessage(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return "invalid field: " + errs[0].Field()
	}
	return "validation failed"
}
