package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stockpilot/stockpilot/internal/auth"
	"github.com/stockpilot/stockpilot/internal/catalog"
	"github.com/stockpilot/stockpilot/internal/dashboard"
	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/notify"
	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/purchase"
	"github.com/stockpilot/stockpilot/internal/shared"
	"github.com/stockpilot/stockpilot/internal/suppliers"
	"github.com/stockpilot/stockpilot/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AuthHandler      *auth.Handler
	AuthMiddleware   *auth.Middleware
	CatalogHandler   *catalog.Handler
	LedgerHandler    *ledger.Handler
	SupplierHandler  *suppliers.Handler
	PurchaseHandler  *purchase.Handler
	DashboardHandler *dashboard.Handler
	EventsHandler    *notify.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with StockPilot defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", params.AuthHandler.MountRoutes)

		r.Group(func(r chi.Router) {
			r.Use(params.AuthMiddleware.Authenticate)

			r.Route("/products", params.CatalogHandler.MountRoutes)
			r.Route("/inventory", params.LedgerHandler.MountRoutes)
			r.Route("/suppliers", params.SupplierHandler.MountRoutes)
			r.Route("/purchase-orders", params.PurchaseHandler.MountRoutes)
			r.Route("/dashboard", params.DashboardHandler.MountRoutes)
			r.Route("/events", params.EventsHandler.MountRoutes)

			if params.JobsHandler != nil {
				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(shared.RoleOwner))
					r.Route("/jobs", params.JobsHandler.MountRoutes)
				})
			}
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
