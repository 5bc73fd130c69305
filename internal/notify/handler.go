package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockpilot/stockpilot/internal/shared"
)

// Handler streams tenant events over server-sent events.
type Handler struct {
	logger *slog.Logger
	broker *Broker
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, broker *Broker) *Handler {
	return &Handler{logger: logger, broker: broker}
}

// MountRoutes registers the event stream route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleStream)
}

const keepAliveInterval = 25 * time.Second

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := h.broker.Subscribe(r.Context(), actor.TenantID)
	if err != nil {
		h.logger.Error("subscribe events", slog.Int64("tenant", actor.TenantID), slog.Any("error", err))
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case env, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Type, payload)
			flusher.Flush()
		}
	}
}
