package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gymhub/api/internal/services"
)

// InternalHandlers serves scheduler-triggered jobs behind the OIDC middleware.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs the internal job handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:advance", h.advanceOrders)
}

func (h *InternalHandlers) advanceOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req advanceOrdersRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if req.Notes == "" {
		req.Notes = "scheduled advance"
	}
	writeAdvanceResult(w, r, h.orders, services.AdvanceManyCommand{
		OrderIDs: req.OrderIDs,
		Actor:    actor,
		Notes:    req.Notes,
	})
}
