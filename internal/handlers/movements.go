package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/platform/httpx"
	"github.com/gymhub/api/internal/services"
)

// MovementHandlers exposes the financial ledger to staff.
type MovementHandlers struct {
	authn     *auth.Authenticator
	movements services.MovementService
}

// NewMovementHandlers constructs a new MovementHandlers instance.
func NewMovementHandlers(authn *auth.Authenticator, movements services.MovementService) *MovementHandlers {
	return &MovementHandlers{authn: authn, movements: movements}
}

// Routes registers the /movements endpoints.
func (h *MovementHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/unassigned", h.listUnassigned)
	r.Post("/", h.recordMovement)
	r.Post("/{movementID}:adopt", h.adoptMovement)
}

type recordMovementRequest struct {
	Type         string          `json:"type"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	MovementDate string          `json:"movement_date"`
	Description  string          `json:"description"`
}

func (h *MovementHandlers) listUnassigned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.movements == nil {
		writeServiceUnavailable(ctx, w, "movement")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsStaff() {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	movements, err := h.movements.ListUnassignedMovements(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]movementPayload, 0, len(movements))
	for _, movement := range movements {
		items = append(items, buildMovementPayload(movement))
	}
	writeJSONResponse(w, http.StatusOK, movementListResponse{Items: items})
}

func (h *MovementHandlers) recordMovement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.movements == nil {
		writeServiceUnavailable(ctx, w, "movement")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req recordMovementRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	var movementDate time.Time
	if raw := strings.TrimSpace(req.MovementDate); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "movement_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		movementDate = parsed
	}

	movement, err := h.movements.RecordMovement(ctx, services.RecordMovementCommand{
		Actor:        actor,
		Type:         domain.MovementType(strings.ToLower(strings.TrimSpace(req.Type))),
		Category:     req.Category,
		Amount:       req.Amount,
		MovementDate: movementDate,
		Description:  req.Description,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, movementResponse{Movement: buildMovementPayload(movement)})
}

func (h *MovementHandlers) adoptMovement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.movements == nil {
		writeServiceUnavailable(ctx, w, "movement")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	movementID := strings.TrimSpace(chi.URLParam(r, "movementID"))
	if movementID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "movement id is required", http.StatusBadRequest))
		return
	}

	movement, err := h.movements.AdoptMovement(ctx, services.AdoptMovementCommand{
		MovementID: movementID,
		Actor:      actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, movementResponse{Movement: buildMovementPayload(movement)})
}

type movementResponse struct {
	Movement movementPayload `json:"movement"`
}

type movementListResponse struct {
	Items []movementPayload `json:"items"`
}

type movementPayload struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Category     string `json:"category"`
	Amount       string `json:"amount"`
	MovementDate string `json:"movement_date"`
	Description  string `json:"description,omitempty"`
	IsAutomatic  bool   `json:"is_automatic"`
	RegisteredBy string `json:"registered_by,omitempty"`
	AssignedAt   string `json:"assigned_at,omitempty"`
	SourceKind   string `json:"source_kind"`
	SourceID     string `json:"source_id"`
	CreatedAt    string `json:"created_at"`
}

func buildMovementPayload(movement services.FinancialMovement) movementPayload {
	payload := movementPayload{
		ID:           movement.ID,
		Type:         string(movement.Type),
		Category:     movement.Category,
		Amount:       formatMoney(movement.Amount),
		MovementDate: formatTime(movement.MovementDate),
		Description:  movement.Description,
		IsAutomatic:  movement.IsAutomatic,
		AssignedAt:   formatTime(pointerTime(movement.AssignedAt)),
		SourceKind:   string(movement.Source.Kind),
		SourceID:     movement.Source.ID,
		CreatedAt:    formatTime(movement.CreatedAt),
	}
	if movement.RegisteredBy != nil {
		payload.RegisteredBy = *movement.RegisteredBy
	}
	return payload
}
