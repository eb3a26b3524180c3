package handlers

import (
	"context"
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

// LocalSaleHandlers exposes counter sales to staff.
type LocalSaleHandlers struct {
	authn       *auth.Authenticator
	sales       services.LocalSaleService
	createGuard func(http.Handler) http.Handler
}

// LocalSaleHandlersOption customises LocalSaleHandlers.
type LocalSaleHandlersOption func(*LocalSaleHandlers)

// WithSaleCreateGuard wraps POST /local-sales.
func WithSaleCreateGuard(mw func(http.Handler) http.Handler) LocalSaleHandlersOption {
	return func(h *LocalSaleHandlers) {
		h.createGuard = mw
	}
}

// NewLocalSaleHandlers constructs a new LocalSaleHandlers instance.
func NewLocalSaleHandlers(authn *auth.Authenticator, sales services.LocalSaleService, opts ...LocalSaleHandlersOption) *LocalSaleHandlers {
	h := &LocalSaleHandlers{authn: authn, sales: sales}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /local-sales endpoints.
func (h *LocalSaleHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.With(guardOrPass(h.createGuard)).Post("/", h.recordSale)
	r.Get("/{saleID}", h.getSale)
	r.Post("/{saleID}:complete", h.completeSale)
	r.Post("/{saleID}:cancel", h.cancelSale)
}

type recordLocalSaleRequest struct {
	WorkDate      string             `json:"work_date"`
	PaymentMethod string             `json:"payment_method"`
	Items         []orderLineRequest `json:"items"`
	Tax           decimal.Decimal    `json:"tax"`
	Discount      decimal.Decimal    `json:"discount"`
	Total         decimal.Decimal    `json:"total"`
}

type localSaleStatusRequest struct {
	ExpectedVersion *int64 `json:"expected_version"`
}

func (h *LocalSaleHandlers) recordSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		writeServiceUnavailable(ctx, w, "local_sale")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req recordLocalSaleRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	var workDate time.Time
	if raw := strings.TrimSpace(req.WorkDate); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "work_date must be YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		workDate = parsed
	}

	sale, err := h.sales.RecordLocalSale(ctx, services.RecordLocalSaleCommand{
		Actor:         actor,
		WorkDate:      workDate,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Items:         toLineRequests(req.Items),
		Tax:           req.Tax,
		Discount:      req.Discount,
		Total:         req.Total,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, localSaleResponse{Sale: buildLocalSalePayload(sale)})
}

func (h *LocalSaleHandlers) getSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		writeServiceUnavailable(ctx, w, "local_sale")
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	saleID := strings.TrimSpace(chi.URLParam(r, "saleID"))
	if saleID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sale id is required", http.StatusBadRequest))
		return
	}
	sale, err := h.sales.GetLocalSale(ctx, saleID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, localSaleResponse{Sale: buildLocalSalePayload(sale)})
}

func (h *LocalSaleHandlers) completeSale(w http.ResponseWriter, r *http.Request) {
	if h.sales == nil {
		writeServiceUnavailable(r.Context(), w, "local_sale")
		return
	}
	h.changeStatus(w, r, h.sales.CompleteLocalSale)
}

func (h *LocalSaleHandlers) cancelSale(w http.ResponseWriter, r *http.Request) {
	if h.sales == nil {
		writeServiceUnavailable(r.Context(), w, "local_sale")
		return
	}
	h.changeStatus(w, r, h.sales.CancelLocalSale)
}

func (h *LocalSaleHandlers) changeStatus(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, cmd services.LocalSaleStatusCommand) (services.LocalSale, error)) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	saleID := strings.TrimSpace(chi.URLParam(r, "saleID"))
	if saleID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sale id is required", http.StatusBadRequest))
		return
	}
	var req localSaleStatusRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	sale, err := apply(ctx, services.LocalSaleStatusCommand{
		SaleID:          saleID,
		Actor:           actor,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, localSaleResponse{Sale: buildLocalSalePayload(sale)})
}

type localSaleResponse struct {
	Sale localSalePayload `json:"sale"`
}

type localSalePayload struct {
	ID                string            `json:"id"`
	EmployeeID        string            `json:"employee_id"`
	WorkDate          string            `json:"work_date"`
	Status            string            `json:"status"`
	PaymentMethod     string            `json:"payment_method"`
	PaymentStatus     string            `json:"payment_status"`
	TransferConfirmed bool              `json:"transfer_confirmed"`
	Totals            moneyPayload      `json:"totals"`
	Items             []lineItemPayload `json:"items"`
	Version           int64             `json:"version"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at,omitempty"`
}

func buildLocalSalePayload(sale services.LocalSale) localSalePayload {
	workDate := ""
	if !sale.WorkDate.IsZero() {
		workDate = sale.WorkDate.UTC().Format(time.DateOnly)
	}
	return localSalePayload{
		ID:                sale.ID,
		EmployeeID:        sale.EmployeeID,
		WorkDate:          workDate,
		Status:            string(sale.Status),
		PaymentMethod:     string(sale.PaymentMethod),
		PaymentStatus:     string(sale.PaymentStatus),
		TransferConfirmed: sale.TransferConfirmed,
		Totals:            buildMoneyPayload(sale.Amounts),
		Items:             buildLineItems(sale.Items),
		Version:           sale.Version,
		CreatedAt:         formatTime(sale.CreatedAt),
		UpdatedAt:         formatTime(sale.UpdatedAt),
	}
}
