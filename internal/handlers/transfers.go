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

// TransferHandlers exposes the bank transfer voucher workflow.
type TransferHandlers struct {
	authn     *auth.Authenticator
	transfers services.TransferService
	limiter   *windowLimiter
}

// TransferHandlersOption customises TransferHandlers.
type TransferHandlersOption func(*TransferHandlers)

// WithVoucherRateLimit caps voucher submissions and upload URL requests per
// actor within the given window.
func WithVoucherRateLimit(limit int, window time.Duration) TransferHandlersOption {
	return func(h *TransferHandlers) {
		h.limiter = newWindowLimiter(limit, window, nil)
	}
}

// NewTransferHandlers constructs a new TransferHandlers instance.
func NewTransferHandlers(authn *auth.Authenticator, transfers services.TransferService, opts ...TransferHandlersOption) *TransferHandlers {
	h := &TransferHandlers{authn: authn, transfers: transfers}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /transfers endpoints. Customers may submit vouchers
// for their own orders; listing and confirmation are staff only.
func (h *TransferHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	staffOnly := func(next http.Handler) http.Handler { return next }
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
		staffOnly = h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin)
	}
	r.With(h.limiter.Middleware).Post("/vouchers", h.submitVoucher)
	r.With(h.limiter.Middleware).Post("/vouchers/upload-url", h.createUploadURL)
	r.With(staffOnly).Get("/pending", h.listPending)
	r.With(staffOnly).Post("/{confirmationID}:confirm", h.confirmTransfer)
}

type voucherSourceRequest struct {
	OrderID     string `json:"order_id"`
	LocalSaleID string `json:"local_sale_id"`
}

// source resolves exactly one of order_id or local_sale_id.
func (req voucherSourceRequest) source() (domain.SourceRef, bool) {
	orderID := strings.TrimSpace(req.OrderID)
	saleID := strings.TrimSpace(req.LocalSaleID)
	switch {
	case orderID != "" && saleID == "":
		return domain.SourceRef{Kind: domain.SourceOrder, ID: orderID}, true
	case saleID != "" && orderID == "":
		return domain.SourceRef{Kind: domain.SourceLocalSale, ID: saleID}, true
	default:
		return domain.SourceRef{}, false
	}
}

type submitVoucherRequest struct {
	voucherSourceRequest
	VoucherDescription string `json:"voucher_description"`
	BankReference      string `json:"bank_reference"`
	VoucherObjectPath  string `json:"voucher_object_path"`
}

type uploadURLRequest struct {
	voucherSourceRequest
	ContentType string `json:"content_type"`
}

type confirmTransferRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

func (h *TransferHandlers) submitVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		writeServiceUnavailable(ctx, w, "transfer")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req submitVoucherRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	source, ok := req.source()
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "exactly one of order_id or local_sale_id is required", http.StatusBadRequest))
		return
	}

	confirmation, err := h.transfers.SubmitVoucher(ctx, services.SubmitVoucherCommand{
		Source:             source,
		VoucherDescription: req.VoucherDescription,
		BankReference:      req.BankReference,
		VoucherObjectPath:  strings.TrimSpace(req.VoucherObjectPath),
		Actor:              actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, confirmationResponse{Confirmation: buildConfirmationPayload(confirmation)})
}

func (h *TransferHandlers) createUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		writeServiceUnavailable(ctx, w, "transfer")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req uploadURLRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	source, ok := req.source()
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "exactly one of order_id or local_sale_id is required", http.StatusBadRequest))
		return
	}

	upload, err := h.transfers.CreateVoucherUploadURL(ctx, services.VoucherUploadCommand{
		Source:      source,
		ContentType: strings.TrimSpace(req.ContentType),
		Actor:       actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, uploadURLResponse{
		URL:        upload.URL,
		Method:     upload.Method,
		ObjectPath: upload.ObjectPath,
		Headers:    upload.Headers,
		ExpiresAt:  formatTime(upload.ExpiresAt),
	})
}

func (h *TransferHandlers) listPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		writeServiceUnavailable(ctx, w, "transfer")
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

	pending, err := h.transfers.ListPendingConfirmations(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]confirmationPayload, 0, len(pending))
	for _, confirmation := range pending {
		items = append(items, buildConfirmationPayload(confirmation))
	}
	writeJSONResponse(w, http.StatusOK, confirmationListResponse{Items: items})
}

func (h *TransferHandlers) confirmTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		writeServiceUnavailable(ctx, w, "transfer")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	confirmationID := strings.TrimSpace(chi.URLParam(r, "confirmationID"))
	if confirmationID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "confirmation id is required", http.StatusBadRequest))
		return
	}
	var req confirmTransferRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	confirmation, err := h.transfers.ConfirmTransfer(ctx, services.ConfirmTransferCommand{
		ConfirmationID:  confirmationID,
		ConfirmedAmount: req.Amount,
		Actor:           actor,
		Notes:           req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, confirmationResponse{Confirmation: buildConfirmationPayload(confirmation)})
}

type confirmationResponse struct {
	Confirmation confirmationPayload `json:"confirmation"`
}

type confirmationListResponse struct {
	Items []confirmationPayload `json:"items"`
}

type confirmationPayload struct {
	ID                 string `json:"id"`
	SourceKind         string `json:"source_kind"`
	SourceID           string `json:"source_id"`
	Status             string `json:"status"`
	VoucherDescription string `json:"voucher_description"`
	BankReference      string `json:"bank_reference,omitempty"`
	VoucherObjectPath  string `json:"voucher_object_path,omitempty"`
	ExpectedAmount     string `json:"expected_amount"`
	ConfirmedAmount    string `json:"confirmed_amount,omitempty"`
	ConfirmedBy        string `json:"confirmed_by,omitempty"`
	ConfirmedAt        string `json:"confirmed_at,omitempty"`
	Notes              string `json:"notes,omitempty"`
	SubmittedAt        string `json:"submitted_at"`
	UpdatedAt          string `json:"updated_at,omitempty"`
}

type uploadURLResponse struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	ObjectPath string            `json:"object_path"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expires_at"`
}

func buildConfirmationPayload(confirmation services.TransferConfirmation) confirmationPayload {
	payload := confirmationPayload{
		ID:                 confirmation.ID,
		SourceKind:         string(confirmation.Source.Kind),
		SourceID:           confirmation.Source.ID,
		Status:             string(confirmation.Status),
		VoucherDescription: confirmation.VoucherDescription,
		BankReference:      confirmation.BankReference,
		VoucherObjectPath:  confirmation.VoucherObjectPath,
		ExpectedAmount:     formatMoney(confirmation.ExpectedAmount),
		ConfirmedAt:        formatTime(pointerTime(confirmation.ConfirmedAt)),
		Notes:              confirmation.Notes,
		SubmittedAt:        formatTime(confirmation.SubmittedAt),
		UpdatedAt:          formatTime(confirmation.UpdatedAt),
	}
	if confirmation.ConfirmedAmount != nil {
		payload.ConfirmedAmount = formatMoney(*confirmation.ConfirmedAmount)
	}
	if confirmation.ConfirmedBy != nil {
		payload.ConfirmedBy = *confirmation.ConfirmedBy
	}
	return payload
}
