package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gymhub/api/internal/platform/httpx"
	"github.com/gymhub/api/internal/services"
)

// BankWebhookHandlers turns signed bank transfer notifications into vouchers.
// The HMAC middleware of the /webhooks group authenticates the sender.
type BankWebhookHandlers struct {
	transfers services.TransferService
}

// NewBankWebhookHandlers constructs the bank webhook handlers.
func NewBankWebhookHandlers(transfers services.TransferService) *BankWebhookHandlers {
	return &BankWebhookHandlers{transfers: transfers}
}

// Routes registers the /webhooks/bank endpoints.
func (h *BankWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/bank/transfers", h.transferNotification)
}

type bankTransferNotification struct {
	voucherSourceRequest
	BankReference string `json:"bank_reference"`
	Description   string `json:"description"`
}

func (h *BankWebhookHandlers) transferNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		writeServiceUnavailable(ctx, w, "transfer")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req bankTransferNotification
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	source, ok := req.source()
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "exactly one of order_id or local_sale_id is required", http.StatusBadRequest))
		return
	}
	reference := strings.TrimSpace(req.BankReference)
	if reference == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bank_reference is required", http.StatusBadRequest))
		return
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Bank notification " + reference
	}

	confirmation, err := h.transfers.SubmitVoucher(ctx, services.SubmitVoucherCommand{
		Source:             source,
		VoucherDescription: description,
		BankReference:      reference,
		Actor:              actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, confirmationResponse{Confirmation: buildConfirmationPayload(confirmation)})
}
