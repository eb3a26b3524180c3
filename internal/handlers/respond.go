package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/platform/httpx"
	"github.com/gymhub/api/internal/repositories"
	"github.com/gymhub/api/internal/services"
)

const (
	maxJSONBodySize  = 16 * 1024
	defaultListLimit = 50
	maxListLimit     = 200
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a size-limited JSON body into dst. When optional is
// true an empty body leaves dst untouched. It writes the error response
// itself and reports whether the handler may continue.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxJSONBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody) && optional:
			return true
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireActor resolves the authenticated principal or writes 401.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || strings.TrimSpace(actor.ID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Actor{}, false
	}
	return actor, true
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	switch {
	case limit <= 0:
		return defaultListLimit, nil
	case limit > maxListLimit:
		return maxListLimit, nil
	default:
		return limit, nil
	}
}

func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

// writeServiceError maps service and domain errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		transition *services.InvalidTransitionError
		gate       *services.PaymentGateError
		mismatch   *services.AmountMismatchError
		assigned   *services.AlreadyAssignedError
		concurrent *services.ConcurrentModificationError
		stock      *services.StockUnavailableError
		repoErr    repositories.RepositoryError
	)

	switch {
	case errors.As(err, &transition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"current_status":   string(transition.Current),
			"requested_status": string(transition.Requested),
			"delivery_type":    string(transition.DeliveryType),
		}))
	case errors.As(err, &gate):
		details := map[string]any{"source_kind": string(gate.Source.Kind), "source_id": gate.Source.ID}
		if gate.PendingConfirmationID != "" {
			details["confirmation_id"] = gate.PendingConfirmationID
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_required", err.Error(), http.StatusPaymentRequired).WithDetails(details))
	case errors.As(err, &mismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", err.Error(), http.StatusUnprocessableEntity).WithDetails(map[string]any{
			"expected_amount":  formatMoney(mismatch.Expected),
			"confirmed_amount": formatMoney(mismatch.Confirmed),
		}))
	case errors.As(err, &assigned):
		httpx.WriteError(ctx, w, httpx.NewError("already_assigned", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"registered_by": assigned.RegisteredBy,
		}))
	case errors.As(err, &concurrent):
		httpx.WriteError(ctx, w, httpx.NewError("concurrent_modification", err.Error(), http.StatusConflict))
	case errors.As(err, &stock):
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"product_id": stock.ProductID,
			"requested":  stock.Requested,
			"available":  stock.Available,
		}))
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrLocalSaleInvalidInput),
		errors.Is(err, services.ErrTransferInvalidInput),
		errors.Is(err, services.ErrMovementInvalidInput),
		errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden),
		errors.Is(err, services.ErrLocalSaleForbidden),
		errors.Is(err, services.ErrTransferForbidden),
		errors.Is(err, services.ErrMovementForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrLocalSaleNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("local_sale_not_found", "local sale not found", http.StatusNotFound))
	case errors.Is(err, services.ErrTransferNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("transfer_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrMovementNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("movement_not_found", "movement not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStockProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrTransferAlreadyConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("transfer_already_confirmed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrLocalSaleInvalidState),
		errors.Is(err, services.ErrTransferInvalidState),
		errors.Is(err, services.ErrMovementInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrTransferUnavailable),
		errors.Is(err, services.ErrCounterUnavailable),
		errors.As(err, &repoErr) && repoErr.IsUnavailable():
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "dependency unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func guardOrPass(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
