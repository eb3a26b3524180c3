package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/platform/httpx"
	"github.com/gymhub/api/internal/platform/pagination"
	"github.com/gymhub/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes checkout, reads and the order state machine.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	createGuard func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderCreateGuard wraps POST /orders, typically with the idempotency
// guard. It runs after authentication.
func WithOrderCreateGuard(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.createGuard = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.With(guardOrPass(h.createGuard)).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/transitions", h.listTransitions)
	r.Post("/{orderID}:transition", h.transitionOrder)
}

// BatchRoutes registers POST /orders:advance on the API root.
func (h *OrderHandlers) BatchRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.With(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin)).Post("/orders:advance", h.advanceOrders)
		return
	}
	r.Post("/orders:advance", h.advanceOrders)
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID    string             `json:"customer_id"`
	DeliveryType  string             `json:"delivery_type"`
	PaymentMethod string             `json:"payment_method"`
	Items         []orderLineRequest `json:"items"`
	Tax           decimal.Decimal    `json:"tax"`
	Shipping      decimal.Decimal    `json:"shipping"`
	Discount      decimal.Decimal    `json:"discount"`
	Total         decimal.Decimal    `json:"total"`
}

type transitionOrderRequest struct {
	Status          string `json:"status"`
	Notes           string `json:"notes"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type advanceOrdersRequest struct {
	OrderIDs []string `json:"order_ids"`
	Notes    string   `json:"notes"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Actor:         actor,
		CustomerID:    strings.TrimSpace(req.CustomerID),
		DeliveryType:  domain.DeliveryType(strings.ToLower(strings.TrimSpace(req.DeliveryType))),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Items:         toLineRequests(req.Items),
		Tax:           req.Tax,
		Shipping:      req.Shipping,
		Discount:      req.Discount,
		Total:         req.Total,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	params, err := pagination.Parse(query, pagination.Options{DefaultPageSize: defaultOrderPageSize, MaxPageSize: maxOrderPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Actor:      actor,
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Statuses:   statuses,
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listTransitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}

	entries, err := h.orders.ListTransitionLog(ctx, order.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]transitionLogPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, transitionLogPayload{
			ID:         entry.ID,
			FromStatus: string(entry.FromStatus),
			ToStatus:   string(entry.ToStatus),
			ActorID:    entry.ActorID,
			Notes:      entry.Notes,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, transitionLogResponse{Items: items})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	status, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}
	// Transitions are compare-and-swap against the version the caller saw.
	if req.ExpectedVersion == nil || *req.ExpectedVersion <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_version is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Transition(ctx, services.TransitionCommand{
		OrderID:         orderID,
		Status:          status,
		Actor:           actor,
		Notes:           req.Notes,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) advanceOrders(w http.ResponseWriter, r *http.Request) {
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
	writeAdvanceResult(w, r, h.orders, services.AdvanceManyCommand{
		OrderIDs: req.OrderIDs,
		Actor:    actor,
		Notes:    req.Notes,
	})
}

// loadVisibleOrder hides other customers' orders behind 404.
func (h *OrderHandlers) loadVisibleOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return services.Order{}, false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.Order{}, false
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Order{}, false
	}
	if !actor.IsStaff() && order.CustomerID != actor.ID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}

func writeAdvanceResult(w http.ResponseWriter, r *http.Request, orders services.OrderService, cmd services.AdvanceManyCommand) {
	ctx := r.Context()
	result, err := orders.AdvanceMany(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := advanceResponse{
		Succeeded: make([]orderSummaryPayload, 0, len(result.Succeeded)),
		Failed:    make([]advanceFailurePayload, 0, len(result.Failed)),
	}
	for _, order := range result.Succeeded {
		resp.Succeeded = append(resp.Succeeded, buildOrderSummary(order))
	}
	for _, failure := range result.Failed {
		resp.Failed = append(resp.Failed, advanceFailurePayload{
			OrderID: failure.OrderID,
			Error:   failure.Err.Error(),
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func toLineRequests(items []orderLineRequest) []services.LineRequest {
	lines := make([]services.LineRequest, 0, len(items))
	for _, item := range items {
		lines = append(lines, services.LineRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range services.OrderStatuses() {
		if status == known {
			return status, true
		}
	}
	return "", false
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Total         string `json:"total"`
	Version       int64  `json:"version"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string            `json:"id"`
	OrderNumber       string            `json:"order_number"`
	CustomerID        string            `json:"customer_id"`
	DeliveryType      string            `json:"delivery_type"`
	Status            string            `json:"status"`
	NextStatuses      []string          `json:"next_statuses"`
	PaymentMethod     string            `json:"payment_method"`
	PaymentStatus     string            `json:"payment_status"`
	TransferConfirmed bool              `json:"transfer_confirmed"`
	Totals            moneyPayload      `json:"totals"`
	Items             []lineItemPayload `json:"items"`
	Version           int64             `json:"version"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at,omitempty"`
	CancelledAt       string            `json:"cancelled_at,omitempty"`
	CompletedAt       string            `json:"completed_at,omitempty"`
}

type moneyPayload struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

type lineItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type transitionLogResponse struct {
	Items []transitionLogPayload `json:"items"`
}

type transitionLogPayload struct {
	ID         string `json:"id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	Notes      string `json:"notes,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type advanceResponse struct {
	Succeeded []orderSummaryPayload   `json:"succeeded"`
	Failed    []advanceFailurePayload `json:"failed"`
}

type advanceFailurePayload struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         formatMoney(order.Amounts.Total),
		Version:       order.Version,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	next := services.AllowedNext(order.Status, order.DeliveryType)
	nextStatuses := make([]string, 0, len(next))
	for _, status := range next {
		nextStatuses = append(nextStatuses, string(status))
	}
	return orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		CustomerID:        order.CustomerID,
		DeliveryType:      string(order.DeliveryType),
		Status:            string(order.Status),
		NextStatuses:      nextStatuses,
		PaymentMethod:     string(order.PaymentMethod),
		PaymentStatus:     string(order.PaymentStatus),
		TransferConfirmed: order.TransferConfirmed,
		Totals:            buildMoneyPayload(order.Amounts),
		Items:             buildLineItems(order.Items),
		Version:           order.Version,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		CancelledAt:       formatTime(pointerTime(order.CancelledAt)),
		CompletedAt:       formatTime(pointerTime(order.CompletedAt)),
	}
}

func buildMoneyPayload(amounts domain.MoneyBreakdown) moneyPayload {
	return moneyPayload{
		Subtotal: formatMoney(amounts.Subtotal),
		Tax:      formatMoney(amounts.Tax),
		Shipping: formatMoney(amounts.Shipping),
		Discount: formatMoney(amounts.Discount),
		Total:    formatMoney(amounts.Total),
	}
}

func buildLineItems(items []domain.LineItem) []lineItemPayload {
	payload := make([]lineItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, lineItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: formatMoney(item.UnitPrice),
			Quantity:  item.Quantity,
		})
	}
	return payload
}
