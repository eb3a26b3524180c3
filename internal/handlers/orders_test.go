package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/services"
)

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	handler.BatchRoutes(router)
	return router
}

func sampleOrder(id, customerID string, status domain.OrderStatus) services.Order {
	created := time.Date(2025, 5, 10, 15, 0, 0, 0, time.UTC)
	return services.Order{
		ID:            id,
		OrderNumber:   "GYM-2025-000042",
		CustomerID:    customerID,
		DeliveryType:  domain.DeliveryPickup,
		Status:        status,
		PaymentMethod: domain.PaymentMethodTransfer,
		PaymentStatus: domain.PaymentStatusTransferPending,
		Amounts: domain.MoneyBreakdown{
			Subtotal: decimal.RequireFromString("50"),
			Total:    decimal.RequireFromString("50"),
		},
		Items: []domain.LineItem{
			{ProductID: "whey", Name: "Whey 1kg", UnitPrice: decimal.RequireFromString("25"), Quantity: 2},
		},
		Version:   3,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder("ord-1", cmd.Actor.ID, domain.OrderStatusPending), nil
		},
	}
	router := newOrderRouter(service)

	body := `{"delivery_type":"Pickup","payment_method":"transfer","items":[{"product_id":" whey ","quantity":2}],"total":"50.00","tax":0}`
	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "cust-1" || captured.Actor.Role != domain.RoleCustomer {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if captured.DeliveryType != domain.DeliveryPickup || captured.PaymentMethod != domain.PaymentMethodTransfer {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "whey" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if !captured.Total.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected total 50, got %s", captured.Total)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Totals.Total != "50.00" || resp.Order.Items[0].UnitPrice != "25.00" {
		t.Fatalf("unexpected money formatting %+v", resp.Order)
	}
	if len(resp.Order.NextStatuses) != 2 || resp.Order.NextStatuses[0] != "confirmed" || resp.Order.NextStatuses[1] != "cancelled" {
		t.Fatalf("unexpected next statuses %v", resp.Order.NextStatuses)
	}
}

func TestOrderHandlersCreateOrderRejectsInvalidBody(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	for name, body := range map[string]string{
		"malformed": `{"items":`,
		"empty":     ``,
		"total":     `{"total":"fifty"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "cust-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
			captured = filter
			return domain.Page[services.Order]{
				Items:         []services.Order{sampleOrder("ord-1", "cust-1", domain.OrderStatusConfirmed)},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := asStaff(httptest.NewRequest(http.MethodGet, "/orders?status=pending,CONFIRMED&page_size=500&customer_id=cust-1", nil), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Actor.Role != domain.RoleStaff || captured.CustomerID != "cust-1" {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.Pagination.PageSize != maxOrderPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxOrderPageSize, captured.Pagination.PageSize)
	}
	if len(captured.Statuses) != 2 || captured.Statuses[1] != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Total != "50.00" || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsBadQuery(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	for _, query := range []string{"status=lost", "page_size=many", "page_token=%25%25"} {
		req := asStaff(httptest.NewRequest(http.MethodGet, "/orders?"+query, nil), "staff-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", query, rr.Code)
		}
	}
}

func TestOrderHandlersGetOrderHidesOtherCustomers(t *testing.T) {
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			return sampleOrder(orderID, "cust-1", domain.OrderStatusPending), nil
		},
	}
	router := newOrderRouter(service)

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"owner", asCustomer(httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil), "cust-1"), http.StatusOK},
		{"other customer", asCustomer(httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil), "cust-2"), http.StatusNotFound},
		{"staff", asStaff(httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil), "staff-1"), http.StatusOK},
		{"anonymous", httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, tc.req)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestOrderHandlersListTransitions(t *testing.T) {
	at := time.Date(2025, 5, 10, 16, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			return sampleOrder(orderID, "cust-1", domain.OrderStatusConfirmed), nil
		},
		logFn: func(_ context.Context, orderID string) ([]services.StatusTransitionLog, error) {
			return []services.StatusTransitionLog{{
				ID: "log-1", OrderID: orderID, FromStatus: domain.OrderStatusPending, ToStatus: domain.OrderStatusConfirmed,
				ActorID: "staff-1", Notes: "paid at desk", CreatedAt: at,
			}}, nil
		},
	}
	router := newOrderRouter(service)

	req := asCustomer(httptest.NewRequest(http.MethodGet, "/orders/ord-1/transitions", nil), "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp transitionLogResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].FromStatus != "pending" || resp.Items[0].ToStatus != "confirmed" {
		t.Fatalf("unexpected log %+v", resp.Items)
	}
}

func TestOrderHandlersTransition(t *testing.T) {
	var captured services.TransitionCommand
	service := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID, "cust-1", cmd.Status)
			order.Version = 4
			return order, nil
		},
	}
	router := newOrderRouter(service)

	body := `{"status":"confirmed","notes":"voucher ok","expected_version":3}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/orders/ord-1:transition", bytes.NewBufferString(body)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-1" || captured.Status != domain.OrderStatusConfirmed || captured.Notes != "voucher ok" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ExpectedVersion == nil || *captured.ExpectedVersion != 3 {
		t.Fatalf("expected version 3, got %v", captured.ExpectedVersion)
	}
	if captured.Actor.ID != "staff-1" || !captured.Actor.IsStaff() {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
}

func TestOrderHandlersTransitionErrorMapping(t *testing.T) {
	source := domain.SourceRef{Kind: domain.SourceOrder, ID: "ord-1"}
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid transition", &services.InvalidTransitionError{OrderID: "ord-1", Current: domain.OrderStatusPending, Requested: domain.OrderStatusPreparing, DeliveryType: domain.DeliveryPickup}, http.StatusConflict, "invalid_transition"},
		{"payment gate", &services.PaymentGateError{Source: source, PendingConfirmationID: "order-ord-1"}, http.StatusPaymentRequired, "payment_required"},
		{"concurrent", &services.ConcurrentModificationError{Entity: "order", ID: "ord-1", ExpectedVersion: 3, ActualVersion: 4}, http.StatusConflict, "concurrent_modification"},
		{"stock", &services.StockUnavailableError{ProductID: "whey", Requested: 2, Available: 1}, http.StatusConflict, "stock_unavailable"},
		{"forbidden", fmt.Errorf("%w: staff only", services.ErrOrderForbidden), http.StatusForbidden, "forbidden"},
		{"not found", fmt.Errorf("%w: ord-1", services.ErrOrderNotFound), http.StatusNotFound, "order_not_found"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubOrderService{
				transitionFn: func(context.Context, services.TransitionCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderRouter(service)
			req := asStaff(httptest.NewRequest(http.MethodPost, "/orders/ord-1:transition", bytes.NewBufferString(`{"status":"preparing","expected_version":2}`)), "staff-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected error code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOrderHandlersTransitionDetails(t *testing.T) {
	service := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionCommand) (services.Order, error) {
			return services.Order{}, &services.InvalidTransitionError{
				OrderID: "ord-1", Current: domain.OrderStatusPending, Requested: domain.OrderStatusShipped, DeliveryType: domain.DeliveryDelivery,
			}
		},
	}
	router := newOrderRouter(service)
	req := asStaff(httptest.NewRequest(http.MethodPost, "/orders/ord-1:transition", bytes.NewBufferString(`{"status":"shipped","expected_version":1}`)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["current_status"] != "pending" || body["requested_status"] != "shipped" {
		t.Fatalf("expected transition details, got %v", body)
	}
}

func TestOrderHandlersTransitionRejectsUnknownStatus(t *testing.T) {
	service := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionCommand) (services.Order, error) {
			t.Fatalf("transition should not be called")
			return services.Order{}, nil
		},
	}
	router := newOrderRouter(service)
	req := asStaff(httptest.NewRequest(http.MethodPost, "/orders/ord-1:transition", bytes.NewBufferString(`{"status":"teleported"}`)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionRequiresExpectedVersion(t *testing.T) {
	service := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionCommand) (services.Order, error) {
			t.Fatalf("transition should not be called")
			return services.Order{}, nil
		},
	}
	router := newOrderRouter(service)
	for _, body := range []string{
		`{"status":"confirmed"}`,
		`{"status":"confirmed","expected_version":null}`,
		`{"status":"confirmed","expected_version":0}`,
	} {
		req := asStaff(httptest.NewRequest(http.MethodPost, "/orders/ord-1:transition", bytes.NewBufferString(body)), "staff-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "expected_version") {
			t.Fatalf("%s: expected 400 naming expected_version, got %d %s", body, rr.Code, rr.Body.String())
		}
	}
}

func TestOrderHandlersAdvance(t *testing.T) {
	var captured services.AdvanceManyCommand
	service := &stubOrderService{
		advanceFn: func(_ context.Context, cmd services.AdvanceManyCommand) (services.AdvanceResult, error) {
			captured = cmd
			return services.AdvanceResult{
				Succeeded: []services.Order{sampleOrder("ord-1", "cust-1", domain.OrderStatusConfirmed)},
				Failed: []services.AdvanceFailure{{
					OrderID: "ord-2",
					Err:     &services.PaymentGateError{Source: domain.SourceRef{Kind: domain.SourceOrder, ID: "ord-2"}},
				}},
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/orders:advance", bytes.NewBufferString(`{"order_ids":["ord-1","ord-2"]}`)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.OrderIDs) != 2 || captured.Actor.ID != "staff-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp advanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Succeeded) != 1 || len(resp.Failed) != 1 || resp.Failed[0].OrderID != "ord-2" || resp.Failed[0].Error == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersServiceUnavailable(t *testing.T) {
	handler := NewOrderHandlers(nil, nil)
	req := asCustomer(httptest.NewRequest(http.MethodGet, "/orders", nil), "cust-1")
	rr := httptest.NewRecorder()

	handler.listOrders(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
