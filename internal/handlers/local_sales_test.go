package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/services"
)

func newLocalSaleRouter(service services.LocalSaleService) chi.Router {
	handler := NewLocalSaleHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/local-sales", handler.Routes)
	return router
}

func sampleLocalSale(id string, status domain.LocalSaleStatus) services.LocalSale {
	return services.LocalSale{
		ID:            id,
		EmployeeID:    "staff-1",
		WorkDate:      time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        status,
		Amounts: domain.MoneyBreakdown{
			Subtotal: decimal.RequireFromString("12.5"),
			Total:    decimal.RequireFromString("12.5"),
		},
		Version:   1,
		CreatedAt: time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestLocalSaleHandlersRecordSale(t *testing.T) {
	var captured services.RecordLocalSaleCommand
	service := &stubLocalSaleService{
		recordFn: func(_ context.Context, cmd services.RecordLocalSaleCommand) (services.LocalSale, error) {
			captured = cmd
			return sampleLocalSale("sale-1", domain.LocalSaleStatusOpen), nil
		},
	}
	router := newLocalSaleRouter(service)

	body := `{"work_date":"2025-05-10","payment_method":"CASH","items":[{"product_id":"bar","quantity":5}],"total":"12.50"}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/local-sales", bytes.NewBufferString(body)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "staff-1" || captured.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !captured.WorkDate.Equal(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected work date %v", captured.WorkDate)
	}
	var resp localSaleResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Sale.WorkDate != "2025-05-10" || resp.Sale.Status != "open" || resp.Sale.Totals.Total != "12.50" {
		t.Fatalf("unexpected payload %+v", resp.Sale)
	}
}

func TestLocalSaleHandlersRecordSaleRejectsBadWorkDate(t *testing.T) {
	router := newLocalSaleRouter(&stubLocalSaleService{})
	req := asStaff(httptest.NewRequest(http.MethodPost, "/local-sales", bytes.NewBufferString(`{"work_date":"10/05/2025"}`)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestLocalSaleHandlersGetSaleNotFound(t *testing.T) {
	service := &stubLocalSaleService{
		getFn: func(_ context.Context, saleID string) (services.LocalSale, error) {
			return services.LocalSale{}, fmt.Errorf("%w: %s", services.ErrLocalSaleNotFound, saleID)
		},
	}
	router := newLocalSaleRouter(service)
	req := asStaff(httptest.NewRequest(http.MethodGet, "/local-sales/missing", nil), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestLocalSaleHandlersCompleteSale(t *testing.T) {
	var captured services.LocalSaleStatusCommand
	service := &stubLocalSaleService{
		completeFn: func(_ context.Context, cmd services.LocalSaleStatusCommand) (services.LocalSale, error) {
			captured = cmd
			return sampleLocalSale(cmd.SaleID, domain.LocalSaleStatusCompleted), nil
		},
	}
	router := newLocalSaleRouter(service)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/local-sales/sale-1:complete", bytes.NewBufferString(`{"expected_version":1}`)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.SaleID != "sale-1" || captured.ExpectedVersion == nil || *captured.ExpectedVersion != 1 {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestLocalSaleHandlersCancelSaleWithoutBody(t *testing.T) {
	called := false
	service := &stubLocalSaleService{
		cancelFn: func(_ context.Context, cmd services.LocalSaleStatusCommand) (services.LocalSale, error) {
			called = true
			if cmd.ExpectedVersion != nil {
				t.Fatalf("expected no version precondition")
			}
			return sampleLocalSale(cmd.SaleID, domain.LocalSaleStatusCancelled), nil
		},
	}
	router := newLocalSaleRouter(service)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/local-sales/sale-1:cancel", nil), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !called {
		t.Fatalf("expected cancel to succeed, got %d", rr.Code)
	}
}

func TestLocalSaleHandlersCompleteSalePaymentGate(t *testing.T) {
	service := &stubLocalSaleService{
		completeFn: func(context.Context, services.LocalSaleStatusCommand) (services.LocalSale, error) {
			return services.LocalSale{}, &services.PaymentGateError{
				Source:                domain.SourceRef{Kind: domain.SourceLocalSale, ID: "sale-1"},
				PendingConfirmationID: "local_sale-sale-1",
			}
		},
	}
	router := newLocalSaleRouter(service)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/local-sales/sale-1:complete", nil), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["confirmation_id"] != "local_sale-sale-1" {
		t.Fatalf("expected confirmation id detail, got %v", body)
	}
}

func TestLocalSaleHandlersServiceUnavailable(t *testing.T) {
	router := newLocalSaleRouter(nil)
	req := asStaff(httptest.NewRequest(http.MethodPost, "/local-sales/sale-1:cancel", nil), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
