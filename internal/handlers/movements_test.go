package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/services"
)

func newMovementRouter(service services.MovementService) chi.Router {
	handler := NewMovementHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/movements", handler.Routes)
	return router
}

func TestMovementHandlersListUnassigned(t *testing.T) {
	var capturedLimit int
	service := &stubMovementService{
		unassignedFn: func(_ context.Context, limit int) ([]services.FinancialMovement, error) {
			capturedLimit = limit
			return []services.FinancialMovement{{
				ID:           "mov-1",
				Type:         domain.MovementIncome,
				Category:     domain.MovementCategoryOrderSale,
				Amount:       decimal.RequireFromString("80"),
				MovementDate: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC),
				IsAutomatic:  true,
				Source:       domain.SourceRef{Kind: domain.SourceOrder, ID: "ord-1"},
			}}, nil
		},
	}
	router := newMovementRouter(service)

	req := asStaff(httptest.NewRequest(http.MethodGet, "/movements/unassigned?limit=999", nil), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedLimit != maxListLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxListLimit, capturedLimit)
	}
	var resp movementListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Amount != "80.00" || resp.Items[0].RegisteredBy != "" || !resp.Items[0].IsAutomatic {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestMovementHandlersListUnassignedRejectsCustomers(t *testing.T) {
	router := newMovementRouter(&stubMovementService{})
	req := asCustomer(httptest.NewRequest(http.MethodGet, "/movements/unassigned", nil), "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestMovementHandlersRecordMovement(t *testing.T) {
	var captured services.RecordMovementCommand
	service := &stubMovementService{
		recordFn: func(_ context.Context, cmd services.RecordMovementCommand) (services.FinancialMovement, error) {
			captured = cmd
			by := cmd.Actor.ID
			return services.FinancialMovement{
				ID:           "mov-2",
				Type:         cmd.Type,
				Category:     cmd.Category,
				Amount:       cmd.Amount,
				MovementDate: cmd.MovementDate,
				RegisteredBy: &by,
				Source:       domain.SourceRef{Kind: domain.SourceManual},
			}, nil
		},
	}
	router := newMovementRouter(service)

	body := `{"type":"Expense","category":"rent","amount":"1200","movement_date":"2025-05-01T09:00:00Z","description":"May rent"}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/movements", bytes.NewBufferString(body)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Type != domain.MovementExpense || captured.Category != "rent" || !captured.Amount.Equal(decimal.RequireFromString("1200")) {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !captured.MovementDate.Equal(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected movement date %v", captured.MovementDate)
	}
	var resp movementResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Movement.RegisteredBy != "staff-1" || resp.Movement.SourceKind != "manual" {
		t.Fatalf("unexpected payload %+v", resp.Movement)
	}
}

func TestMovementHandlersRecordMovementRejectsBadDate(t *testing.T) {
	router := newMovementRouter(&stubMovementService{})
	req := asStaff(httptest.NewRequest(http.MethodPost, "/movements", bytes.NewBufferString(`{"type":"income","movement_date":"yesterday"}`)), "staff-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestMovementHandlersAdoptMovement(t *testing.T) {
	t.Run("adopted", func(t *testing.T) {
		var captured services.AdoptMovementCommand
		service := &stubMovementService{
			adoptFn: func(_ context.Context, cmd services.AdoptMovementCommand) (services.FinancialMovement, error) {
				captured = cmd
				by := cmd.Actor.ID
				now := time.Date(2025, 5, 10, 13, 0, 0, 0, time.UTC)
				return services.FinancialMovement{ID: cmd.MovementID, RegisteredBy: &by, AssignedAt: &now}, nil
			},
		}
		router := newMovementRouter(service)
		req := asStaff(httptest.NewRequest(http.MethodPost, "/movements/mov-1:adopt", nil), "staff-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if captured.MovementID != "mov-1" || captured.Actor.ID != "staff-1" {
			t.Fatalf("unexpected command %+v", captured)
		}
		var resp movementResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Movement.AssignedAt != "2025-05-10T13:00:00Z" {
			t.Fatalf("unexpected assigned_at %q", resp.Movement.AssignedAt)
		}
	})

	t.Run("already assigned", func(t *testing.T) {
		service := &stubMovementService{
			adoptFn: func(context.Context, services.AdoptMovementCommand) (services.FinancialMovement, error) {
				return services.FinancialMovement{}, &services.AlreadyAssignedError{MovementID: "mov-1", RegisteredBy: "staff-2"}
			},
		}
		router := newMovementRouter(service)
		req := asStaff(httptest.NewRequest(http.MethodPost, "/movements/mov-1:adopt", nil), "staff-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("expected JSON body: %v", err)
		}
		if body["error"] != "already_assigned" || body["registered_by"] != "staff-2" {
			t.Fatalf("unexpected body %v", body)
		}
	})
}
