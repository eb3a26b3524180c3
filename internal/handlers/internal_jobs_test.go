package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/services"
)

func TestInternalHandlersAdvanceOrders(t *testing.T) {
	var captured services.AdvanceManyCommand
	service := &stubOrderService{
		advanceFn: func(_ context.Context, cmd services.AdvanceManyCommand) (services.AdvanceResult, error) {
			captured = cmd
			return services.AdvanceResult{
				Succeeded: []services.Order{sampleOrder("ord-1", "cust-1", domain.OrderStatusPreparing)},
			}, nil
		},
	}
	handler := NewInternalHandlers(service)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders:advance", bytes.NewBufferString(`{"order_ids":["ord-1"]}`))
	req = req.WithContext(auth.WithServiceIdentity(req.Context(), &auth.ServiceIdentity{Email: "scheduler@gymhub.iam.gserviceaccount.com"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "service:scheduler@gymhub.iam.gserviceaccount.com" || captured.Actor.Role != domain.RoleSystem {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if captured.Notes != "scheduled advance" {
		t.Fatalf("expected default notes, got %q", captured.Notes)
	}
	var resp advanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Succeeded) != 1 || resp.Succeeded[0].Status != "preparing" || len(resp.Failed) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInternalHandlersRequireIdentity(t *testing.T) {
	handler := NewInternalHandlers(&stubOrderService{})
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders:advance", bytes.NewBufferString(`{"order_ids":["ord-1"]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
