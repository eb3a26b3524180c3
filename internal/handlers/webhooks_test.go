package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/services"
)

func newWebhookRouter(service services.TransferService) chi.Router {
	handler := NewBankWebhookHandlers(service)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func signedByBank(req *http.Request) *http.Request {
	return req.WithContext(auth.WithSignedRequest(req.Context(), &auth.SignedRequest{Sender: "bank"}))
}

func TestBankWebhookSubmitsVoucher(t *testing.T) {
	var captured services.SubmitVoucherCommand
	service := &stubTransferService{
		submitFn: func(_ context.Context, cmd services.SubmitVoucherCommand) (services.TransferConfirmation, error) {
			captured = cmd
			return sampleConfirmation(cmd.Source), nil
		},
	}
	router := newWebhookRouter(service)

	body := `{"local_sale_id":"sale-7","bank_reference":" TRX-123 "}`
	req := signedByBank(httptest.NewRequest(http.MethodPost, "/webhooks/bank/transfers", bytes.NewBufferString(body)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "webhook:bank" || captured.Actor.Role != domain.RoleSystem {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if captured.Source.Kind != domain.SourceLocalSale || captured.Source.ID != "sale-7" {
		t.Fatalf("unexpected source %+v", captured.Source)
	}
	if captured.BankReference != "TRX-123" || captured.VoucherDescription != "Bank notification TRX-123" {
		t.Fatalf("unexpected voucher fields %+v", captured)
	}
}

func TestBankWebhookRequiresReference(t *testing.T) {
	router := newWebhookRouter(&stubTransferService{})
	req := signedByBank(httptest.NewRequest(http.MethodPost, "/webhooks/bank/transfers", bytes.NewBufferString(`{"order_id":"ord-1"}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestBankWebhookRejectsUnsignedRequests(t *testing.T) {
	router := newWebhookRouter(&stubTransferService{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank/transfers", bytes.NewBufferString(`{"order_id":"ord-1","bank_reference":"x"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
