package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
)

func (e *testEnv) recordSale(t *testing.T, method domain.PaymentMethod, qty int) LocalSale {
	t.Helper()
	sale, err := e.sales.RecordLocalSale(context.Background(), RecordLocalSaleCommand{
		Actor:         staff,
		PaymentMethod: method,
		Items:         []LineRequest{{ProductID: productGloves, Quantity: qty}},
		Total:         money("12.50").Mul(decimal.NewFromInt(int64(qty))),
	})
	if err != nil {
		t.Fatalf("RecordLocalSale: %v", err)
	}
	return sale
}

func TestRecordCashLocalSalePostsMovement(t *testing.T) {
	env := newTestEnv(t)
	sale := env.recordSale(t, domain.PaymentMethodCash, 2)

	if sale.Status != domain.LocalSaleStatusCompleted || sale.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected cash sale to complete immediately, got %+v", sale)
	}
	if sale.EmployeeID != staff.ID || !sale.WorkDate.Equal(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected attribution %+v", sale)
	}
	if got := env.available(t, productGloves); got != 3 {
		t.Fatalf("expected gloves stock 3, got %d", got)
	}
	movements := env.movementsFor(t, localSaleSource(sale.ID))
	if len(movements) != 1 || movements[0].Category != domain.MovementCategoryLocalSale || !movements[0].Amount.Equal(money("25")) {
		t.Fatalf("unexpected movements %+v", movements)
	}

	if _, err := env.sales.CompleteLocalSale(context.Background(), LocalSaleStatusCommand{SaleID: sale.ID, Actor: staff}); !errors.Is(err, ErrLocalSaleInvalidState) {
		t.Fatalf("expected completed sale to reject completion, got %v", err)
	}
}

func TestTransferLocalSaleWaitsForConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.recordSale(t, domain.PaymentMethodTransfer, 1)

	if sale.Status != domain.LocalSaleStatusOpen || sale.PaymentStatus != domain.PaymentStatusTransferPending {
		t.Fatalf("expected open transfer sale, got %+v", sale)
	}
	if got := env.movementsFor(t, localSaleSource(sale.ID)); len(got) != 0 {
		t.Fatalf("transfer sale must not post before confirmation")
	}

	_, err := env.sales.CompleteLocalSale(ctx, LocalSaleStatusCommand{SaleID: sale.ID, Actor: staff})
	if !errors.Is(err, ErrPaymentGate) {
		t.Fatalf("expected payment gate, got %v", err)
	}

	confirmation := env.submitVoucher(t, localSaleSource(sale.ID), staff)
	if confirmation.ID != "local_sale-"+sale.ID {
		t.Fatalf("unexpected confirmation id %s", confirmation.ID)
	}
	if _, err := env.transfers.ConfirmTransfer(ctx, ConfirmTransferCommand{ConfirmationID: confirmation.ID, ConfirmedAmount: money("12.50"), Actor: otherStaff}); err != nil {
		t.Fatalf("ConfirmTransfer: %v", err)
	}
	if got := env.movementsFor(t, localSaleSource(sale.ID)); len(got) != 0 {
		t.Fatalf("open sale must not post on confirmation, got %d", len(got))
	}

	current, err := env.sales.GetLocalSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetLocalSale: %v", err)
	}
	completed, err := env.sales.CompleteLocalSale(ctx, LocalSaleStatusCommand{SaleID: sale.ID, Actor: staff, ExpectedVersion: &current.Version})
	if err != nil {
		t.Fatalf("CompleteLocalSale: %v", err)
	}
	if completed.Status != domain.LocalSaleStatusCompleted || !completed.TransferConfirmed {
		t.Fatalf("unexpected sale %+v", completed)
	}
	if got := env.movementsFor(t, localSaleSource(sale.ID)); len(got) != 1 {
		t.Fatalf("expected one movement after completion, got %d", len(got))
	}
}

func TestCancelLocalSaleReleasesStockAndVoidsMovement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.recordSale(t, domain.PaymentMethodCash, 2)

	cancelled, err := env.sales.CancelLocalSale(ctx, LocalSaleStatusCommand{SaleID: sale.ID, Actor: staff})
	if err != nil {
		t.Fatalf("CancelLocalSale: %v", err)
	}
	if cancelled.Status != domain.LocalSaleStatusCancelled || cancelled.Version != sale.Version+1 {
		t.Fatalf("unexpected sale %+v", cancelled)
	}
	if got := env.available(t, productGloves); got != 5 {
		t.Fatalf("expected gloves stock restored to 5, got %d", got)
	}
	if got := env.movementsFor(t, localSaleSource(sale.ID)); len(got) != 0 {
		t.Fatalf("expected movement voided, got %d active", len(got))
	}
	if env.events.count(eventMovementVoided) != 1 {
		t.Fatalf("expected movement.voided event")
	}

	if _, err := env.sales.CancelLocalSale(ctx, LocalSaleStatusCommand{SaleID: sale.ID, Actor: staff}); !errors.Is(err, ErrLocalSaleInvalidState) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
}

func TestCancelLocalSaleWithdrawsPendingVoucher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.recordSale(t, domain.PaymentMethodTransfer, 1)
	confirmation := env.submitVoucher(t, localSaleSource(sale.ID), staff)

	if _, err := env.sales.CancelLocalSale(ctx, LocalSaleStatusCommand{SaleID: sale.ID, Actor: staff}); err != nil {
		t.Fatalf("CancelLocalSale: %v", err)
	}
	pending, err := env.transfers.ListPendingConfirmations(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingConfirmations: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending vouchers, got %+v", pending)
	}
	stored, err := env.store.TransferConfirmations().FindByID(ctx, confirmation.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.TransferWithdrawn {
		t.Fatalf("expected withdrawn voucher, got %s", stored.Status)
	}
}

func TestLocalSaleStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	sale := env.recordSale(t, domain.PaymentMethodCash, 1)
	stale := sale.Version + 3

	_, err := env.sales.CancelLocalSale(context.Background(), LocalSaleStatusCommand{SaleID: sale.ID, Actor: staff, ExpectedVersion: &stale})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestRecordLocalSaleValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := RecordLocalSaleCommand{
		Actor:         staff,
		PaymentMethod: domain.PaymentMethodCash,
		Items:         []LineRequest{{ProductID: productWhey, Quantity: 1}},
		Total:         money("25"),
	}

	customerCmd := base
	customerCmd.Actor = customer
	if _, err := env.sales.RecordLocalSale(ctx, customerCmd); !errors.Is(err, ErrLocalSaleForbidden) {
		t.Fatalf("expected forbidden for customer, got %v", err)
	}

	card := base
	card.PaymentMethod = domain.PaymentMethodCard
	if _, err := env.sales.RecordLocalSale(ctx, card); !errors.Is(err, ErrLocalSaleInvalidInput) {
		t.Fatalf("expected card to be rejected, got %v", err)
	}

	wrongTotal := base
	wrongTotal.Total = money("20")
	if _, err := env.sales.RecordLocalSale(ctx, wrongTotal); !errors.Is(err, ErrLocalSaleInvalidInput) {
		t.Fatalf("expected total mismatch, got %v", err)
	}

	tooMany := base
	tooMany.Items = []LineRequest{{ProductID: productWhey, Quantity: initialWhey + 1}}
	tooMany.Total = money("275")
	if _, err := env.sales.RecordLocalSale(ctx, tooMany); !errors.Is(err, ErrStockUnavailable) {
		t.Fatalf("expected stock unavailable, got %v", err)
	}
	if got := env.available(t, productWhey); got != initialWhey {
		t.Fatalf("failed sale must not touch stock, got %d", got)
	}

	if _, err := env.sales.GetLocalSale(ctx, "missing"); !errors.Is(err, ErrLocalSaleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
