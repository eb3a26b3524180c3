package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
)

var (
	// ErrInvalidTransition matches InvalidTransitionError.
	ErrInvalidTransition = errors.New("order: invalid transition")
	// ErrPaymentGate matches PaymentGateError.
	ErrPaymentGate = errors.New("order: transfer not confirmed")
	// ErrAmountMismatch matches AmountMismatchError.
	ErrAmountMismatch = errors.New("transfer: amount mismatch")
	// ErrAlreadyAssigned matches AlreadyAssignedError.
	ErrAlreadyAssigned = errors.New("movement: already assigned")
	// ErrConcurrentModification matches ConcurrentModificationError.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrStockUnavailable matches StockUnavailableError.
	ErrStockUnavailable = errors.New("stock: unavailable")
)

// InvalidTransitionError reports a requested status that is not reachable from the current one.
type InvalidTransitionError struct {
	OrderID      string
	Current      domain.OrderStatus
	Requested    domain.OrderStatus
	DeliveryType domain.DeliveryType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move %s order from %s to %s", e.OrderID, e.DeliveryType, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// PaymentGateError blocks a transfer-paid entity until its voucher is confirmed.
type PaymentGateError struct {
	Source                domain.SourceRef
	PendingConfirmationID string
}

func (e *PaymentGateError) Error() string {
	if e.PendingConfirmationID == "" {
		return fmt.Sprintf("%s %s: transfer payment has no submitted voucher", e.Source.Kind, e.Source.ID)
	}
	return fmt.Sprintf("%s %s: transfer confirmation %s is not confirmed", e.Source.Kind, e.Source.ID, e.PendingConfirmationID)
}

func (e *PaymentGateError) Is(target error) bool { return target == ErrPaymentGate }

// AmountMismatchError reports a confirmed amount outside the tolerance of the expected total.
type AmountMismatchError struct {
	ConfirmationID string
	Expected       decimal.Decimal
	Confirmed      decimal.Decimal
	Tolerance      decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("confirmation %s: amount %s does not match expected %s (tolerance %s)",
		e.ConfirmationID, e.Confirmed.StringFixed(2), e.Expected.StringFixed(2), e.Tolerance.String())
}

func (e *AmountMismatchError) Is(target error) bool { return target == ErrAmountMismatch }

// AlreadyAssignedError reports an adoption attempt on a movement owned by someone else.
type AlreadyAssignedError struct {
	MovementID   string
	RegisteredBy string
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("movement %s: already registered by %s", e.MovementID, e.RegisteredBy)
}

func (e *AlreadyAssignedError) Is(target error) bool { return target == ErrAlreadyAssigned }

// ConcurrentModificationError is returned when the stored version moved underneath the caller.
// Callers reload and retry.
type ConcurrentModificationError struct {
	Entity          string
	ID              string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrentModificationError) Error() string {
	if e.ExpectedVersion == 0 && e.ActualVersion == 0 {
		return fmt.Sprintf("%s %s: modified concurrently", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s %s: expected version %d, found %d", e.Entity, e.ID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConcurrentModificationError) Is(target error) bool { return target == ErrConcurrentModification }

// StockUnavailableError reports a product without enough available quantity.
type StockUnavailableError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockUnavailableError) Is(target error) bool { return target == ErrStockUnavailable }
