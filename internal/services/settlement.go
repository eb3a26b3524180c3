package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/repositories"
)

const (
	eventOrderCreated          = "order.created"
	eventOrderStatusChanged    = "order.status_changed"
	eventLocalSaleRecorded     = "local_sale.recorded"
	eventLocalSaleStatusChange = "local_sale.status_changed"
	eventTransferSubmitted     = "transfer.submitted"
	eventTransferConfirmed     = "transfer.confirmed"
	eventMovementCreated       = "movement.created"
	eventMovementVoided        = "movement.voided"
	eventMovementAdopted       = "movement.adopted"

	maxNotesLength = 1000
)

// DefaultMoneyTolerance is the largest accepted difference between two amounts.
var DefaultMoneyTolerance = decimal.New(1, -2)

// settlement holds the reads and ledger writes shared by orders, local sales and transfers.
type settlement struct {
	confirmations repositories.TransferConfirmationRepository
	movements     repositories.MovementRepository
	tolerance     decimal.Decimal
	newID         func() string
}

// gate fails with PaymentGateError unless a transfer-paid source has a
// confirmed voucher whose amount matches total.
func (s settlement) gate(ctx context.Context, source domain.SourceRef, method domain.PaymentMethod, total decimal.Decimal) error {
	if method != domain.PaymentMethodTransfer {
		return nil
	}
	confirmation, err := s.confirmations.FindByID(ctx, domain.ConfirmationIDFor(source))
	if err != nil {
		if isNotFound(err) {
			return &PaymentGateError{Source: source}
		}
		return fmt.Errorf("transfer: load confirmation: %w", err)
	}
	if confirmation.Status != domain.TransferConfirmed ||
		confirmation.ConfirmedAmount == nil ||
		!withinTolerance(*confirmation.ConfirmedAmount, total, s.tolerance) {
		return &PaymentGateError{Source: source, PendingConfirmationID: confirmation.ID}
	}
	return nil
}

// activeMovement returns the non-voided movement of source, or nil.
func (s settlement) activeMovement(ctx context.Context, source domain.SourceRef) (*domain.FinancialMovement, error) {
	movement, err := s.movements.FindActiveBySource(ctx, source)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: load movement: %w", err)
	}
	return &movement, nil
}

// openVoucher returns the unconfirmed voucher of a transfer-paid source, or nil.
func (s settlement) openVoucher(ctx context.Context, source domain.SourceRef, method domain.PaymentMethod) (*domain.TransferConfirmation, error) {
	if method != domain.PaymentMethodTransfer {
		return nil, nil
	}
	confirmation, err := s.confirmations.FindByID(ctx, domain.ConfirmationIDFor(source))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transfer: load confirmation: %w", err)
	}
	if confirmation.Status != domain.TransferUnconfirmed {
		return nil, nil
	}
	return &confirmation, nil
}

// withdraw takes a voucher out of the pending queue once its source is cancelled.
func (s settlement) withdraw(ctx context.Context, confirmation *domain.TransferConfirmation, now time.Time) error {
	if confirmation == nil {
		return nil
	}
	confirmation.Status = domain.TransferWithdrawn
	confirmation.UpdatedAt = now
	if err := s.confirmations.Save(ctx, *confirmation); err != nil {
		return fmt.Errorf("transfer: withdraw confirmation %s: %w", confirmation.ID, err)
	}
	return nil
}

func (s settlement) incomeMovement(source domain.SourceRef, category string, amount decimal.Decimal, description string, now time.Time) domain.FinancialMovement {
	return domain.FinancialMovement{
		ID:           s.newID(),
		Type:         domain.MovementIncome,
		Category:     category,
		Amount:       amount,
		MovementDate: now,
		Description:  description,
		IsAutomatic:  true,
		Source:       source,
		CreatedAt:    now,
	}
}

func voidMovement(movement domain.FinancialMovement, now time.Time) domain.FinancialMovement {
	movement.Voided = true
	movement.VoidedAt = &now
	return movement
}

func withinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// priceLines freezes catalog prices for the requested products. Repeated
// product ids are merged into the first line.
func priceLines(ctx context.Context, catalog repositories.CatalogRepository, requests []LineRequest, invalid error) ([]domain.LineItem, decimal.Decimal, error) {
	if len(requests) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one item is required", invalid)
	}

	index := make(map[string]int, len(requests))
	items := make([]domain.LineItem, 0, len(requests))
	for _, req := range requests {
		productID := strings.TrimSpace(req.ProductID)
		if productID == "" {
			return nil, decimal.Zero, fmt.Errorf("%w: product id is required", invalid)
		}
		if req.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity for %s must be positive", invalid, productID)
		}
		if i, ok := index[productID]; ok {
			items[i].Quantity += req.Quantity
			continue
		}

		snapshot, err := catalog.GetPriceSnapshot(ctx, productID)
		if err != nil {
			if isNotFound(err) {
				return nil, decimal.Zero, fmt.Errorf("%w: product %s not found", invalid, productID)
			}
			return nil, decimal.Zero, fmt.Errorf("catalog: load %s: %w", productID, err)
		}
		if !snapshot.Active {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s is not available", invalid, productID)
		}
		if snapshot.UnitPrice.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s has a negative price", invalid, productID)
		}

		index[productID] = len(items)
		items = append(items, domain.LineItem{
			ProductID: productID,
			Name:      snapshot.Name,
			UnitPrice: snapshot.UnitPrice,
			Quantity:  req.Quantity,
		})
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return items, subtotal, nil
}

// checkAmounts validates the caller supplied total against the breakdown.
func checkAmounts(amounts domain.MoneyBreakdown, tolerance decimal.Decimal, invalid error) error {
	for name, value := range map[string]decimal.Decimal{
		"tax":      amounts.Tax,
		"shipping": amounts.Shipping,
		"discount": amounts.Discount,
		"total":    amounts.Total,
	} {
		if value.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", invalid, name)
		}
	}
	expected := amounts.Expected()
	if !withinTolerance(amounts.Total, expected, tolerance) {
		return fmt.Errorf("%w: total %s does not match expected %s", invalid, amounts.Total.StringFixed(2), expected.StringFixed(2))
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// eventSink publishes after commit and only logs failures.
type eventSink struct {
	publisher EventPublisher
	logger    func(context.Context, string, map[string]any)
}

func (s eventSink) publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "event.publish.failed", map[string]any{
			"type":   event.Type,
			"source": string(event.Source.Kind) + ":" + event.Source.ID,
			"status": event.CurrentStatus,
			"error":  err.Error(),
		})
	}
}

func (s eventSink) movementCreated(ctx context.Context, movement domain.FinancialMovement, actorID string) {
	s.publish(ctx, Event{
		Type:       eventMovementCreated,
		Source:     movement.Source,
		ActorID:    actorID,
		OccurredAt: movement.CreatedAt,
		Metadata: map[string]any{
			"movementId": movement.ID,
			"category":   movement.Category,
			"amount":     movement.Amount.StringFixed(2),
		},
	})
}

func (s eventSink) movementVoided(ctx context.Context, movement domain.FinancialMovement, actorID string, now time.Time) {
	s.publish(ctx, Event{
		Type:       eventMovementVoided,
		Source:     movement.Source,
		ActorID:    actorID,
		OccurredAt: now,
		Metadata:   map[string]any{"movementId": movement.ID},
	})
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func noopLogger(context.Context, string, map[string]any) {}

func valuePtr[T any](v T) *T {
	return &v
}
