package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/textutil"
	"github.com/gymhub/api/internal/repositories"
)

const (
	defaultAdvanceBatch = 100
	defaultOrderPage    = 20
	maxOrderPage        = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a duplicate order.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor may not perform the operation on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Logs          repositories.TransitionLogRepository
	Confirmations repositories.TransferConfirmationRepository
	Movements     repositories.MovementRepository
	Catalog       repositories.CatalogRepository
	Stock         StockLedger
	Counters      CounterService
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	// IDGenerator issues order ids. Defaults to random UUIDs.
	IDGenerator func() string
	// LedgerIDGenerator issues sortable ids for log rows and movements. Defaults to ULIDs.
	LedgerIDGenerator func() string
	Tolerance         decimal.Decimal
	MaxAdvanceBatch   int
	Events            EventPublisher
	Logger            func(ctx context.Context, event string, fields map[string]any)
	Meter             metric.Meter
}

type orderService struct {
	orders     repositories.OrderRepository
	logs       repositories.TransitionLogRepository
	movements  repositories.MovementRepository
	catalog    repositories.CatalogRepository
	stock      StockLedger
	counters   CounterService
	unitOfWork repositories.UnitOfWork
	settle     settlement
	clock      func() time.Time
	newID      func() string
	newLedger  func() string
	maxBatch   int
	events     eventSink
	logger     func(context.Context, string, map[string]any)
	metrics    serviceMetrics
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Logs == nil:
		return nil, errors.New("order service: transition log repository is required")
	case deps.Confirmations == nil:
		return nil, errors.New("order service: confirmation repository is required")
	case deps.Movements == nil:
		return nil, errors.New("order service: movement repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Stock == nil:
		return nil, errors.New("order service: stock ledger is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}

	ledgerGen := deps.LedgerIDGenerator
	if ledgerGen == nil {
		ledgerGen = func() string {
			return ulid.Make().String()
		}
	}

	tolerance := deps.Tolerance
	if !tolerance.IsPositive() {
		tolerance = DefaultMoneyTolerance
	}

	maxBatch := deps.MaxAdvanceBatch
	if maxBatch <= 0 {
		maxBatch = defaultAdvanceBatch
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &orderService{
		orders:     deps.Orders,
		logs:       deps.Logs,
		movements:  deps.Movements,
		catalog:    deps.Catalog,
		stock:      deps.Stock,
		counters:   deps.Counters,
		unitOfWork: unit,
		settle: settlement{
			confirmations: deps.Confirmations,
			movements:     deps.Movements,
			tolerance:     tolerance,
			newID:         ledgerGen,
		},
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newLedger: ledgerGen,
		maxBatch:  maxBatch,
		events:    eventSink{publisher: deps.Events, logger: logger},
		logger:    logger,
		metrics:   newServiceMetrics(deps.Meter),
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	actorID := strings.TrimSpace(cmd.Actor.ID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	customerID := strings.TrimSpace(cmd.CustomerID)
	if !cmd.Actor.IsStaff() {
		if customerID != "" && customerID != actorID {
			return Order{}, fmt.Errorf("%w: customers can only order for themselves", ErrOrderForbidden)
		}
		customerID = actorID
	}
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if !IsKnownDeliveryType(cmd.DeliveryType) {
		return Order{}, fmt.Errorf("%w: unsupported delivery type %q", ErrOrderInvalidInput, cmd.DeliveryType)
	}

	paymentStatus := domain.PaymentStatusPending
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCash, domain.PaymentMethodCard:
	case domain.PaymentMethodTransfer:
		paymentStatus = domain.PaymentStatusTransferPending
	default:
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	items, subtotal, err := priceLines(ctx, s.catalog, cmd.Items, ErrOrderInvalidInput)
	if err != nil {
		return Order{}, err
	}

	amounts := domain.MoneyBreakdown{
		Subtotal: subtotal,
		Tax:      cmd.Tax,
		Shipping: cmd.Shipping,
		Discount: cmd.Discount,
		Total:    cmd.Total,
	}
	if err := checkAmounts(amounts, s.settle.tolerance, ErrOrderInvalidInput); err != nil {
		return Order{}, err
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:            s.newID(),
		OrderNumber:   number,
		CustomerID:    customerID,
		DeliveryType:  cmd.DeliveryType,
		Status:        domain.OrderStatusPending,
		PaymentMethod: cmd.PaymentMethod,
		PaymentStatus: paymentStatus,
		Amounts:       amounts,
		Items:         items,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.stock.Reserve(txCtx, order.ID, stockLines(order.Items)); err != nil {
			return err
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.events.publish(ctx, Event{
		Type:          eventOrderCreated,
		Source:        orderSource(order.ID),
		CurrentStatus: string(order.Status),
		ActorID:       actorID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"orderNumber":   order.OrderNumber,
			"deliveryType":  string(order.DeliveryType),
			"paymentMethod": string(order.PaymentMethod),
			"total":         order.Amounts.Total.StringFixed(2),
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	customerID := strings.TrimSpace(filter.CustomerID)
	if !filter.Actor.IsStaff() {
		actorID := strings.TrimSpace(filter.Actor.ID)
		if actorID == "" {
			return domain.Page[Order]{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
		}
		if customerID != "" && customerID != actorID {
			return domain.Page[Order]{}, fmt.Errorf("%w: customers can only list their own orders", ErrOrderForbidden)
		}
		customerID = actorID
	}
	for _, status := range filter.Statuses {
		if !slices.Contains(OrderStatuses(), status) {
			return domain.Page[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	pageSize := filter.Pagination.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultOrderPage
	case pageSize > maxOrderPage:
		pageSize = maxOrderPage
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID: customerID,
		Statuses:   slices.Clone(filter.Statuses),
		Pagination: domain.Pagination{PageSize: pageSize, PageToken: filter.Pagination.PageToken},
	})
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Transition(ctx context.Context, cmd TransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(string(cmd.Status)) == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.Actor.ID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	notes := textutil.SanitizeNotes(cmd.Notes, maxNotesLength)

	var (
		updated  Order
		previous domain.OrderStatus
		posted   *domain.FinancialMovement
		voided   *domain.FinancialMovement
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		posted, voided = nil, nil

		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := authorizeTransition(cmd.Actor, order, cmd.Status); err != nil {
			return err
		}
		if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != order.Version {
			return &ConcurrentModificationError{
				Entity:          "order",
				ID:              order.ID,
				ExpectedVersion: *cmd.ExpectedVersion,
				ActualVersion:   order.Version,
			}
		}
		if !IsValidTransition(order.Status, cmd.Status, order.DeliveryType) {
			return &InvalidTransitionError{
				OrderID:      order.ID,
				Current:      order.Status,
				Requested:    cmd.Status,
				DeliveryType: order.DeliveryType,
			}
		}

		source := orderSource(order.ID)
		if isForwardStep(cmd.Status) {
			if err := s.settle.gate(txCtx, source, order.PaymentMethod, order.Amounts.Total); err != nil {
				return err
			}
		}

		var (
			active  *domain.FinancialMovement
			voucher *domain.TransferConfirmation
		)
		if cmd.Status == domain.OrderStatusCancelled || isTerminalSuccess(cmd.Status) {
			if active, err = s.settle.activeMovement(txCtx, source); err != nil {
				return err
			}
		}
		if cmd.Status == domain.OrderStatusCancelled {
			if voucher, err = s.settle.openVoucher(txCtx, source, order.PaymentMethod); err != nil {
				return err
			}
		}

		now := s.now()
		expected := order.Version
		previous = order.Status
		order.Status = cmd.Status
		order.Version++
		order.UpdatedAt = now

		switch {
		case cmd.Status == domain.OrderStatusCancelled:
			order.CancelledAt = &now
			if err := s.stock.Release(txCtx, order.ID, stockLines(order.Items)); err != nil {
				return err
			}
			if err := s.settle.withdraw(txCtx, voucher, now); err != nil {
				return err
			}
			if active != nil {
				movement := voidMovement(*active, now)
				if err := s.movements.Update(txCtx, movement); err != nil {
					return fmt.Errorf("ledger: void movement %s: %w", movement.ID, err)
				}
				voided = &movement
			}
		case isTerminalSuccess(cmd.Status):
			order.CompletedAt = &now
			if order.PaymentMethod != domain.PaymentMethodTransfer {
				order.PaymentStatus = domain.PaymentStatusCompleted
			}
			if active == nil {
				movement := s.settle.incomeMovement(source, domain.MovementCategoryOrderSale, order.Amounts.Total, "Order "+order.OrderNumber, now)
				if err := s.movements.Insert(txCtx, movement); err != nil {
					return fmt.Errorf("ledger: post movement: %w", err)
				}
				posted = &movement
			}
		}

		if err := s.orders.Update(txCtx, order, expected); err != nil {
			if isConflict(err) {
				return &ConcurrentModificationError{Entity: "order", ID: order.ID}
			}
			return s.mapRepositoryError(err)
		}
		if err := s.logs.Append(txCtx, domain.StatusTransitionLog{
			ID:         s.newLedger(),
			OrderID:    order.ID,
			FromStatus: previous,
			ToStatus:   order.Status,
			ActorID:    actorID,
			Notes:      notes,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("order: append transition log: %w", err)
		}

		updated = order
		return nil
	})
	if err != nil {
		s.metrics.transitionRejected(ctx, rejectionReason(err))
		return Order{}, err
	}

	s.metrics.transitionApplied(ctx, string(updated.DeliveryType), string(updated.Status))
	metadata := map[string]any{
		"orderNumber":  updated.OrderNumber,
		"deliveryType": string(updated.DeliveryType),
		"version":      updated.Version,
	}
	if notes != "" {
		metadata["notes"] = notes
	}
	s.events.publish(ctx, Event{
		Type:           eventOrderStatusChanged,
		Source:         orderSource(updated.ID),
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        actorID,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       metadata,
	})
	if posted != nil {
		s.metrics.movementCreated(ctx, posted.Category)
		s.events.movementCreated(ctx, *posted, actorID)
	}
	if voided != nil {
		s.events.movementVoided(ctx, *voided, actorID, updated.UpdatedAt)
	}

	return updated, nil
}

func (s *orderService) AdvanceMany(ctx context.Context, cmd AdvanceManyCommand) (AdvanceResult, error) {
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return AdvanceResult{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return AdvanceResult{}, fmt.Errorf("%w: staff role required", ErrOrderForbidden)
	}

	ids := make([]string, 0, len(cmd.OrderIDs))
	for _, id := range cmd.OrderIDs {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return AdvanceResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	if len(ids) > s.maxBatch {
		return AdvanceResult{}, fmt.Errorf("%w: at most %d orders per batch", ErrOrderInvalidInput, s.maxBatch)
	}

	var result AdvanceResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, AdvanceFailure{OrderID: id, Err: err})
			continue
		}

		order, err := s.orders.FindByID(ctx, id)
		if err != nil {
			result.Failed = append(result.Failed, AdvanceFailure{OrderID: id, Err: s.mapRepositoryError(err)})
			continue
		}
		next, ok := NextStatus(order.Status, order.DeliveryType)
		if !ok {
			result.Failed = append(result.Failed, AdvanceFailure{
				OrderID: id,
				Err:     fmt.Errorf("%w: order %s has no next status from %s", ErrInvalidTransition, id, order.Status),
			})
			continue
		}

		version := order.Version
		updated, err := s.Transition(ctx, TransitionCommand{
			OrderID:         id,
			Status:          next,
			Actor:           cmd.Actor,
			Notes:           cmd.Notes,
			ExpectedVersion: &version,
		})
		if err != nil {
			result.Failed = append(result.Failed, AdvanceFailure{OrderID: id, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, updated)
	}

	s.logger(ctx, "order.advance.completed", map[string]any{
		"actor":     cmd.Actor.ID,
		"requested": len(ids),
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
	})
	return result, nil
}

func (s *orderService) ListTransitionLog(ctx context.Context, orderID string) ([]StatusTransitionLog, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	entries, err := s.logs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

// authorizeTransition lets staff drive every edge and customers cancel their
// own orders while still pending.
func authorizeTransition(actor Actor, order Order, requested domain.OrderStatus) error {
	if actor.IsStaff() {
		return nil
	}
	if requested == domain.OrderStatusCancelled &&
		order.Status == domain.OrderStatusPending &&
		order.CustomerID == strings.TrimSpace(actor.ID) {
		return nil
	}
	return fmt.Errorf("%w: staff role required to move order %s to %s", ErrOrderForbidden, order.ID, requested)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrPaymentGate):
		return "payment_gate"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrStockUnavailable):
		return "stock_unavailable"
	case errors.Is(err, ErrOrderForbidden):
		return "forbidden"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func orderSource(orderID string) domain.SourceRef {
	return domain.SourceRef{Kind: domain.SourceOrder, ID: orderID}
}
