package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/repositories"
)

var (
	// ErrLocalSaleInvalidInput signals the caller provided invalid data.
	ErrLocalSaleInvalidInput = errors.New("local sale: invalid input")
	// ErrLocalSaleNotFound indicates the sale could not be located.
	ErrLocalSaleNotFound = errors.New("local sale: not found")
	// ErrLocalSaleInvalidState indicates the sale cannot move to the requested status.
	ErrLocalSaleInvalidState = errors.New("local sale: invalid state")
	// ErrLocalSaleForbidden indicates the actor is not staff.
	ErrLocalSaleForbidden = errors.New("local sale: forbidden")
)

// LocalSaleServiceDeps bundles collaborators required to construct the local sale service.
type LocalSaleServiceDeps struct {
	Sales             repositories.LocalSaleRepository
	Confirmations     repositories.TransferConfirmationRepository
	Movements         repositories.MovementRepository
	Catalog           repositories.CatalogRepository
	Stock             StockLedger
	UnitOfWork        repositories.UnitOfWork
	Clock             func() time.Time
	IDGenerator       func() string
	LedgerIDGenerator func() string
	Tolerance         decimal.Decimal
	Events            EventPublisher
	Logger            func(ctx context.Context, event string, fields map[string]any)
	Meter             metric.Meter
}

type localSaleService struct {
	sales      repositories.LocalSaleRepository
	movements  repositories.MovementRepository
	catalog    repositories.CatalogRepository
	stock      StockLedger
	unitOfWork repositories.UnitOfWork
	settle     settlement
	clock      func() time.Time
	newID      func() string
	events     eventSink
	metrics    serviceMetrics
}

// NewLocalSaleService wires dependencies into a concrete LocalSaleService implementation.
func NewLocalSaleService(deps LocalSaleServiceDeps) (LocalSaleService, error) {
	switch {
	case deps.Sales == nil:
		return nil, errors.New("local sale service: sale repository is required")
	case deps.Confirmations == nil:
		return nil, errors.New("local sale service: confirmation repository is required")
	case deps.Movements == nil:
		return nil, errors.New("local sale service: movement repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("local sale service: catalog repository is required")
	case deps.Stock == nil:
		return nil, errors.New("local sale service: stock ledger is required")
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
		ledgerGen = func() string { return ulid.Make().String() }
	}
	tolerance := deps.Tolerance
	if !tolerance.IsPositive() {
		tolerance = DefaultMoneyTolerance
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &localSaleService{
		sales:      deps.Sales,
		movements:  deps.Movements,
		catalog:    deps.Catalog,
		stock:      deps.Stock,
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
		newID:   idGen,
		events:  eventSink{publisher: deps.Events, logger: logger},
		metrics: newServiceMetrics(deps.Meter),
	}, nil
}

// RecordLocalSale reserves stock and stores the sale. Cash sales settle
// immediately; transfer sales stay open until their voucher is confirmed.
func (s *localSaleService) RecordLocalSale(ctx context.Context, cmd RecordLocalSaleCommand) (LocalSale, error) {
	employeeID := strings.TrimSpace(cmd.Actor.ID)
	if employeeID == "" {
		return LocalSale{}, fmt.Errorf("%w: actor is required", ErrLocalSaleInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return LocalSale{}, fmt.Errorf("%w: staff role required", ErrLocalSaleForbidden)
	}
	if cmd.PaymentMethod != domain.PaymentMethodCash && cmd.PaymentMethod != domain.PaymentMethodTransfer {
		return LocalSale{}, fmt.Errorf("%w: local sales accept cash or transfer, got %q", ErrLocalSaleInvalidInput, cmd.PaymentMethod)
	}

	items, subtotal, err := priceLines(ctx, s.catalog, cmd.Items, ErrLocalSaleInvalidInput)
	if err != nil {
		return LocalSale{}, err
	}
	amounts := domain.MoneyBreakdown{
		Subtotal: subtotal,
		Tax:      cmd.Tax,
		Discount: cmd.Discount,
		Total:    cmd.Total,
	}
	if err := checkAmounts(amounts, s.settle.tolerance, ErrLocalSaleInvalidInput); err != nil {
		return LocalSale{}, err
	}

	now := s.now()
	workDate := cmd.WorkDate
	if workDate.IsZero() {
		workDate = now
	}
	workDate = time.Date(workDate.Year(), workDate.Month(), workDate.Day(), 0, 0, 0, 0, time.UTC)

	sale := LocalSale{
		ID:            s.newID(),
		EmployeeID:    employeeID,
		WorkDate:      workDate,
		PaymentMethod: cmd.PaymentMethod,
		PaymentStatus: domain.PaymentStatusTransferPending,
		Status:        domain.LocalSaleStatusOpen,
		Amounts:       amounts,
		Items:         items,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var posted *domain.FinancialMovement
	if sale.PaymentMethod == domain.PaymentMethodCash {
		sale.PaymentStatus = domain.PaymentStatusCompleted
		sale.Status = domain.LocalSaleStatusCompleted
		movement := s.settle.incomeMovement(localSaleSource(sale.ID), domain.MovementCategoryLocalSale, sale.Amounts.Total, "Local sale "+sale.ID, now)
		posted = &movement
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.stock.Reserve(txCtx, sale.ID, stockLines(sale.Items)); err != nil {
			return err
		}
		if err := s.sales.Insert(txCtx, sale); err != nil {
			return s.mapRepositoryError(err)
		}
		if posted != nil {
			if err := s.movements.Insert(txCtx, *posted); err != nil {
				return fmt.Errorf("ledger: post movement: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return LocalSale{}, err
	}

	s.events.publish(ctx, Event{
		Type:          eventLocalSaleRecorded,
		Source:        localSaleSource(sale.ID),
		CurrentStatus: string(sale.Status),
		ActorID:       employeeID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"paymentMethod": string(sale.PaymentMethod),
			"total":         sale.Amounts.Total.StringFixed(2),
		},
	})
	if posted != nil {
		s.metrics.movementCreated(ctx, posted.Category)
		s.events.movementCreated(ctx, *posted, employeeID)
	}
	return sale, nil
}

// CompleteLocalSale closes an open sale once any transfer is confirmed and posts its movement.
func (s *localSaleService) CompleteLocalSale(ctx context.Context, cmd LocalSaleStatusCommand) (LocalSale, error) {
	var posted *domain.FinancialMovement
	sale, previous, err := s.mutate(ctx, cmd, func(txCtx context.Context, sale *LocalSale, now time.Time) error {
		posted = nil
		if sale.Status != domain.LocalSaleStatusOpen {
			return fmt.Errorf("%w: sale %s is %s", ErrLocalSaleInvalidState, sale.ID, sale.Status)
		}
		source := localSaleSource(sale.ID)
		if err := s.settle.gate(txCtx, source, sale.PaymentMethod, sale.Amounts.Total); err != nil {
			return err
		}
		active, err := s.settle.activeMovement(txCtx, source)
		if err != nil {
			return err
		}

		sale.Status = domain.LocalSaleStatusCompleted
		sale.PaymentStatus = domain.PaymentStatusCompleted
		if active == nil {
			movement := s.settle.incomeMovement(source, domain.MovementCategoryLocalSale, sale.Amounts.Total, "Local sale "+sale.ID, now)
			if err := s.movements.Insert(txCtx, movement); err != nil {
				return fmt.Errorf("ledger: post movement: %w", err)
			}
			posted = &movement
		}
		return nil
	})
	if err != nil {
		return LocalSale{}, err
	}

	s.publishStatus(ctx, sale, previous, cmd.Actor.ID)
	if posted != nil {
		s.metrics.movementCreated(ctx, posted.Category)
		s.events.movementCreated(ctx, *posted, cmd.Actor.ID)
	}
	return sale, nil
}

// CancelLocalSale releases the reserved stock and voids any posted movement.
func (s *localSaleService) CancelLocalSale(ctx context.Context, cmd LocalSaleStatusCommand) (LocalSale, error) {
	var voided *domain.FinancialMovement
	sale, previous, err := s.mutate(ctx, cmd, func(txCtx context.Context, sale *LocalSale, now time.Time) error {
		voided = nil
		if sale.Status == domain.LocalSaleStatusCancelled {
			return fmt.Errorf("%w: sale %s is already cancelled", ErrLocalSaleInvalidState, sale.ID)
		}
		source := localSaleSource(sale.ID)
		active, err := s.settle.activeMovement(txCtx, source)
		if err != nil {
			return err
		}
		voucher, err := s.settle.openVoucher(txCtx, source, sale.PaymentMethod)
		if err != nil {
			return err
		}

		sale.Status = domain.LocalSaleStatusCancelled
		if err := s.stock.Release(txCtx, sale.ID, stockLines(sale.Items)); err != nil {
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
		return nil
	})
	if err != nil {
		return LocalSale{}, err
	}

	s.publishStatus(ctx, sale, previous, cmd.Actor.ID)
	if voided != nil {
		s.events.movementVoided(ctx, *voided, cmd.Actor.ID, sale.UpdatedAt)
	}
	return sale, nil
}

func (s *localSaleService) GetLocalSale(ctx context.Context, saleID string) (LocalSale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return LocalSale{}, fmt.Errorf("%w: sale id is required", ErrLocalSaleInvalidInput)
	}
	sale, err := s.sales.FindByID(ctx, saleID)
	if err != nil {
		return LocalSale{}, s.mapRepositoryError(err)
	}
	return sale, nil
}

// mutate loads the sale, applies fn and writes it back with a version bump in one unit of work.
func (s *localSaleService) mutate(ctx context.Context, cmd LocalSaleStatusCommand, fn func(context.Context, *LocalSale, time.Time) error) (LocalSale, domain.LocalSaleStatus, error) {
	saleID := strings.TrimSpace(cmd.SaleID)
	if saleID == "" {
		return LocalSale{}, "", fmt.Errorf("%w: sale id is required", ErrLocalSaleInvalidInput)
	}
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return LocalSale{}, "", fmt.Errorf("%w: actor is required", ErrLocalSaleInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return LocalSale{}, "", fmt.Errorf("%w: staff role required", ErrLocalSaleForbidden)
	}

	var (
		updated  LocalSale
		previous domain.LocalSaleStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		sale, err := s.sales.FindByID(txCtx, saleID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != sale.Version {
			return &ConcurrentModificationError{
				Entity:          "local_sale",
				ID:              sale.ID,
				ExpectedVersion: *cmd.ExpectedVersion,
				ActualVersion:   sale.Version,
			}
		}

		now := s.now()
		expected := sale.Version
		previous = sale.Status
		if err := fn(txCtx, &sale, now); err != nil {
			return err
		}
		sale.Version++
		sale.UpdatedAt = now

		if err := s.sales.Update(txCtx, sale, expected); err != nil {
			if isConflict(err) {
				return &ConcurrentModificationError{Entity: "local_sale", ID: sale.ID}
			}
			return s.mapRepositoryError(err)
		}
		updated = sale
		return nil
	})
	if err != nil {
		return LocalSale{}, "", err
	}
	return updated, previous, nil
}

func (s *localSaleService) publishStatus(ctx context.Context, sale LocalSale, previous domain.LocalSaleStatus, actorID string) {
	s.events.publish(ctx, Event{
		Type:           eventLocalSaleStatusChange,
		Source:         localSaleSource(sale.ID),
		PreviousStatus: string(previous),
		CurrentStatus:  string(sale.Status),
		ActorID:        actorID,
		OccurredAt:     sale.UpdatedAt,
		Metadata:       map[string]any{"version": sale.Version},
	})
}

func (s *localSaleService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrLocalSaleNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrLocalSaleInvalidState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("local sale: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *localSaleService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *localSaleService) now() time.Time {
	return s.clock()
}

func localSaleSource(saleID string) domain.SourceRef {
	return domain.SourceRef{Kind: domain.SourceLocalSale, ID: saleID}
}
