package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/textutil"
	"github.com/gymhub/api/internal/repositories"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
	voucherPathPrefix   = "vouchers"
)

var voucherContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

var (
	// ErrTransferInvalidInput signals the caller provided invalid data.
	ErrTransferInvalidInput = errors.New("transfer: invalid input")
	// ErrTransferNotFound indicates the confirmation or its order/sale could not be located.
	ErrTransferNotFound = errors.New("transfer: not found")
	// ErrTransferAlreadyConfirmed indicates the voucher was already verified.
	ErrTransferAlreadyConfirmed = errors.New("transfer: already confirmed")
	// ErrTransferInvalidState indicates the order or sale no longer accepts vouchers.
	ErrTransferInvalidState = errors.New("transfer: invalid state")
	// ErrTransferForbidden indicates the actor may not act on the order or sale.
	ErrTransferForbidden = errors.New("transfer: forbidden")
	// ErrTransferUnavailable indicates an optional collaborator is not configured.
	ErrTransferUnavailable = errors.New("transfer: unavailable")
)

// TransferServiceDeps bundles collaborators required to construct the transfer service.
type TransferServiceDeps struct {
	Orders            repositories.OrderRepository
	Sales             repositories.LocalSaleRepository
	Confirmations     repositories.TransferConfirmationRepository
	Movements         repositories.MovementRepository
	UnitOfWork        repositories.UnitOfWork
	Uploads           VoucherURLSigner
	Clock             func() time.Time
	LedgerIDGenerator func() string
	Tolerance         decimal.Decimal
	Events            EventPublisher
	Logger            func(ctx context.Context, event string, fields map[string]any)
	Meter             metric.Meter
}

type transferService struct {
	orders        repositories.OrderRepository
	sales         repositories.LocalSaleRepository
	confirmations repositories.TransferConfirmationRepository
	movements     repositories.MovementRepository
	unitOfWork    repositories.UnitOfWork
	uploads       VoucherURLSigner
	settle        settlement
	clock         func() time.Time
	newID         func() string
	events        eventSink
	logger        func(context.Context, string, map[string]any)
	metrics       serviceMetrics
}

// NewTransferService wires dependencies into a concrete TransferService implementation.
func NewTransferService(deps TransferServiceDeps) (TransferService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("transfer service: order repository is required")
	case deps.Sales == nil:
		return nil, errors.New("transfer service: local sale repository is required")
	case deps.Confirmations == nil:
		return nil, errors.New("transfer service: confirmation repository is required")
	case deps.Movements == nil:
		return nil, errors.New("transfer service: movement repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
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

	return &transferService{
		orders:        deps.Orders,
		sales:         deps.Sales,
		confirmations: deps.Confirmations,
		movements:     deps.Movements,
		unitOfWork:    unit,
		uploads:       deps.Uploads,
		settle: settlement{
			confirmations: deps.Confirmations,
			movements:     deps.Movements,
			tolerance:     tolerance,
			newID:         ledgerGen,
		},
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   ledgerGen,
		events:  eventSink{publisher: deps.Events, logger: logger},
		logger:  logger,
		metrics: newServiceMetrics(deps.Meter),
	}, nil
}

// transferTarget is the order or local sale a confirmation belongs to.
type transferTarget struct {
	source    domain.SourceRef
	method    domain.PaymentMethod
	total     decimal.Decimal
	ownerID   string
	staffOnly bool
	closed    bool
	// settled reports a delivered/picked up order or a completed sale.
	settled     bool
	category    string
	description string
	// markConfirmed writes the transferConfirmed flag and a version bump.
	markConfirmed func(ctx context.Context, now time.Time) error
}

func (s *transferService) loadTarget(ctx context.Context, source domain.SourceRef) (transferTarget, error) {
	id := strings.TrimSpace(source.ID)
	if id == "" {
		return transferTarget{}, fmt.Errorf("%w: order or local sale id is required", ErrTransferInvalidInput)
	}
	source.ID = id

	switch source.Kind {
	case domain.SourceOrder:
		order, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return transferTarget{}, s.mapRepositoryError(err)
		}
		return transferTarget{
			source:      source,
			method:      order.PaymentMethod,
			total:       order.Amounts.Total,
			ownerID:     order.CustomerID,
			closed:      order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded,
			settled:     isTerminalSuccess(order.Status),
			category:    domain.MovementCategoryOrderSale,
			description: "Order " + order.OrderNumber,
			markConfirmed: func(ctx context.Context, now time.Time) error {
				expected := order.Version
				order.TransferConfirmed = true
				order.PaymentStatus = domain.PaymentStatusCompleted
				order.Version++
				order.UpdatedAt = now
				if err := s.orders.Update(ctx, order, expected); err != nil {
					if isConflict(err) {
						return &ConcurrentModificationError{Entity: "order", ID: order.ID}
					}
					return s.mapRepositoryError(err)
				}
				return nil
			},
		}, nil
	case domain.SourceLocalSale:
		sale, err := s.sales.FindByID(ctx, id)
		if err != nil {
			return transferTarget{}, s.mapRepositoryError(err)
		}
		return transferTarget{
			source:      source,
			method:      sale.PaymentMethod,
			total:       sale.Amounts.Total,
			ownerID:     sale.EmployeeID,
			staffOnly:   true,
			closed:      sale.Status == domain.LocalSaleStatusCancelled,
			settled:     sale.Status == domain.LocalSaleStatusCompleted,
			category:    domain.MovementCategoryLocalSale,
			description: "Local sale " + sale.ID,
			markConfirmed: func(ctx context.Context, now time.Time) error {
				expected := sale.Version
				sale.TransferConfirmed = true
				sale.PaymentStatus = domain.PaymentStatusCompleted
				sale.Version++
				sale.UpdatedAt = now
				if err := s.sales.Update(ctx, sale, expected); err != nil {
					if isConflict(err) {
						return &ConcurrentModificationError{Entity: "local_sale", ID: sale.ID}
					}
					return s.mapRepositoryError(err)
				}
				return nil
			},
		}, nil
	default:
		return transferTarget{}, fmt.Errorf("%w: unsupported source kind %q", ErrTransferInvalidInput, source.Kind)
	}
}

func (t transferTarget) authorize(actor Actor) error {
	if actor.IsStaff() {
		return nil
	}
	if t.staffOnly || t.ownerID != strings.TrimSpace(actor.ID) {
		return fmt.Errorf("%w: %s %s belongs to another account", ErrTransferForbidden, t.source.Kind, t.source.ID)
	}
	return nil
}

// SubmitVoucher creates or overwrites the single unconfirmed voucher of an order or sale.
func (s *transferService) SubmitVoucher(ctx context.Context, cmd SubmitVoucherCommand) (TransferConfirmation, error) {
	actorID := strings.TrimSpace(cmd.Actor.ID)
	if actorID == "" {
		return TransferConfirmation{}, fmt.Errorf("%w: actor is required", ErrTransferInvalidInput)
	}
	description := textutil.SanitizeNotes(cmd.VoucherDescription, maxNotesLength)
	if description == "" {
		return TransferConfirmation{}, fmt.Errorf("%w: voucher description is required", ErrTransferInvalidInput)
	}
	reference := textutil.NormalizeBankReference(cmd.BankReference)
	objectPath := strings.TrimSpace(cmd.VoucherObjectPath)
	if objectPath != "" && !strings.HasPrefix(objectPath, voucherPrefix(cmd.Source)) {
		return TransferConfirmation{}, fmt.Errorf("%w: voucher object does not belong to %s %s", ErrTransferInvalidInput, cmd.Source.Kind, cmd.Source.ID)
	}

	var saved TransferConfirmation
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		target, err := s.loadTarget(txCtx, cmd.Source)
		if err != nil {
			return err
		}
		if err := target.authorize(cmd.Actor); err != nil {
			return err
		}
		if target.method != domain.PaymentMethodTransfer {
			return fmt.Errorf("%w: %s %s is not paid by transfer", ErrTransferInvalidInput, target.source.Kind, target.source.ID)
		}
		if target.closed {
			return fmt.Errorf("%w: %s %s is closed", ErrTransferInvalidState, target.source.Kind, target.source.ID)
		}

		id := domain.ConfirmationIDFor(target.source)
		existing, err := s.confirmations.FindByID(txCtx, id)
		switch {
		case err == nil && existing.Status == domain.TransferConfirmed:
			return fmt.Errorf("%w: confirmation %s", ErrTransferAlreadyConfirmed, id)
		case err != nil && !isNotFound(err):
			return s.mapRepositoryError(err)
		}

		now := s.now()
		saved = TransferConfirmation{
			ID:                 id,
			Source:             target.source,
			VoucherDescription: description,
			BankReference:      reference,
			VoucherObjectPath:  objectPath,
			Status:             domain.TransferUnconfirmed,
			ExpectedAmount:     target.total,
			SubmittedAt:        now,
			UpdatedAt:          now,
		}
		if err := s.confirmations.Save(txCtx, saved); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return TransferConfirmation{}, err
	}

	s.events.publish(ctx, Event{
		Type:          eventTransferSubmitted,
		Source:        saved.Source,
		CurrentStatus: string(saved.Status),
		ActorID:       actorID,
		OccurredAt:    saved.SubmittedAt,
		Metadata: map[string]any{
			"confirmationId": saved.ID,
			"bankReference":  saved.BankReference,
		},
	})
	return saved, nil
}

// ConfirmTransfer verifies the voucher amount, unblocks the order or sale and
// posts its movement when it already reached a settled status.
func (s *transferService) ConfirmTransfer(ctx context.Context, cmd ConfirmTransferCommand) (TransferConfirmation, error) {
	confirmationID := strings.TrimSpace(cmd.ConfirmationID)
	if confirmationID == "" {
		return TransferConfirmation{}, fmt.Errorf("%w: confirmation id is required", ErrTransferInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.Actor.ID)
	if actorID == "" {
		return TransferConfirmation{}, fmt.Errorf("%w: actor is required", ErrTransferInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return TransferConfirmation{}, fmt.Errorf("%w: staff role required", ErrTransferForbidden)
	}
	if !cmd.ConfirmedAmount.IsPositive() {
		return TransferConfirmation{}, fmt.Errorf("%w: confirmed amount must be positive", ErrTransferInvalidInput)
	}
	notes := textutil.SanitizeNotes(cmd.Notes, maxNotesLength)

	var (
		confirmed TransferConfirmation
		posted    *domain.FinancialMovement
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		posted = nil

		confirmation, err := s.confirmations.FindByID(txCtx, confirmationID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		switch confirmation.Status {
		case domain.TransferConfirmed:
			return fmt.Errorf("%w: confirmation %s", ErrTransferAlreadyConfirmed, confirmation.ID)
		case domain.TransferWithdrawn:
			return fmt.Errorf("%w: confirmation %s was withdrawn", ErrTransferInvalidState, confirmation.ID)
		}
		target, err := s.loadTarget(txCtx, confirmation.Source)
		if err != nil {
			return err
		}
		if target.closed {
			return fmt.Errorf("%w: %s %s is closed", ErrTransferInvalidState, target.source.Kind, target.source.ID)
		}
		active, err := s.settle.activeMovement(txCtx, target.source)
		if err != nil {
			return err
		}
		if !withinTolerance(cmd.ConfirmedAmount, target.total, s.settle.tolerance) {
			return &AmountMismatchError{
				ConfirmationID: confirmation.ID,
				Expected:       target.total,
				Confirmed:      cmd.ConfirmedAmount,
				Tolerance:      s.settle.tolerance,
			}
		}

		now := s.now()
		confirmation.Status = domain.TransferConfirmed
		confirmation.ConfirmedAmount = valuePtr(cmd.ConfirmedAmount)
		confirmation.ConfirmedBy = valuePtr(actorID)
		confirmation.ConfirmedAt = valuePtr(now)
		confirmation.Notes = notes
		confirmation.UpdatedAt = now
		if err := s.confirmations.Save(txCtx, confirmation); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := target.markConfirmed(txCtx, now); err != nil {
			return err
		}
		if target.settled && active == nil {
			movement := s.settle.incomeMovement(target.source, target.category, target.total, target.description, now)
			if err := s.movements.Insert(txCtx, movement); err != nil {
				return fmt.Errorf("ledger: post movement: %w", err)
			}
			posted = &movement
		}

		confirmed = confirmation
		return nil
	})
	if err != nil {
		return TransferConfirmation{}, err
	}

	s.metrics.transferConfirmed(ctx, string(confirmed.Source.Kind))
	s.events.publish(ctx, Event{
		Type:           eventTransferConfirmed,
		Source:         confirmed.Source,
		PreviousStatus: string(domain.TransferUnconfirmed),
		CurrentStatus:  string(confirmed.Status),
		ActorID:        actorID,
		OccurredAt:     confirmed.UpdatedAt,
		Metadata: map[string]any{
			"confirmationId": confirmed.ID,
			"amount":         confirmed.ConfirmedAmount.StringFixed(2),
		},
	})
	if posted != nil {
		s.metrics.movementCreated(ctx, posted.Category)
		s.events.movementCreated(ctx, *posted, actorID)
	}
	return confirmed, nil
}

func (s *transferService) ListPendingConfirmations(ctx context.Context, limit int) ([]TransferConfirmation, error) {
	switch {
	case limit <= 0:
		limit = defaultPendingLimit
	case limit > maxPendingLimit:
		limit = maxPendingLimit
	}
	pending, err := s.confirmations.ListPending(ctx, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return pending, nil
}

// CreateVoucherUploadURL signs an upload slot under vouchers/<kind>/<id>/.
func (s *transferService) CreateVoucherUploadURL(ctx context.Context, cmd VoucherUploadCommand) (VoucherUpload, error) {
	if s.uploads == nil {
		return VoucherUpload{}, fmt.Errorf("%w: voucher uploads are not configured", ErrTransferUnavailable)
	}
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return VoucherUpload{}, fmt.Errorf("%w: actor is required", ErrTransferInvalidInput)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	ext, ok := voucherContentTypes[contentType]
	if !ok {
		return VoucherUpload{}, fmt.Errorf("%w: content type %q is not accepted", ErrTransferInvalidInput, cmd.ContentType)
	}

	target, err := s.loadTarget(ctx, cmd.Source)
	if err != nil {
		return VoucherUpload{}, err
	}
	if err := target.authorize(cmd.Actor); err != nil {
		return VoucherUpload{}, err
	}
	if target.method != domain.PaymentMethodTransfer {
		return VoucherUpload{}, fmt.Errorf("%w: %s %s is not paid by transfer", ErrTransferInvalidInput, target.source.Kind, target.source.ID)
	}

	objectPath := voucherPrefix(target.source) + s.newID() + ext
	upload, err := s.uploads.SignVoucherUpload(ctx, objectPath, contentType)
	if err != nil {
		s.logger(ctx, "transfer.voucher.sign_failed", map[string]any{
			"object": objectPath,
			"error":  err.Error(),
		})
		return VoucherUpload{}, fmt.Errorf("%w: sign voucher upload: %v", ErrTransferUnavailable, err)
	}
	upload.ObjectPath = objectPath
	return upload, nil
}

func voucherPrefix(source domain.SourceRef) string {
	return fmt.Sprintf("%s/%s/%s/", voucherPathPrefix, source.Kind, strings.TrimSpace(source.ID))
}

func (s *transferService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTransferNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTransferInvalidState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("transfer: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *transferService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *transferService) now() time.Time {
	return s.clock()
}
