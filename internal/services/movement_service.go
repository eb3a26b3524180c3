package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/textutil"
	"github.com/gymhub/api/internal/repositories"
)

const (
	defaultUnassignedLimit = 50
	maxUnassignedLimit     = 200
	maxCategoryLength      = 64
)

var (
	// ErrMovementInvalidInput signals the caller provided invalid data.
	ErrMovementInvalidInput = errors.New("movement: invalid input")
	// ErrMovementNotFound indicates the movement could not be located.
	ErrMovementNotFound = errors.New("movement: not found")
	// ErrMovementInvalidState indicates the movement was voided.
	ErrMovementInvalidState = errors.New("movement: invalid state")
	// ErrMovementForbidden indicates the actor is not staff.
	ErrMovementForbidden = errors.New("movement: forbidden")
)

// MovementServiceDeps bundles collaborators required to construct the movement service.
type MovementServiceDeps struct {
	Movements   repositories.MovementRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Meter       metric.Meter
}

type movementService struct {
	movements  repositories.MovementRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     eventSink
	metrics    serviceMetrics
}

// NewMovementService wires dependencies into a concrete MovementService implementation.
func NewMovementService(deps MovementServiceDeps) (MovementService, error) {
	if deps.Movements == nil {
		return nil, errors.New("movement service: movement repository is required")
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
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &movementService{
		movements:  deps.Movements,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  eventSink{publisher: deps.Events, logger: logger},
		metrics: newServiceMetrics(deps.Meter),
	}, nil
}

// AdoptMovement assigns an automatic movement to the acting staff member.
// Repeating the call as the same actor returns the movement unchanged.
func (s *movementService) AdoptMovement(ctx context.Context, cmd AdoptMovementCommand) (FinancialMovement, error) {
	movementID := strings.TrimSpace(cmd.MovementID)
	if movementID == "" {
		return FinancialMovement{}, fmt.Errorf("%w: movement id is required", ErrMovementInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.Actor.ID)
	if actorID == "" {
		return FinancialMovement{}, fmt.Errorf("%w: actor is required", ErrMovementInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return FinancialMovement{}, fmt.Errorf("%w: staff role required", ErrMovementForbidden)
	}

	var (
		adopted FinancialMovement
		changed bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		changed = false
		movement, err := s.movements.FindByID(txCtx, movementID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if movement.RegisteredBy != nil {
			if *movement.RegisteredBy == actorID {
				adopted = movement
				return nil
			}
			return &AlreadyAssignedError{MovementID: movement.ID, RegisteredBy: *movement.RegisteredBy}
		}
		if movement.Voided {
			return fmt.Errorf("%w: movement %s is voided", ErrMovementInvalidState, movement.ID)
		}

		now := s.clock()
		movement.RegisteredBy = valuePtr(actorID)
		movement.AssignedAt = valuePtr(now)
		if err := s.movements.Update(txCtx, movement); err != nil {
			return s.mapRepositoryError(err)
		}
		adopted = movement
		changed = true
		return nil
	})
	if err != nil {
		return FinancialMovement{}, err
	}

	if changed {
		s.events.publish(ctx, Event{
			Type:       eventMovementAdopted,
			Source:     adopted.Source,
			ActorID:    actorID,
			OccurredAt: *adopted.AssignedAt,
			Metadata:   map[string]any{"movementId": adopted.ID},
		})
	}
	return adopted, nil
}

func (s *movementService) ListUnassignedMovements(ctx context.Context, limit int) ([]FinancialMovement, error) {
	switch {
	case limit <= 0:
		limit = defaultUnassignedLimit
	case limit > maxUnassignedLimit:
		limit = maxUnassignedLimit
	}
	movements, err := s.movements.ListUnassigned(ctx, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return movements, nil
}

// RecordMovement stores a manual entry already attributed to the acting staff member.
func (s *movementService) RecordMovement(ctx context.Context, cmd RecordMovementCommand) (FinancialMovement, error) {
	actorID := strings.TrimSpace(cmd.Actor.ID)
	if actorID == "" {
		return FinancialMovement{}, fmt.Errorf("%w: actor is required", ErrMovementInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return FinancialMovement{}, fmt.Errorf("%w: staff role required", ErrMovementForbidden)
	}
	if cmd.Type != domain.MovementIncome && cmd.Type != domain.MovementExpense {
		return FinancialMovement{}, fmt.Errorf("%w: unsupported movement type %q", ErrMovementInvalidInput, cmd.Type)
	}
	category := strings.ToLower(strings.TrimSpace(cmd.Category))
	if category == "" || len(category) > maxCategoryLength {
		return FinancialMovement{}, fmt.Errorf("%w: category is required and at most %d characters", ErrMovementInvalidInput, maxCategoryLength)
	}
	if !cmd.Amount.IsPositive() {
		return FinancialMovement{}, fmt.Errorf("%w: amount must be positive", ErrMovementInvalidInput)
	}

	now := s.clock()
	movementDate := cmd.MovementDate
	if movementDate.IsZero() {
		movementDate = now
	}

	id := s.newID()
	movement := FinancialMovement{
		ID:           id,
		Type:         cmd.Type,
		Category:     category,
		Amount:       cmd.Amount,
		MovementDate: movementDate.UTC(),
		Description:  textutil.SanitizeNotes(cmd.Description, maxNotesLength),
		RegisteredBy: valuePtr(actorID),
		AssignedAt:   valuePtr(now),
		Source:       domain.SourceRef{Kind: domain.SourceManual, ID: id},
		CreatedAt:    now,
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.movements.Insert(txCtx, movement); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return FinancialMovement{}, err
	}

	s.metrics.movementCreated(ctx, movement.Category)
	s.events.movementCreated(ctx, movement, actorID)
	return movement, nil
}

func (s *movementService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrMovementNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrMovementInvalidState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("movement: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *movementService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}
