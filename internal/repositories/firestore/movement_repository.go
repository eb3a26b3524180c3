package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/gymhub/api/internal/domain"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

const movementsCollection = "financialMovements"

// MovementRepository stores the financial ledger.
type MovementRepository struct {
	movements *pfirestore.Collection[domain.FinancialMovement]
}

var _ repositories.MovementRepository = (*MovementRepository)(nil)

// NewMovementRepository constructs the Firestore-backed ledger.
func NewMovementRepository(provider *pfirestore.Provider) (*MovementRepository, error) {
	if provider == nil {
		return nil, errors.New("movement repository requires firestore provider")
	}
	coll := pfirestore.NewCollection[domain.FinancialMovement](provider, movementsCollection,
		func(m domain.FinancialMovement) (any, error) { return encodeMovement(m), nil },
		func(snap *firestore.DocumentSnapshot) (domain.FinancialMovement, error) {
			var doc movementDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.FinancialMovement{}, err
			}
			return decodeMovement(snap.Ref.ID, doc)
		},
	)
	return &MovementRepository{movements: coll}, nil
}

func (r *MovementRepository) Insert(ctx context.Context, movement domain.FinancialMovement) error {
	return r.movements.Create(ctx, movement.ID, movement)
}

func (r *MovementRepository) Update(ctx context.Context, movement domain.FinancialMovement) error {
	return r.movements.Set(ctx, movement.ID, movement)
}

func (r *MovementRepository) FindByID(ctx context.Context, movementID string) (domain.FinancialMovement, error) {
	return r.movements.Get(ctx, movementID)
}

func (r *MovementRepository) FindActiveBySource(ctx context.Context, source domain.SourceRef) (domain.FinancialMovement, error) {
	found, err := r.movements.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("source.kind", "==", string(source.Kind)).
			Where("source.id", "==", source.ID).
			Where("voided", "==", false).
			Limit(1)
	})
	if err != nil {
		return domain.FinancialMovement{}, err
	}
	if len(found) == 0 {
		return domain.FinancialMovement{}, pfirestore.NotFound("financialMovements.findActiveBySource",
			fmt.Sprintf("no active movement for %s %s", source.Kind, source.ID))
	}
	return found[0], nil
}

func (r *MovementRepository) ListUnassigned(ctx context.Context, limit int) ([]domain.FinancialMovement, error) {
	return r.movements.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("unassigned", "==", true).OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
}
