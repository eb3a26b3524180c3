package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/gymhub/api/internal/domain"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

const transitionLogsCollection = "orderTransitions"

// TransitionLogRepository appends order status history. Entries are created, never overwritten.
type TransitionLogRepository struct {
	logs *pfirestore.Collection[domain.StatusTransitionLog]
}

var _ repositories.TransitionLogRepository = (*TransitionLogRepository)(nil)

// NewTransitionLogRepository constructs the Firestore-backed transition log.
func NewTransitionLogRepository(provider *pfirestore.Provider) (*TransitionLogRepository, error) {
	if provider == nil {
		return nil, errors.New("transition log repository requires firestore provider")
	}
	coll := pfirestore.NewCollection[domain.StatusTransitionLog](provider, transitionLogsCollection,
		func(entry domain.StatusTransitionLog) (any, error) {
			return transitionLogDocument{
				OrderID:    entry.OrderID,
				FromStatus: string(entry.FromStatus),
				ToStatus:   string(entry.ToStatus),
				ActorID:    entry.ActorID,
				Notes:      entry.Notes,
				CreatedAt:  entry.CreatedAt.UTC(),
			}, nil
		},
		func(snap *firestore.DocumentSnapshot) (domain.StatusTransitionLog, error) {
			var doc transitionLogDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.StatusTransitionLog{}, err
			}
			return domain.StatusTransitionLog{
				ID:         snap.Ref.ID,
				OrderID:    doc.OrderID,
				FromStatus: domain.OrderStatus(doc.FromStatus),
				ToStatus:   domain.OrderStatus(doc.ToStatus),
				ActorID:    doc.ActorID,
				Notes:      doc.Notes,
				CreatedAt:  doc.CreatedAt.In(time.UTC),
			}, nil
		},
	)
	return &TransitionLogRepository{logs: coll}, nil
}

func (r *TransitionLogRepository) Append(ctx context.Context, entry domain.StatusTransitionLog) error {
	return r.logs.Create(ctx, entry.ID, entry)
}

func (r *TransitionLogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.StatusTransitionLog, error) {
	return r.logs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	})
}
