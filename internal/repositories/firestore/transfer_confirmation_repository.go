package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/gymhub/api/internal/domain"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

const transferConfirmationsCollection = "transferConfirmations"

// TransferConfirmationRepository stores vouchers keyed by their source so each
// order or sale has at most one document.
type TransferConfirmationRepository struct {
	confirmations *pfirestore.Collection[domain.TransferConfirmation]
}

var _ repositories.TransferConfirmationRepository = (*TransferConfirmationRepository)(nil)

// NewTransferConfirmationRepository constructs the Firestore-backed repository.
func NewTransferConfirmationRepository(provider *pfirestore.Provider) (*TransferConfirmationRepository, error) {
	if provider == nil {
		return nil, errors.New("transfer confirmation repository requires firestore provider")
	}
	coll := pfirestore.NewCollection[domain.TransferConfirmation](provider, transferConfirmationsCollection,
		func(c domain.TransferConfirmation) (any, error) { return encodeConfirmation(c), nil },
		func(snap *firestore.DocumentSnapshot) (domain.TransferConfirmation, error) {
			var doc confirmationDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.TransferConfirmation{}, err
			}
			return decodeConfirmation(snap.Ref.ID, doc)
		},
	)
	return &TransferConfirmationRepository{confirmations: coll}, nil
}

func (r *TransferConfirmationRepository) Save(ctx context.Context, confirmation domain.TransferConfirmation) error {
	return r.confirmations.Set(ctx, confirmation.ID, confirmation)
}

func (r *TransferConfirmationRepository) FindByID(ctx context.Context, confirmationID string) (domain.TransferConfirmation, error) {
	return r.confirmations.Get(ctx, confirmationID)
}

func (r *TransferConfirmationRepository) FindBySource(ctx context.Context, source domain.SourceRef) (domain.TransferConfirmation, error) {
	return r.confirmations.Get(ctx, domain.ConfirmationIDFor(source))
}

func (r *TransferConfirmationRepository) ListPending(ctx context.Context, limit int) ([]domain.TransferConfirmation, error) {
	return r.confirmations.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.TransferUnconfirmed)).OrderBy("submittedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
}
