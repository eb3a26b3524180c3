package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/gymhub/api/internal/domain"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

const localSalesCollection = "localSales"

// LocalSaleRepository persists counter sales in Firestore.
type LocalSaleRepository struct {
	provider *pfirestore.Provider
	sales    *pfirestore.Collection[domain.LocalSale]
}

var _ repositories.LocalSaleRepository = (*LocalSaleRepository)(nil)

// NewLocalSaleRepository constructs a Firestore-backed local sale repository.
func NewLocalSaleRepository(provider *pfirestore.Provider) (*LocalSaleRepository, error) {
	if provider == nil {
		return nil, errors.New("local sale repository requires firestore provider")
	}
	sales := pfirestore.NewCollection[domain.LocalSale](provider, localSalesCollection,
		func(sale domain.LocalSale) (any, error) { return encodeLocalSale(sale), nil },
		func(snap *firestore.DocumentSnapshot) (domain.LocalSale, error) {
			var doc localSaleDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.LocalSale{}, err
			}
			return decodeLocalSale(snap.Ref.ID, doc)
		},
	)
	return &LocalSaleRepository{provider: provider, sales: sales}, nil
}

func (r *LocalSaleRepository) Insert(ctx context.Context, sale domain.LocalSale) error {
	return r.sales.Create(ctx, sale.ID, sale)
}

// Update follows the same version rules as OrderRepository.Update.
func (r *LocalSaleRepository) Update(ctx context.Context, sale domain.LocalSale, expectedVersion int64) error {
	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		return r.sales.Set(ctx, sale.ID, sale)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		current, err := r.sales.Get(ctx, sale.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return pfirestore.Conflict("localSales.update", fmt.Sprintf("local sale %s version %d, expected %d", sale.ID, current.Version, expectedVersion))
		}
		return r.sales.Set(ctx, sale.ID, sale)
	})
}

func (r *LocalSaleRepository) FindByID(ctx context.Context, saleID string) (domain.LocalSale, error) {
	return r.sales.Get(ctx, strings.TrimSpace(saleID))
}
