package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/gymhub/api/internal/domain"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name     string `firestore:"name"`
	Price    string `firestore:"price"`
	IsActive bool   `firestore:"isActive"`
}

// CatalogRepository reads product prices maintained by the catalog service.
type CatalogRepository struct {
	products *pfirestore.Collection[domain.PriceSnapshot]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a read-only product price reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	products := pfirestore.NewCollection[domain.PriceSnapshot](provider, productsCollection, nil,
		func(snap *firestore.DocumentSnapshot) (domain.PriceSnapshot, error) {
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.PriceSnapshot{}, err
			}
			price, err := parseAmount(doc.Price)
			if err != nil {
				return domain.PriceSnapshot{}, err
			}
			return domain.PriceSnapshot{
				ProductID: snap.Ref.ID,
				Name:      doc.Name,
				UnitPrice: price,
				Active:    doc.IsActive,
			}, nil
		},
	)
	return &CatalogRepository{products: products}, nil
}

func (r *CatalogRepository) GetPriceSnapshot(ctx context.Context, productID string) (domain.PriceSnapshot, error) {
	return r.products.Get(ctx, productID)
}
