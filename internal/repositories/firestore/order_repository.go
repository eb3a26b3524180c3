package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/gymhub/api/internal/domain"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/platform/pagination"
	"github.com/gymhub/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewCollection[domain.Order](provider, ordersCollection,
		func(order domain.Order) (any, error) { return encodeOrder(order), nil },
		func(snap *firestore.DocumentSnapshot) (domain.Order, error) {
			var doc orderDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.Order{}, err
			}
			return decodeOrder(snap.Ref.ID, doc)
		},
	)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, order)
}

// Update writes order when the stored version equals expectedVersion. Inside a
// transaction the caller has already read the order in the same transaction,
// so the write relies on Firestore's transactional isolation instead of a
// second read.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		return r.orders.Set(ctx, order.ID, order)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		current, err := r.orders.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return pfirestore.Conflict("orders.update", fmt.Sprintf("order %s version %d, expected %d", order.ID, current.Version, expectedVersion))
		}
		return r.orders.Set(ctx, order.ID, order)
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.orders.Get(ctx, strings.TrimSpace(orderID))
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	if len(statuses) > 10 {
		statuses = statuses[:10]
	}

	items, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
			q = q.Where("customerId", "==", customer)
		}
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.After, cursor.ID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	page := domain.Page[domain.Order]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{After: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
	}
	return page, nil
}
