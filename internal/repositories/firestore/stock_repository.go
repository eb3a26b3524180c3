package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/gymhub/api/internal/domain"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

const (
	stockCollection             = "stock"
	stockReservationsCollection = "stockReservations"

	reservationStatusReserved = "reserved"
	reservationStatusReleased = "released"
)

type stockDocument struct {
	Available int       `firestore:"available"`
	Reserved  int       `firestore:"reserved"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type stockReservationDocument struct {
	Key        string     `firestore:"key"`
	ProductID  string     `firestore:"productId"`
	Quantity   int        `firestore:"quantity"`
	Status     string     `firestore:"status"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	ReleasedAt *time.Time `firestore:"releasedAt,omitempty"`
}

// StockRepository keeps per-product availability plus one reservation document
// per (key, product) pair, which makes reserve and release idempotent.
type StockRepository struct {
	provider     *pfirestore.Provider
	stock        *pfirestore.Collection[stockDocument]
	reservations *pfirestore.Collection[stockReservationDocument]
}

var _ repositories.StockRepository = (*StockRepository)(nil)

// NewStockRepository constructs the Firestore-backed stock ledger.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:     provider,
		stock:        pfirestore.NewCollection[stockDocument](provider, stockCollection, nil, nil),
		reservations: pfirestore.NewCollection[stockReservationDocument](provider, stockReservationsCollection, nil, nil),
	}, nil
}

func reservationID(key, productID string) string {
	return key + "_" + productID
}

type stockLineState struct {
	line        domain.StockLine
	stock       stockDocument
	reservation *stockReservationDocument
}

// load reads every reservation and stock document up front since Firestore
// transactions reject reads after writes.
func (r *StockRepository) load(ctx context.Context, op string, req repositories.StockRequest) ([]stockLineState, error) {
	lines, err := req.Normalized(op)
	if err != nil {
		return nil, err
	}
	states := make([]stockLineState, 0, len(lines))
	for _, line := range lines {
		state := stockLineState{line: line}
		res, err := r.reservations.Get(ctx, reservationID(req.Key, line.ProductID))
		switch {
		case err == nil:
			state.reservation = &res
		case !isNotFound(err):
			return nil, err
		}
		state.stock, err = r.stock.Get(ctx, line.ProductID)
		if err != nil {
			if isNotFound(err) {
				return nil, &repositories.StockError{
					Op:        op,
					Code:      repositories.StockErrorProductNotFound,
					ProductID: line.ProductID,
					Message:   fmt.Sprintf("product %s has no stock record", line.ProductID),
					Err:       err,
				}
			}
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (r *StockRepository) Reserve(ctx context.Context, req repositories.StockRequest) ([]domain.StockLevel, error) {
	const op = "stock.reserve"
	now := req.Now.UTC()
	var levels []domain.StockLevel

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		levels = nil
		states, err := r.load(ctx, op, req)
		if err != nil {
			return err
		}
		for _, state := range states {
			if state.reservation == nil && state.stock.Available < state.line.Quantity {
				return repositories.NewInsufficientStockError(op, state.line.ProductID, state.line.Quantity, state.stock.Available)
			}
		}
		for _, state := range states {
			if state.reservation == nil {
				state.stock.Available -= state.line.Quantity
				state.stock.Reserved += state.line.Quantity
				state.stock.UpdatedAt = now
				if err := r.stock.Set(ctx, state.line.ProductID, state.stock); err != nil {
					return err
				}
				doc := stockReservationDocument{
					Key:       req.Key,
					ProductID: state.line.ProductID,
					Quantity:  state.line.Quantity,
					Status:    reservationStatusReserved,
					CreatedAt: now,
				}
				if err := r.reservations.Create(ctx, reservationID(req.Key, state.line.ProductID), doc); err != nil {
					return err
				}
			}
			levels = append(levels, toStockLevel(state.line.ProductID, state.stock))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

func (r *StockRepository) Release(ctx context.Context, req repositories.StockRequest) ([]domain.StockLevel, error) {
	const op = "stock.release"
	now := req.Now.UTC()
	var levels []domain.StockLevel

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		levels = nil
		states, err := r.load(ctx, op, req)
		if err != nil {
			return err
		}
		for _, state := range states {
			res := state.reservation
			if res != nil && res.Status == reservationStatusReserved {
				state.stock.Available += res.Quantity
				state.stock.Reserved = max(state.stock.Reserved-res.Quantity, 0)
				state.stock.UpdatedAt = now
				if err := r.stock.Set(ctx, state.line.ProductID, state.stock); err != nil {
					return err
				}
				res.Status = reservationStatusReleased
				res.ReleasedAt = &now
				if err := r.reservations.Set(ctx, reservationID(req.Key, state.line.ProductID), *res); err != nil {
					return err
				}
			}
			levels = append(levels, toStockLevel(state.line.ProductID, state.stock))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

func (r *StockRepository) GetLevel(ctx context.Context, productID string) (domain.StockLevel, error) {
	doc, err := r.stock.Get(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return toStockLevel(productID, doc), nil
}

func (r *StockRepository) SetLevel(ctx context.Context, productID string, available int, now time.Time) error {
	if available < 0 {
		return repositories.NewStockError("stock.setLevel", repositories.StockErrorInvalidInput, "available must not be negative")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		doc, err := r.stock.Get(ctx, productID)
		if err != nil && !isNotFound(err) {
			return err
		}
		doc.Available = available
		doc.UpdatedAt = now.UTC()
		return r.stock.Set(ctx, productID, doc)
	})
}

func toStockLevel(productID string, doc stockDocument) domain.StockLevel {
	return domain.StockLevel{
		ProductID: productID,
		Available: doc.Available,
		Reserved:  doc.Reserved,
		UpdatedAt: doc.UpdatedAt,
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
