// Package memory provides a process-local repository set. A single mutex
// serialises every transaction, so it suits tests and single-instance
// development runs.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	Op       string
	Msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return fmt.Sprintf("%s: %s", e.Op, e.Msg) }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...), conflict: true}
}

type reservation struct {
	quantity int
	released bool
}

type state struct {
	orders        map[string]domain.Order
	sales         map[string]domain.LocalSale
	confirmations map[string]domain.TransferConfirmation
	movements     map[string]domain.FinancialMovement
	logs          []domain.StatusTransitionLog
	stock         map[string]domain.StockLevel
	reservations  map[string]reservation
	prices        map[string]domain.PriceSnapshot
	counters      map[string]int64
}

func (s state) clone() state {
	return state{
		orders:        maps.Clone(s.orders),
		sales:         maps.Clone(s.sales),
		confirmations: maps.Clone(s.confirmations),
		movements:     maps.Clone(s.movements),
		logs:          slices.Clone(s.logs),
		stock:         maps.Clone(s.stock),
		reservations:  maps.Clone(s.reservations),
		prices:        maps.Clone(s.prices),
		counters:      maps.Clone(s.counters),
	}
}

// Store holds every collection behind one lock.
type Store struct {
	mu     sync.Mutex
	data   state
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store. health may be nil.
func NewStore(health repositories.HealthRepository) *Store {
	return &Store{
		health: health,
		data: state{
			orders:        map[string]domain.Order{},
			sales:         map[string]domain.LocalSale{},
			confirmations: map[string]domain.TransferConfirmation{},
			movements:     map[string]domain.FinancialMovement{},
			stock:         map[string]domain.StockLevel{},
			reservations:  map[string]reservation{},
			prices:        map[string]domain.PriceSnapshot{},
			counters:      map[string]int64{},
		},
	}
}

type txKey struct{}

// RunInTx serialises fn against every other transaction and restores the
// previous state when fn fails or ctx expires.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	err := fn(context.WithValue(ctx, txKey{}, s))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.data = snapshot
	}
	return err
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// with runs fn holding the lock unless ctx already belongs to a transaction.
func (s *Store) with(ctx context.Context, fn func(*state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(&s.data)
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Orders() repositories.OrderRepository         { return orderRepo{s} }
func (s *Store) LocalSales() repositories.LocalSaleRepository { return localSaleRepo{s} }
func (s *Store) TransferConfirmations() repositories.TransferConfirmationRepository {
	return confirmationRepo{s}
}
func (s *Store) Movements() repositories.MovementRepository           { return movementRepo{s} }
func (s *Store) TransitionLogs() repositories.TransitionLogRepository { return logRepo{s} }
func (s *Store) Stock() repositories.StockRepository                  { return stockRepo{s} }
func (s *Store) Catalog() repositories.CatalogRepository              { return catalogRepo{s} }
func (s *Store) Counters() repositories.CounterRepository             { return counterRepo{s} }
func (s *Store) Health() repositories.HealthRepository                { return s.health }

// PutProduct seeds a catalog price and its available stock.
func (s *Store) PutProduct(price domain.PriceSnapshot, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.prices[price.ProductID] = price
	s.data.stock[price.ProductID] = domain.StockLevel{ProductID: price.ProductID, Available: available}
}
