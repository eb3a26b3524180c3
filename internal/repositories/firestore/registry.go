package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

// Registry wires every Firestore repository around one provider.
type Registry struct {
	provider *pfirestore.Provider
	health   repositories.HealthRepository

	orders        *OrderRepository
	localSales    *LocalSaleRepository
	confirmations *TransferConfirmationRepository
	movements     *MovementRepository
	logs          *TransitionLogRepository
	stock         *StockRepository
	catalog       *CatalogRepository
	counters      *CounterRepository
	uow           *UnitOfWork
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds all repositories. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider, health: health}
	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.localSales, err = NewLocalSaleRepository(provider); err != nil {
		return nil, err
	}
	if reg.confirmations, err = NewTransferConfirmationRepository(provider); err != nil {
		return nil, err
	}
	if reg.movements, err = NewMovementRepository(provider); err != nil {
		return nil, err
	}
	if reg.logs, err = NewTransitionLogRepository(provider); err != nil {
		return nil, err
	}
	if reg.stock, err = NewStockRepository(provider); err != nil {
		return nil, err
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	if reg.uow, err = NewUnitOfWork(provider, txOpts...); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) LocalSales() repositories.LocalSaleRepository { return r.localSales }
func (r *Registry) TransferConfirmations() repositories.TransferConfirmationRepository {
	return r.confirmations
}
func (r *Registry) Movements() repositories.MovementRepository           { return r.movements }
func (r *Registry) TransitionLogs() repositories.TransitionLogRepository { return r.logs }
func (r *Registry) Stock() repositories.StockRepository                  { return r.stock }
func (r *Registry) Catalog() repositories.CatalogRepository              { return r.catalog }
func (r *Registry) Counters() repositories.CounterRepository             { return r.counters }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}
