package repositories

import (
	"context"
	"time"

	domain "github.com/gymhub/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	LocalSales() LocalSaleRepository
	TransferConfirmations() TransferConfirmationRepository
	Movements() MovementRepository
	TransitionLogs() TransitionLogRepository
	Stock() StockRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transactional boundary.
// Repository calls made with the ctx handed to fn join the transaction, and a
// nested RunInTx reuses the outer one. Implementations must read before they
// write within fn.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates. Update is a compare-and-swap on Version.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// LocalSaleRepository persists counter sales. Update is a compare-and-swap on Version.
type LocalSaleRepository interface {
	Insert(ctx context.Context, sale domain.LocalSale) error
	Update(ctx context.Context, sale domain.LocalSale, expectedVersion int64) error
	FindByID(ctx context.Context, saleID string) (domain.LocalSale, error)
}

// TransferConfirmationRepository stores at most one confirmation per order or sale.
type TransferConfirmationRepository interface {
	Save(ctx context.Context, confirmation domain.TransferConfirmation) error
	FindByID(ctx context.Context, confirmationID string) (domain.TransferConfirmation, error)
	FindBySource(ctx context.Context, source domain.SourceRef) (domain.TransferConfirmation, error)
	ListPending(ctx context.Context, limit int) ([]domain.TransferConfirmation, error)
}

// MovementRepository is the append-only financial ledger. Update only flips
// assignment and void flags.
type MovementRepository interface {
	Insert(ctx context.Context, movement domain.FinancialMovement) error
	Update(ctx context.Context, movement domain.FinancialMovement) error
	FindByID(ctx context.Context, movementID string) (domain.FinancialMovement, error)
	FindActiveBySource(ctx context.Context, source domain.SourceRef) (domain.FinancialMovement, error)
	ListUnassigned(ctx context.Context, limit int) ([]domain.FinancialMovement, error)
}

// TransitionLogRepository appends and lists order transition history.
type TransitionLogRepository interface {
	Append(ctx context.Context, entry domain.StatusTransitionLog) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.StatusTransitionLog, error)
}

// StockRepository holds per-product available quantities. Reserve and Release
// are idempotent per (key, productID) and atomic across all lines.
type StockRepository interface {
	Reserve(ctx context.Context, req StockRequest) ([]domain.StockLevel, error)
	Release(ctx context.Context, req StockRequest) ([]domain.StockLevel, error)
	GetLevel(ctx context.Context, productID string) (domain.StockLevel, error)
	SetLevel(ctx context.Context, productID string, available int, now time.Time) error
}

// StockRequest identifies reservation lines by an idempotency key.
type StockRequest struct {
	Key   string
	Lines []domain.StockLine
	Now   time.Time
}

// CatalogRepository reads product prices at checkout time.
type CatalogRepository interface {
	GetPriceSnapshot(ctx context.Context, productID string) (domain.PriceSnapshot, error)
}

// CounterRepository provides atomic sequence generation.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
