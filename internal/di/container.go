package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/gymhub/api/internal/platform/config"
	"github.com/gymhub/api/internal/repositories"
	"github.com/gymhub/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders     services.OrderService
	LocalSales services.LocalSaleService
	Transfers  services.TransferService
	Movements  services.MovementService
	Stock      services.StockLedger
	Counters   services.CounterService
	System     services.SystemService
}

// Infrastructure carries the optional adapters built in main. Nil fields
// disable the matching feature: no Events means no publication, no Uploads
// means voucher upload URLs answer 503.
type Infrastructure struct {
	Events  services.EventPublisher
	Uploads services.VoucherURLSigner
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Meter   metric.Meter
	Clock   func() time.Time
	Build   services.BuildInfo
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the service graph on top of reg.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}
	return &Container{Config: cfg, Repositories: reg, Services: svc}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	tolerance := cfg.Orders.MoneyTolerance
	if tolerance.IsZero() {
		tolerance = decimal.RequireFromString("0.01")
	}

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counters

	stock, err := services.NewStockLedger(services.StockLedgerDeps{
		Stock:  reg.Stock(),
		Clock:  clock,
		Logger: infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}
	svc.Stock = stock

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Logs:            reg.TransitionLogs(),
		Confirmations:   reg.TransferConfirmations(),
		Movements:       reg.Movements(),
		Catalog:         reg.Catalog(),
		Stock:           stock,
		Counters:        counters,
		UnitOfWork:      reg,
		Clock:           clock,
		Tolerance:       tolerance,
		MaxAdvanceBatch: cfg.Orders.AdvanceBatchSize,
		Events:          infra.Events,
		Logger:          infra.Logger,
		Meter:           infra.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	sales, err := services.NewLocalSaleService(services.LocalSaleServiceDeps{
		Sales:         reg.LocalSales(),
		Confirmations: reg.TransferConfirmations(),
		Movements:     reg.Movements(),
		Catalog:       reg.Catalog(),
		Stock:         stock,
		UnitOfWork:    reg,
		Clock:         clock,
		Tolerance:     tolerance,
		Events:        infra.Events,
		Logger:        infra.Logger,
		Meter:         infra.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build local sale service: %w", err)
	}
	svc.LocalSales = sales

	transfers, err := services.NewTransferService(services.TransferServiceDeps{
		Orders:        reg.Orders(),
		Sales:         reg.LocalSales(),
		Confirmations: reg.TransferConfirmations(),
		Movements:     reg.Movements(),
		UnitOfWork:    reg,
		Uploads:       infra.Uploads,
		Clock:         clock,
		Tolerance:     tolerance,
		Events:        infra.Events,
		Logger:        infra.Logger,
		Meter:         infra.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build transfer service: %w", err)
	}
	svc.Transfers = transfers

	movements, err := services.NewMovementService(services.MovementServiceDeps{
		Movements:  reg.Movements(),
		UnitOfWork: reg,
		Clock:      clock,
		Events:     infra.Events,
		Logger:     infra.Logger,
		Meter:      infra.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build movement service: %w", err)
	}
	svc.Movements = movements

	if health := reg.Health(); health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            clock,
			Build:            infra.Build,
			Driver:           cfg.Persistence.Driver,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
