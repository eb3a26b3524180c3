package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/repositories/memory"
)

var (
	fixedNow   = time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC)
	staff      = Actor{ID: "staff-1", Role: domain.RoleStaff}
	otherStaff = Actor{ID: "staff-2", Role: domain.RoleStaff}
	customer   = Actor{ID: "cust-1", Role: domain.RoleCustomer}
)

const (
	productWhey    = "whey"
	productGloves  = "gloves"
	productRetired = "retired"
	initialWhey    = 10
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	store     *memory.Store
	stock     StockLedger
	orders    OrderService
	sales     LocalSaleService
	transfers TransferService
	movements MovementService
	events    *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore(nil)
	store.PutProduct(domain.PriceSnapshot{ProductID: productWhey, Name: "Whey Protein 1kg", UnitPrice: decimal.RequireFromString("25.00"), Active: true}, initialWhey)
	store.PutProduct(domain.PriceSnapshot{ProductID: productGloves, Name: "Lifting Gloves", UnitPrice: decimal.RequireFromString("12.50"), Active: true}, 5)
	store.PutProduct(domain.PriceSnapshot{ProductID: productRetired, Name: "Old Shaker", UnitPrice: decimal.RequireFromString("4.00"), Active: false}, 3)

	clock := func() time.Time { return fixedNow }
	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }
	ledgerIDs := func() string { return fmt.Sprintf("L%06d", seq.Add(1)) }
	events := &recordingPublisher{}

	stock, err := NewStockLedger(StockLedgerDeps{Stock: store.Stock(), Clock: clock})
	if err != nil {
		t.Fatalf("NewStockLedger: %v", err)
	}
	counters, err := NewCounterService(CounterServiceDeps{Repository: store.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:            store.Orders(),
		Logs:              store.TransitionLogs(),
		Confirmations:     store.TransferConfirmations(),
		Movements:         store.Movements(),
		Catalog:           store.Catalog(),
		Stock:             stock,
		Counters:          counters,
		UnitOfWork:        store,
		Clock:             clock,
		IDGenerator:       ids,
		LedgerIDGenerator: ledgerIDs,
		Events:            events,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	sales, err := NewLocalSaleService(LocalSaleServiceDeps{
		Sales:             store.LocalSales(),
		Confirmations:     store.TransferConfirmations(),
		Movements:         store.Movements(),
		Catalog:           store.Catalog(),
		Stock:             stock,
		UnitOfWork:        store,
		Clock:             clock,
		IDGenerator:       ids,
		LedgerIDGenerator: ledgerIDs,
		Events:            events,
	})
	if err != nil {
		t.Fatalf("NewLocalSaleService: %v", err)
	}
	transfers, err := NewTransferService(TransferServiceDeps{
		Orders:            store.Orders(),
		Sales:             store.LocalSales(),
		Confirmations:     store.TransferConfirmations(),
		Movements:         store.Movements(),
		UnitOfWork:        store,
		Clock:             clock,
		LedgerIDGenerator: ledgerIDs,
		Events:            events,
	})
	if err != nil {
		t.Fatalf("NewTransferService: %v", err)
	}
	movements, err := NewMovementService(MovementServiceDeps{
		Movements:   store.Movements(),
		UnitOfWork:  store,
		Clock:       clock,
		IDGenerator: ledgerIDs,
		Events:      events,
	})
	if err != nil {
		t.Fatalf("NewMovementService: %v", err)
	}

	return &testEnv{
		store:     store,
		stock:     stock,
		orders:    orders,
		sales:     sales,
		transfers: transfers,
		movements: movements,
		events:    events,
	}
}

// createOrder places an order for qty units of whey with no tax, shipping or discount.
func (e *testEnv) createOrder(t *testing.T, deliveryType domain.DeliveryType, method domain.PaymentMethod, qty int) Order {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), CreateOrderCommand{
		Actor:         customer,
		DeliveryType:  deliveryType,
		PaymentMethod: method,
		Items:         []LineRequest{{ProductID: productWhey, Quantity: qty}},
		Total:         decimal.RequireFromString("25.00").Mul(decimal.NewFromInt(int64(qty))),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (e *testEnv) transition(t *testing.T, orderID string, status domain.OrderStatus) Order {
	t.Helper()
	order, err := e.orders.Transition(context.Background(), TransitionCommand{OrderID: orderID, Status: status, Actor: staff})
	if err != nil {
		t.Fatalf("Transition to %s: %v", status, err)
	}
	return order
}

// seedOrder stores an order directly, bypassing checkout.
func (e *testEnv) seedOrder(t *testing.T, order Order) Order {
	t.Helper()
	if order.Version == 0 {
		order.Version = 1
	}
	if order.CustomerID == "" {
		order.CustomerID = customer.ID
	}
	if len(order.Items) == 0 {
		order.Items = []domain.LineItem{{ProductID: productWhey, Name: "Whey Protein 1kg", UnitPrice: decimal.RequireFromString("25.00"), Quantity: 2}}
		order.Amounts = domain.MoneyBreakdown{Subtotal: decimal.RequireFromString("50.00"), Total: decimal.RequireFromString("50.00")}
	}
	order.CreatedAt = fixedNow
	order.UpdatedAt = fixedNow
	if err := e.store.Orders().Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (e *testEnv) available(t *testing.T, productID string) int {
	t.Helper()
	level, err := e.store.Stock().GetLevel(context.Background(), productID)
	if err != nil {
		t.Fatalf("GetLevel: %v", err)
	}
	return level.Available
}

// movementsFor returns the unassigned, non-voided movements of source.
func (e *testEnv) movementsFor(t *testing.T, source domain.SourceRef) []FinancialMovement {
	t.Helper()
	var out []FinancialMovement
	for _, movement := range e.unassigned(t) {
		if movement.Source == source {
			out = append(out, movement)
		}
	}
	return out
}

func (e *testEnv) unassigned(t *testing.T) []FinancialMovement {
	t.Helper()
	movements, err := e.movements.ListUnassignedMovements(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListUnassignedMovements: %v", err)
	}
	return movements
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
