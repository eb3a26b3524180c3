package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Actor                = domain.Actor
	Order                = domain.Order
	LocalSale            = domain.LocalSale
	TransferConfirmation = domain.TransferConfirmation
	FinancialMovement    = domain.FinancialMovement
	StatusTransitionLog  = domain.StatusTransitionLog
	SystemHealthReport   = domain.SystemHealthReport
)

// OrderService owns checkout and the order state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
	AdvanceMany(ctx context.Context, cmd AdvanceManyCommand) (AdvanceResult, error)
	ListTransitionLog(ctx context.Context, orderID string) ([]StatusTransitionLog, error)
}

// LocalSaleService registers in-person counter sales.
type LocalSaleService interface {
	RecordLocalSale(ctx context.Context, cmd RecordLocalSaleCommand) (LocalSale, error)
	CompleteLocalSale(ctx context.Context, cmd LocalSaleStatusCommand) (LocalSale, error)
	CancelLocalSale(ctx context.Context, cmd LocalSaleStatusCommand) (LocalSale, error)
	GetLocalSale(ctx context.Context, saleID string) (LocalSale, error)
}

// TransferService runs the bank transfer confirmation workflow.
type TransferService interface {
	SubmitVoucher(ctx context.Context, cmd SubmitVoucherCommand) (TransferConfirmation, error)
	ConfirmTransfer(ctx context.Context, cmd ConfirmTransferCommand) (TransferConfirmation, error)
	ListPendingConfirmations(ctx context.Context, limit int) ([]TransferConfirmation, error)
	CreateVoucherUploadURL(ctx context.Context, cmd VoucherUploadCommand) (VoucherUpload, error)
}

// MovementService exposes the financial ledger to staff.
type MovementService interface {
	AdoptMovement(ctx context.Context, cmd AdoptMovementCommand) (FinancialMovement, error)
	ListUnassignedMovements(ctx context.Context, limit int) ([]FinancialMovement, error)
	RecordMovement(ctx context.Context, cmd RecordMovementCommand) (FinancialMovement, error)
}

// StockLedger reserves and releases product quantities under an idempotency key.
// Calls made with a transactional context join that transaction.
type StockLedger interface {
	Reserve(ctx context.Context, key string, lines []domain.StockLine) error
	Release(ctx context.Context, key string, lines []domain.StockLine) error
}

// CounterService allocates human-readable sequence numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string) (int64, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher emits domain events after the owning transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Event captures metadata for emitted domain events.
type Event struct {
	Type           string
	Source         domain.SourceRef
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// VoucherURLSigner issues signed upload URLs for voucher images.
type VoucherURLSigner interface {
	SignVoucherUpload(ctx context.Context, objectPath, contentType string) (VoucherUpload, error)
}

// LineRequest asks for a quantity of one catalog product.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand is the checkout request. Total is caller supplied and
// validated against the other amounts, never recomputed.
type CreateOrderCommand struct {
	Actor         Actor
	CustomerID    string
	DeliveryType  domain.DeliveryType
	PaymentMethod domain.PaymentMethod
	Items         []LineRequest
	Tax           decimal.Decimal
	Shipping      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
}

// OrderListFilter narrows ListOrders. Customers only ever see their own orders.
type OrderListFilter struct {
	Actor      Actor
	CustomerID string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// TransitionCommand requests one state machine step.
type TransitionCommand struct {
	OrderID         string
	Status          domain.OrderStatus
	Actor           Actor
	Notes           string
	ExpectedVersion *int64
}

// AdvanceManyCommand moves each order to its own next path status.
type AdvanceManyCommand struct {
	OrderIDs []string
	Actor    Actor
	Notes    string
}

// AdvanceResult reports per-order outcomes of AdvanceMany.
type AdvanceResult struct {
	Succeeded []Order
	Failed    []AdvanceFailure
}

// AdvanceFailure pairs an order with the error that stopped it.
type AdvanceFailure struct {
	OrderID string
	Err     error
}

// RecordLocalSaleCommand registers a counter sale.
type RecordLocalSaleCommand struct {
	Actor         Actor
	WorkDate      time.Time
	PaymentMethod domain.PaymentMethod
	Items         []LineRequest
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
}

// LocalSaleStatusCommand completes or cancels a local sale.
type LocalSaleStatusCommand struct {
	SaleID          string
	Actor           Actor
	ExpectedVersion *int64
}

// SubmitVoucherCommand attaches or replaces the voucher of an order or sale.
type SubmitVoucherCommand struct {
	Source             domain.SourceRef
	VoucherDescription string
	BankReference      string
	VoucherObjectPath  string
	Actor              Actor
}

// ConfirmTransferCommand records staff verification of a voucher.
type ConfirmTransferCommand struct {
	ConfirmationID  string
	ConfirmedAmount decimal.Decimal
	Actor           Actor
	Notes           string
}

// VoucherUploadCommand requests a signed URL for a voucher image.
type VoucherUploadCommand struct {
	Source      domain.SourceRef
	ContentType string
	Actor       Actor
}

// VoucherUpload describes where and how the client uploads the image.
type VoucherUpload struct {
	URL        string
	Method     string
	ObjectPath string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// AdoptMovementCommand assigns an automatic movement to a staff member.
type AdoptMovementCommand struct {
	MovementID string
	Actor      Actor
}

// RecordMovementCommand registers a manual ledger entry.
type RecordMovementCommand struct {
	Actor        Actor
	Type         domain.MovementType
	Category     string
	Amount       decimal.Decimal
	MovementDate time.Time
	Description  string
}
