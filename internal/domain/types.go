package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// Page represents a paginated response.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// DeliveryType determines which ordered path of statuses an order follows.
type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "pickup"
	DeliveryDelivery DeliveryType = "delivery"
	DeliveryExpress  DeliveryType = "express"
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "pending"
	OrderStatusConfirmed   OrderStatus = "confirmed"
	OrderStatusPreparing   OrderStatus = "preparing"
	OrderStatusReadyPickup OrderStatus = "ready_pickup"
	OrderStatusPickedUp    OrderStatus = "picked_up"
	OrderStatusPacked      OrderStatus = "packed"
	OrderStatusShipped     OrderStatus = "shipped"
	OrderStatusDelivered   OrderStatus = "delivered"
	OrderStatusCancelled   OrderStatus = "cancelled"
	OrderStatusRefunded    OrderStatus = "refunded"
)

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodCard     PaymentMethod = "card"
)

// PaymentStatus tracks settlement of an order or sale.
type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusTransferPending PaymentStatus = "transfer_pending"
	PaymentStatusCompleted       PaymentStatus = "completed"
	PaymentStatusFailed          PaymentStatus = "failed"
)

// Role is the authorization role attached to an actor.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor attributes a mutation to an authenticated principal.
type Actor struct {
	ID   string
	Role Role
}

// IsStaff reports whether the actor may perform back-office operations.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin || a.Role == RoleSystem
}

// MoneyBreakdown captures the monetary fields shared by orders and local sales.
type MoneyBreakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Expected returns subtotal + tax + shipping - discount.
func (m MoneyBreakdown) Expected() decimal.Decimal {
	return m.Subtotal.Add(m.Tax).Add(m.Shipping).Sub(m.Discount)
}

// LineItem is a price snapshot captured when the order or sale was created.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Order is the aggregate mutated by the state machine.
type Order struct {
	ID                string
	OrderNumber       string
	CustomerID        string
	DeliveryType      DeliveryType
	Status            OrderStatus
	PaymentMethod     PaymentMethod
	PaymentStatus     PaymentStatus
	Amounts           MoneyBreakdown
	Items             []LineItem
	TransferConfirmed bool
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CancelledAt       *time.Time
	CompletedAt       *time.Time
}

// LocalSaleStatus enumerates in-person sale states.
type LocalSaleStatus string

const (
	LocalSaleStatusOpen      LocalSaleStatus = "open"
	LocalSaleStatusCompleted LocalSaleStatus = "completed"
	LocalSaleStatusCancelled LocalSaleStatus = "cancelled"
)

// LocalSale is a same-day counter sale registered by an employee.
type LocalSale struct {
	ID                string
	EmployeeID        string
	WorkDate          time.Time
	PaymentMethod     PaymentMethod
	PaymentStatus     PaymentStatus
	Status            LocalSaleStatus
	Amounts           MoneyBreakdown
	Items             []LineItem
	TransferConfirmed bool
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SourceKind identifies the entity a confirmation or movement belongs to.
type SourceKind string

const (
	SourceOrder     SourceKind = "order"
	SourceLocalSale SourceKind = "local_sale"
	SourceManual    SourceKind = "manual"
)

// SourceRef points at exactly one order or local sale.
type SourceRef struct {
	Kind SourceKind
	ID   string
}

// TransferConfirmationStatus tracks verification of a bank transfer voucher.
type TransferConfirmationStatus string

const (
	TransferUnconfirmed TransferConfirmationStatus = "unconfirmed"
	TransferConfirmed   TransferConfirmationStatus = "confirmed"
	// TransferWithdrawn marks a voucher whose order or sale was cancelled first.
	TransferWithdrawn TransferConfirmationStatus = "withdrawn"
)

// TransferConfirmation links a submitted voucher to its order or sale.
type TransferConfirmation struct {
	ID                 string
	Source             SourceRef
	VoucherDescription string
	BankReference      string
	VoucherObjectPath  string
	Status             TransferConfirmationStatus
	ExpectedAmount     decimal.Decimal
	ConfirmedAmount    *decimal.Decimal
	ConfirmedBy        *string
	ConfirmedAt        *time.Time
	Notes              string
	SubmittedAt        time.Time
	UpdatedAt          time.Time
}

// MovementType distinguishes income from expense.
type MovementType string

const (
	MovementIncome  MovementType = "income"
	MovementExpense MovementType = "expense"
)

const (
	MovementCategoryOrderSale = "order_sale"
	MovementCategoryLocalSale = "local_sale"
)

// FinancialMovement is an entry in the append-only financial ledger.
type FinancialMovement struct {
	ID           string
	Type         MovementType
	Category     string
	Amount       decimal.Decimal
	MovementDate time.Time
	Description  string
	IsAutomatic  bool
	RegisteredBy *string
	AssignedAt   *time.Time
	Source       SourceRef
	Voided       bool
	VoidedAt     *time.Time
	CreatedAt    time.Time
}

// StatusTransitionLog records one applied order transition.
type StatusTransitionLog struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ActorID    string
	Notes      string
	CreatedAt  time.Time
}

// StockLine is one product quantity held against a reservation key.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockLevel describes the available quantity of a product.
type StockLevel struct {
	ProductID string
	Available int
	Reserved  int
	UpdatedAt time.Time
}

// PriceSnapshot is the catalog price at the moment of checkout.
type PriceSnapshot struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Active    bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// ConfirmationIDFor derives the single confirmation id allowed for a source.
func ConfirmationIDFor(source SourceRef) string {
	return string(source.Kind) + "-" + source.ID
}
