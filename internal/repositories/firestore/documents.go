package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gymhub/api/internal/domain"
)

// Monetary values are stored as decimal strings to avoid float rounding.

type moneyDocument struct {
	Subtotal string `firestore:"subtotal"`
	Tax      string `firestore:"tax"`
	Shipping string `firestore:"shipping"`
	Discount string `firestore:"discount"`
	Total    string `firestore:"total"`
}

type lineItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice string `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type sourceDocument struct {
	Kind string `firestore:"kind"`
	ID   string `firestore:"id"`
}

type orderDocument struct {
	OrderNumber       string             `firestore:"orderNumber"`
	CustomerID        string             `firestore:"customerId"`
	DeliveryType      string             `firestore:"deliveryType"`
	Status            string             `firestore:"status"`
	PaymentMethod     string             `firestore:"paymentMethod"`
	PaymentStatus     string             `firestore:"paymentStatus"`
	Amounts           moneyDocument      `firestore:"amounts"`
	Items             []lineItemDocument `firestore:"items"`
	TransferConfirmed bool               `firestore:"transferConfirmed"`
	Version           int64              `firestore:"version"`
	CreatedAt         time.Time          `firestore:"createdAt"`
	UpdatedAt         time.Time          `firestore:"updatedAt"`
	CancelledAt       *time.Time         `firestore:"cancelledAt,omitempty"`
	CompletedAt       *time.Time         `firestore:"completedAt,omitempty"`
}

type localSaleDocument struct {
	EmployeeID        string             `firestore:"employeeId"`
	WorkDate          time.Time          `firestore:"workDate"`
	PaymentMethod     string             `firestore:"paymentMethod"`
	PaymentStatus     string             `firestore:"paymentStatus"`
	Status            string             `firestore:"status"`
	Amounts           moneyDocument      `firestore:"amounts"`
	Items             []lineItemDocument `firestore:"items"`
	TransferConfirmed bool               `firestore:"transferConfirmed"`
	Version           int64              `firestore:"version"`
	CreatedAt         time.Time          `firestore:"createdAt"`
	UpdatedAt         time.Time          `firestore:"updatedAt"`
}

type confirmationDocument struct {
	Source             sourceDocument `firestore:"source"`
	VoucherDescription string         `firestore:"voucherDescription"`
	BankReference      string         `firestore:"bankReference"`
	VoucherObjectPath  string         `firestore:"voucherObjectPath,omitempty"`
	Status             string         `firestore:"status"`
	ExpectedAmount     string         `firestore:"expectedAmount"`
	ConfirmedAmount    *string        `firestore:"confirmedAmount,omitempty"`
	ConfirmedBy        *string        `firestore:"confirmedBy,omitempty"`
	ConfirmedAt        *time.Time     `firestore:"confirmedAt,omitempty"`
	Notes              string         `firestore:"notes,omitempty"`
	SubmittedAt        time.Time      `firestore:"submittedAt"`
	UpdatedAt          time.Time      `firestore:"updatedAt"`
}

type movementDocument struct {
	Type         string         `firestore:"type"`
	Category     string         `firestore:"category"`
	Amount       string         `firestore:"amount"`
	MovementDate time.Time      `firestore:"movementDate"`
	Description  string         `firestore:"description,omitempty"`
	IsAutomatic  bool           `firestore:"isAutomatic"`
	RegisteredBy *string        `firestore:"registeredBy"`
	Unassigned   bool           `firestore:"unassigned"`
	AssignedAt   *time.Time     `firestore:"assignedAt,omitempty"`
	Source       sourceDocument `firestore:"source"`
	Voided       bool           `firestore:"voided"`
	VoidedAt     *time.Time     `firestore:"voidedAt,omitempty"`
	CreatedAt    time.Time      `firestore:"createdAt"`
}

type transitionLogDocument struct {
	OrderID    string    `firestore:"orderId"`
	FromStatus string    `firestore:"fromStatus"`
	ToStatus   string    `firestore:"toStatus"`
	ActorID    string    `firestore:"actorId"`
	Notes      string    `firestore:"notes,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func encodeMoney(m domain.MoneyBreakdown) moneyDocument {
	return moneyDocument{
		Subtotal: m.Subtotal.String(),
		Tax:      m.Tax.String(),
		Shipping: m.Shipping.String(),
		Discount: m.Discount.String(),
		Total:    m.Total.String(),
	}
}

func decodeMoney(doc moneyDocument) (domain.MoneyBreakdown, error) {
	var (
		out domain.MoneyBreakdown
		err error
	)
	fields := []struct {
		name   string
		raw    string
		target *decimal.Decimal
	}{
		{"subtotal", doc.Subtotal, &out.Subtotal},
		{"tax", doc.Tax, &out.Tax},
		{"shipping", doc.Shipping, &out.Shipping},
		{"discount", doc.Discount, &out.Discount},
		{"total", doc.Total, &out.Total},
	}
	for _, f := range fields {
		if *f.target, err = parseAmount(f.raw); err != nil {
			return domain.MoneyBreakdown{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return out, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func encodeItems(items []domain.LineItem) []lineItemDocument {
	out := make([]lineItemDocument, 0, len(items))
	for _, item := range items {
		out = append(out, lineItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.String(),
			Quantity:  item.Quantity,
		})
	}
	return out
}

func decodeItems(docs []lineItemDocument) ([]domain.LineItem, error) {
	out := make([]domain.LineItem, 0, len(docs))
	for _, doc := range docs {
		price, err := parseAmount(doc.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("item %s unit price: %w", doc.ProductID, err)
		}
		out = append(out, domain.LineItem{
			ProductID: doc.ProductID,
			Name:      doc.Name,
			UnitPrice: price,
			Quantity:  doc.Quantity,
		})
	}
	return out, nil
}

func encodeOrder(order domain.Order) orderDocument {
	return orderDocument{
		OrderNumber:       order.OrderNumber,
		CustomerID:        order.CustomerID,
		DeliveryType:      string(order.DeliveryType),
		Status:            string(order.Status),
		PaymentMethod:     string(order.PaymentMethod),
		PaymentStatus:     string(order.PaymentStatus),
		Amounts:           encodeMoney(order.Amounts),
		Items:             encodeItems(order.Items),
		TransferConfirmed: order.TransferConfirmed,
		Version:           order.Version,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		CancelledAt:       order.CancelledAt,
		CompletedAt:       order.CompletedAt,
	}
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	amounts, err := decodeMoney(doc.Amounts)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	items, err := decodeItems(doc.Items)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	return domain.Order{
		ID:                id,
		OrderNumber:       doc.OrderNumber,
		CustomerID:        doc.CustomerID,
		DeliveryType:      domain.DeliveryType(doc.DeliveryType),
		Status:            domain.OrderStatus(doc.Status),
		PaymentMethod:     domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:     domain.PaymentStatus(doc.PaymentStatus),
		Amounts:           amounts,
		Items:             items,
		TransferConfirmed: doc.TransferConfirmed,
		Version:           doc.Version,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		CancelledAt:       doc.CancelledAt,
		CompletedAt:       doc.CompletedAt,
	}, nil
}

func encodeLocalSale(sale domain.LocalSale) localSaleDocument {
	return localSaleDocument{
		EmployeeID:        sale.EmployeeID,
		WorkDate:          sale.WorkDate.UTC(),
		PaymentMethod:     string(sale.PaymentMethod),
		PaymentStatus:     string(sale.PaymentStatus),
		Status:            string(sale.Status),
		Amounts:           encodeMoney(sale.Amounts),
		Items:             encodeItems(sale.Items),
		TransferConfirmed: sale.TransferConfirmed,
		Version:           sale.Version,
		CreatedAt:         sale.CreatedAt.UTC(),
		UpdatedAt:         sale.UpdatedAt.UTC(),
	}
}

func decodeLocalSale(id string, doc localSaleDocument) (domain.LocalSale, error) {
	amounts, err := decodeMoney(doc.Amounts)
	if err != nil {
		return domain.LocalSale{}, fmt.Errorf("local sale %s: %w", id, err)
	}
	items, err := decodeItems(doc.Items)
	if err != nil {
		return domain.LocalSale{}, fmt.Errorf("local sale %s: %w", id, err)
	}
	return domain.LocalSale{
		ID:                id,
		EmployeeID:        doc.EmployeeID,
		WorkDate:          doc.WorkDate,
		PaymentMethod:     domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:     domain.PaymentStatus(doc.PaymentStatus),
		Status:            domain.LocalSaleStatus(doc.Status),
		Amounts:           amounts,
		Items:             items,
		TransferConfirmed: doc.TransferConfirmed,
		Version:           doc.Version,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}, nil
}

func encodeConfirmation(c domain.TransferConfirmation) confirmationDocument {
	doc := confirmationDocument{
		Source:             sourceDocument{Kind: string(c.Source.Kind), ID: c.Source.ID},
		VoucherDescription: c.VoucherDescription,
		BankReference:      c.BankReference,
		VoucherObjectPath:  c.VoucherObjectPath,
		Status:             string(c.Status),
		ExpectedAmount:     c.ExpectedAmount.String(),
		ConfirmedBy:        c.ConfirmedBy,
		ConfirmedAt:        c.ConfirmedAt,
		Notes:              c.Notes,
		SubmittedAt:        c.SubmittedAt.UTC(),
		UpdatedAt:          c.UpdatedAt.UTC(),
	}
	if c.ConfirmedAmount != nil {
		amount := c.ConfirmedAmount.String()
		doc.ConfirmedAmount = &amount
	}
	return doc
}

func decodeConfirmation(id string, doc confirmationDocument) (domain.TransferConfirmation, error) {
	expected, err := parseAmount(doc.ExpectedAmount)
	if err != nil {
		return domain.TransferConfirmation{}, fmt.Errorf("confirmation %s expected amount: %w", id, err)
	}
	out := domain.TransferConfirmation{
		ID:                 id,
		Source:             domain.SourceRef{Kind: domain.SourceKind(doc.Source.Kind), ID: doc.Source.ID},
		VoucherDescription: doc.VoucherDescription,
		BankReference:      doc.BankReference,
		VoucherObjectPath:  doc.VoucherObjectPath,
		Status:             domain.TransferConfirmationStatus(doc.Status),
		ExpectedAmount:     expected,
		ConfirmedBy:        doc.ConfirmedBy,
		ConfirmedAt:        doc.ConfirmedAt,
		Notes:              doc.Notes,
		SubmittedAt:        doc.SubmittedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
	if doc.ConfirmedAmount != nil {
		amount, err := parseAmount(*doc.ConfirmedAmount)
		if err != nil {
			return domain.TransferConfirmation{}, fmt.Errorf("confirmation %s confirmed amount: %w", id, err)
		}
		out.ConfirmedAmount = &amount
	}
	return out, nil
}

func encodeMovement(m domain.FinancialMovement) movementDocument {
	return movementDocument{
		Type:         string(m.Type),
		Category:     m.Category,
		Amount:       m.Amount.String(),
		MovementDate: m.MovementDate.UTC(),
		Description:  m.Description,
		IsAutomatic:  m.IsAutomatic,
		RegisteredBy: m.RegisteredBy,
		Unassigned:   m.RegisteredBy == nil && !m.Voided,
		AssignedAt:   m.AssignedAt,
		Source:       sourceDocument{Kind: string(m.Source.Kind), ID: m.Source.ID},
		Voided:       m.Voided,
		VoidedAt:     m.VoidedAt,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func decodeMovement(id string, doc movementDocument) (domain.FinancialMovement, error) {
	amount, err := parseAmount(doc.Amount)
	if err != nil {
		return domain.FinancialMovement{}, fmt.Errorf("movement %s amount: %w", id, err)
	}
	return domain.FinancialMovement{
		ID:           id,
		Type:         domain.MovementType(doc.Type),
		Category:     doc.Category,
		Amount:       amount,
		MovementDate: doc.MovementDate,
		Description:  doc.Description,
		IsAutomatic:  doc.IsAutomatic,
		RegisteredBy: doc.RegisteredBy,
		AssignedAt:   doc.AssignedAt,
		Source:       domain.SourceRef{Kind: domain.SourceKind(doc.Source.Kind), ID: doc.Source.ID},
		Voided:       doc.Voided,
		VoidedAt:     doc.VoidedAt,
		CreatedAt:    doc.CreatedAt,
	}, nil
}
