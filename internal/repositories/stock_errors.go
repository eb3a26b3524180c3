package repositories

import (
	"errors"
	"fmt"
)

// ErrCounterInput rejects a counter increment with a blank id or a non-positive step.
var ErrCounterInput = errors.New("counter: invalid input")

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product has no stock record.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorInvalidInput indicates a malformed reservation request.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInsufficientStockError reports a product that cannot cover the requested quantity.
func NewInsufficientStockError(op, productID string, requested, available int) *StockError {
	return &StockError{
		Op:        op,
		Code:      StockErrorInsufficient,
		ProductID: productID,
		Requested: requested,
		Available: available,
		Message:   fmt.Sprintf("product %s has %d available, %d requested", productID, available, requested),
	}
}

// NewStockError constructs a typed stock error.
func NewStockError(op string, code StockErrorCode, message string) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{Op: op, Code: code, Message: message}
}
