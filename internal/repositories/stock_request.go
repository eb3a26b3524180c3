package repositories

import (
	"fmt"
	"sort"
	"strings"

	domain "github.com/gymhub/api/internal/domain"
)

// Normalized validates the request and merges duplicate products, sorted by product id.
func (r StockRequest) Normalized(op string) ([]domain.StockLine, error) {
	if strings.TrimSpace(r.Key) == "" {
		return nil, NewStockError(op, StockErrorInvalidInput, "reservation key is required")
	}
	if len(r.Lines) == 0 {
		return nil, NewStockError(op, StockErrorInvalidInput, "at least one line is required")
	}
	totals := make(map[string]int, len(r.Lines))
	for _, line := range r.Lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, NewStockError(op, StockErrorInvalidInput, "product id is required")
		}
		if line.Quantity <= 0 {
			return nil, NewStockError(op, StockErrorInvalidInput, fmt.Sprintf("quantity for %s must be > 0", id))
		}
		totals[id] += line.Quantity
	}
	merged := make([]domain.StockLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, domain.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}
