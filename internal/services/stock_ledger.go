package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid reservation lines.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockProductNotFound indicates a line references a product without a stock record.
	ErrStockProductNotFound = errors.New("stock: product not found")
)

// StockLedgerDeps bundles the collaborators required to construct a stock ledger.
type StockLedgerDeps struct {
	Stock  repositories.StockRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type stockLedger struct {
	repo   repositories.StockRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewStockLedger wraps the stock repository with domain error mapping.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock ledger: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockLedger{
		repo: deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (l *stockLedger) Reserve(ctx context.Context, key string, lines []domain.StockLine) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: reservation key is required", ErrStockInvalidInput)
	}
	levels, err := l.repo.Reserve(ctx, repositories.StockRequest{Key: key, Lines: lines, Now: l.clock()})
	if err != nil {
		return l.mapError(err)
	}
	for _, level := range levels {
		if level.Available == 0 {
			l.logger(ctx, "stock.depleted", map[string]any{"productId": level.ProductID, "key": key})
		}
	}
	return nil
}

func (l *stockLedger) Release(ctx context.Context, key string, lines []domain.StockLine) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: reservation key is required", ErrStockInvalidInput)
	}
	if _, err := l.repo.Release(ctx, repositories.StockRequest{Key: key, Lines: lines, Now: l.clock()}); err != nil {
		return l.mapError(err)
	}
	return nil
}

func (l *stockLedger) mapError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &StockUnavailableError{
				ProductID: stockErr.ProductID,
				Requested: stockErr.Requested,
				Available: stockErr.Available,
			}
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrStockProductNotFound, stockErr.Message)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrStockInvalidInput, stockErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("stock: repository unavailable: %w", err)
	}
	return err
}

func stockLines(items []domain.LineItem) []domain.StockLine {
	lines := make([]domain.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
