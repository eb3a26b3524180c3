package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/pagination"
	"github.com/gymhub/api/internal/repositories"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return conflict("orders.insert", "order %s already exists", order.ID)
		}
		order.Items = slices.Clone(order.Items)
		st.orders[order.ID] = order
		return nil
	})
}

func (r orderRepo) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	return r.s.with(ctx, func(st *state) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return notFound("orders.update", "order %s not found", order.ID)
		}
		if current.Version != expectedVersion {
			return conflict("orders.update", "order %s version %d, expected %d", order.ID, current.Version, expectedVersion)
		}
		order.Items = slices.Clone(order.Items)
		st.orders[order.ID] = order
		return nil
	})
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.s.with(ctx, func(st *state) error {
		order, ok := st.orders[orderID]
		if !ok {
			return notFound("orders.get", "order %s not found", orderID)
		}
		out = order
		out.Items = slices.Clone(order.Items)
		return nil
	})
	return out, err
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	var matched []domain.Order
	_ = r.s.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
				continue
			}
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
				continue
			}
			matched = append(matched, order)
		}
		return nil
	})

	// newest first, id breaks ties
	slices.SortFunc(matched, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if !cursor.IsZero() {
		idx := slices.IndexFunc(matched, func(o domain.Order) bool {
			return o.CreatedAt.Before(cursor.After) || (o.CreatedAt.Equal(cursor.After) && o.ID < cursor.ID)
		})
		if idx < 0 {
			matched = nil
		} else {
			matched = matched[idx:]
		}
	}

	page := domain.Page[domain.Order]{Items: matched}
	if len(matched) > limit {
		page.Items = matched[:limit]
		last := page.Items[limit-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{After: last.CreatedAt, ID: last.ID})
	}
	return page, err
}

type localSaleRepo struct{ s *Store }

func (r localSaleRepo) Insert(ctx context.Context, sale domain.LocalSale) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.sales[sale.ID]; ok {
			return conflict("localSales.insert", "local sale %s already exists", sale.ID)
		}
		sale.Items = slices.Clone(sale.Items)
		st.sales[sale.ID] = sale
		return nil
	})
}

func (r localSaleRepo) Update(ctx context.Context, sale domain.LocalSale, expectedVersion int64) error {
	return r.s.with(ctx, func(st *state) error {
		current, ok := st.sales[sale.ID]
		if !ok {
			return notFound("localSales.update", "local sale %s not found", sale.ID)
		}
		if current.Version != expectedVersion {
			return conflict("localSales.update", "local sale %s version %d, expected %d", sale.ID, current.Version, expectedVersion)
		}
		sale.Items = slices.Clone(sale.Items)
		st.sales[sale.ID] = sale
		return nil
	})
}

func (r localSaleRepo) FindByID(ctx context.Context, saleID string) (domain.LocalSale, error) {
	var out domain.LocalSale
	err := r.s.with(ctx, func(st *state) error {
		sale, ok := st.sales[saleID]
		if !ok {
			return notFound("localSales.get", "local sale %s not found", saleID)
		}
		out = sale
		out.Items = slices.Clone(sale.Items)
		return nil
	})
	return out, err
}

type confirmationRepo struct{ s *Store }

func (r confirmationRepo) Save(ctx context.Context, c domain.TransferConfirmation) error {
	return r.s.with(ctx, func(st *state) error {
		st.confirmations[c.ID] = c
		return nil
	})
}

func (r confirmationRepo) FindByID(ctx context.Context, id string) (domain.TransferConfirmation, error) {
	var out domain.TransferConfirmation
	err := r.s.with(ctx, func(st *state) error {
		c, ok := st.confirmations[id]
		if !ok {
			return notFound("transferConfirmations.get", "confirmation %s not found", id)
		}
		out = c
		return nil
	})
	return out, err
}

func (r confirmationRepo) FindBySource(ctx context.Context, source domain.SourceRef) (domain.TransferConfirmation, error) {
	return r.FindByID(ctx, domain.ConfirmationIDFor(source))
}

func (r confirmationRepo) ListPending(ctx context.Context, limit int) ([]domain.TransferConfirmation, error) {
	var out []domain.TransferConfirmation
	err := r.s.with(ctx, func(st *state) error {
		for _, c := range st.confirmations {
			if c.Status == domain.TransferUnconfirmed {
				out = append(out, c)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.TransferConfirmation) int { return a.SubmittedAt.Compare(b.SubmittedAt) })
	return truncate(out, limit), err
}

type movementRepo struct{ s *Store }

func (r movementRepo) Insert(ctx context.Context, m domain.FinancialMovement) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.movements[m.ID]; ok {
			return conflict("financialMovements.insert", "movement %s already exists", m.ID)
		}
		st.movements[m.ID] = m
		return nil
	})
}

func (r movementRepo) Update(ctx context.Context, m domain.FinancialMovement) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.movements[m.ID]; !ok {
			return notFound("financialMovements.update", "movement %s not found", m.ID)
		}
		st.movements[m.ID] = m
		return nil
	})
}

func (r movementRepo) FindByID(ctx context.Context, id string) (domain.FinancialMovement, error) {
	var out domain.FinancialMovement
	err := r.s.with(ctx, func(st *state) error {
		m, ok := st.movements[id]
		if !ok {
			return notFound("financialMovements.get", "movement %s not found", id)
		}
		out = m
		return nil
	})
	return out, err
}

func (r movementRepo) FindActiveBySource(ctx context.Context, source domain.SourceRef) (domain.FinancialMovement, error) {
	var out domain.FinancialMovement
	err := r.s.with(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.Source == source && !m.Voided {
				out = m
				return nil
			}
		}
		return notFound("financialMovements.findActiveBySource", "no active movement for %s %s", source.Kind, source.ID)
	})
	return out, err
}

func (r movementRepo) ListUnassigned(ctx context.Context, limit int) ([]domain.FinancialMovement, error) {
	var out []domain.FinancialMovement
	err := r.s.with(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.RegisteredBy == nil && !m.Voided {
				out = append(out, m)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.FinancialMovement) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return truncate(out, limit), err
}

type logRepo struct{ s *Store }

func (r logRepo) Append(ctx context.Context, entry domain.StatusTransitionLog) error {
	return r.s.with(ctx, func(st *state) error {
		st.logs = append(st.logs, entry)
		return nil
	})
}

func (r logRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.StatusTransitionLog, error) {
	var out []domain.StatusTransitionLog
	err := r.s.with(ctx, func(st *state) error {
		for _, entry := range st.logs {
			if entry.OrderID == orderID {
				out = append(out, entry)
			}
		}
		return nil
	})
	return out, err
}

type stockRepo struct{ s *Store }

func reservationKey(key, productID string) string { return key + "_" + productID }

func (r stockRepo) Reserve(ctx context.Context, req repositories.StockRequest) ([]domain.StockLevel, error) {
	const op = "stock.reserve"
	lines, err := req.Normalized(op)
	if err != nil {
		return nil, err
	}
	var levels []domain.StockLevel
	err = r.s.with(ctx, func(st *state) error {
		for _, line := range lines {
			level, ok := st.stock[line.ProductID]
			if !ok {
				return &repositories.StockError{Op: op, Code: repositories.StockErrorProductNotFound, ProductID: line.ProductID, Message: "product " + line.ProductID + " has no stock record"}
			}
			if _, held := st.reservations[reservationKey(req.Key, line.ProductID)]; !held && level.Available < line.Quantity {
				return repositories.NewInsufficientStockError(op, line.ProductID, line.Quantity, level.Available)
			}
		}
		for _, line := range lines {
			level := st.stock[line.ProductID]
			key := reservationKey(req.Key, line.ProductID)
			if _, held := st.reservations[key]; !held {
				level.Available -= line.Quantity
				level.Reserved += line.Quantity
				level.UpdatedAt = req.Now
				st.stock[line.ProductID] = level
				st.reservations[key] = reservation{quantity: line.Quantity}
			}
			levels = append(levels, level)
		}
		return nil
	})
	return levels, err
}

func (r stockRepo) Release(ctx context.Context, req repositories.StockRequest) ([]domain.StockLevel, error) {
	const op = "stock.release"
	lines, err := req.Normalized(op)
	if err != nil {
		return nil, err
	}
	var levels []domain.StockLevel
	err = r.s.with(ctx, func(st *state) error {
		for _, line := range lines {
			level, ok := st.stock[line.ProductID]
			if !ok {
				return &repositories.StockError{Op: op, Code: repositories.StockErrorProductNotFound, ProductID: line.ProductID, Message: "product " + line.ProductID + " has no stock record"}
			}
			key := reservationKey(req.Key, line.ProductID)
			if res, held := st.reservations[key]; held && !res.released {
				level.Available += res.quantity
				level.Reserved = max(level.Reserved-res.quantity, 0)
				level.UpdatedAt = req.Now
				st.stock[line.ProductID] = level
				res.released = true
				st.reservations[key] = res
			}
			levels = append(levels, level)
		}
		return nil
	})
	return levels, err
}

func (r stockRepo) GetLevel(ctx context.Context, productID string) (domain.StockLevel, error) {
	var out domain.StockLevel
	err := r.s.with(ctx, func(st *state) error {
		level, ok := st.stock[productID]
		if !ok {
			return notFound("stock.get", "product %s has no stock record", productID)
		}
		out = level
		return nil
	})
	return out, err
}

func (r stockRepo) SetLevel(ctx context.Context, productID string, available int, now time.Time) error {
	if available < 0 {
		return repositories.NewStockError("stock.setLevel", repositories.StockErrorInvalidInput, "available must not be negative")
	}
	return r.s.with(ctx, func(st *state) error {
		level := st.stock[productID]
		level.ProductID = productID
		level.Available = available
		level.UpdatedAt = now
		st.stock[productID] = level
		return nil
	})
}

type catalogRepo struct{ s *Store }

func (r catalogRepo) GetPriceSnapshot(ctx context.Context, productID string) (domain.PriceSnapshot, error) {
	var out domain.PriceSnapshot
	err := r.s.with(ctx, func(st *state) error {
		price, ok := st.prices[productID]
		if !ok {
			return notFound("products.get", "product %s not found", productID)
		}
		out = price
		return nil
	})
	return out, err
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if strings.TrimSpace(counterID) == "" {
		return 0, fmt.Errorf("%w: counter id is required", repositories.ErrCounterInput)
	}
	if step <= 0 {
		step = 1
	}
	var next int64
	err := r.s.with(ctx, func(st *state) error {
		st.counters[counterID] += step
		next = st.counters[counterID]
		return nil
	})
	return next, err
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
