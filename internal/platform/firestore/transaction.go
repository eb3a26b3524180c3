package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a transaction. ctx carries tx, so repository calls made
// with it join the same transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	budget   time.Duration
}

// WithTxAttempts caps how often Firestore retries on contention.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTxTimeout bounds the transaction including retries.
func WithTxTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.budget = d
		}
	}
}

type txKey struct{}

func TransactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	tx, _ := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, tx != nil
}

// RunTransaction runs fn in a new transaction, or inside the one ctx already
// carries. An error returned by fn is returned unchanged; Firestore failures
// are classified with WrapError.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	if fn == nil {
		return errors.New("firestore: nil transaction func")
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	settings := txSettings{attempts: 5, budget: 15 * time.Second}
	for _, opt := range opts {
		opt(&settings)
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.budget {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.budget)
		defer cancel()
	}

	var fnErr error
	err = client.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		fnErr = fn(context.WithValue(txCtx, txKey{}, tx), tx)
		return fnErr
	}, firestore.MaxAttempts(settings.attempts))
	if fnErr != nil {
		return fnErr
	}
	return WrapError("transaction", err)
}
