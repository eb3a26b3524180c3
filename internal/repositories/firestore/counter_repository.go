package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/repositories"
)

// Order number sequences live under counters/{scope:name}, e.g. counters/orders:2025.
const countersCollection = "counters"

type sequenceDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out gap-free sequence values.
type CounterRepository struct {
	provider  *pfirestore.Provider
	sequences *pfirestore.Collection[sequenceDocument]
	now       func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore counters: provider is nil")
	}
	return &CounterRepository{
		provider:  provider,
		sequences: pfirestore.NewCollection[sequenceDocument](provider, countersCollection, nil, nil),
		now:       time.Now,
	}, nil
}

// Next adds step to the sequence (a zero step counts as one) inside a
// transaction and returns the value written. Missing sequences start at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	key := strings.TrimSpace(counterID)
	switch {
	case key == "":
		return 0, fmt.Errorf("%w: empty counter id", repositories.ErrCounterInput)
	case step < 0:
		return 0, fmt.Errorf("%w: negative step %d for %s", repositories.ErrCounterInput, step, key)
	case step == 0:
		step = 1
	}

	var value int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		seq, err := r.sequences.Get(ctx, key)
		if isNotFound(err) {
			seq, err = sequenceDocument{}, nil
		}
		if err != nil {
			return err
		}
		value = seq.Value + step
		return r.sequences.Set(ctx, key, sequenceDocument{Value: value, UpdatedAt: r.now().UTC()})
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}
