package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gymhub/api/internal/repositories"
)

var (
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	ErrCounterUnavailable  = errors.New("counter: unavailable")
)

type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

// counterService hands out gap-free sequences keyed "scope:name".
type counterService struct {
	repo repositories.CounterRepository
	now  func() time.Time
}

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &counterService{repo: deps.Repository, now: now}, nil
}

func (s *counterService) Next(ctx context.Context, scope, name string) (int64, error) {
	scope, name = strings.TrimSpace(scope), strings.TrimSpace(name)
	if scope == "" || name == "" {
		return 0, fmt.Errorf("%w: scope and name are required", ErrCounterInvalidInput)
	}
	value, err := s.repo.Next(ctx, scope+":"+name, 1)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, repositories.ErrCounterInput):
		return 0, fmt.Errorf("%w: %v", ErrCounterInvalidInput, err)
	case isUnavailable(err):
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	default:
		return 0, err
	}
}

// NextOrderNumber returns GYM-YYYY-NNNNNN. Each UTC year has its own sequence.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.now().UTC().Year()
	seq, err := s.Next(ctx, "orders", fmt.Sprintf("%04d", year))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("GYM-%04d-%06d", year, seq), nil
}
