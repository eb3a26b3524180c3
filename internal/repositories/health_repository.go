package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/gymhub/api/internal/domain"
)

// DependencyCheck probes one backend for readiness. Timeout falls back to
// the repository default when zero.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type DependencyHealthOption func(*probeHealthRepository)

func WithDependencyTimeout(d time.Duration) DependencyHealthOption {
	return func(r *probeHealthRepository) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithDependencyClock(now func() time.Time) DependencyHealthOption {
	return func(r *probeHealthRepository) {
		if now != nil {
			r.now = now
		}
	}
}

type probeHealthRepository struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// NewDependencyHealthRepository runs every check concurrently on Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks")
	}
	for i, c := range checks {
		if c.Name == "" || c.Check == nil {
			return nil, fmt.Errorf("health repository: check %d needs a name and a func", i)
		}
	}
	r := &probeHealthRepository{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: 1500 * time.Millisecond,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make([]domain.SystemHealthCheck, len(r.checks))
	var g errgroup.Group
	for i, c := range r.checks {
		g.Go(func() error {
			results[i] = r.probe(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(results)),
		GeneratedAt: r.now(),
	}
	for i, res := range results {
		report.Checks[r.checks[i].Name] = res
		switch {
		case res.Status == domain.HealthStatusError:
			report.Status = domain.HealthStatusError
		case res.Status == domain.HealthStatusDegraded && report.Status == domain.HealthStatusOK:
			report.Status = domain.HealthStatusDegraded
		}
	}
	return report, nil
}

// probe maps a check outcome to a status. Timeouts and cancellations are
// errors; any other failure only degrades readiness.
func (r *probeHealthRepository) probe(ctx context.Context, c DependencyCheck) domain.SystemHealthCheck {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := c.Check(ctx)
	if err == nil {
		err = ctx.Err()
	}
	finished := r.now()

	res := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: finished.Sub(started), CheckedAt: finished}
	if err == nil {
		return res
	}
	res.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.Status, res.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		res.Status, res.Detail = domain.HealthStatusError, "cancelled"
	default:
		res.Status, res.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return res
}
