package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const metricNamespace = "github.com/gymhub/api/internal/services"

// serviceMetrics counts state machine outcomes. Registration failures fall
// back to no-op instruments so callers never branch on them.
type serviceMetrics struct {
	transitions   metric.Int64Counter
	rejections    metric.Int64Counter
	movements     metric.Int64Counter
	confirmations metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) serviceMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	fallback := noop.NewMeterProvider().Meter(metricNamespace)

	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	return serviceMetrics{
		transitions:   counter("orders.transitions", "Applied order status transitions"),
		rejections:    counter("orders.transitions.rejected", "Rejected order status transitions by reason"),
		movements:     counter("ledger.movements.created", "Financial movements written by category"),
		confirmations: counter("transfers.confirmed", "Confirmed bank transfer vouchers by source kind"),
	}
}

func (m serviceMetrics) transitionApplied(ctx context.Context, deliveryType, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("delivery_type", deliveryType),
		attribute.String("to", to),
	))
}

func (m serviceMetrics) transitionRejected(ctx context.Context, reason string) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m serviceMetrics) movementCreated(ctx context.Context, category string) {
	m.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m serviceMetrics) transferConfirmed(ctx context.Context, kind string) {
	m.confirmations.Add(ctx, 1, metric.WithAttributes(attribute.String("source", kind)))
}
