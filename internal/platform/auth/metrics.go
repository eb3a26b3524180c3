package auth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// verifications counts authentication decisions by mechanism and reason.
// Registration failures leave a nil counter and recording becomes a no-op.
var verifications, _ = otel.GetMeterProvider().
	Meter("github.com/gymhub/api/internal/platform/auth").
	Int64Counter("gymhub.auth.verifications",
		metric.WithDescription("Authentication decisions by mechanism and reason"))

func recordVerification(ctx context.Context, mechanism, reason string) {
	if verifications == nil {
		return
	}
	verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mechanism", mechanism),
		attribute.String("reason", reason),
		attribute.Bool("ok", reason == "ok"),
	))
}
