package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies the gate's instruments.
const MeterName = "key-release-gate"

// Metrics holds the gate's OpenTelemetry instruments.
type Metrics struct {
	ReleaseAttempts  metric.Int64Counter
	ReleaseSuccess   metric.Int64Counter
	ReleaseDenials   metric.Int64Counter
	ReleaseDuration  metric.Float64Histogram
	DriftCorrections metric.Int64Counter
	ViolationBlocks  metric.Int64Counter
}

// NewMetrics registers the gate instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ReleaseAttempts, err = meter.Int64Counter("gate.release.attempts",
		metric.WithDescription("Key release requests received")); err != nil {
		return nil, fmt.Errorf("create release attempts counter: %w", err)
	}
	if m.ReleaseSuccess, err = meter.Int64Counter("gate.release.success",
		metric.WithDescription("Key release requests that returned a key")); err != nil {
		return nil, fmt.Errorf("create release success counter: %w", err)
	}
	if m.ReleaseDenials, err = meter.Int64Counter("gate.release.denials",
		metric.WithDescription("Key release denials by code and class")); err != nil {
		return nil, fmt.Errorf("create release denials counter: %w", err)
	}
	if m.ReleaseDuration, err = meter.Float64Histogram("gate.release.duration_ms",
		metric.WithDescription("End-to-end release decision latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create release duration histogram: %w", err)
	}
	if m.DriftCorrections, err = meter.Int64Counter("gate.drift.corrections",
		metric.WithDescription("Registry records converged after the ledger reported the token gone")); err != nil {
		return nil, fmt.Errorf("create drift corrections counter: %w", err)
	}
	if m.ViolationBlocks, err = meter.Int64Counter("gate.violation.blocks",
		metric.WithDescription("Licenses blocked by automated anti-sharing enforcement")); err != nil {
		return nil, fmt.Errorf("create violation blocks counter: %w", err)
	}
	return m, nil
}

// observe records one decision in the metrics and the structured log.
func (g *Gate) observe(ctx context.Context, req ReleaseRequest, elapsed time.Duration, err error) {
	if g.metrics != nil {
		g.metrics.ReleaseAttempts.Add(ctx, 1)
		g.metrics.ReleaseDuration.Record(ctx, float64(elapsed.Milliseconds()))
	}

	if err == nil {
		if g.metrics != nil {
			g.metrics.ReleaseSuccess.Add(ctx, 1)
		}
		g.logger.InfoContext(ctx, "key released",
			slog.String("license_id", req.LicenseID),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	d, ok := AsDenial(err)
	if !ok {
		g.logger.ErrorContext(ctx, "release failed",
			slog.String("license_id", req.LicenseID),
			slog.String("error", err.Error()),
		)
		return
	}
	if g.metrics != nil {
		g.metrics.ReleaseDenials.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", string(d.Code)),
			attribute.String("class", string(d.Class)),
		))
	}
	g.logger.InfoContext(ctx, "key release denied",
		slog.String("license_id", req.LicenseID),
		slog.String("code", string(d.Code)),
		slog.String("class", string(d.Class)),
		slog.Duration("elapsed", elapsed),
	)
}
