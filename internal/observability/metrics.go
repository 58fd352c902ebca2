package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sandeepkv93/ticket-access-service/internal/config"
)

const meterName = "ticket-access-service"

type appMetrics struct {
	repoOps           metric.Int64Counter
	authEvents        metric.Int64Counter
	accessValidations metric.Int64Counter
	claimOutcomes     metric.Int64Counter
	rateLimitDecision metric.Int64Counter
	rateLimitRetry    metric.Float64Histogram
	identityCache     metric.Int64Counter
	eventPublishes    metric.Int64Counter
	cleanupDeleted    metric.Int64Counter
	requestDuration   metric.Float64Histogram
}

var (
	metricsOnce sync.Once
	metrics     *appMetrics
)

// instruments are created against the global provider, which forwards to the
// provider installed by InitMetrics even when created earlier.
func instruments() *appMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)
		m := &appMetrics{}
		m.repoOps, _ = meter.Int64Counter("repository.operations")
		m.authEvents, _ = meter.Int64Counter("auth.events")
		m.accessValidations, _ = meter.Int64Counter("auth.access_token.validations")
		m.claimOutcomes, _ = meter.Int64Counter("resource.claim.outcomes")
		m.rateLimitDecision, _ = meter.Int64Counter("http.rate_limit.decisions")
		m.rateLimitRetry, _ = meter.Float64Histogram("http.rate_limit.retry_after", metric.WithUnit("s"))
		m.identityCache, _ = meter.Int64Counter("identity.cache.events")
		m.eventPublishes, _ = meter.Int64Counter("events.publish")
		m.cleanupDeleted, _ = meter.Int64Counter("cleanup.deleted_rows")
		m.requestDuration, _ = meter.Float64Histogram("http.server.request.duration", metric.WithUnit("s"))
		metrics = m
	})
	return metrics
}

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	m := instruments()
	if m.repoOps == nil {
		return
	}
	m.repoOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

// RecordAuthEvent counts signup, login, refresh, logout and reset outcomes.
func RecordAuthEvent(ctx context.Context, action, outcome string) {
	m := instruments()
	if m.authEvents == nil {
		return
	}
	m.authEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := instruments()
	if m.accessValidations == nil {
		return
	}
	m.accessValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordClaimOutcome(ctx context.Context, resourceType, outcome string) {
	m := instruments()
	if m.claimOutcomes == nil {
		return
	}
	m.claimOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode, keyType string) {
	m := instruments()
	if m.rateLimitDecision == nil {
		return
	}
	m.rateLimitDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
		attribute.String("key_type", keyType),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, d time.Duration) {
	m := instruments()
	if m.rateLimitRetry == nil {
		return
	}
	m.rateLimitRetry.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("reason", reason),
	))
}

func RecordIdentityCacheEvent(ctx context.Context, event string) {
	m := instruments()
	if m.identityCache == nil {
		return
	}
	m.identityCache.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func RecordEventPublish(ctx context.Context, sink, topic, outcome string) {
	m := instruments()
	if m.eventPublishes == nil {
		return
	}
	m.eventPublishes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	))
}

func RecordCleanup(ctx context.Context, kind string, rows int64) {
	m := instruments()
	if m.cleanupDeleted == nil || rows <= 0 {
		return
	}
	m.cleanupDeleted.Add(ctx, rows, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	m := instruments()
	if m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	))
}
