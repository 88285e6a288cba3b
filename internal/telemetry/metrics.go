package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/tenantcore"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Isolation metrics
	IsolationViolationsTotal metric.Int64Counter
	TenantResolutionFailures metric.Int64Counter

	// Token metrics
	TokensIssuedTotal    metric.Int64Counter
	TokensRefreshedTotal metric.Int64Counter
	RefreshDeniedTotal   metric.Int64Counter
	TokenRejectedTotal   metric.Int64Counter

	// Login metrics
	LoginAttemptsTotal metric.Int64Counter
	LoginFailuresTotal metric.Int64Counter

	// Cache metrics
	CacheHitsTotal   metric.Int64Counter
	CacheMissesTotal metric.Int64Counter
	CacheErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.IsolationViolationsTotal, _ = meter.Int64Counter(
		"tenantcore.isolation.violations.total",
		metric.WithDescription("Store calls rejected for a missing or mismatched tenant"),
		metric.WithUnit("{violation}"),
	)

	m.TenantResolutionFailures, _ = meter.Int64Counter(
		"tenantcore.tenancy.resolution_failures.total",
		metric.WithDescription("Requests whose tenant could not be resolved or was inactive"),
		metric.WithUnit("{request}"),
	)

	m.TokensIssuedTotal, _ = meter.Int64Counter(
		"tenantcore.tokens.issued.total",
		metric.WithDescription("Access tokens issued at login"),
		metric.WithUnit("{token}"),
	)

	m.TokensRefreshedTotal, _ = meter.Int64Counter(
		"tenantcore.tokens.refreshed.total",
		metric.WithDescription("Access tokens reissued by refresh"),
		metric.WithUnit("{token}"),
	)

	m.RefreshDeniedTotal, _ = meter.Int64Counter(
		"tenantcore.tokens.refresh_denied.total",
		metric.WithDescription("Refresh attempts that were denied"),
		metric.WithUnit("{token}"),
	)

	m.TokenRejectedTotal, _ = meter.Int64Counter(
		"tenantcore.tokens.rejected.total",
		metric.WithDescription("Bearer tokens rejected by the authenticator"),
		metric.WithUnit("{token}"),
	)

	m.LoginAttemptsTotal, _ = meter.Int64Counter(
		"tenantcore.login.attempts.total",
		metric.WithDescription("Login attempts"),
		metric.WithUnit("{attempt}"),
	)

	m.LoginFailuresTotal, _ = meter.Int64Counter(
		"tenantcore.login.failures.total",
		metric.WithDescription("Failed login attempts"),
		metric.WithUnit("{attempt}"),
	)

	m.CacheHitsTotal, _ = meter.Int64Counter(
		"tenantcore.cache.hits.total",
		metric.WithDescription("Cache hits by cache name"),
		metric.WithUnit("{lookup}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"tenantcore.cache.misses.total",
		metric.WithDescription("Cache misses by cache name"),
		metric.WithUnit("{lookup}"),
	)

	m.CacheErrorsTotal, _ = meter.Int64Counter(
		"tenantcore.cache.errors.total",
		metric.WithDescription("Cache backend errors; lookups fall through to storage"),
		metric.WithUnit("{error}"),
	)

	return m
}
