package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/storefront"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Auth gateway metrics
	AuthAttemptsTotal metric.Int64Counter
	AuthFailuresTotal metric.Int64Counter

	// Catalog metrics
	CatalogFetchTotal       metric.Int64Counter
	CatalogFetchErrorsTotal metric.Int64Counter
	CatalogFetchDuration    metric.Float64Histogram
	CatalogItemsReturned    metric.Int64Histogram

	// Session state metrics
	SessionTransitionsTotal metric.Int64Counter
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

	m.AuthAttemptsTotal, _ = meter.Int64Counter(
		"storefront.auth.attempts.total",
		metric.WithDescription("Total number of sign in and sign up attempts"),
		metric.WithUnit("{attempt}"),
	)

	m.AuthFailuresTotal, _ = meter.Int64Counter(
		"storefront.auth.failures.total",
		metric.WithDescription("Total number of rejected sign in and sign up attempts"),
		metric.WithUnit("{attempt}"),
	)

	m.CatalogFetchTotal, _ = meter.Int64Counter(
		"storefront.catalog.fetch.total",
		metric.WithDescription("Total number of catalog page fetches"),
		metric.WithUnit("{fetch}"),
	)

	m.CatalogFetchErrorsTotal, _ = meter.Int64Counter(
		"storefront.catalog.fetch.errors.total",
		metric.WithDescription("Total number of failed catalog page fetches"),
		metric.WithUnit("{error}"),
	)

	m.CatalogFetchDuration, _ = meter.Float64Histogram(
		"storefront.catalog.fetch.duration",
		metric.WithDescription("Duration of catalog page fetches"),
		metric.WithUnit("ms"),
	)

	m.CatalogItemsReturned, _ = meter.Int64Histogram(
		"storefront.catalog.fetch.items",
		metric.WithDescription("Number of listings returned per page"),
		metric.WithUnit("{item}"),
	)

	m.SessionTransitionsTotal, _ = meter.Int64Counter(
		"storefront.session.transitions.total",
		metric.WithDescription("Total number of session state transitions"),
		metric.WithUnit("{transition}"),
	)

	return m
}
