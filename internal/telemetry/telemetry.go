// Package telemetry initializes OpenTelemetry tracing and metrics exporters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metric exporters understood by Init.
const (
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// Config selects the exporters.
type Config struct {
	Endpoint        string // OTLP/HTTP endpoint; empty disables OTLP.
	Insecure        bool
	ServiceName     string
	Version         string
	MetricsExporter string // otlp, prometheus or none
}

// Providers is the result of Init.
type Providers struct {
	Shutdown Shutdown

	// MetricsHandler serves the Prometheus scrape endpoint. It is nil unless
	// the prometheus exporter was selected.
	MetricsHandler http.Handler
}

// Init configures the global OpenTelemetry tracer and meter providers.
// Traces are exported over OTLP when an endpoint is set. Metrics go to OTLP,
// to a Prometheus registry, or nowhere. The returned Shutdown must be called
// during graceful shutdown.
func Init(ctx context.Context, cfg Config) (Providers, error) {
	noop := Providers{Shutdown: func(context.Context) error { return nil }}
	if cfg.Endpoint == "" && cfg.MetricsExporter != ExporterPrometheus {
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
	)
	if err != nil {
		return Providers{}, fmt.Errorf("telemetry: create resource: %w", err)
	}

	var shutdowns []Shutdown

	if cfg.Endpoint != "" {
		traceOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		}
		traceExp, err := otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return Providers{}, fmt.Errorf("telemetry: create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp,
				sdktrace.WithBatchTimeout(5*time.Second),
			),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)

		// W3C Trace Context and Baggage, so incoming traceparent headers join
		// the caller's trace.
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			),
		)
	}

	out := Providers{}
	var reader sdkmetric.Reader
	switch cfg.MetricsExporter {
	case ExporterPrometheus:
		reg := prometheus.NewRegistry()
		exp, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return Providers{}, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
		}
		reader = exp
		out.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	case ExporterOTLP, "":
		if cfg.Endpoint == "" {
			break
		}
		metricOpts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			return Providers{}, fmt.Errorf("telemetry: create metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(15*time.Second),
		)
	}
	if reader != nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	out.Shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}
	return out, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}
