// Package observability wires OpenTelemetry tracing and Prometheus metrics
// for the scrape pipeline. All recording helpers are safe no-ops until Init
// has run, so library code can call them unconditionally.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	scrapeTracer trace.Tracer

	gateWaitSeconds  metric.Float64Histogram
	gateDecisions    metric.Int64Counter
	jobsScraped      metric.Int64Counter
	ratesUnparseable metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false
// the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "wagewatch"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Traces are optional, the scrape run still proceeds.
			fmt.Printf("WARN: Failed to create OTLP trace exporter (traces disabled): %v\n", err)
		} else {
			spanExporter = exp
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		scrapeTracer = tracerProvider.Tracer("wagewatch/scraper")
		_ = initScrapeInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapTransport applies OpenTelemetry instrumentation to an outbound HTTP
// transport. Safe to call before Init; the global providers apply once set.
func WrapTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

func initScrapeInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("wagewatch/scraper")

	var err error
	gateWaitSeconds, err = meter.Float64Histogram(
		"wagewatch.gate.wait_seconds",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent waiting in the pacing gate before a request"),
	)
	if err != nil {
		return err
	}

	gateDecisions, err = meter.Int64Counter(
		"wagewatch.gate.decisions",
		metric.WithDescription("Request gate outcomes by host"),
	)
	if err != nil {
		return err
	}

	jobsScraped, err = meter.Int64Counter(
		"wagewatch.jobs.scraped",
		metric.WithDescription("Job postings collected per source"),
	)
	if err != nil {
		return err
	}

	ratesUnparseable, err = meter.Int64Counter(
		"wagewatch.rates.unparseable",
		metric.WithDescription("Pay strings that could not be normalized"),
	)
	return err
}

// StartSourceSpan starts a span covering one source's scrape.
func StartSourceSpan(ctx context.Context, source, city string) (context.Context, trace.Span) {
	t := scrapeTracer
	if t == nil {
		t = otel.Tracer("wagewatch/scraper")
	}
	return t.Start(ctx, "scraper.scrape_source", trace.WithAttributes(
		attribute.String("scrape.source", source),
		attribute.String("scrape.city", city),
	))
}

// RecordGateDecision emits gate metrics when instrumentation is initialised.
func RecordGateDecision(ctx context.Context, host string, proceed bool, waited time.Duration) {
	if gateDecisions != nil {
		gateDecisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("host", host),
			attribute.Bool("proceed", proceed),
		))
	}
	if proceed && gateWaitSeconds != nil {
		gateWaitSeconds.Record(ctx, waited.Seconds(), metric.WithAttributes(
			attribute.String("host", host),
		))
	}
}

// RecordJobScraped counts a collected job posting.
func RecordJobScraped(ctx context.Context, source string) {
	if jobsScraped != nil {
		jobsScraped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
		))
	}
}

// RecordUnparseableRate counts a pay string the normalizer could not handle.
func RecordUnparseableRate(ctx context.Context, source string) {
	if ratesUnparseable != nil {
		ratesUnparseable.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
		))
	}
}
