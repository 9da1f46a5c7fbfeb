package telemetry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoEndpoint is returned when neither the config nor
// OTEL_EXPORTER_OTLP_ENDPOINT names a collector.
var ErrNoEndpoint = errors.New("telemetry: no OTLP endpoint configured")

// ProviderConfig selects where spans are exported.
type ProviderConfig struct {
	// ServiceName falls back to OTEL_SERVICE_NAME, then "inkpanel".
	ServiceName    string
	ServiceVersion string

	// Endpoint is host:port of the collector. A scheme prefix is stripped.
	// Empty means OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is "grpc" (default) or "http".
	Protocol string
	Insecure bool

	// SampleRatio below 1 keeps that fraction of root traces.
	SampleRatio float64

	// Debug puts track titles on fetch spans.
	Debug bool
}

// Provider owns the SDK tracer provider installed by InitProvider.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider builds an OTLP exporter, installs it as the global
// OpenTelemetry provider and makes its Tracer the package default.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	endpoint := cmp.Or(cfg.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	for _, scheme := range []string{"http://", "https://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	name := cmp.Or(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), "inkpanel")

	exp, err := newExporter(ctx, cmp.Or(cfg.Protocol, "grpc"), endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	p := &Provider{sdk: sdk, tracer: NewTracerFromProvider(sdk, name, cfg.Debug)}
	SetGlobalTracer(p.tracer)
	return p, nil
}

func newExporter(ctx context.Context, protocol, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("telemetry: protocol %q is not grpc or http", protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: %s exporter: %w", protocol, err)
	}
	return exp, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}

// Tracer returns the tracer bound to this provider.
func (p *Provider) Tracer() *Tracer { return p.tracer }

// Close flushes queued spans and stops the exporter.
func (p *Provider) Close(ctx context.Context) error {
	return errors.Join(p.sdk.ForceFlush(ctx), p.sdk.Shutdown(ctx))
}
