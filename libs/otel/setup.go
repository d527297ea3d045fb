package otelx

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of the collector, e.g. otel-collector:4317
	Insecure       bool
	SampleRatio    float64
}

// ConfigFromEnv reads OTEL_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE,
// OTEL_SAMPLING_RATIO, SERVICE_VERSION and DEPLOY_ENV. Tracing is off unless enabled so
// local runs and tests do not need a collector.
func ConfigFromEnv(serviceName string) Config {
	ratio := config.Float("OTEL_SAMPLING_RATIO", 1)
	if ratio < 0 || ratio > 1 {
		ratio = 1
	}
	return Config{
		Enabled:        config.Bool("OTEL_ENABLED", false),
		ServiceName:    serviceName,
		ServiceVersion: config.String("SERVICE_VERSION", "dev"),
		Environment:    config.String("DEPLOY_ENV", "local"),
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Insecure:       config.Bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		SampleRatio:    ratio,
	}
}

// Setup installs the W3C propagators and, when enabled, a batching OTLP tracer
// provider. The returned func flushes and stops it.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("otel: service name is required")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTimeout(3 * time.Second),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
