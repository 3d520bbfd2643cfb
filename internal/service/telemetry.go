package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/hamzalsheikh/howl/pkg/version"
)

const metricInterval = 10 * time.Second

func newResource(cfg Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(string(cfg.ServiceName)),
			semconv.ServiceVersion(version.Version()),
		),
	)
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	secureOption := otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if cfg.Insecure {
		secureOption = otlptracegrpc.WithInsecure()
	}

	return otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			secureOption,
			otlptracegrpc.WithEndpoint(cfg.CollectorURL),
		),
	)
}

// CreateTracer installs a global tracer provider. Spans are exported over
// OTLP when a collector is configured and dropped otherwise.
func CreateTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, trace.Tracer, error) {
	r, err := newResource(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(r)}
	if cfg.CollectorURL != "" {
		exp, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, tp.Tracer(string(cfg.ServiceName) + "Tracer"), nil
}

// CreateMeterProvider builds a meter provider that pushes to the collector
// every ten seconds, or one without readers when no collector is set.
func CreateMeterProvider(ctx context.Context, cfg Config) (*metric.MeterProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	opts := []metric.Option{metric.WithResource(res)}

	if cfg.CollectorURL != "" {
		secureOption := otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
		if cfg.Insecure {
			secureOption = otlpmetricgrpc.WithInsecure()
		}
		metricExporter, err := otlpmetricgrpc.New(
			ctx,
			secureOption,
			otlpmetricgrpc.WithEndpoint(cfg.CollectorURL),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(metricInterval))))
	}

	mp := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// CreateLogger logs to the console in development, to a file under LogDir
// otherwise, and to both when the environment is "both". The returned closer
// releases the log file.
func CreateLogger(cfg Config) (zerolog.Logger, io.Closer, error) {
	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	var closer io.Closer = nopCloser{}

	if cfg.Environment != "development" {
		if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
			return zerolog.Nop(), nil, err
		}
		name := fmt.Sprintf("%s-log-%s", cfg.ServiceName, time.Now().Format("20060102T150405"))
		f, err := os.Create(filepath.Join(cfg.LogDir, name))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("couldn't create log file: %w", err)
		}
		closer = f
		// both writes logs to both a log file and console
		if cfg.Environment == "both" {
			output = zerolog.MultiLevelWriter(output, f)
		} else {
			output = f
		}
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", string(cfg.ServiceName)).
		Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
