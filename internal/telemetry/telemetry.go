// Package telemetry installs the OpenTelemetry SDK providers used by the
// graph engine's spans and metrics. Finished spans and collected metrics
// are written as JSON by the stdout exporters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultMetricInterval is how often metrics are collected and exported.
const DefaultMetricInterval = time.Minute

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "schemaflow"

// Options configures Setup.
type Options struct {
	// Writer receives the exported spans and metrics.
	Writer io.Writer
	// MetricInterval defaults to DefaultMetricInterval.
	MetricInterval time.Duration
	// Pretty indents the JSON output.
	Pretty bool
}

// Setup registers global tracer and meter providers. The returned
// function flushes and stops both.
func Setup(opts Options) (func(context.Context) error, error) {
	if opts.Writer == nil {
		return nil, errors.New("telemetry writer is required")
	}
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = DefaultMetricInterval
	}

	traceOpts := []stdouttrace.Option{stdouttrace.WithWriter(opts.Writer)}
	metricOpts := []stdoutmetric.Option{stdoutmetric.WithWriter(opts.Writer)}
	if opts.Pretty {
		traceOpts = append(traceOpts, stdouttrace.WithPrettyPrint())
		metricOpts = append(metricOpts, stdoutmetric.WithPrettyPrint())
	}
	spanExporter, err := stdouttrace.New(traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("span exporter: %w", err)
	}
	metricExporter, err := stdoutmetric.New(metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(opts.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
