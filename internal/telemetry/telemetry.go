// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry

import (
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fakhrymubarak/api-template/internal/config"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// NewTracerProvider builds a tracer provider for the configured exporter.
// With no exporter spans are still created, so trace and span ids are
// available for log enrichment.
func NewTracerProvider(cfg *config.Config, out io.Writer) (*sdktrace.TracerProvider, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ApplicationName),
		attribute.String("deployment.environment", cfg.Environment),
	)
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	switch strings.ToLower(cfg.Tracing.Exporter) {
	case "", ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Tracing.Exporter)
	}

	return sdktrace.NewTracerProvider(opts...), nil
}
