// Package telemetry sets up OpenTelemetry tracing and log export for the fsm
// tools.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/amp-labs/amp-fsm/internal/logging"
	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceName = "fsm"
	gkeCollector       = "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318"
)

var (
	tracerProvider *sdktrace.TracerProvider //nolint:gochecknoglobals
	loggerProvider *sdklog.LoggerProvider   //nolint:gochecknoglobals
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	ServiceName    string        `env:"OTEL_SERVICE_NAME"`
	ServiceVersion string        `env:"OTEL_SERVICE_VERSION"              envDefault:"1.0.0"`
	Environment    string        `env:"ENVIRONMENT"                       envDefault:"dev"`
	Endpoint       string        `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	Enabled        bool          `env:"OTEL_ENABLED"                      envDefault:"false"`
	Timeout        time.Duration `env:"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT" envDefault:"5s"`

	LogsEnabled  bool   `env:"OTEL_LOGS_ENABLED"                envDefault:"false"`
	LogsEndpoint string `env:"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"`
}

// LoadConfigFromEnv loads OpenTelemetry configuration from the process environment.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig(env.ToMap(os.Environ()))
}

// LoadConfig loads OpenTelemetry configuration from environ.
//
// Inside Kubernetes the endpoint defaults to the cluster collector. The
// service name defaults to the logging subsystem, and the logs endpoint to
// the traces endpoint.
func LoadConfig(environ map[string]string) (*Config, error) {
	var cfg Config

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry environment: %w", err)
	}

	if cfg.Endpoint == "" && environ["KUBERNETES_SERVICE_HOST"] != "" {
		cfg.Endpoint = gkeCollector
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = logging.Subsystem()
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}

	if cfg.LogsEndpoint == "" {
		cfg.LogsEndpoint = cfg.Endpoint
	}

	return &cfg, nil
}

// Initialize sets up OpenTelemetry tracing, and log export when enabled,
// with the given configuration.
func Initialize(ctx context.Context, config *Config) error {
	if !config.Enabled {
		slog.Debug("OpenTelemetry is disabled")

		return nil
	}

	if config.Endpoint == "" {
		slog.Warn("OpenTelemetry endpoint not configured, tracing will be disabled")

		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(config.Endpoint),
		otlptracehttp.WithTimeout(config.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if config.LogsEnabled {
		logExporter, logErr := otlploghttp.New(ctx,
			otlploghttp.WithEndpointURL(config.LogsEndpoint),
			otlploghttp.WithTimeout(config.Timeout),
		)
		if logErr != nil {
			return fmt.Errorf("failed to create OTLP log exporter: %w", logErr)
		}

		loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
	}

	slog.Info("OpenTelemetry initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", config.Endpoint,
		"logs", config.LogsEnabled,
	)

	return nil
}

// LoggerProvider returns the OTLP log provider, or nil when log export is off.
func LoggerProvider() *sdklog.LoggerProvider {
	return loggerProvider
}

// Shutdown flushes and stops the providers created by Initialize.
func Shutdown(ctx context.Context) error {
	var errs []error

	if tracerProvider != nil {
		slog.Debug("Shutting down OpenTelemetry tracer provider")

		errs = append(errs, tracerProvider.Shutdown(ctx))
		tracerProvider = nil
	}

	if loggerProvider != nil {
		errs = append(errs, loggerProvider.Shutdown(ctx))
		loggerProvider = nil
	}

	return errors.Join(errs...)
}
