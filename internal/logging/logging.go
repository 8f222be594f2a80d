// Package logging configures process-wide slog output for the fsm tools.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Name of the running subsystem, attached to every record.
var subsystem atomic.Value //nolint:gochecknoglobals

// configMutex serializes ConfigureLoggingWithOptions, which replaces the
// slog and log package defaults.
var configMutex sync.Mutex //nolint:gochecknoglobals

// ErrInvalidLogOutput is returned when an invalid log output destination is specified.
var ErrInvalidLogOutput = errors.New("invalid log output")

// Options is used to configure logging.
type Options struct {
	Subsystem   string
	JSON        bool
	MinLevel    slog.Level
	LegacyLevel slog.Level
	Output      io.Writer

	// LoggerProvider, when set, receives a copy of every record through the
	// OpenTelemetry slog bridge.
	LoggerProvider *sdklog.LoggerProvider
}

// envConfig is the environment surface of Options.
type envConfig struct {
	JSON        bool       `env:"LOG_JSON"         envDefault:"false"`
	MinLevel    slog.Level `env:"LOG_LEVEL"        envDefault:"INFO"`
	LegacyLevel slog.Level `env:"LEGACY_LOG_LEVEL" envDefault:"INFO"`
	Output      string     `env:"LOG_OUTPUT"       envDefault:"stderr"`
}

// Option is a functional option for configuring logging via ConfigureLogging.
type Option func(*Options)

// WithOutput overrides the output chosen by LOG_OUTPUT.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// WithLoggerProvider fans records out to an OpenTelemetry log provider.
func WithLoggerProvider(lp *sdklog.LoggerProvider) Option {
	return func(o *Options) {
		o.LoggerProvider = lp
	}
}

// LoadOptions reads Options for app from the given environment.
func LoadOptions(app string, environ map[string]string) (Options, error) {
	var cfg envConfig

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Options{}, fmt.Errorf("failed to parse logging environment: %w", err)
	}

	output, err := outputFor(cfg.Output)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Subsystem:   app,
		JSON:        cfg.JSON,
		MinLevel:    cfg.MinLevel,
		LegacyLevel: cfg.LegacyLevel,
		Output:      output,
	}, nil
}

func outputFor(name string) (io.Writer, error) {
	switch name {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogOutput, name)
	}
}

// ConfigureLogging configures logging for app from LOG_JSON, LOG_LEVEL,
// LEGACY_LOG_LEVEL and LOG_OUTPUT. It returns the default logger.
func ConfigureLogging(app string, opts ...Option) (*slog.Logger, error) {
	options, err := LoadOptions(app, env.ToMap(os.Environ()))
	if err != nil {
		return nil, err
	}

	for _, o := range opts {
		o(&options)
	}

	return ConfigureLoggingWithOptions(options), nil
}

// ConfigureLoggingWithOptions configures logging for the application.
// It returns the default logger.
// This function is thread-safe but modifies global state, so concurrent calls
// will be serialized.
func ConfigureLoggingWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.MinLevel}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	if opts.LoggerProvider != nil {
		handler = fanout{
			handler,
			otelslog.NewHandler(opts.Subsystem, otelslog.WithLoggerProvider(opts.LoggerProvider)),
		}
	}

	logger := slog.New(handler)
	if opts.Subsystem != "" {
		logger = logger.With("subsystem", opts.Subsystem)
	}

	slog.SetDefault(logger)

	// Third-party code using the log package ends up in slog too.
	def := log.Default()
	*def = *slog.NewLogLogger(logger.Handler(), opts.LegacyLevel)

	subsystem.Store(opts.Subsystem)

	return logger
}

// Subsystem returns the subsystem name of the last configuration, or "".
func Subsystem() string {
	name, _ := subsystem.Load().(string)

	return name
}

// fanout sends every record to all of its handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error

	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}

		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}

	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}

	return out
}
