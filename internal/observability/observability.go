// Package observability configures the process-wide slog logger and, when
// requested, an OpenTelemetry log pipeline that receives the same records.
// The otlp-http exporter also ships trace spans.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const instrumentationName = "github.com/florianilch/aemupload"

// Exporter names accepted by Instrument.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// ShutdownFunc flushes and stops whatever Instrument started.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger writing to stderr. Standard
// output is left alone; it carries the command's result.
//
// The otlp exporters read their endpoint from the standard OTEL_EXPORTER_OTLP_*
// environment variables.
func Instrument(ctx context.Context, level slog.Level, format, exporter string) (ShutdownFunc, error) {
	return instrument(ctx, os.Stderr, level, format, exporter)
}

func instrument(ctx context.Context, w io.Writer, level slog.Level, format, exporter string) (ShutdownFunc, error) {
	console, err := consoleHandler(w, level, format)
	if err != nil {
		return nil, err
	}

	provider, err := loggerProvider(ctx, w, level, exporter)
	if err != nil {
		return nil, err
	}

	if provider == nil {
		slog.SetDefault(slog.New(console))
		return func(context.Context) error { return nil }, nil
	}

	tracer, err := tracerProvider(ctx, exporter)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	global.SetLoggerProvider(provider)
	otelHandler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(fanout{console, otelHandler}))

	if tracer != nil {
		otel.SetTracerProvider(tracer)
	}

	return func(ctx context.Context) error {
		var errs []error
		if tracer != nil {
			if err := tracer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down trace exporter: %w", err))
			}
		}
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down log exporter: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

// tracerProvider exports spans alongside logs for the otlp-http exporter.
// Other exporters keep the no-op global tracer.
func tracerProvider(ctx context.Context, exporter string) (*sdktrace.TracerProvider, error) {
	if exporter != ExporterOTLPHTTP {
		return nil, nil
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating otlp http trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)), nil
}

func consoleHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// loggerProvider returns nil for the "none" exporter.
func loggerProvider(ctx context.Context, w io.Writer, level slog.Level, exporter string) (*sdklog.LoggerProvider, error) {
	var processor sdklog.Processor

	switch exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		exp, err := stdoutlog.New(stdoutlog.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		// A one-shot CLI exits right after its work; export synchronously.
		processor = sdklog.NewSimpleProcessor(exp)
	case ExporterOTLPHTTP:
		exp, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp http log exporter: %w", err)
		}
		processor = sdklog.NewBatchProcessor(exp)
	case ExporterOTLPGRPC:
		exp, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc log exporter: %w", err)
		}
		processor = sdklog.NewBatchProcessor(exp)
	default:
		return nil, fmt.Errorf("unsupported telemetry exporter: %s", exporter)
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, minSeverity(level))),
	), nil
}

func minSeverity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanout passes every record to all handlers that accept its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
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
