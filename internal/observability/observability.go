// Package observability configures the process-wide slog logger and tracer provider.
//
// Logs go to stderr through a plain slog handler, or through the
// OpenTelemetry log pipeline when an exporter is selected:
//
//	slog → otelslog bridge → minsev filter → processor → exporter
//
// Tracing is opt-in: with a trace exporter set, an sdk TracerProvider is
// installed globally; otherwise the otel no-op provider stays in place.
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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ScopeName is the instrumentation scope reported with every record.
const ScopeName = "github.com/florianilch/tokenbridge"

// ServiceName is reported as service.name on every span.
const ServiceName = "tokenbridge"

// Exporter selects where logs or spans are shipped.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
)

// Options configures Instrument.
type Options struct {
	Level         slog.Level
	Format        string // text or json; ignored by OTel exporters
	Exporter      Exporter
	TraceExporter Exporter  // none keeps tracing disabled
	Writer        io.Writer // defaults to os.Stderr
}

// ShutdownFunc flushes and releases the logging and tracing pipelines.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger and tracer provider and
// returns a function shutting both down.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	logShutdown, err := instrumentLogs(ctx, opts)
	if err != nil {
		return nil, err
	}

	traceShutdown, err := instrumentTraces(ctx, opts)
	if err != nil {
		_ = logShutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(traceShutdown(ctx), logShutdown(ctx))
	}, nil
}

func instrumentLogs(ctx context.Context, opts Options) (ShutdownFunc, error) {
	switch opts.Exporter {
	case "", ExporterNone:
		handler, err := newHandler(opts)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(handler))
		return noopShutdown, nil
	}

	processor, err := newProcessor(ctx, opts)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(opts.Level))),
	)
	slog.SetDefault(otelslog.NewLogger(ScopeName, otelslog.WithLoggerProvider(provider)))

	return provider.Shutdown, nil
}

func instrumentTraces(ctx context.Context, opts Options) (ShutdownFunc, error) {
	var spanProcessor sdktrace.TracerProviderOption

	switch opts.TraceExporter {
	case "", ExporterNone:
		return noopShutdown, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		spanProcessor = sdktrace.WithSyncer(exp)
	case ExporterOTLPHTTP:
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp http trace exporter: %w", err)
		}
		spanProcessor = sdktrace.WithBatcher(exp)
	case ExporterOTLPGRPC:
		exp, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc trace exporter: %w", err)
		}
		spanProcessor = sdktrace.WithBatcher(exp)
	default:
		return nil, errors.New("unsupported trace exporter: " + string(opts.TraceExporter))
	}

	tp := sdktrace.NewTracerProvider(
		spanProcessor,
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

func noopShutdown(context.Context) error { return nil }

func newHandler(opts Options) (slog.Handler, error) {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	switch opts.Format {
	case "", "text":
		return slog.NewTextHandler(opts.Writer, handlerOpts), nil
	case "json":
		return slog.NewJSONHandler(opts.Writer, handlerOpts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}
}

func newProcessor(ctx context.Context, opts Options) (sdklog.Processor, error) {
	switch opts.Exporter {
	case ExporterStdout:
		exp, err := stdoutlog.New(stdoutlog.WithWriter(opts.Writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		// Synchronous export keeps console output ordered with the process.
		return sdklog.NewSimpleProcessor(exp), nil
	case ExporterOTLPHTTP:
		// Endpoint and headers come from the standard OTEL_EXPORTER_OTLP_* variables.
		exp, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp http exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exp), nil
	case ExporterOTLPGRPC:
		exp, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exp), nil
	default:
		return nil, errors.New("unsupported log exporter: " + string(opts.Exporter))
	}
}

// severity maps a slog level onto the closest OTel severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
