// Package otel provides OpenTelemetry tracer provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mrzor/gatewayd/internal/config"
	"github.com/mrzor/gatewayd/internal/log"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope of invocation spans.
const TracerName = "github.com/mrzor/gatewayd/internal/gateway"

// logProxyConfig reports the proxy settings the exporter's HTTP client
// will honor.
func logProxyConfig() {
	httpProxy := os.Getenv("HTTP_PROXY")
	if httpProxy == "" {
		httpProxy = os.Getenv("http_proxy")
	}
	httpsProxy := os.Getenv("HTTPS_PROXY")
	if httpsProxy == "" {
		httpsProxy = os.Getenv("https_proxy")
	}

	if httpProxy != "" || httpsProxy != "" {
		log.Get().Debugw("OTLP proxy configuration", "http_proxy", httpProxy, "https_proxy", httpsProxy)
	} else {
		log.Get().Debugw("no proxy configured for OTLP export")
	}
}

// endpointOption accepts both host:port and full URL endpoints.
func endpointOption(endpoint string) otlptracehttp.Option {
	if strings.Contains(endpoint, "://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// exporterOptions builds the OTLP/HTTP exporter settings for cfg.
func exporterOptions(cfg *config.OTELConfig) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{
		endpointOption(cfg.Endpoint()),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if cfg.Insecure() {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return opts
}

// sampler honors the caller's sampling decision and samples new traces at
// the configured ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// InitProvider initializes the OpenTelemetry tracer provider exporting over
// OTLP/HTTP. The exporter connects lazily; an unreachable collector shows up
// as export errors, not as a startup failure.
//
// The HTTP client honors HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func InitProvider(cfg *config.OTELConfig, version string) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Get().Infow("OTEL configuration",
		"service_name", cfg.ServiceName,
		"endpoint", cfg.Endpoint(),
		"insecure", cfg.Insecure(),
		"headers", len(cfg.Headers),
		"sample_ratio", cfg.SampleRatio,
		"resource_attributes", cfg.ResourceAttributes,
	)
	logProxyConfig()

	exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
		resource.WithAttributes(cfg.ResourceAttrs()...),
		resource.WithProcessPID(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	), nil
}

// Tracer returns the tracer for invocation spans. A nil provider yields a
// no-op tracer.
func Tracer(tp *sdktrace.TracerProvider) trace.Tracer {
	if tp == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return tp.Tracer(TracerName)
}

// ShutdownProvider gracefully shuts down the tracer provider, flushing any remaining spans.
func ShutdownProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return nil
}
