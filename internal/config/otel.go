package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/attribute"
)

const defaultOTLPEndpoint = "localhost:4318"

// OTELConfig holds the span export settings. Names follow the
// OpenTelemetry SDK environment conventions where one exists.
type OTELConfig struct {
	ServiceName        string            `env:"OTEL_SERVICE_NAME" envDefault:"gatewayd"`
	ResourceAttributes string            `env:"OTEL_RESOURCE_ATTRIBUTES"`
	ExporterEndpoint   string            `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracesEndpoint     string            `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	Headers            map[string]string `env:"OTEL_EXPORTER_OTLP_HEADERS" envSeparator:"," envKeyValSeparator:"="`
	SampleRatio        float64           `env:"GATEWAYD_TRACE_SAMPLE_RATIO" envDefault:"1"`
}

// ParseOTELConfig reads the export settings from the process environment.
func ParseOTELConfig() (*OTELConfig, error) {
	return parseOTEL(env.Options{})
}

// ParseOTELConfigFrom reads the export settings from vars.
func ParseOTELConfigFrom(vars map[string]string) (*OTELConfig, error) {
	return parseOTEL(env.Options{Environment: vars})
}

func parseOTEL(opts env.Options) (*OTELConfig, error) {
	var cfg OTELConfig
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio %v must be within [0, 1]", cfg.SampleRatio)
	}
	return &cfg, nil
}

// Endpoint picks the traces endpoint over the generic one.
func (c *OTELConfig) Endpoint() string {
	switch {
	case c.TracesEndpoint != "":
		return c.TracesEndpoint
	case c.ExporterEndpoint != "":
		return c.ExporterEndpoint
	}
	return defaultOTLPEndpoint
}

// Insecure reports whether the exporter should use plain HTTP.
func (c *OTELConfig) Insecure() bool {
	return !strings.HasPrefix(c.Endpoint(), "https://")
}

// ResourceAttrs decodes OTEL_RESOURCE_ATTRIBUTES ("k1=v1,k2=v2", values
// percent-encoded). Malformed pairs are skipped; a later key wins.
func (c *OTELConfig) ResourceAttrs() []attribute.KeyValue {
	if c.ResourceAttributes == "" {
		return nil
	}
	var attrs []attribute.KeyValue
	index := make(map[string]int)
	for _, pair := range strings.Split(c.ResourceAttributes, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		kv := attribute.String(key, value)
		if i, seen := index[key]; seen {
			attrs[i] = kv
			continue
		}
		index[key] = len(attrs)
		attrs = append(attrs, kv)
	}
	return attrs
}
