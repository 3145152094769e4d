package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrom_Defaults(t *testing.T) {
	cfg, err := ParseFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "routes.yaml", cfg.Routes)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 256, cfg.PollCapacity)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	assert.False(t, cfg.Tracing)
	assert.Empty(t, cfg.InheritEnv)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "8080", cfg.Port())
}

func TestParseFrom_Overrides(t *testing.T) {
	cfg, err := ParseFrom(map[string]string{
		"GATEWAYD_LISTEN":         "127.0.0.1:9000",
		"GATEWAYD_SERVER_NAME":    "gw.example.org",
		"GATEWAYD_ROUTES":         "/etc/gatewayd/routes.yaml",
		"GATEWAYD_LOG_LEVEL":      "debug",
		"GATEWAYD_POLL_CAPACITY":  "64",
		"GATEWAYD_SHUTDOWN_GRACE": "2s",
		"GATEWAYD_TRACING":        "true",
		"GATEWAYD_INHERIT_ENV":    "LANG,TZ",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "gw.example.org", cfg.ServerName)
	assert.Equal(t, "/etc/gatewayd/routes.yaml", cfg.Routes)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.PollCapacity)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
	assert.True(t, cfg.Tracing)
	assert.Equal(t, []string{"LANG", "TZ"}, cfg.InheritEnv)
	assert.Equal(t, "9000", cfg.Port())
}

func TestParseFrom_BadValue(t *testing.T) {
	_, err := ParseFrom(map[string]string{"GATEWAYD_SHUTDOWN_GRACE": "soon"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Listen: "nope", PollCapacity: 0, ShutdownGrace: -time.Second}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen address")
	assert.Contains(t, err.Error(), "routes file is required")
	assert.Contains(t, err.Error(), "poll capacity")
	assert.Contains(t, err.Error(), "shutdown grace")
	assert.Equal(t, "80", cfg.Port())
}

func TestOTELConfig(t *testing.T) {
	cfg, err := ParseOTELConfigFrom(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "gatewayd", cfg.ServiceName)
	assert.Equal(t, "localhost:4318", cfg.Endpoint())
	assert.True(t, cfg.Insecure())
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.Nil(t, cfg.ResourceAttrs())

	cfg, err = ParseOTELConfigFrom(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT":        "collector:4318",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "https://traces.example/v1/traces",
		"OTEL_EXPORTER_OTLP_HEADERS":         "authorization=Bearer x,x-tenant=web",
		"GATEWAYD_TRACE_SAMPLE_RATIO":        "0.25",
		"OTEL_RESOURCE_ATTRIBUTES":           "deployment.environment=prod, team = web%20tier ,broken,team=edge",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://traces.example/v1/traces", cfg.Endpoint(), "the traces endpoint wins")
	assert.False(t, cfg.Insecure())
	assert.Equal(t, map[string]string{"authorization": "Bearer x", "x-tenant": "web"}, cfg.Headers)
	assert.Equal(t, 0.25, cfg.SampleRatio)

	attrs := cfg.ResourceAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "deployment.environment", string(attrs[0].Key))
	assert.Equal(t, "prod", attrs[0].Value.AsString())
	assert.Equal(t, "team", string(attrs[1].Key))
	assert.Equal(t, "edge", attrs[1].Value.AsString(), "a repeated key replaces the earlier value")
}

func TestOTELConfig_SampleRatioRange(t *testing.T) {
	_, err := ParseOTELConfigFrom(map[string]string{"GATEWAYD_TRACE_SAMPLE_RATIO": "1.5"})
	assert.ErrorContains(t, err, "sample ratio")
}

func TestOTELConfig_DecodesResourceValues(t *testing.T) {
	cfg := &OTELConfig{ResourceAttributes: "team=web%20tier,bad=%zz"}
	attrs := cfg.ResourceAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "web tier", attrs[0].Value.AsString())
	assert.Equal(t, "%zz", attrs[1].Value.AsString(), "undecodable values are kept verbatim")
}
