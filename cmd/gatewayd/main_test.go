package main

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrzor/gatewayd/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetExecFlags(t *testing.T) {
	t.Helper()
	saved := execFlags
	t.Cleanup(func() { execFlags = saved })
	execFlags.method = "GET"
	execFlags.target = "/"
	execFlags.headers = nil
	execFlags.interpreter = nil
	execFlags.body = ""
	execFlags.wsgi = false
	execFlags.inherit = nil
}

func TestExecRequest(t *testing.T) {
	resetExecFlags(t)
	execFlags.method = "post"
	execFlags.target = "/x?y=1"
	execFlags.headers = []string{"Host: example.org", "X-Tenant:  acme "}
	execFlags.body = "-"
	execFlags.wsgi = true

	req, script, err := execRequest("script.py", strings.NewReader("payload"))
	require.NoError(t, err)

	assert.Equal(t, gateway.MethodPost, req.Method)
	assert.Equal(t, "example.org", req.Host)
	tenant, ok := req.HeaderValue("x-tenant")
	assert.True(t, ok)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, []byte("payload"), req.Body)
	assert.True(t, filepath.IsAbs(script.Path))
	assert.Equal(t, gateway.FlavorWSGI, script.Flavor)
}

func TestExecRequest_Errors(t *testing.T) {
	resetExecFlags(t)
	execFlags.method = "BREW"
	_, _, err := execRequest("s", nil)
	assert.ErrorIs(t, err, gateway.ErrUnsupportedMethod)

	resetExecFlags(t)
	execFlags.headers = []string{"no colon"}
	_, _, err = execRequest("s", nil)
	assert.Error(t, err)
}

func TestExecCommand(t *testing.T) {
	resetExecFlags(t)
	path := filepath.Join(t.TempDir(), "hello.sh")
	require.NoError(t, os.WriteFile(path, []byte("printf 'X-B: 2\\r\\nX-A: 1\\r\\n\\r\\n'\nprintf '%s' \"$REQUEST_METHOD\"\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"exec", "--interpreter", "/bin/sh", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "Status: 200\nX-A: 1\nX-B: 2\n\nGET", out.String())
}

func TestWriteExecResponse(t *testing.T) {
	var out bytes.Buffer
	resp := &gateway.Response{
		Status: 404,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte("missing"),
	}
	require.NoError(t, writeExecResponse(&out, resp))
	assert.Equal(t, "Status: 404\nContent-Type: text/plain\n\nmissing", out.String())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "gatewayd version dev")
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("GATEWAYD_LISTEN", ":9000")
	t.Setenv("GATEWAYD_ROUTES", "/etc/env-routes.yaml")

	require.NoError(t, serveCmd.Flags().Set("routes", "/etc/flag-routes.yaml"))
	t.Cleanup(func() {
		serveCmd.Flags().Lookup("routes").Changed = false
		serveFlags.routes = ""
	})

	cfg, err := loadConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "/etc/flag-routes.yaml", cfg.Routes)
	assert.Equal(t, "9000", cfg.Port())
}
