package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrzor/gatewayd/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRoutes = `
routes:
  - name: hello
    prefix: /cgi/hello
    methods: [get, POST]
    script: scripts/hello.sh
    interpreter: [/bin/sh]
    args: [--verbose]
    timeout: 5s
    script_name: /cgi/hello
    max_body: 1024
    env:
      ZONE: eu
    vars:
      TENANT: header["X-Tenant"]
      AAA_LATER: path
  - name: app
    prefix: /app
    script: /srv/app.py
    flavor: wsgi
    trace_id: header["X-Trace-Id"]
`

func TestParseRoutes(t *testing.T) {
	routes, err := ParseRoutes([]byte(sampleRoutes), "/etc/gatewayd")
	require.NoError(t, err)
	require.Len(t, routes, 2)

	hello := routes[0]
	assert.Equal(t, "hello", hello.Name)
	assert.Equal(t, "/cgi/hello", hello.Prefix)
	assert.Equal(t, []gateway.Method{gateway.MethodGet, gateway.MethodPost}, hello.Methods)
	assert.Equal(t, "/etc/gatewayd/scripts/hello.sh", hello.Script)
	assert.Equal(t, []string{"/bin/sh"}, hello.Interpreter)
	assert.Equal(t, 5*time.Second, hello.Timeout)
	assert.Equal(t, "/cgi/hello", hello.ScriptName)
	assert.EqualValues(t, 1024, hello.MaxBody)
	assert.Equal(t, []string{"--verbose"}, hello.Args)
	assert.Equal(t, map[string]string{"ZONE": "eu"}, hello.Env)
	require.Len(t, hello.Vars, 2)
	assert.Equal(t, "TENANT", hello.Vars[0].Name, "document order is kept")
	assert.Equal(t, `header["X-Tenant"]`, hello.Vars[0].Expression)
	assert.Equal(t, "AAA_LATER", hello.Vars[1].Name)

	app := routes[1]
	assert.Equal(t, gateway.FlavorWSGI, app.Flavor)
	assert.Equal(t, defaultRouteTimeout, app.Timeout)
	assert.Empty(t, app.ScriptName)
	assert.Equal(t, `header["X-Trace-Id"]`, app.TraceID)

	for _, r := range routes {
		assert.NoError(t, r.Compile(), r.Name)
	}
}

func TestParseRoutes_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "routes:\n  - name: x\n    scirpt: /a\n"},
		{"unknown flavor", "routes:\n  - name: x\n    flavor: fastcgi\n"},
		{"unknown method", "routes:\n  - name: x\n    methods: [PROPFIND]\n"},
		{"vars not a mapping", "routes:\n  - name: x\n    vars: [a, b]\n"},
		{"nested var value", "routes:\n  - name: x\n    vars:\n      A: {b: c}\n"},
		{"bad duration", "routes:\n  - name: x\n    timeout: forever\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoutes([]byte(tt.yaml), "")
			assert.Error(t, err)
		})
	}
}

func TestParseRoutes_Empty(t *testing.T) {
	routes, err := ParseRoutes(nil, "")
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestLoadRoutes_ResolvesAgainstFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRoutes), 0o600))

	routes, err := LoadRoutes(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scripts", "hello.sh"), routes[0].Script)
	assert.Equal(t, "/srv/app.py", routes[1].Script)

	_, err = LoadRoutes(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
