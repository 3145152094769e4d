package route

import (
	"testing"
	"time"

	"github.com/mrzor/gatewayd/internal/attributes"
	"github.com/mrzor/gatewayd/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRoute(name, prefix string) *Route {
	return &Route{
		Name:    name,
		Prefix:  prefix,
		Script:  "/srv/cgi/" + name + ".sh",
		Timeout: time.Second,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Route)
		ok     bool
	}{
		{"valid", func(*Route) {}, true},
		{"missing name", func(r *Route) { r.Name = "" }, false},
		{"relative prefix", func(r *Route) { r.Prefix = "cgi" }, false},
		{"missing script", func(r *Route) { r.Script = "" }, false},
		{"relative script", func(r *Route) { r.Script = "hello.sh" }, false},
		{"zero timeout", func(r *Route) { r.Timeout = 0 }, false},
		{"unknown flavor", func(r *Route) { r.Flavor = gateway.Flavor(9) }, false},
		{"bad method", func(r *Route) { r.Methods = []gateway.Method{gateway.Method(42)} }, false},
		{"negative limit", func(r *Route) { r.MaxBody = -1 }, false},
		{"env name with =", func(r *Route) { r.Env = map[string]string{"A=B": "x"} }, false},
		{"empty env name", func(r *Route) { r.Env = map[string]string{"": "x"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRoute("hello", "/cgi")
			tt.mutate(r)
			err := r.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRoute)
			}
		})
	}
}

func TestCompile_Program(t *testing.T) {
	r := validRoute("hello", "/cgi")
	r.Interpreter = []string{"/bin/sh", "-e"}
	r.Flavor = gateway.FlavorWSGI
	r.ScriptName = "/cgi/hello"
	r.MaxOutput = 1024
	r.Vars = []attributes.Definition{{Name: "tenant", Expression: `header["X-Tenant"]`}}

	require.NoError(t, r.Compile())
	p := r.Program()
	assert.Equal(t, "hello", p.Route)
	assert.Equal(t, "/srv/cgi/hello.sh", p.Path)
	assert.Equal(t, []string{"/bin/sh", "-e", "/srv/cgi/hello.sh"}, p.Argv())
	assert.Equal(t, gateway.FlavorWSGI, p.Flavor)
	assert.Equal(t, 1024, p.MaxOutput)
	assert.NotNil(t, p.Vars)
}

func TestCompile_ArgsAndEnv(t *testing.T) {
	r := validRoute("hello", "/cgi")
	r.Args = []string{"--mode", "cgi"}
	r.Env = map[string]string{"ZONE": "eu", "APP_ENV": "prod"}
	r.Vars = []attributes.Definition{{Name: "tenant", Expression: `header["X-Tenant"]`}}
	require.NoError(t, r.Compile())

	p := r.Program()
	assert.Equal(t, []string{"/srv/cgi/hello.sh", "--mode", "cgi"}, p.Argv())

	req := &gateway.Request{
		Method: gateway.MethodGet,
		Target: "/cgi",
		Header: []gateway.Field{{Name: "X-Tenant", Value: "acme"}},
	}
	vars := p.Vars.Vars(req, p)
	require.Len(t, vars, 3)
	assert.Equal(t, "APP_ENV", vars[0].Name)
	assert.Equal(t, "prod", vars[0].Value.String())
	assert.Equal(t, "ZONE", vars[1].Name)
	assert.Equal(t, "TENANT", vars[2].Name)
	assert.Equal(t, "acme", vars[2].Value.String())

	fixedOnly := validRoute("fixed", "/fixed")
	fixedOnly.Env = map[string]string{"ZONE": "eu"}
	require.NoError(t, fixedOnly.Compile())
	assert.Equal(t, []gateway.Var{{Name: "ZONE", Value: gateway.Text("eu")}}, fixedOnly.Program().Vars.Vars(req, fixedOnly.Program()))
}

func TestCompile_BadExpression(t *testing.T) {
	r := validRoute("hello", "/cgi")
	r.Vars = []attributes.Definition{{Name: "x", Expression: `nope(`}}
	assert.ErrorIs(t, r.Compile(), ErrInvalidRoute)

	r = validRoute("hello", "/cgi")
	r.TraceID = `header[`
	assert.ErrorIs(t, r.Compile(), ErrInvalidRoute)
}

func TestTable_LongestPrefix(t *testing.T) {
	table, err := NewTable([]*Route{
		validRoute("root", "/"),
		validRoute("cgi", "/cgi"),
		validRoute("report", "/cgi/report"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, "report", table.Routes()[0].Name)

	tests := []struct {
		path string
		want string
	}{
		{"/cgi/report", "report"},
		{"/cgi/report/2024", "report"},
		{"/cgi/reports", "cgi"},
		{"/cgi", "cgi"},
		{"/cgix", "root"},
		{"/", "root"},
	}
	for _, tt := range tests {
		r, err := table.Match(gateway.MethodGet, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, r.Name, tt.path)
	}
}

func TestTable_NoRoute(t *testing.T) {
	table, err := NewTable([]*Route{validRoute("cgi", "/cgi")})
	require.NoError(t, err)

	_, err = table.Match(gateway.MethodGet, "/static/x")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestTable_MethodNotAllowed(t *testing.T) {
	post := validRoute("upload", "/upload")
	post.Methods = []gateway.Method{gateway.MethodPost, gateway.MethodPut}
	table, err := NewTable([]*Route{post})
	require.NoError(t, err)

	r, err := table.Match(gateway.MethodPost, "/upload")
	require.NoError(t, err)
	assert.Equal(t, "upload", r.Name)

	r, err = table.Match(gateway.MethodGet, "/upload")
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
	assert.Equal(t, "upload", r.Name, "the refusing route is reported")
}

func TestNewTable_Duplicates(t *testing.T) {
	_, err := NewTable([]*Route{validRoute("a", "/a"), validRoute("a", "/b")})
	assert.ErrorIs(t, err, ErrInvalidRoute)

	_, err = NewTable([]*Route{validRoute("a", "/a"), validRoute("b", "/a")})
	assert.ErrorIs(t, err, ErrInvalidRoute)
}

func TestParent(t *testing.T) {
	r := validRoute("traced", "/t")
	r.TraceID = `header["X-Trace-Id"]`
	r.ParentID = `header["X-Span-Id"]`
	require.NoError(t, r.Compile())

	req := &gateway.Request{
		Method: gateway.MethodGet,
		Target: "/t",
		Header: []gateway.Field{
			{Name: "X-Trace-Id", Value: "4bf92f3577b34da6a3ce929d0e0e4736"},
			{Name: "X-Span-Id", Value: "00f067aa0ba902b7"},
		},
	}
	sc, warnings, err := r.Parent(req)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", sc.SpanID().String())

	untraced := validRoute("plain", "/p")
	require.NoError(t, untraced.Compile())
	sc, _, err = untraced.Parent(req)
	require.NoError(t, err)
	assert.False(t, sc.IsValid())
}
