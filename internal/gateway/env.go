package gateway

import (
	"iter"
	"net"
	"strconv"
	"strings"
)

// MetaValue is the value of one meta-variable: Text, Flag or Version.
type MetaValue interface {
	String() string
	metaValue()
}

// Text is a plain string value.
type Text string

func (t Text) String() string { return string(t) }
func (Text) metaValue()       {}

// Flag is a boolean rendered the way WSGI hosts expect.
type Flag bool

func (f Flag) String() string {
	if f {
		return "True"
	}
	return "False"
}
func (Flag) metaValue() {}

// Version is a major.minor protocol version.
type Version struct {
	Major, Minor int
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}
func (Version) metaValue() {}

// Var is one named meta-variable.
type Var struct {
	Name  string
	Value MetaValue
}

// Env is an ordered set of meta-variables. It is built once by BuildEnv and
// read-only afterwards.
type Env struct {
	vars  []Var
	index map[string]int
}

func newEnv(capacity int) *Env {
	return &Env{
		vars:  make([]Var, 0, capacity),
		index: make(map[string]int, capacity),
	}
}

// set appends name, or replaces its value in place when already present.
func (e *Env) set(name string, v MetaValue) {
	if i, ok := e.index[name]; ok {
		e.vars[i].Value = v
		return
	}
	e.index[name] = len(e.vars)
	e.vars = append(e.vars, Var{Name: name, Value: v})
}

// Len returns the number of variables.
func (e *Env) Len() int {
	return len(e.vars)
}

// Get returns the value of name.
func (e *Env) Get(name string) (MetaValue, bool) {
	i, ok := e.index[name]
	if !ok {
		return nil, false
	}
	return e.vars[i].Value, true
}

// Lookup returns the rendered value of name.
func (e *Env) Lookup(name string) (string, bool) {
	v, ok := e.Get(name)
	if !ok {
		return "", false
	}
	return v.String(), true
}

// All yields the variables in order.
func (e *Env) All() iter.Seq2[string, MetaValue] {
	return func(yield func(string, MetaValue) bool) {
		for _, v := range e.vars {
			if !yield(v.Name, v.Value) {
				return
			}
		}
	}
}

// Names returns the variable names in order.
func (e *Env) Names() []string {
	names := make([]string, len(e.vars))
	for i, v := range e.vars {
		names[i] = v.Name
	}
	return names
}

// Environ renders the variables as NAME=VALUE strings, followed by inherit
// entries whose names are not already set.
func (e *Env) Environ(inherit ...string) []string {
	out := make([]string, 0, len(e.vars)+len(inherit))
	for _, v := range e.vars {
		out = append(out, v.Name+"="+v.Value.String())
	}
	for _, kv := range inherit {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := e.index[name]; ok {
			continue
		}
		out = append(out, kv)
	}
	return out
}

const (
	gatewayInterface = "CGI/1.1"
	defaultSoftware  = "gatewayd"
	defaultProtocol  = "HTTP/1.1"
)

// BuildEnv computes the meta-variables for running script on req.
func BuildEnv(req *Request, script *Script, srv Server) *Env {
	var extra []Var
	if script.Vars != nil {
		extra = script.Vars.Vars(req, script)
	}
	return buildEnv(req, script, srv, extra)
}

func buildEnv(req *Request, script *Script, srv Server, extra []Var) *Env {
	e := newEnv(24 + len(req.Header) + len(extra))

	software := srv.Software
	if software == "" {
		software = defaultSoftware
	}
	protocol := srv.Protocol
	if protocol == "" {
		protocol = req.Proto
	}
	if protocol == "" {
		protocol = defaultProtocol
	}
	name := srv.Name
	if name == "" {
		name = hostname(req.Host)
	}

	e.set("GATEWAY_INTERFACE", Text(gatewayInterface))
	e.set("SERVER_SOFTWARE", Text(software))
	e.set("SERVER_PROTOCOL", Text(protocol))
	e.set("SERVER_NAME", Text(name))
	e.set("SERVER_PORT", Text(srv.Port))
	e.set("REQUEST_METHOD", Text(req.Method.String()))
	e.set("REQUEST_URI", Text(req.Target))
	e.set("PATH_INFO", Text(req.Path()))
	e.set("QUERY_STRING", Text(req.Query()))
	e.set("SCRIPT_NAME", Text(script.Name))
	e.set("SCRIPT_FILENAME", Text(script.Path))
	e.set("REDIRECT_STATUS", Text("200"))

	if host, port, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		e.set("REMOTE_ADDR", Text(host))
		e.set("REMOTE_PORT", Text(port))
	} else {
		e.set("REMOTE_ADDR", Text(req.RemoteAddr))
	}

	if v, ok := req.HeaderValue("Content-Type"); ok {
		e.set("CONTENT_TYPE", Text(v))
	}
	if v, ok := req.HeaderValue("Content-Length"); ok {
		e.set("CONTENT_LENGTH", Text(v))
	} else if len(req.Body) > 0 {
		e.set("CONTENT_LENGTH", Text(strconv.Itoa(len(req.Body))))
	}

	for _, f := range req.Header {
		name, ok := httpVarName(f.Name)
		if !ok {
			continue
		}
		if prev, ok := e.Get(name); ok {
			e.set(name, Text(prev.String()+", "+f.Value))
			continue
		}
		e.set(name, Text(f.Value))
	}

	if script.Flavor == FlavorWSGI {
		e.set("wsgi.version", Version{Major: 1, Minor: 0})
		e.set("wsgi.url_scheme", Text("http"))
		e.set("wsgi.multithread", Flag(false))
		e.set("wsgi.multiprocess", Flag(true))
		e.set("wsgi.run_once", Flag(true))
	}

	for _, v := range extra {
		e.set(v.Name, v.Value)
	}
	return e
}

// httpVarName maps a header name to its HTTP_ variable. Headers that have a
// dedicated variable, names containing '_' and Proxy are skipped.
func httpVarName(header string) (string, bool) {
	if header == "" || strings.ContainsRune(header, '_') {
		return "", false
	}
	switch {
	case strings.EqualFold(header, "Content-Type"),
		strings.EqualFold(header, "Content-Length"),
		strings.EqualFold(header, "Proxy"):
		return "", false
	}
	var b strings.Builder
	b.Grow(len("HTTP_") + len(header))
	b.WriteString("HTTP_")
	for i := 0; i < len(header); i++ {
		c := header[i]
		switch {
		case c == '-':
			c = '_'
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String(), true
}

func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
