package gateway

import (
	"strings"
	"time"
)

// Field is one request header line.
type Field struct {
	Name  string
	Value string
}

// Request is the parsed HTTP request handed to a script.
type Request struct {
	Method     Method
	Target     string // request-target, path plus optional query
	Proto      string
	Host       string
	Header     []Field // in request order
	Body       []byte
	RemoteAddr string // host:port of the peer
}

// Path returns the part of the target before the first '?'.
func (r *Request) Path() string {
	path, _, _ := strings.Cut(r.Target, "?")
	return path
}

// Query returns the part of the target after the first '?'.
func (r *Request) Query() string {
	_, query, _ := strings.Cut(r.Target, "?")
	return query
}

// HeaderValue returns the values of all fields named name, case-insensitive,
// joined with ", ".
func (r *Request) HeaderValue(name string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, f := range r.Header {
		if !strings.EqualFold(f.Name, name) {
			continue
		}
		if found {
			value += ", " + f.Value
		} else {
			value = f.Value
			found = true
		}
	}
	return value, found
}

// Server identifies the server to scripts.
type Server struct {
	Name     string // SERVER_NAME; the request Host is used when empty
	Port     string
	Software string
	Protocol string // SERVER_PROTOCOL; the request Proto is used when empty
}

// Flavor selects the meta-variable convention.
type Flavor uint8

const (
	FlavorCGI Flavor = iota
	FlavorWSGI
)

func (f Flavor) String() string {
	switch f {
	case FlavorCGI:
		return "cgi"
	case FlavorWSGI:
		return "wsgi"
	default:
		return "unknown"
	}
}

// VarSource contributes request-dependent meta-variables, appended after
// the standard ones.
type VarSource interface {
	Vars(req *Request, script *Script) []Var
}

// Script describes what to execute for a request.
type Script struct {
	Route       string   // route name, for logs and the child registry
	Path        string   // SCRIPT_FILENAME
	Name        string   // SCRIPT_NAME
	Interpreter []string // command and flags placed before Path
	Args        []string // arguments placed after Path
	Dir         string   // working directory; the script's directory when empty
	Flavor      Flavor
	Timeout     time.Duration
	MaxOutput   int // 0 means unlimited
	Vars        VarSource
}

// Argv returns the command line for the child.
func (s *Script) Argv() []string {
	argv := make([]string, 0, len(s.Interpreter)+1+len(s.Args))
	argv = append(argv, s.Interpreter...)
	argv = append(argv, s.Path)
	return append(argv, s.Args...)
}
