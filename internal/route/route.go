// Package route maps request paths to gateway scripts.
package route

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrzor/gatewayd/internal/attributes"
	"github.com/mrzor/gatewayd/internal/gateway"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidRoute     = errors.New("invalid route")
	ErrNoRoute          = errors.New("no route")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// Route binds a path prefix to a script.
type Route struct {
	Name        string
	Prefix      string
	Methods     []gateway.Method // empty allows every method
	Script      string
	Interpreter []string
	Args        []string
	Dir         string
	Timeout     time.Duration
	Flavor      gateway.Flavor
	ScriptName  string
	MaxBody     int64             // 0 means unlimited
	MaxOutput   int               // 0 means unlimited
	Env         map[string]string // fixed meta-variables
	Vars        []attributes.Definition
	TraceID     string // expression yielding the caller's trace ID
	ParentID    string // expression yielding the caller's span ID

	program   *gateway.Script
	traceIDs  *attributes.TraceIDEvaluator
	parentIDs *attributes.ParentIDEvaluator
}

// Validate checks the static fields.
func (r *Route) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !strings.HasPrefix(r.Prefix, "/") {
		errs = append(errs, fmt.Errorf("prefix %q must start with /", r.Prefix))
	}
	if r.Script == "" {
		errs = append(errs, errors.New("script is required"))
	} else if !filepath.IsAbs(r.Script) {
		errs = append(errs, fmt.Errorf("script %q must be an absolute path", r.Script))
	}
	if r.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout %s must be positive", r.Timeout))
	}
	if r.Flavor != gateway.FlavorCGI && r.Flavor != gateway.FlavorWSGI {
		errs = append(errs, fmt.Errorf("unknown flavor %d", r.Flavor))
	}
	for _, m := range r.Methods {
		if _, err := gateway.ParseMethod(m.String()); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range r.Env {
		if name == "" || strings.ContainsAny(name, "=\x00") {
			errs = append(errs, fmt.Errorf("env name %q is invalid", name))
		}
	}
	if r.MaxBody < 0 || r.MaxOutput < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidRoute, r.Name, err)
	}
	return nil
}

// Compile validates r and prepares its expressions.
func (r *Route) Compile() error {
	if err := r.Validate(); err != nil {
		return err
	}
	vars, err := attributes.NewEvaluator(r.Vars)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidRoute, r.Name, err)
	}
	if r.traceIDs, err = attributes.NewTraceIDEvaluator(r.TraceID); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidRoute, r.Name, err)
	}
	if r.parentIDs, err = attributes.NewParentIDEvaluator(r.ParentID); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidRoute, r.Name, err)
	}

	r.program = &gateway.Script{
		Route:       r.Name,
		Path:        r.Script,
		Name:        r.ScriptName,
		Interpreter: r.Interpreter,
		Args:        r.Args,
		Dir:         r.Dir,
		Flavor:      r.Flavor,
		Timeout:     r.Timeout,
		MaxOutput:   r.MaxOutput,
	}
	switch {
	case len(r.Env) > 0 && vars.Len() > 0:
		r.program.Vars = &chain{fixed: fixedVars(r.Env), dynamic: vars}
	case len(r.Env) > 0:
		r.program.Vars = &chain{fixed: fixedVars(r.Env)}
	case vars.Len() > 0:
		r.program.Vars = vars
	}
	return nil
}

// Program returns what the gateway executes for this route. Compile must
// have succeeded.
func (r *Route) Program() *gateway.Script {
	return r.program
}

// Allows reports whether m may be used on this route.
func (r *Route) Allows(m gateway.Method) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, allowed := range r.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}

// Parent derives the invocation span's parent from the request. The result
// is invalid when the route has no trace expression or it yields nothing.
func (r *Route) Parent(req *gateway.Request) (trace.SpanContext, []attribute.KeyValue, error) {
	if r.traceIDs == nil || r.parentIDs == nil {
		return trace.SpanContext{}, nil, nil
	}
	return attributes.Parent(r.traceIDs, r.parentIDs, req, r.program)
}

// matches reports whether path lies under the route prefix, on a segment
// boundary.
func (r *Route) matches(path string) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	if len(path) == len(r.Prefix) || strings.HasSuffix(r.Prefix, "/") {
		return true
	}
	return path[len(r.Prefix)] == '/'
}
