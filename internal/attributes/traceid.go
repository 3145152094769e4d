package attributes

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"github.com/mrzor/gatewayd/internal/gateway"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// idExpression is a compiled expression yielding an identifier as text.
// The zero value yields "".
type idExpression struct {
	what    string
	program *vm.Program
}

func compileID(what, source string) (idExpression, error) {
	if source == "" {
		return idExpression{what: what}, nil
	}
	program, err := expr.Compile(source, expr.Env(exprEnv))
	if err != nil {
		return idExpression{}, fmt.Errorf("failed to compile %s expression: %w", what, err)
	}
	return idExpression{what: what, program: program}, nil
}

func (e idExpression) eval(req *gateway.Request, script *gateway.Script) (string, error) {
	if e.program == nil {
		return "", nil
	}
	out, err := expr.Run(e.program, requestEnv(req, script))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s expression: %w", e.what, err)
	}
	if out == nil {
		return "", nil
	}
	return strings.TrimSpace(fmt.Sprint(out)), nil
}

func (e idExpression) warnings(result, fallback string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("gateway."+e.what+".result", result),
		attribute.String("gateway."+e.what+".warning", fmt.Sprintf("%q is not a valid %s, %s", result, e.what, fallback)),
	}
}

// TraceIDEvaluator derives the caller's trace ID from a request.
type TraceIDEvaluator struct {
	idExpression
}

// NewTraceIDEvaluator compiles source. An empty source never yields a
// trace ID, so invocation spans start new traces.
func NewTraceIDEvaluator(source string) (*TraceIDEvaluator, error) {
	e, err := compileID("trace_id", source)
	if err != nil {
		return nil, err
	}
	return &TraceIDEvaluator{e}, nil
}

// EvaluateAndValidate returns the trace ID for req and the warnings to
// record on the span. 32 hex digits are used as is, and so is a UUID with
// its dashes removed. Anything else is hashed into a stable trace ID so
// that one request ID always lands in the same trace. An empty result
// yields the zero ID.
func (e *TraceIDEvaluator) EvaluateAndValidate(req *gateway.Request, script *gateway.Script) (trace.TraceID, []attribute.KeyValue, error) {
	result, err := e.eval(req, script)
	if err != nil || result == "" {
		return trace.TraceID{}, nil, err
	}

	candidate := result
	if len(candidate) == 36 {
		if id, err := uuid.Parse(candidate); err == nil {
			candidate = strings.ReplaceAll(id.String(), "-", "")
		}
	}
	if id, err := trace.TraceIDFromHex(strings.ToLower(candidate)); err == nil {
		return id, nil, nil
	}

	var id trace.TraceID
	sum := sha256.Sum256([]byte(result))
	copy(id[:], sum[:])
	return id, e.warnings(result, "hashed it instead"), nil
}

// ParentIDEvaluator derives the caller's span ID from a request.
type ParentIDEvaluator struct {
	idExpression
}

// NewParentIDEvaluator compiles source. An empty source never yields a
// span ID.
func NewParentIDEvaluator(source string) (*ParentIDEvaluator, error) {
	e, err := compileID("parent_id", source)
	if err != nil {
		return nil, err
	}
	return &ParentIDEvaluator{e}, nil
}

// EvaluateAndValidate returns the parent span ID for req. Only 16 hex
// digits are accepted; anything else yields the zero ID and warnings.
func (e *ParentIDEvaluator) EvaluateAndValidate(req *gateway.Request, script *gateway.Script) (trace.SpanID, []attribute.KeyValue, error) {
	result, err := e.eval(req, script)
	if err != nil || result == "" {
		return trace.SpanID{}, nil, err
	}
	if id, err := trace.SpanIDFromHex(strings.ToLower(result)); err == nil {
		return id, nil, nil
	}
	return trace.SpanID{}, e.warnings(result, "using a fresh parent ID"), nil
}

// Parent combines both evaluators into the remote parent of an invocation
// span. Without a trace ID the result is invalid and the span starts a new
// trace. Without a parent ID a fresh span ID stands in for the caller.
func Parent(traceIDs *TraceIDEvaluator, parentIDs *ParentIDEvaluator, req *gateway.Request, script *gateway.Script) (trace.SpanContext, []attribute.KeyValue, error) {
	traceID, warnings, err := traceIDs.EvaluateAndValidate(req, script)
	if err != nil || !traceID.IsValid() {
		return trace.SpanContext{}, warnings, err
	}

	spanID, more, err := parentIDs.EvaluateAndValidate(req, script)
	warnings = append(warnings, more...)
	if err != nil {
		return trace.SpanContext{}, warnings, err
	}
	if !spanID.IsValid() {
		id := uuid.New()
		copy(spanID[:], id[:8])
	}

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}), warnings, nil
}
