package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mrzor/gatewayd/internal/handle"
	"github.com/mrzor/gatewayd/internal/log"
	"github.com/mrzor/gatewayd/internal/loop"
	"github.com/mrzor/gatewayd/internal/poller"
	"github.com/mrzor/gatewayd/internal/procmeta"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	readChunk      = 4096
	reapInterval   = 10 * time.Millisecond
	defaultTimeout = 30 * time.Second
	defaultPath    = "/bin:/usr/bin:/usr/local/bin"
)

// Options carries the per-server context of an invocation.
type Options struct {
	Server Server

	// ID names the invocation in logs, spans and the child registry. A
	// random UUID is used when empty.
	ID string

	// Children, when set, records the child while it is alive.
	Children *procmeta.Manager

	// Tracer records one span per invocation. Nil disables tracing.
	Tracer trace.Tracer

	// Parent is the span the invocation span is a child of.
	Parent trace.SpanContext

	// Inherit lists NAME=VALUE entries passed to the child after the
	// meta-variables. Nil passes the server's PATH.
	Inherit []string

	// write replaces Handle.Write for the body pipe in tests.
	write func(h *handle.Handle, p []byte) (int, error)
}

// multiplexer is the registration surface an invocation needs. The loop
// and the blocking driver each provide one.
type multiplexer interface {
	watch(h *handle.Handle, in poller.Interest, fn func(poller.Event)) (poller.Token, error)
	unwatch(tok poller.Token)
	// after runs fn once at or after at. The returned func cancels it.
	after(at time.Time, fn func()) (stop func() bool)
}

// Invocation is one script run. All methods run on the goroutine that
// drives its multiplexer.
type Invocation struct {
	id     string
	req    *Request
	script *Script
	opts   Options
	mux    multiplexer
	log    *zap.SugaredLogger
	span   trace.Span

	state    State
	env      *Env
	child    *child
	reaped   bool
	reapErr  error
	stopPoll func() bool // pending exit poll when there is no pidfd
	started  time.Time
	deadline time.Time
	timer    *loop.Timer // deadline on the loop; nil for Run

	stdinTok  poller.Token
	stdoutTok poller.Token
	exitTok   poller.Token

	written int
	out     []byte
	buf     [readChunk]byte

	resp *Response
	err  error
	done func(*Response, error)
}

func newInvocation(req *Request, script *Script, opts Options, mux multiplexer) *Invocation {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if opts.write == nil {
		opts.write = (*handle.Handle).Write
	}
	timeout := script.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := time.Now()
	return &Invocation{
		id:       id,
		req:      req,
		script:   script,
		opts:     opts,
		mux:      mux,
		log:      log.With("invocation", id, "route", script.Route, "script", script.Path),
		started:  now,
		deadline: now.Add(timeout),
	}
}

// ID returns the invocation identifier.
func (inv *Invocation) ID() string { return inv.id }

// State returns the current phase.
func (inv *Invocation) State() State { return inv.state }

// Deadline returns the instant at which the invocation times out.
func (inv *Invocation) Deadline() time.Time { return inv.deadline }

// Pid returns the child's pid, or 0 before the spawn.
func (inv *Invocation) Pid() int {
	if inv.child == nil {
		return 0
	}
	return inv.child.pid
}

// Env returns the meta-variables, or nil before they are built.
func (inv *Invocation) Env() *Env { return inv.env }

// start builds the environment, spawns the child and arms the first
// readiness step.
func (inv *Invocation) start() {
	inv.startSpan()

	var extra []Var
	if inv.script.Vars != nil {
		extra = inv.script.Vars.Vars(inv.req, inv.script)
		for _, v := range extra {
			inv.span.SetAttributes(attribute.String("gateway.var."+v.Name, v.Value.String()))
		}
	}
	inv.env = buildEnv(inv.req, inv.script, inv.opts.Server, extra)
	inv.state = StateEnvironmentBuilt

	dir := inv.script.Dir
	if dir == "" {
		dir = filepath.Dir(inv.script.Path)
	}
	argv := inv.script.Argv()
	c, err := spawn(argv, inv.env.Environ(inv.inherited()...), dir)
	if err != nil {
		inv.fail(err)
		return
	}
	inv.child = c
	inv.state = StateSpawned
	inv.log = inv.log.With("pid", c.pid)
	inv.span.SetAttributes(attribute.Int("process.pid", c.pid))
	if inv.opts.Children != nil {
		inv.opts.Children.Set(c.pid, &procmeta.ProcessMetadata{
			InvocationID: inv.id,
			Route:        inv.script.Route,
			Script:       inv.script.Path,
			Argv:         argv,
			Started:      inv.started,
		})
	}
	inv.log.Debugw("script spawned", "argv", argv, "body_bytes", len(inv.req.Body))

	if len(inv.req.Body) == 0 {
		inv.finishBody()
		return
	}
	inv.state = StateStreamingBody
	tok, err := inv.mux.watch(c.stdin, poller.Writable|poller.Error, inv.onStdin)
	if err != nil {
		inv.fail(multiplexerError(err))
		return
	}
	inv.stdinTok = tok
}

func (inv *Invocation) inherited() []string {
	if inv.opts.Inherit != nil {
		return inv.opts.Inherit
	}
	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPath
	}
	return []string{"PATH=" + path}
}

// onStdin performs one write of the remaining body.
func (inv *Invocation) onStdin(poller.Event) {
	if inv.state != StateStreamingBody {
		return
	}
	n, err := inv.opts.write(inv.child.stdin, inv.req.Body[inv.written:])
	switch {
	case err == unix.EAGAIN:
		return
	case err == unix.EPIPE:
		inv.fail(fmt.Errorf("%w: %w", ErrPeerClosed, err))
		return
	case err != nil:
		inv.fail(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	case n == 0:
		inv.fail(fmt.Errorf("%w: zero-byte write at offset %d", ErrPeerClosed, inv.written))
		return
	}
	inv.written += n
	if inv.written == len(inv.req.Body) {
		inv.finishBody()
	}
}

// finishBody closes the child's stdin and moves on to the output.
func (inv *Invocation) finishBody() {
	inv.mux.unwatch(inv.stdinTok)
	inv.stdinTok = poller.Token{}
	_ = inv.child.stdin.Close()

	inv.state = StateAwaitingOutput
	tok, err := inv.mux.watch(inv.child.stdout, poller.Readable|poller.PeerHangup, inv.onStdout)
	if err != nil {
		inv.fail(multiplexerError(err))
		return
	}
	inv.stdoutTok = tok
}

// onStdout performs one read of the child's output.
func (inv *Invocation) onStdout(poller.Event) {
	if inv.state != StateAwaitingOutput || inv.child.stdout.Closed() {
		return
	}
	n, err := inv.child.stdout.Read(inv.buf[:])
	switch {
	case err == unix.EAGAIN:
		return
	case err != nil:
		inv.fail(fmt.Errorf("%w: %w", ErrReadFailed, err))
		return
	case n == 0:
		inv.finishOutput()
		return
	}
	inv.out = append(inv.out, inv.buf[:n]...)
	if limit := inv.script.MaxOutput; limit > 0 && len(inv.out) > limit {
		inv.fail(fmt.Errorf("%w: %w: more than %d bytes", ErrReadFailed, ErrOutputTooLarge, limit))
	}
}

// finishOutput closes the output pipe and waits for the child's exit.
func (inv *Invocation) finishOutput() {
	inv.mux.unwatch(inv.stdoutTok)
	inv.stdoutTok = poller.Token{}
	_ = inv.child.stdout.Close()

	if inv.tryReap() {
		inv.complete()
		return
	}
	if inv.child.exit == nil {
		inv.stopPoll = inv.mux.after(time.Now().Add(reapInterval), inv.pollExit)
		return
	}
	tok, err := inv.mux.watch(inv.child.exit, poller.Readable, inv.onExit)
	if err != nil {
		inv.fail(multiplexerError(err))
		return
	}
	inv.exitTok = tok
}

func (inv *Invocation) onExit(poller.Event) {
	if inv.state != StateAwaitingOutput || !inv.tryReap() {
		return
	}
	inv.complete()
}

// pollExit checks for the child's exit when no pidfd is available. The
// deadline timer still bounds the wait.
func (inv *Invocation) pollExit() {
	inv.stopPoll = nil
	if inv.state != StateAwaitingOutput {
		return
	}
	if inv.tryReap() {
		inv.complete()
		return
	}
	inv.stopPoll = inv.mux.after(time.Now().Add(reapInterval), inv.pollExit)
}

func (inv *Invocation) complete() {
	if inv.reapErr != nil {
		inv.out = nil
		inv.fail(fmt.Errorf("%w: exit status unknown: %w", ErrScriptFailed, inv.reapErr))
		return
	}
	status := inv.child.status
	inv.span.SetAttributes(attribute.Int("process.exit_code", status.ExitStatus()))
	if !status.Exited() || status.ExitStatus() != 0 {
		inv.out = nil
		inv.fail(fmt.Errorf("%w: %w", ErrScriptFailed, &ExitError{Pid: inv.child.pid, Status: status}))
		return
	}
	inv.resp = ParseResponse(inv.out)
	inv.state = StateCompleted
	inv.finish()
}

// expire aborts the invocation when its deadline has passed.
func (inv *Invocation) expire() {
	if inv.state.Terminal() {
		return
	}
	inv.fail(fmt.Errorf("%w after %s in state %s", ErrTimedOut, time.Since(inv.started).Round(time.Millisecond), inv.state))
}

func (inv *Invocation) fail(err error) {
	if inv.state.Terminal() {
		return
	}
	inv.err = err
	if errors.Is(err, ErrTimedOut) {
		inv.state = StateTimedOut
	} else {
		inv.state = StateFailed
	}
	inv.finish()
}

func (inv *Invocation) finish() {
	if inv.timer != nil {
		inv.timer.Stop()
		inv.timer = nil
	}
	inv.release()

	elapsed := time.Since(inv.started)
	if inv.err != nil {
		inv.span.RecordError(inv.err)
		inv.span.SetStatus(codes.Error, inv.err.Error())
		inv.log.Warnw("script failed", "state", inv.state, "elapsed", elapsed, "error", inv.err)
	} else {
		inv.span.SetAttributes(
			attribute.Int("http.response.status_code", inv.resp.Status),
			attribute.Int("gateway.output_bytes", len(inv.out)),
		)
		inv.span.SetStatus(codes.Ok, "")
		inv.log.Debugw("script completed", "state", inv.state, "elapsed", elapsed, "status", inv.resp.Status)
	}
	inv.span.End()

	if done := inv.done; done != nil {
		inv.done = nil
		done(inv.resp, inv.err)
	}
}

// release drops every registration, kills and reaps a child that may still
// be alive and closes all descriptors. It is the only cleanup path.
func (inv *Invocation) release() {
	inv.mux.unwatch(inv.stdinTok)
	inv.mux.unwatch(inv.stdoutTok)
	inv.mux.unwatch(inv.exitTok)
	inv.stdinTok, inv.stdoutTok, inv.exitTok = poller.Token{}, poller.Token{}, poller.Token{}
	if inv.stopPoll != nil {
		inv.stopPoll()
		inv.stopPoll = nil
	}

	c := inv.child
	if c == nil {
		return
	}
	if !inv.reaped {
		c.kill()
		inv.reapBlocking()
	}
	c.close()
	if inv.opts.Children != nil {
		inv.opts.Children.Delete(c.pid)
	}
}

func (inv *Invocation) tryReap() bool {
	if inv.reaped {
		return true
	}
	status, exited, err := reap(inv.child.pid, unix.WNOHANG)
	if err != nil {
		inv.log.Warnw("reaping script failed", "error", err)
		inv.reapErr = err
		inv.reaped = true
		return true
	}
	if exited {
		inv.child.status = status
		inv.reaped = true
	}
	return exited
}

func (inv *Invocation) reapBlocking() {
	if inv.reaped {
		return
	}
	status, _, err := reap(inv.child.pid, 0)
	if err != nil {
		inv.log.Warnw("reaping script failed", "error", err)
		inv.reapErr = err
	} else {
		inv.child.status = status
	}
	inv.reaped = true
}

func (inv *Invocation) startSpan() {
	tracer := inv.opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	ctx := context.Background()
	if inv.opts.Parent.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, inv.opts.Parent)
	}
	attrs := []attribute.KeyValue{
		attribute.String("gateway.invocation_id", inv.id),
		attribute.String("gateway.route", inv.script.Route),
		attribute.String("gateway.flavor", inv.script.Flavor.String()),
		attribute.String("process.executable.path", inv.script.Path),
		attribute.String("http.request.method", inv.req.Method.String()),
		attribute.String("url.path", inv.req.Path()),
		attribute.Int("http.request.body.size", len(inv.req.Body)),
	}
	_, inv.span = tracer.Start(ctx, "gateway.invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(inv.started),
		trace.WithAttributes(attrs...),
	)
}

func multiplexerError(err error) error {
	return fmt.Errorf("%w: %w", ErrMultiplexer, err)
}
