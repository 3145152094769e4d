package httpfront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mrzor/gatewayd/internal/gateway"
	"github.com/mrzor/gatewayd/internal/log"
	"github.com/mrzor/gatewayd/internal/loop"
	"github.com/mrzor/gatewayd/internal/procmeta"
	"github.com/mrzor/gatewayd/internal/route"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrShuttingDown aborts invocations still running at shutdown.
var ErrShuttingDown = errors.New("server shutting down")

// Options configures a Server.
type Options struct {
	Server   gateway.Server
	Children *procmeta.Manager
	Tracer   trace.Tracer
	Inherit  []string
}

// Server dispatches HTTP requests to gateway scripts on a loop.
type Server struct {
	loop   *loop.Loop
	routes *route.Table
	opts   Options

	// Loop goroutine only.
	live map[string]*gateway.Invocation
}

type outcome struct {
	resp *gateway.Response
	err  error
}

// New creates a server. The loop must be running for requests to complete.
func New(l *loop.Loop, routes *route.Table, opts Options) *Server {
	if opts.Children == nil {
		opts.Children = procmeta.NewManager()
	}
	return &Server{
		loop:   l,
		routes: routes,
		opts:   opts,
		live:   make(map[string]*gateway.Invocation),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Get("/-/status", s.status)
	r.HandleFunc("/*", s.serveGateway)
	return r
}

// Children returns the live child registry.
func (s *Server) Children() *procmeta.Manager {
	return s.opts.Children
}

func (s *Server) serveGateway(w http.ResponseWriter, r *http.Request) {
	method, err := gateway.ParseMethod(r.Method)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	rt, err := s.routes.Match(method, r.URL.Path)
	switch {
	case errors.Is(err, route.ErrNoRoute):
		http.NotFound(w, r)
		return
	case errors.Is(err, route.ErrMethodNotAllowed):
		w.Header().Set("Allow", allowHeader(rt))
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	case err != nil:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	body, ok := readBody(w, r, rt.MaxBody)
	if !ok {
		return
	}

	req := toRequest(r, method, body)
	id := uuid.NewString()
	w.Header().Set("X-Invocation-Id", id)
	logger := log.With("invocation", id, "route", rt.Name)

	parent, warnings, err := rt.Parent(req)
	if err != nil {
		logger.Warnw("deriving trace parent failed", "error", err)
	}
	for _, kv := range warnings {
		logger.Debugw("trace parent warning", string(kv.Key), kv.Value.Emit())
	}
	if !parent.IsValid() {
		parent = trace.SpanContextFromContext(r.Context())
	}

	opts := gateway.Options{
		Server:   s.opts.Server,
		ID:       id,
		Children: s.opts.Children,
		Tracer:   s.opts.Tracer,
		Parent:   parent,
		Inherit:  s.opts.Inherit,
	}
	result := make(chan outcome, 1)
	if err := s.loop.Post(func() { s.start(req, rt.Program(), opts, result) }); err != nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	var o outcome
	select {
	case o = <-result:
	case <-r.Context().Done():
		// The client is gone; stop the script rather than let it run to its deadline.
		_ = s.loop.Post(func() { s.abort(id, r.Context().Err()) })
		return
	}

	if o.err != nil {
		code := gateway.StatusCode(o.err)
		logger.Warnw("gateway failure", "status", code, "error", o.err)
		http.Error(w, http.StatusText(code), code)
		return
	}
	writeResponse(w, o.resp, logger)
}

// start runs on the loop goroutine.
func (s *Server) start(req *gateway.Request, script *gateway.Script, opts gateway.Options, result chan<- outcome) {
	inv := gateway.Start(s.loop, req, script, opts, func(resp *gateway.Response, err error) {
		delete(s.live, opts.ID)
		result <- outcome{resp: resp, err: err}
	})
	if !inv.State().Terminal() {
		s.live[opts.ID] = inv
	}
}

// abort runs on the loop goroutine.
func (s *Server) abort(id string, cause error) {
	if inv, ok := s.live[id]; ok {
		inv.Abort(cause)
	}
}

// AbortAll kills every running invocation and waits until the loop has
// processed the request or ctx ends. It returns the number of invocations
// aborted.
func (s *Server) AbortAll(ctx context.Context) (int, error) {
	done := make(chan int, 1)
	err := s.loop.Post(func() {
		n := len(s.live)
		for _, inv := range s.live {
			inv.Abort(ErrShuttingDown)
		}
		done <- n
	})
	if err != nil {
		return 0, err
	}
	select {
	case n := <-done:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// readBody reads the request body, answering 413 when it exceeds limit.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true
	}
	if limit > 0 {
		if r.ContentLength > limit {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return nil, false
	}
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	return nil, false
}

func writeResponse(w http.ResponseWriter, resp *gateway.Response, logger *zap.SugaredLogger) {
	if resp.Status < 100 || resp.Status > 999 {
		logger.Warnw("script returned an invalid status", "status", resp.Status)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	h := w.Header()
	for name, values := range resp.Header {
		h[name] = values
	}
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		logger.Warnw("writing response failed", "error", err)
	}
}

func allowHeader(rt *route.Route) string {
	names := make([]string, len(rt.Methods))
	for i, m := range rt.Methods {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	entries := s.opts.Children.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "PID\tROUTE\tINVOCATION\tAGE\tSCRIPT\n")
	now := time.Now()
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Pid, e.Route, e.InvocationID, now.Sub(e.Started).Round(time.Millisecond), e.Script)
	}
	_ = tw.Flush()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Get().Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}
