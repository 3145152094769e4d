package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrzor/gatewayd/internal/config"
	"github.com/mrzor/gatewayd/internal/gateway"
	"github.com/mrzor/gatewayd/internal/handle"
	"github.com/mrzor/gatewayd/internal/httpfront"
	"github.com/mrzor/gatewayd/internal/log"
	"github.com/mrzor/gatewayd/internal/loop"
	"github.com/mrzor/gatewayd/internal/otel"
	"github.com/mrzor/gatewayd/internal/procmeta"
	"github.com/mrzor/gatewayd/internal/route"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"
)

var serveFlags struct {
	listen    string
	routes    string
	logLevel  string
	logFormat string
	tracing   bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the routes over HTTP",
	Long: `Serve the configured routes over HTTP.

Settings come from GATEWAYD_* environment variables; flags override them.
Each request matching a route runs its script with the CGI environment,
and the script's output becomes the response.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "", "Listen address (overrides GATEWAYD_LISTEN)")
	f.StringVar(&serveFlags.routes, "routes", "", "Route file (overrides GATEWAYD_ROUTES)")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&serveFlags.logFormat, "log-format", "", "Log format: console or json")
	f.BoolVar(&serveFlags.tracing, "tracing", false, "Export invocation spans over OTLP")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = serveFlags.listen
	}
	if f.Changed("routes") {
		cfg.Routes = serveFlags.routes
	}
	if f.Changed("log-level") {
		cfg.LogLevel = serveFlags.logLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = serveFlags.logFormat
	}
	if f.Changed("tracing") {
		cfg.Tracing = serveFlags.tracing
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the global logger and routes descriptor close
// failures to it.
func setupLogging(cfg *config.Config) (func(), error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if err := log.Init(log.Config{Level: level, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	restore := handle.SetCloseErrorHook(func(fd int, err error) {
		log.Get().Debugw("closing descriptor failed", "fd", fd, "error", err)
	})
	return func() {
		restore()
		_ = log.Sync()
	}, nil
}

// setupOTEL returns a no-op tracer unless tracing is enabled.
func setupOTEL(cfg *config.Config) (trace.Tracer, func(), error) {
	if !cfg.Tracing {
		return otel.Tracer(nil), func() {}, nil
	}
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	tp, err := otel.InitProvider(otelCfg, fmt.Sprintf("%s (%s)", version, commit))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(ctx, tp); err != nil {
			log.Get().Warnw("shutting down OTEL provider failed", "error", err)
		}
	}
	return otel.Tracer(tp), cleanup, nil
}

func setupRoutes(path string) (*route.Table, error) {
	routes, err := config.LoadRoutes(path)
	if err != nil {
		return nil, err
	}
	table, err := route.NewTable(routes)
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		log.Get().Warnw("route file defines no routes", "path", path)
	}
	return table, nil
}

// setupLoop starts the event loop on its own goroutine. The returned
// channel yields Run's result once; cleanup stops the loop and waits for it.
func setupLoop(capacity int) (*loop.Loop, <-chan error, func(), error) {
	l, err := loop.New(capacity)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create event loop: %w", err)
	}
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		errCh <- l.Run(context.Background())
	}()
	cleanup := func() {
		l.Stop()
		<-done
		if err := l.Close(); err != nil {
			log.Get().Warnw("closing event loop failed", "error", err)
		}
	}
	return l, errCh, cleanup, nil
}

// killStragglers kills and reaps children still registered after the loop
// has stopped.
func killStragglers(children *procmeta.Manager) {
	for _, pid := range children.Pids() {
		log.Get().Warnw("killing leftover child", "pid", pid)
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
		var status unix.WaitStatus
		for {
			_, err := unix.Wait4(pid, &status, 0, nil)
			if err != unix.EINTR {
				break
			}
		}
		children.Delete(pid)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	cleanupLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanupLog()

	logger := log.Get()
	logger.Infow("starting gatewayd", "version", version, "commit", commit, "built", date)

	table, err := setupRoutes(cfg.Routes)
	if err != nil {
		return err
	}

	tracer, cleanupOTEL, err := setupOTEL(cfg)
	if err != nil {
		return err
	}
	defer cleanupOTEL()

	l, loopErr, cleanupLoop, err := setupLoop(cfg.PollCapacity)
	if err != nil {
		return err
	}

	children := procmeta.NewManager()
	front := httpfront.New(l, table, httpfront.Options{
		Server: gateway.Server{
			Name:     cfg.ServerName,
			Port:     cfg.Port(),
			Software: software(),
		},
		Children: children,
		Tracer:   tracer,
		Inherit:  cfg.InheritEnv,
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           front.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srvErr := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", cfg.Listen, "routes", table.Len())
		srvErr <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Infow("received signal, shutting down")
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err := <-loopErr:
		runErr = fmt.Errorf("event loop stopped: %w", err)
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(graceCtx); err != nil {
		logger.Warnw("grace period expired, aborting running scripts", "error", err)
		abortCtx, cancelAbort := context.WithTimeout(context.Background(), time.Second)
		if n, err := front.AbortAll(abortCtx); err != nil {
			logger.Warnw("aborting scripts failed", "error", err)
		} else {
			logger.Infow("aborted scripts", "count", n)
		}
		cancelAbort()
		_ = srv.Close()
	}

	cleanupLoop()
	killStragglers(children)
	return runErr
}
