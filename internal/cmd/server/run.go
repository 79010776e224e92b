package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/logstreams/internal/config"
	"github.com/rzbill/logstreams/internal/runtime"
	grpcserver "github.com/rzbill/logstreams/internal/server/grpc"
	httpserver "github.com/rzbill/logstreams/internal/server/http"
	logpkg "github.com/rzbill/logstreams/pkg/log"
)

type Options struct {
	GRPCAddr string
	// HTTPAddr serves the admin endpoints; empty falls back to
	// Config.Metrics.Addr and disables them when that is empty too.
	HTTPAddr string
	Config   cfgpkg.Config
	Logger   logpkg.Logger
}

// NewLogger builds the process logger from cfg. Invalid settings fall back to
// text output at the parsed level, or info.
func NewLogger(cfg cfgpkg.Log) logpkg.Logger {
	l, err := logpkg.ApplyConfig(logpkg.Config{Level: cfg.Level, Format: cfg.Format})
	if err == nil {
		return l
	}
	lvl := logpkg.InfoLevel
	if parsed, e := logpkg.ParseLevel(cfg.Level); e == nil {
		lvl = parsed
	}
	return logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
}

// Run opens the runtime, serves gRPC, the admin HTTP endpoints and the
// exporter, and blocks until ctx is cancelled or one of them fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.Config.Log)
		logpkg.RedirectStdLog(logger)
	}
	httpAddr := opts.HTTPAddr
	if httpAddr == "" {
		httpAddr = opts.Config.Metrics.Addr
	}

	rt, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting logstreams server",
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", httpAddr),
		logpkg.Int("partitions", opts.Config.Partitions),
		logpkg.Bool("export", opts.Config.Export.Enabled()),
	)

	gsrv := grpcserver.New(rt, logger)
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return gsrv.ListenAndServe(gctx, opts.GRPCAddr) })
	var hsrv *httpserver.Server
	if httpAddr != "" {
		hsrv = httpserver.New(rt, logger)
		g.Go(func() error { return hsrv.ListenAndServe(gctx, httpAddr) })
	}
	g.Go(func() error { return rt.RunExporter(gctx) })

	err = g.Wait()
	gsrv.Close()
	if hsrv != nil {
		hsrv.Close()
	}
	if err != nil && sctx.Err() == nil {
		logger.Error("server stopped", logpkg.Err(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
