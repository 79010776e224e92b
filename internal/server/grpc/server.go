package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	hmodel "github.com/rzbill/logstreams/internal/health"
	"github.com/rzbill/logstreams/internal/runtime"
	"github.com/rzbill/logstreams/pkg/log"
)

// healthInterval is how often ListenAndServe re-evaluates health.
const healthInterval = 5 * time.Second

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt     *runtime.Runtime
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger log.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a gRPC server and registers the health and LogStream
// services.
func New(rt *runtime.Runtime, logger log.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		rt:     rt,
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.WithComponent("grpc"),
		done:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	RegisterLogStreamServer(s.grpc, &logStreamSvc{rt: rt, logger: s.logger, done: s.done})
	for _, st := range rt.Streams() {
		st.AddFailureListener(&hmodel.ListenerFuncs{
			Failure:       func(hmodel.Report) { s.refreshHealth() },
			Unrecoverable: func(hmodel.Report) { s.refreshHealth() },
		})
	}
	s.refreshHealth()
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.logger.Info("grpc listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.refreshHealth()
		}
	}
}

func (s *Server) stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		close(s.done)
		s.grpc.GracefulStop()
	})
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	s.stop()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
