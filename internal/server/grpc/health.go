package grpcserver

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/logstreams/pkg/log"
)

// refreshHealth publishes the runtime health on the overall and the
// LogStream service entries.
func (s *Server) refreshHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.rt.CheckHealth(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("reporting not serving", log.Err(err))
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
