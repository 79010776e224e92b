package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/logstreams/internal/runtime"
	"github.com/rzbill/logstreams/pkg/log"
)

// Server is the admin HTTP endpoint: Prometheus metrics, health and
// per-partition status.
type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

func New(rt *runtime.Runtime, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, logger: logger.WithComponent("http")}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/partitions", s.handlePartitions)
	return s
}

// Handler exposes the mux for in-process tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// PartitionStatus is one element of the /v1/partitions response.
type PartitionStatus struct {
	Partition      int    `json:"partition"`
	CommitPosition int64  `json:"commitPosition"`
	Health         string `json:"health"`
	Issue          string `json:"issue,omitempty"`
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var out []PartitionStatus
	for _, st := range s.rt.Streams() {
		rep := st.HealthReport()
		ps := PartitionStatus{
			Partition:      st.Partition(),
			CommitPosition: st.CommitPosition(),
			Health:         rep.Status.String(),
		}
		if rep.Issue != nil {
			ps.Issue = rep.Issue.Error()
		}
		out = append(out, ps)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
