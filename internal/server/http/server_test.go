package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cfgpkg "github.com/rzbill/logstreams/internal/config"
	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/runtime"
	logpkg "github.com/rzbill/logstreams/pkg/log"
)

func newServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Partitions = 2
	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(logpkg.Config{Level: "error", Format: "text", Output: []string{"null"}})
	return New(rt, logger), rt
}

func TestHealthHandler(t *testing.T) {
	s, _ := newServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestPartitionsHandler(t *testing.T) {
	s, rt := newServer(t)
	st, _ := rt.Stream(1)
	w, _ := st.NewSequencedWriter()
	if _, err := w.TryWriteEntry(entry.New([]byte("m"), []byte("v")), entry.NoPosition); err != nil {
		t.Fatalf("write: %v", err)
	}
	for st.CommitPosition() < 1 {
		<-st.RecordAvailable()
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/partitions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var got []PartitionStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].CommitPosition != -1 || got[1].CommitPosition != 1 || got[1].Health != "healthy" {
		t.Fatalf("partitions %+v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	s, _ := newServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "logstreams_") {
		t.Fatalf("no logstreams metrics exposed")
	}
}
