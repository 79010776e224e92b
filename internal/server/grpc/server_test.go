package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	cfgpkg "github.com/rzbill/logstreams/internal/config"
	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/runtime"
)

const bufSize = 1 << 20

func dialer(s *grpc.Server) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
}

func newTestServer(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Partitions = 2
	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	srv := New(rt, nil)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer(srv.grpc)),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Close()
		_ = rt.Close()
	})
	return srv, conn
}

func events(values ...string) []entry.Entry {
	out := make([]entry.Entry, len(values))
	for i, v := range values {
		out[i] = entry.New([]byte("m"), []byte(v))
	}
	return out
}

func TestHealthOverGRPC(t *testing.T) {
	_, conn := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := healthpb.NewHealthClient(conn)
	for _, svc := range []string{"", ServiceName} {
		res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			t.Fatalf("check %q: %v", svc, err)
		}
		if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("status %s for %q", res.GetStatus(), svc)
		}
	}
}

func TestAppendAndTailOverGRPC(t *testing.T) {
	_, conn := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient(conn)

	last, err := c.Append(ctx, 1, events("a"), entry.NoPosition)
	if err != nil || last != 1 {
		t.Fatalf("append: last=%d err=%v", last, err)
	}
	batch := events("b", "c")
	batch[1].SourceIndex = 0
	last, err = c.Append(ctx, 1, batch, 1)
	if err != nil || last != 3 {
		t.Fatalf("append batch: last=%d err=%v", last, err)
	}

	tail, err := c.Tail(ctx, 1, 0, "")
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	first, err := tail.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(first) != 1 || string(first[0].Value()) != "a" {
		t.Fatalf("first batch %v", first)
	}
	second, err := tail.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(second) != 1 || second[0].Position() != 2 || second[0].SourceEventPosition() != 1 {
		t.Fatalf("second batch %v", second)
	}
	third, err := tail.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if third[0].Position() != 3 || third[0].SourceEventPosition() != 2 {
		t.Fatalf("intra-batch source not resolved: %v", third)
	}

	// Tail keeps delivering entries committed after it started.
	if _, err := c.Append(ctx, 1, events("d"), entry.NoPosition); err != nil {
		t.Fatalf("append: %v", err)
	}
	live, err := tail.Recv()
	if err != nil {
		t.Fatalf("recv live: %v", err)
	}
	if live[0].Position() != 4 {
		t.Fatalf("live entry %v", live)
	}
}

func TestTailFilterAndResume(t *testing.T) {
	_, conn := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient(conn)
	for _, v := range []string{"keep-1", "drop", "keep-2", "keep-3"} {
		if _, err := c.Append(ctx, 0, events(v), entry.NoPosition); err != nil {
			t.Fatalf("append %s: %v", v, err)
		}
	}
	tail, err := c.Tail(ctx, 0, 1, "text.startsWith('keep')")
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	for _, want := range []string{"keep-2", "keep-3"} {
		got, err := tail.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if string(got[0].Value()) != want {
			t.Fatalf("got %q want %q", got[0].Value(), want)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	_, conn := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient(conn)

	if _, err := c.Append(ctx, 9, events("x"), entry.NoPosition); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("unknown partition: %v", err)
	}
	noMeta := []entry.Entry{{Key: entry.KeyUnset, SourceIndex: entry.NoSourceIndex, Value: []byte("v")}}
	if _, err := c.Append(ctx, 0, noMeta, entry.NoPosition); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("missing metadata: %v", err)
	}
	tail, err := c.Tail(ctx, 0, 0, "position ==")
	if err == nil {
		_, err = tail.Recv()
	}
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("bad filter: %v", err)
	}
}

func TestTailResumesInsideCausalRun(t *testing.T) {
	_, conn := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient(conn)
	if _, err := c.Append(ctx, 0, events("root"), entry.NoPosition); err != nil {
		t.Fatalf("append root: %v", err)
	}
	if _, err := c.Append(ctx, 0, events("a", "b", "c"), 1); err != nil {
		t.Fatalf("append run: %v", err)
	}
	tail, err := c.Tail(ctx, 0, 2, "")
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	got, err := tail.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(got) != 2 || got[0].Position() != 3 || got[1].Position() != 4 {
		t.Fatalf("want positions [3 4], got %d entries", len(got))
	}
}
