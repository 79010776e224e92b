package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/logstreams/internal/config"
	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/runtime"
	grpcserver "github.com/rzbill/logstreams/internal/server/grpc"
)

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Storage.Fsync = "never"
	return cfg
}

func startServer(t *testing.T) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpcserver.New(rt, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, l)
	}()
	t.Setenv("LOGSTREAMS_GRPC", l.Addr().String())
	t.Cleanup(func() {
		cancel()
		<-done
		_ = rt.Close()
	})
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := NewRoot()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func jsonLines(t *testing.T, s string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestAppendAndTail(t *testing.T) {
	startServer(t)
	out := run(t, "append", "--data", `{"kind":"order"}`, "--data", "plain", "--chain")
	if !strings.Contains(out, "position: 2") {
		t.Fatalf("append output: %q", out)
	}
	lines := jsonLines(t, run(t, "tail", "--limit", "2"))
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %d", len(lines))
	}
	if v, ok := lines[0]["value_json"].(map[string]any); !ok || v["kind"] != "order" {
		t.Fatalf("first entry: %v", lines[0])
	}
	if lines[1]["value_text"] != "plain" || lines[1]["source_position"] != float64(1) {
		t.Fatalf("second entry: %v", lines[1])
	}

	lines = jsonLines(t, run(t, "tail", "--after", "1", "--limit", "1"))
	if len(lines) != 1 || lines[0]["position"] != float64(2) {
		t.Fatalf("resumed tail: %v", lines)
	}
}

func TestReadOffline(t *testing.T) {
	cfg := testConfig(t)
	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	st, _ := rt.Stream(0)
	w, err := st.NewSequencedWriter()
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if _, err := w.TryWrite([]entry.Entry{entry.New([]byte("m"), []byte(`{"n":1}`))}, entry.NoPosition); err != nil {
		t.Fatalf("write: %v", err)
	}
	followUps := []entry.Entry{entry.New([]byte("m"), []byte(`{"n":2}`)), entry.New([]byte("m"), []byte(`{"n":3}`))}
	last, err := w.TryWrite(followUps, 1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waitCommitted(ctx, st.CommitPosition, st.RecordAvailable, last); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := jsonLines(t, run(t, "read", "--data-dir", cfg.DataDir, "--filter", "json.n >= 2.0"))
	if len(lines) != 2 || lines[0]["position"] != float64(2) {
		t.Fatalf("filtered read: %v", lines)
	}
	batches := jsonLines(t, run(t, "read", "--data-dir", cfg.DataDir, "--batch"))
	if len(batches) != 2 {
		t.Fatalf("want 2 batches, got %v", batches)
	}
	if n := len(batches[1]["entries"].([]any)); n != 2 {
		t.Fatalf("second batch has %d entries", n)
	}
	lines = jsonLines(t, run(t, "read", "--data-dir", cfg.DataDir, "--from", "3"))
	if len(lines) != 1 || lines[0]["position"] != float64(3) {
		t.Fatalf("read from 3: %v", lines)
	}
}

func TestBench(t *testing.T) {
	cfg := testConfig(t)
	out := run(t, "bench", "--data-dir", cfg.DataDir, "--producers", "3", "--entries", "50", "--batch", "5", "--size", "16")
	if !strings.Contains(out, "commit position: 150") {
		t.Fatalf("bench output: %q", out)
	}
}
