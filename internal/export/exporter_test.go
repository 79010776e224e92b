package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/filter"
	"github.com/rzbill/logstreams/internal/logstorage"
	"github.com/rzbill/logstreams/internal/logstream"
	pebblestore "github.com/rzbill/logstreams/internal/storage/pebble"
)

type fakePublisher struct {
	mu       sync.Mutex
	batches  [][]kafka.Message
	failures int
}

func (p *fakePublisher) Publish(_ context.Context, msgs []kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.batches = append(p.batches, msgs)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) positions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, b := range p.batches {
		for _, m := range b {
			for _, h := range m.Headers {
				if h.Key == HeaderPosition {
					out = append(out, string(h.Value))
				}
			}
		}
	}
	return out
}

func (p *fakePublisher) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func openStream(t *testing.T) (*logstream.LogStream, *pebblestore.DB) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	st, err := logstorage.Open(db, logstorage.Options{Partition: 0})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	s, err := logstream.Open(logstream.Options{Partition: 0, Storage: st})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		_ = st.Close()
		_ = db.Close()
	})
	return s, db
}

func write(t *testing.T, s *logstream.LogStream, source int64, values ...string) int64 {
	t.Helper()
	w, err := s.NewSequencedWriter()
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	entries := make([]entry.Entry, len(values))
	for i, v := range values {
		entries[i] = entry.New([]byte("m"), []byte(v))
	}
	last, err := w.TryWrite(entries, source)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	return last
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runExporter(t *testing.T, e *Exporter) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}

func TestExporterPublishesBatchesAndResumes(t *testing.T) {
	s, db := openStream(t)
	positions := NewPositions(db)
	write(t, s, -1, "cmd")
	write(t, s, 1, "a", "b")
	waitFor(t, "commit", func() bool { return s.CommitPosition() == 3 })

	pub := &fakePublisher{}
	opts := Options{ID: "test", Topic: "events", PollInterval: 10 * time.Millisecond}
	stop := runExporter(t, New(s, pub, positions, opts))
	waitFor(t, "first export", func() bool { return len(pub.positions()) == 3 })
	if pub.batchCount() != 2 {
		t.Fatalf("published %d batches, want 2", pub.batchCount())
	}
	stop()

	if p, _ := positions.Load("test", 0); p != 3 {
		t.Fatalf("stored position %d", p)
	}

	write(t, s, -1, "later")
	pub2 := &fakePublisher{}
	stop = runExporter(t, New(s, pub2, positions, opts))
	waitFor(t, "resumed export", func() bool { return len(pub2.positions()) == 1 })
	stop()
	if got := pub2.positions(); got[0] != "4" {
		t.Fatalf("resumed at %v", got)
	}
}

func TestExporterResumesInsideGrownRun(t *testing.T) {
	s, db := openStream(t)
	positions := NewPositions(db)
	write(t, s, 7, "a", "b")
	waitFor(t, "commit", func() bool { return s.CommitPosition() == 2 })

	pub := &fakePublisher{}
	opts := Options{ID: "grown", Topic: "events", PollInterval: 10 * time.Millisecond}
	stop := runExporter(t, New(s, pub, positions, opts))
	waitFor(t, "first export", func() bool { return len(pub.positions()) == 2 })
	stop()

	write(t, s, 7, "c")
	waitFor(t, "commit", func() bool { return s.CommitPosition() == 3 })
	pub2 := &fakePublisher{}
	stop = runExporter(t, New(s, pub2, positions, opts))
	write(t, s, -1, "d")
	waitFor(t, "resumed export", func() bool { return len(pub2.positions()) == 2 })
	stop()
	if got := pub2.positions(); got[0] != "3" || got[1] != "4" {
		t.Fatalf("resumed export %v, want [3 4]", got)
	}
}

func TestExporterRetriesAndFilters(t *testing.T) {
	s, db := openStream(t)
	write(t, s, -1, `{"keep":true}`)
	write(t, s, -1, `{"keep":false}`)
	write(t, s, -1, `{"keep":true}`)

	pub := &fakePublisher{failures: 2}
	e := New(s, pub, NewPositions(db), Options{
		ID:           "filtered",
		Filter:       filter.MustNew("json.keep == true"),
		RetryBackoff: time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	stop := runExporter(t, e)
	waitFor(t, "position 3", func() bool {
		p, _ := e.Position()
		return p == 3
	})
	stop()
	got := pub.positions()
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Fatalf("exported %v", got)
	}
}

func TestPositionsNeverRegress(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer db.Close()
	p := NewPositions(db)
	if v, err := p.Load("x", 1); err != nil || v != -1 {
		t.Fatalf("empty load: %d %v", v, err)
	}
	for _, v := range []int64{10, 5, 10, 12} {
		if err := p.Commit("x", 1, v); err != nil {
			t.Fatalf("commit %d: %v", v, err)
		}
	}
	if v, _ := p.Load("x", 1); v != 12 {
		t.Fatalf("position %d", v)
	}
	if v, _ := p.Load("x", 2); v != -1 {
		t.Fatalf("other partition %d", v)
	}
}
