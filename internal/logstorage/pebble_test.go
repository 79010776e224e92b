package logstorage

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	pebblestore "github.com/rzbill/logstreams/internal/storage/pebble"
)

type recordingListener struct {
	wrote     chan struct{}
	committed chan struct{}
	errs      chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		wrote:     make(chan struct{}, 1),
		committed: make(chan struct{}, 1),
		errs:      make(chan error, 2),
	}
}

func (l *recordingListener) OnWrite()                { l.wrote <- struct{}{} }
func (l *recordingListener) OnWriteError(err error)  { l.errs <- err }
func (l *recordingListener) OnCommit()               { l.committed <- struct{}{} }
func (l *recordingListener) OnCommitError(err error) { l.errs <- err }

func (l *recordingListener) waitCommit(t *testing.T) {
	t.Helper()
	select {
	case <-l.committed:
	case err := <-l.errs:
		t.Fatalf("append failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("commit timed out")
	}
}

func openDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	return db
}

func newTestStorage(t *testing.T) (*PebbleStorage, *pebblestore.DB) {
	t.Helper()
	db := openDB(t, t.TempDir())
	s, err := Open(db, Options{Partition: 1})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		_ = db.Close()
	})
	return s, db
}

func appendBlock(t *testing.T, s LogStorage, lowest, highest int64, data string) {
	t.Helper()
	l := newRecordingListener()
	s.Append(lowest, highest, Bytes(data), l)
	l.waitCommit(t)
}

func TestAppendCommitRead(t *testing.T) {
	s, _ := newTestStorage(t)
	if s.CommitPosition() != -1 {
		t.Fatalf("empty storage commit position %d", s.CommitPosition())
	}
	appendBlock(t, s, 1, 3, "aaa")
	appendBlock(t, s, 4, 4, "b")
	appendBlock(t, s, 7, 9, "ccc")
	if s.CommitPosition() != 9 {
		t.Fatalf("commit position %d", s.CommitPosition())
	}

	r := s.NewReader()
	defer r.Close()
	var got []Block
	for r.HasNext() {
		got = append(got, r.Next())
	}
	if r.Err() != nil {
		t.Fatalf("read: %v", r.Err())
	}
	if len(got) != 3 {
		t.Fatalf("want 3 blocks, got %d", len(got))
	}
	if got[2].Lowest != 7 || got[2].Highest != 9 || string(got[2].Data) != "ccc" {
		t.Fatalf("unexpected block %+v", got[2])
	}
}

func TestSeekFindsContainingBlock(t *testing.T) {
	s, _ := newTestStorage(t)
	appendBlock(t, s, 1, 3, "aaa")
	appendBlock(t, s, 4, 6, "bbb")
	appendBlock(t, s, 7, 9, "ccc")

	r := s.NewReader()
	defer r.Close()
	tests := []struct {
		seek int64
		want int64
	}{
		{seek: -5, want: 1},
		{seek: 0, want: 1},
		{seek: 5, want: 4},
		{seek: 7, want: 7},
		{seek: 100, want: 7},
	}
	for _, tt := range tests {
		r.Seek(tt.seek)
		if !r.HasNext() {
			t.Fatalf("seek %d: no block", tt.seek)
		}
		if b := r.Next(); b.Lowest != tt.want {
			t.Fatalf("seek %d: got block %d want %d", tt.seek, b.Lowest, tt.want)
		}
	}
	r.SeekToFirst()
	if b := r.Next(); b.Lowest != 1 {
		t.Fatalf("seek to first: %d", b.Lowest)
	}
}

func TestReaderTailsNewCommits(t *testing.T) {
	s, _ := newTestStorage(t)
	r := s.NewReader()
	defer r.Close()
	if r.HasNext() {
		t.Fatalf("empty storage has a block")
	}
	appendBlock(t, s, 1, 1, "x")
	if !r.HasNext() {
		t.Fatalf("committed block not visible")
	}
	r.Next()
	appendBlock(t, s, 2, 2, "y")
	if !r.HasNext() || r.Next().Lowest != 2 {
		t.Fatalf("reader did not tail")
	}
}

func TestRecoveryAfterReopen(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	s, err := Open(db, Options{Partition: 3})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendBlock(t, s, 1, 5, "abcde")
	appendBlock(t, s, 6, 8, "fgh")
	_ = s.Close()
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openDB(t, dir)
	t.Cleanup(func() { _ = db2.Close() })
	s2, err := Open(db2, Options{Partition: 3})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.CommitPosition() != 8 {
		t.Fatalf("recovered commit position %d", s2.CommitPosition())
	}

	l := newRecordingListener()
	s2.Append(8, 9, Bytes("z"), l)
	select {
	case err := <-l.errs:
		if !errors.Is(err, ErrOutOfOrder) {
			t.Fatalf("want ErrOutOfOrder, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("overlapping append accepted")
	}
	appendBlock(t, s2, 9, 9, "z")

	other, err := Open(db2, Options{Partition: 4})
	if err != nil {
		t.Fatalf("open other partition: %v", err)
	}
	defer other.Close()
	if other.CommitPosition() != -1 {
		t.Fatalf("partitions leaked: %d", other.CommitPosition())
	}
}

func TestCorruptBlockStopsReader(t *testing.T) {
	s, db := newTestStorage(t)
	appendBlock(t, s, 1, 1, "x")
	if err := db.Set(KeyBlock(1, 1), []byte{8, 0, 0, 0, 0, 0, 0, 0, 1, 'x', 0, 0, 0, 0}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	r := s.NewReader()
	defer r.Close()
	if r.HasNext() {
		t.Fatalf("corrupt block served")
	}
	if !errors.Is(r.Err(), ErrCorruptBlock) {
		t.Fatalf("want ErrCorruptBlock, got %v", r.Err())
	}
}

type countingCommitListener struct{ n atomic.Int32 }

func (c *countingCommitListener) OnCommit() { c.n.Add(1) }

func TestCommitListeners(t *testing.T) {
	s, _ := newTestStorage(t)
	c := &countingCommitListener{}
	s.AddCommitListener(c)
	appendBlock(t, s, 1, 1, "x")
	deadline := time.Now().Add(time.Second)
	for c.n.Load() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.RemoveCommitListener(c)
	appendBlock(t, s, 2, 2, "y")
	time.Sleep(10 * time.Millisecond)
	if c.n.Load() != 1 {
		t.Fatalf("want 1 notification, got %d", c.n.Load())
	}
}

func TestAppendAfterClose(t *testing.T) {
	s, _ := newTestStorage(t)
	_ = s.Close()
	l := newRecordingListener()
	s.Append(1, 1, Bytes("x"), l)
	if err := <-l.errs; !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestBlockCodec(t *testing.T) {
	b, err := encodeBlock(42, Bytes("frames"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	highest, frames, err := decodeBlock(b)
	if err != nil || highest != 42 || string(frames) != "frames" {
		t.Fatalf("decode: %d %q %v", highest, frames, err)
	}
	b[len(b)-5] ^= 0xff
	if _, _, err := decodeBlock(b); !errors.Is(err, ErrCorruptBlock) {
		t.Fatalf("want ErrCorruptBlock, got %v", err)
	}
}

func TestKeysSortByPosition(t *testing.T) {
	a := KeyBlock(1, 255)
	b := KeyBlock(1, 256)
	if string(a) >= string(b) {
		t.Fatalf("keys not ordered")
	}
	if lowestFromKey(b) != 256 {
		t.Fatalf("round trip")
	}
	if string(KeyBlock(1, 1<<40)) >= string(keyBlockUpper(1)) {
		t.Fatalf("upper bound below a block key")
	}
}
