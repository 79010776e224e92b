package logstorage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/logstreams/internal/metrics"
	pebblestore "github.com/rzbill/logstreams/internal/storage/pebble"
	"github.com/rzbill/logstreams/pkg/log"
)

// DefaultQueueDepth is used when Options.QueueDepth is not set.
const DefaultQueueDepth = 64

// Options configures a PebbleStorage.
type Options struct {
	Partition uint32
	// QueueDepth bounds appends written but not yet committed. Append blocks
	// while the queue is full.
	QueueDepth int
	Logger     log.Logger
}

type failureBox struct{ err error }

type pendingAppend struct {
	lowest   int64
	highest  int64
	value    []byte
	listener AppendListener
}

// PebbleStorage persists blocks of one partition in Pebble.
type PebbleStorage struct {
	db        *pebblestore.DB
	partition uint32
	logger    log.Logger
	label     string

	commitPosition atomic.Int64

	// failure poisons the storage after the first commit error. It is read
	// without mu because Append may hold mu while blocked on the queue.
	failure atomic.Pointer[failureBox]

	mu           sync.Mutex
	closed       bool
	lastAppended int64
	queue        chan pendingAppend
	done         chan struct{}

	listenersMu sync.RWMutex
	listeners   []CommitListener
}

var _ LogStorage = (*PebbleStorage)(nil)

// Open loads the last committed block of the partition and starts the commit
// goroutine.
func Open(db *pebblestore.DB, opts Options) (*PebbleStorage, error) {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	s := &PebbleStorage{
		db:           db,
		partition:    opts.Partition,
		logger:       opts.Logger.WithComponent("logstorage").With(log.Partition(int(opts.Partition))),
		label:        metrics.Partition(int(opts.Partition)),
		lastAppended: -1,
		queue:        make(chan pendingAppend, opts.QueueDepth),
		done:         make(chan struct{}),
	}
	s.commitPosition.Store(-1)

	_, value, ok, err := db.Last(KeyBlockPrefix(s.partition), keyBlockUpper(s.partition))
	if err != nil {
		return nil, fmt.Errorf("logstorage: recover partition %d: %w", s.partition, err)
	}
	if ok {
		highest, _, err := decodeBlock(value)
		if err != nil {
			return nil, fmt.Errorf("logstorage: recover partition %d: %w", s.partition, err)
		}
		s.commitPosition.Store(highest)
		s.lastAppended = highest
	}
	metrics.CommitPosition.WithLabelValues(s.label).Set(float64(s.commitPosition.Load()))
	s.logger.Debug("storage opened", log.Int64("commit_position", s.commitPosition.Load()))

	go s.commitLoop()
	return s, nil
}

// QueueDepth reports how many appends may wait for commit before Append
// blocks.
func (s *PebbleStorage) QueueDepth() int { return cap(s.queue) }

// Append encodes the block immediately and queues it for commit.
func (s *PebbleStorage) Append(lowest, highest int64, w BufferWriter, listener AppendListener) {
	s.mu.Lock()
	var err error
	switch {
	case s.closed:
		err = ErrClosed
	case s.failure.Load() != nil:
		err = s.failure.Load().err
	case lowest > highest || lowest <= s.lastAppended:
		err = fmt.Errorf("%w: [%d,%d] after %d", ErrOutOfOrder, lowest, highest, s.lastAppended)
	}
	if err != nil {
		s.mu.Unlock()
		listener.OnWriteError(err)
		return
	}
	value, err := encodeBlock(highest, w)
	if err != nil {
		s.mu.Unlock()
		listener.OnWriteError(err)
		return
	}
	s.lastAppended = highest
	// OnWrite precedes the enqueue so it always runs before OnCommit. Sending
	// under the lock keeps the queue in append order and lets Close close the
	// channel safely.
	listener.OnWrite()
	s.queue <- pendingAppend{lowest: lowest, highest: highest, value: value, listener: listener}
	s.mu.Unlock()
}

func (s *PebbleStorage) commitLoop() {
	defer close(s.done)
	for p := range s.queue {
		if f := s.failure.Load(); f != nil {
			p.listener.OnCommitError(f.err)
			continue
		}
		if err := s.commit(p); err != nil {
			failure := fmt.Errorf("logstorage: commit [%d,%d]: %w", p.lowest, p.highest, err)
			s.failure.Store(&failureBox{err: failure})
			s.logger.Error("commit failed", log.Err(err), log.Int64("lowest", p.lowest), log.Int64("highest", p.highest))
			p.listener.OnCommitError(failure)
			continue
		}
		s.commitPosition.Store(p.highest)
		metrics.CommitPosition.WithLabelValues(s.label).Set(float64(p.highest))
		p.listener.OnCommit()
		s.notifyCommit()
	}
}

func (s *PebbleStorage) commit(p pendingAppend) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyBlock(s.partition, p.lowest), p.value, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(b)
}

func (s *PebbleStorage) notifyCommit() {
	s.listenersMu.RLock()
	ls := append([]CommitListener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, l := range ls {
		l.OnCommit()
	}
}

func (s *PebbleStorage) AddCommitListener(l CommitListener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

func (s *PebbleStorage) RemoveCommitListener(l CommitListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// CommitPosition is the highest committed position, or -1.
func (s *PebbleStorage) CommitPosition() int64 { return s.commitPosition.Load() }

// Partition returns the partition id.
func (s *PebbleStorage) Partition() uint32 { return s.partition }

// Close commits queued appends and stops the commit goroutine. The
// underlying DB stays open.
func (s *PebbleStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return nil
}

// NewReader returns a reader positioned before the first block.
func (s *PebbleStorage) NewReader() Reader {
	return &pebbleReader{s: s}
}

type pebbleReader struct {
	s       *PebbleStorage
	iter    *pebble.Iterator
	next    int64
	pending *Block
	err     error
	closed  bool
}

func (r *pebbleReader) resetIter() {
	if r.iter != nil {
		_ = r.iter.Close()
		r.iter = nil
	}
	r.pending = nil
}

func (r *pebbleReader) Seek(position int64) {
	r.resetIter()
	r.next = 0
	target := position
	if cp := r.s.CommitPosition(); target > cp {
		target = cp
	}
	if r.closed || target < 0 {
		return
	}
	s := r.s
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyBlockPrefix(s.partition),
		UpperBound: keyBlockUpper(s.partition),
	})
	if err != nil {
		r.err = err
		return
	}
	defer iter.Close()
	if iter.SeekLT(KeyBlock(s.partition, target+1)) {
		r.next = lowestFromKey(iter.Key())
	}
}

func (r *pebbleReader) SeekToFirst() { r.Seek(0) }

func (r *pebbleReader) HasNext() bool {
	if r.pending != nil {
		return true
	}
	if r.closed || r.err != nil {
		return false
	}
	// An exhausted iterator is reopened since it does not observe blocks
	// committed after its creation.
	if r.iter != nil && !r.iter.Next() {
		r.resetIter()
	}
	if r.iter == nil {
		iter, err := r.s.db.NewIter(&pebble.IterOptions{
			LowerBound: KeyBlock(r.s.partition, r.next),
			UpperBound: keyBlockUpper(r.s.partition),
		})
		if err != nil {
			r.err = err
			return false
		}
		r.iter = iter
		if !iter.First() {
			r.resetIter()
			return false
		}
	}

	highest, frames, err := decodeBlock(r.iter.Value())
	if err != nil {
		r.err = fmt.Errorf("block %d: %w", lowestFromKey(r.iter.Key()), err)
		r.resetIter()
		return false
	}
	if highest > r.s.CommitPosition() {
		// Not yet visible; retry from this block on the next call.
		r.resetIter()
		return false
	}
	r.pending = &Block{
		Lowest:  lowestFromKey(r.iter.Key()),
		Highest: highest,
		Data:    append([]byte(nil), frames...),
	}
	return true
}

func (r *pebbleReader) Next() Block {
	if !r.HasNext() {
		return Block{}
	}
	b := *r.pending
	r.pending = nil
	r.next = b.Highest + 1
	return b
}

func (r *pebbleReader) Err() error { return r.err }

func (r *pebbleReader) Close() error {
	r.resetIter()
	r.closed = true
	return nil
}
