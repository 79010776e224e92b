package sequencer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/metrics"
	"github.com/rzbill/logstreams/pkg/log"
)

var (
	// ErrQueueFull is returned when the bounded batch queue has no room.
	ErrQueueFull = errors.New("sequencer: queue full")
	// ErrWriteBufferFull is returned when a claim does not fit the write buffer.
	ErrWriteBufferFull = errors.New("sequencer: write buffer full")
	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("sequencer: closed")
	// ErrFragmentTooLarge is returned for a batch that can never fit.
	ErrFragmentTooLarge = errors.New("sequencer: batch exceeds max fragment length")
)

// IsRetryable reports whether err is a transient rejection that the caller
// may retry once the appender has drained the queue.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrWriteBufferFull)
}

// Clock returns the current time in epoch milliseconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 { return time.Now().UnixMilli() }

const (
	DefaultQueueCapacity     = 1024
	DefaultWriteBufferBytes  = 16 << 20
	DefaultMaxFragmentLength = 4 << 20
)

// Options tunes a Sequencer. Zero values take the defaults above.
type Options struct {
	QueueCapacity     int
	WriteBufferBytes  int
	MaxFragmentLength int
	Clock             Clock
	Logger            log.Logger
	Partition         int
}

// Sequencer assigns positions to producer batches and queues them for a
// single consumer. Any number of goroutines may write; only the consumer
// calls TryRead and TryPeek.
type Sequencer struct {
	mu       sync.Mutex
	position int64
	queue    []*Batch
	capacity int
	arena    *arena
	closed   bool
	consumer func()

	maxFragment int
	clock       Clock
	logger      log.Logger
	partition   string
}

// New returns a sequencer whose first assigned position is initialPosition.
func New(initialPosition int64, opts Options) *Sequencer {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.WriteBufferBytes <= 0 {
		opts.WriteBufferBytes = DefaultWriteBufferBytes
	}
	if opts.MaxFragmentLength <= 0 {
		opts.MaxFragmentLength = DefaultMaxFragmentLength
	}
	if opts.MaxFragmentLength > opts.WriteBufferBytes {
		opts.MaxFragmentLength = opts.WriteBufferBytes
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Sequencer{
		position:    initialPosition,
		capacity:    opts.QueueCapacity,
		arena:       newArena(opts.WriteBufferBytes),
		maxFragment: opts.MaxFragmentLength,
		clock:       opts.Clock,
		logger:      opts.Logger.WithComponent("sequencer").With(log.Partition(opts.Partition)),
		partition:   metrics.Partition(opts.Partition),
	}
}

const (
	resultOK       = "ok"
	resultFull     = "queue_full"
	resultNoBuffer = "buffer_full"
	resultClosed   = "closed"
	resultInvalid  = "invalid"
	resultAborted  = "aborted"
)

func (s *Sequencer) observe(result string) {
	metrics.SequencerWrites.WithLabelValues(s.partition, result).Inc()
}

// MaxFragmentLength is the largest framed batch accepted.
func (s *Sequencer) MaxFragmentLength() int { return s.maxFragment }

// Clock returns the clock used to stamp batches.
func (s *Sequencer) Clock() Clock { return s.clock }

// TryWrite frames entries, assigns them consecutive positions and enqueues
// them as one batch. It returns the position of the last entry. An empty list
// is a no-op returning zero. A rejected write returns entry.NoPosition and
// leaves the position counter untouched.
func (s *Sequencer) TryWrite(entries []entry.Entry, sourcePosition int64) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if err := entry.ValidateForSequencing(entries); err != nil {
		s.observe(resultInvalid)
		return entry.NoPosition, err
	}
	length := entry.BatchLength(entries)
	if length > s.maxFragment {
		s.observe(resultInvalid)
		return entry.NoPosition, fmt.Errorf("%w: %d > %d", ErrFragmentTooLarge, length, s.maxFragment)
	}
	data := make([]byte, length)
	timestamp := s.clock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.observe(resultClosed)
		return entry.NoPosition, ErrClosed
	}
	if len(s.queue) >= s.capacity {
		s.mu.Unlock()
		s.observe(resultFull)
		return entry.NoPosition, ErrQueueFull
	}
	first := s.position
	if _, err := entry.WriteBatch(data, 0, first, sourcePosition, timestamp, entries); err != nil {
		s.mu.Unlock()
		s.observe(resultInvalid)
		return entry.NoPosition, err
	}
	s.position += int64(len(entries))
	s.queue = append(s.queue, &Batch{first: first, count: len(entries), data: data, state: stateCommitted, owner: s})
	depth := len(s.queue)
	wake := s.consumer
	s.mu.Unlock()

	s.observe(resultOK)
	metrics.SequencerQueueDepth.WithLabelValues(s.partition).Set(float64(depth))
	if wake != nil {
		wake()
	}
	return first + int64(len(entries)) - 1, nil
}

// TryClaim reserves positions consecutive positions and length bytes of the
// write buffer. The returned claim blocks the consumer at its queue slot until
// it is committed or aborted. A zero positions request returns (nil, nil).
func (s *Sequencer) TryClaim(positions, length int) (*Claim, error) {
	if positions <= 0 {
		return nil, nil
	}
	if length <= 0 {
		s.observe(resultInvalid)
		return nil, entry.ErrEmptyValue
	}
	if length > s.maxFragment {
		s.observe(resultInvalid)
		return nil, fmt.Errorf("%w: %d > %d", ErrFragmentTooLarge, length, s.maxFragment)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.observe(resultClosed)
		return nil, ErrClosed
	}
	if len(s.queue) >= s.capacity {
		s.mu.Unlock()
		s.observe(resultFull)
		return nil, ErrQueueFull
	}
	r := s.arena.alloc(length)
	if r == nil {
		s.mu.Unlock()
		s.observe(resultNoBuffer)
		return nil, ErrWriteBufferFull
	}
	b := &Batch{first: s.position, count: positions, data: s.arena.bytes(r), region: r, state: statePending, owner: s}
	s.position += int64(positions)
	s.queue = append(s.queue, b)
	depth := len(s.queue)
	wake := s.consumer
	s.mu.Unlock()

	s.observe(resultOK)
	metrics.SequencerQueueDepth.WithLabelValues(s.partition).Set(float64(depth))
	if wake != nil {
		wake()
	}
	return &Claim{batch: b}, nil
}

// head drops aborted batches at the queue head and returns the first
// committed batch, or nil when the queue is empty or blocked by a pending
// claim. Callers hold s.mu.
func (s *Sequencer) head() *Batch {
	for len(s.queue) > 0 {
		b := s.queue[0]
		switch b.state {
		case stateAborted:
			s.pop()
		case statePending:
			return nil
		default:
			return b
		}
	}
	return nil
}

func (s *Sequencer) pop() {
	s.queue[0] = nil
	s.queue = s.queue[1:]
}

// TryRead removes and returns the next committed batch, or nil.
func (s *Sequencer) TryRead() *Batch {
	s.mu.Lock()
	b := s.head()
	if b != nil {
		s.pop()
	}
	depth := len(s.queue)
	s.mu.Unlock()
	if b != nil {
		metrics.SequencerQueueDepth.WithLabelValues(s.partition).Set(float64(depth))
	}
	return b
}

// TryPeek returns the next committed batch without removing it, or nil.
func (s *Sequencer) TryPeek() *Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head()
}

// RegisterConsumer installs the wakeup invoked after every enqueue and every
// claim commit or abort. The wakeup must not block.
func (s *Sequencer) RegisterConsumer(wakeup func()) {
	s.mu.Lock()
	s.consumer = wakeup
	s.mu.Unlock()
}

// NextPosition is the position the next accepted write will receive.
func (s *Sequencer) NextPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// QueueLen reports queued batches, pending claims included.
func (s *Sequencer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close rejects future writes. Queued batches stay readable.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	next := s.position
	s.mu.Unlock()
	s.logger.Debug("sequencer closed", log.Int64("next_position", next))
}

// IsClosed reports whether Close was called.
func (s *Sequencer) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Writer returns the producer-facing view of the sequencer.
func (s *Sequencer) Writer() *Writer { return &Writer{seq: s} }

// Writer exposes only the producer operations of a sequencer.
type Writer struct {
	seq *Sequencer
}

// TryWrite sequences entries with a shared source position.
func (w *Writer) TryWrite(entries []entry.Entry, sourcePosition int64) (int64, error) {
	return w.seq.TryWrite(entries, sourcePosition)
}

// TryWriteEntry sequences a single entry.
func (w *Writer) TryWriteEntry(e entry.Entry, sourcePosition int64) (int64, error) {
	return w.seq.TryWrite([]entry.Entry{e}, sourcePosition)
}

// CanWriteEvents reports whether count entries with totalBytes of metadata
// and value combined would fit one batch.
func (w *Writer) CanWriteEvents(count, totalBytes int) bool {
	return CanWriteEvents(w.seq.maxFragment, count, totalBytes)
}

// CanWriteEvents reports whether count entries carrying totalBytes of
// metadata and value fit in maxFragment once framed. Every entry is charged
// its header and worst-case alignment padding.
func CanWriteEvents(maxFragment, count, totalBytes int) bool {
	if count <= 0 {
		return true
	}
	framed := totalBytes + count*(entry.HeaderLength(0)+entry.FrameAlignment-1)
	return framed <= maxFragment
}
