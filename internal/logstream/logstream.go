// Package logstream assembles one partition's log: it recovers the next
// position from storage, runs the sequencer and appender, hands out readers
// and writers, and fans out commit and failure notifications.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/logstreams/internal/appender"
	"github.com/rzbill/logstreams/internal/audit"
	"github.com/rzbill/logstreams/internal/health"
	"github.com/rzbill/logstreams/internal/logstorage"
	"github.com/rzbill/logstreams/internal/metrics"
	"github.com/rzbill/logstreams/internal/reader"
	"github.com/rzbill/logstreams/internal/sequencer"
	"github.com/rzbill/logstreams/internal/writer"
	"github.com/rzbill/logstreams/pkg/log"
)

const componentName = "logstream"

// ErrClosed is returned by factories once the stream is closed.
var ErrClosed = errors.New("logstream: closed")

// RecordAvailableListener is notified after new entries became readable.
type RecordAvailableListener interface {
	OnRecordAvailable()
}

// Options configures a LogStream.
type Options struct {
	Partition int
	Storage   logstorage.LogStorage

	QueueCapacity     int
	WriteBufferBytes  int
	MaxFragmentLength int

	MaxBatchBytes int
	MaxInFlight   int
	Linger        time.Duration

	// CloseTimeout bounds how long Close waits for queued entries to commit.
	CloseTimeout time.Duration
	Clock        sequencer.Clock
	Logger       log.Logger
}

// LogStream is the aggregate of one partition.
type LogStream struct {
	opts     Options
	storage  logstorage.LogStorage
	seq      *sequencer.Sequencer
	appender *appender.Appender
	logger   log.Logger
	label    string

	mu        sync.Mutex
	closed    bool
	readers   map[*Reader]struct{}
	listeners []RecordAvailableListener
	notifyCh  chan struct{}
	report    health.Report
	closeErr  error
	closeOnce sync.Once

	failures        health.Listeners
	appenderFailure *health.ListenerFuncs
}

// Open recovers the last committed position and starts the stream. The
// first position handed out is one past the last durable entry, or 1 for an
// empty log.
func Open(opts Options) (*LogStream, error) {
	if opts.Storage == nil {
		return nil, errors.New("logstream: storage is required")
	}
	if opts.Clock == nil {
		opts.Clock = sequencer.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 5 * time.Second
	}
	logger := opts.Logger.WithComponent(componentName).With(log.Partition(opts.Partition))

	tmp := reader.New(opts.Storage.NewReader())
	last := tmp.SeekToEnd()
	err := tmp.Err()
	_ = tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("logstream: recover partition %d: %w", opts.Partition, err)
	}
	initial := int64(1)
	if last > 0 {
		initial = last + 1
	}

	seq := sequencer.New(initial, sequencer.Options{
		QueueCapacity:     opts.QueueCapacity,
		WriteBufferBytes:  opts.WriteBufferBytes,
		MaxFragmentLength: opts.MaxFragmentLength,
		Clock:             opts.Clock,
		Logger:            opts.Logger,
		Partition:         opts.Partition,
	})
	s := &LogStream{
		opts:     opts,
		storage:  opts.Storage,
		seq:      seq,
		logger:   logger,
		label:    metrics.Partition(opts.Partition),
		readers:  make(map[*Reader]struct{}),
		notifyCh: make(chan struct{}),
		report:   health.HealthyReport(componentName),
	}
	s.storage.AddCommitListener(s)
	s.appender = appender.New(seq, opts.Storage, appender.Options{
		MaxBatchBytes: opts.MaxBatchBytes,
		MaxInFlight:   opts.MaxInFlight,
		Linger:        opts.Linger,
		Logger:        opts.Logger,
		Partition:     opts.Partition,
	})
	s.appenderFailure = &health.ListenerFuncs{Failure: s.onAppenderFailure}
	s.appender.AddFailureListener(s.appenderFailure)
	metrics.StreamHealth.WithLabelValues(s.label).Set(float64(health.Healthy))

	logger.Info("log stream opened", log.Int64("last_position", last), log.Int64("next_position", initial))
	return s, nil
}

// Partition returns the partition id.
func (s *LogStream) Partition() int { return s.opts.Partition }

// CommitPosition is the highest durable position, or -1.
func (s *LogStream) CommitPosition() int64 { return s.storage.CommitPosition() }

// OnCommit implements logstorage.CommitListener.
func (s *LogStream) OnCommit() {
	s.mu.Lock()
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
	listeners := append([]RecordAvailableListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l.OnRecordAvailable()
	}
}

// RecordAvailable returns a channel closed on the next commit.
func (s *LogStream) RecordAvailable() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyCh
}

// WaitForRecord blocks until the next commit, ctx expiry, or timeout. It
// reports whether a commit happened. A non-positive timeout waits on ctx only.
func (s *LogStream) WaitForRecord(ctx context.Context, timeout time.Duration) bool {
	ch := s.RecordAvailable()
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	case <-timer:
		return false
	}
}

func (s *LogStream) RegisterRecordAvailableListener(l RecordAvailableListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *LogStream) RemoveRecordAvailableListener(l RecordAvailableListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *LogStream) AddFailureListener(l health.FailureListener)    { s.failures.Add(l) }
func (s *LogStream) RemoveFailureListener(l health.FailureListener) { s.failures.Remove(l) }

// HealthReport returns the stream's own report when degraded, otherwise the
// appender's.
func (s *LogStream) HealthReport() health.Report {
	s.mu.Lock()
	r := s.report
	s.mu.Unlock()
	if r.Status != health.Healthy {
		return r
	}
	if ar := s.appender.HealthReport(); ar.Status != health.Healthy {
		return health.Report{Component: componentName, Status: ar.Status, Issue: ar.Issue}
	}
	return r
}

func (s *LogStream) setReport(r health.Report) {
	s.mu.Lock()
	s.report = r
	s.mu.Unlock()
	metrics.StreamHealth.WithLabelValues(s.label).Set(float64(r.Status))
}

// onAppenderFailure runs on the appender's goroutine, so teardown, which
// waits for the appender, happens on its own goroutine.
func (s *LogStream) onAppenderFailure(r health.Report) {
	report := health.UnhealthyReport(componentName, r.Issue)
	s.setReport(report)
	s.logger.Error("log stream unhealthy", log.Err(r.Issue))
	s.failures.NotifyFailure(report)
	go func() {
		_ = s.shutdown()
		dead := health.DeadReport(componentName, r.Issue)
		s.setReport(dead)
		s.logger.Error("log stream dead", log.Err(r.Issue))
		s.failures.NotifyUnrecoverable(dead)
	}()
}

func (s *LogStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// NewWriter returns a zero-copy writer.
func (s *LogStream) NewWriter() (*writer.Writer, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return writer.New(s.seq, writer.Options{Clock: s.opts.Clock}), nil
}

// NewSequencedWriter returns a writer that frames entries inside the
// sequencer.
func (s *LogStream) NewSequencedWriter() (*sequencer.Writer, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.seq.Writer(), nil
}

// NewAuditWriter returns a writer that stores runs of entries as bundles.
func (s *LogStream) NewAuditWriter() (*audit.Writer, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return audit.NewWriter(s.seq, s.opts.Clock), nil
}

// Reader is an audit-aware reader owned by the stream. Closing the stream
// closes it.
type Reader struct {
	*audit.Reader
	stream *LogStream
}

// Close releases the reader.
func (r *Reader) Close() error {
	r.stream.mu.Lock()
	delete(r.stream.readers, r)
	r.stream.mu.Unlock()
	return r.Reader.Close()
}

// NewReader returns an audit-aware reader positioned before the first entry.
func (s *LogStream) NewReader() (*Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	r := &Reader{Reader: audit.NewReader(reader.New(s.storage.NewReader())), stream: s}
	s.readers[r] = struct{}{}
	return r, nil
}

// NewBatchReader returns a batch reader over a new stream reader.
func (s *LogStream) NewBatchReader() (*reader.BatchReader, error) {
	r, err := s.NewReader()
	if err != nil {
		return nil, err
	}
	return reader.NewBatchReader(r), nil
}

// Close stops accepting writes, waits up to CloseTimeout for queued entries
// to commit and closes all readers. The storage is left open.
func (s *LogStream) Close() error {
	err := s.shutdown()
	s.logger.Info("log stream closed", log.Int64("commit_position", s.CommitPosition()))
	return err
}

func (s *LogStream) shutdown() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		readers := make([]*Reader, 0, len(s.readers))
		for r := range s.readers {
			readers = append(readers, r)
		}
		s.readers = map[*Reader]struct{}{}
		s.mu.Unlock()

		s.seq.Close()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
		defer cancel()
		if err := s.appender.Close(ctx); err != nil {
			s.closeErr = fmt.Errorf("logstream: drain partition %d: %w", s.opts.Partition, err)
		}
		s.appender.RemoveFailureListener(s.appenderFailure)
		s.storage.RemoveCommitListener(s)
		for _, r := range readers {
			_ = r.Reader.Close()
		}
	})
	return s.closeErr
}
