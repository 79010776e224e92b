// Package appender moves sequenced batches into log storage. It accumulates
// batches up to a byte threshold, bounds the number of appends in flight and
// stops for good on the first storage failure.
package appender

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rzbill/logstreams/internal/actor"
	"github.com/rzbill/logstreams/internal/health"
	"github.com/rzbill/logstreams/internal/logstorage"
	"github.com/rzbill/logstreams/internal/metrics"
	"github.com/rzbill/logstreams/internal/sequencer"
	"github.com/rzbill/logstreams/pkg/log"
)

const componentName = "appender"

const (
	DefaultMaxBatchBytes = 4 << 20
	DefaultMaxInFlight   = 4
)

// Options tunes an Appender.
type Options struct {
	// MaxBatchBytes is the accumulator flush threshold.
	MaxBatchBytes int
	// MaxInFlight bounds appends handed to storage and not yet committed.
	MaxInFlight int
	// Linger delays flushing a partial accumulator once the queue is drained.
	// Zero flushes immediately.
	Linger    time.Duration
	Logger    log.Logger
	Partition int
}

// Appender drains a sequencer into a LogStorage. All mutable state is owned
// by its actor.
type Appender struct {
	actor   *actor.Actor
	seq     *sequencer.Sequencer
	storage logstorage.LogStorage
	sem     *semaphore.Weighted
	step    *actor.Condition
	opts    Options
	logger  log.Logger
	label   string

	batches   []*sequencer.Batch
	size      int
	flushable bool

	lingerCancel  func()
	lingerExpired bool

	stopped  bool
	// failed is set by append listeners before their slot is released so no
	// further step flushes once storage reported an error.
	failed   atomic.Bool
	closing  bool
	closedCh chan struct{}
	inFlight atomic.Int64

	reportMu sync.Mutex
	report   health.Report
	failures health.Listeners
}

// New starts an appender draining seq into storage.
func New(seq *sequencer.Sequencer, storage logstorage.LogStorage, opts Options) *Appender {
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	a := &Appender{
		actor:    actor.New(),
		seq:      seq,
		storage:  storage,
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
		opts:     opts,
		logger:   opts.Logger.WithComponent(componentName).With(log.Partition(opts.Partition)),
		label:    metrics.Partition(opts.Partition),
		closedCh: make(chan struct{}),
		report:   health.HealthyReport(componentName),
	}
	a.step = a.actor.NewCondition(a.run)
	seq.RegisterConsumer(a.step.Signal)
	a.step.Signal()
	return a
}

// run is one scheduling step. It drains, maybe flushes and re-signals itself
// while work remains.
func (a *Appender) run() {
	if a.stopped || a.failed.Load() {
		return
	}
	a.drain()
	if len(a.batches) == 0 {
		a.maybeFinishClose()
		return
	}
	if !a.flushable && !a.closing && a.opts.Linger > 0 && !a.lingerExpired {
		if a.lingerCancel == nil {
			a.lingerCancel = a.actor.RunDelayed(a.opts.Linger, a.onLinger)
		}
		return
	}
	if !a.sem.TryAcquire(1) {
		// A committing append releases a slot and signals the step.
		return
	}
	a.flush()
	if a.seq.TryPeek() != nil || a.closing {
		a.step.Signal()
	}
}

func (a *Appender) onLinger() {
	a.lingerCancel = nil
	a.lingerExpired = true
	a.run()
}

// drain moves committed batches from the sequencer into the accumulator
// until it is flushable or the threshold is reached. An empty accumulator
// always takes one batch so oversized batches make progress.
func (a *Appender) drain() {
	for !a.flushable && a.size < a.opts.MaxBatchBytes {
		next := a.seq.TryPeek()
		if next == nil {
			return
		}
		if len(a.batches) > 0 && a.size+next.Length() > a.opts.MaxBatchBytes {
			a.flushable = true
			return
		}
		a.seq.TryRead()
		a.batches = append(a.batches, next)
		a.size += next.Length()
	}
	if a.size >= a.opts.MaxBatchBytes {
		a.flushable = true
	}
}

func (a *Appender) flush() {
	batches := a.batches
	lowest := batches[0].FirstPosition()
	highest := batches[len(batches)-1].LastPosition()
	entries := 0
	for _, b := range batches {
		entries += b.Len()
	}

	metrics.AppenderBatchBytes.WithLabelValues(a.label).Observe(float64(a.size))
	metrics.AppenderBatchEntries.WithLabelValues(a.label).Observe(float64(entries))
	a.inFlight.Add(1)
	metrics.AppenderInFlight.WithLabelValues(a.label).Inc()

	l := &inFlightAppend{appender: a, lowest: lowest, highest: highest, started: time.Now()}
	a.storage.Append(lowest, highest, accumulatorWriter{batches: batches, size: a.size}, l)
	for _, b := range batches {
		b.Release()
	}

	a.batches = nil
	a.size = 0
	a.flushable = false
	a.lingerExpired = false
	if a.lingerCancel != nil {
		a.lingerCancel()
		a.lingerCancel = nil
	}
}

func (a *Appender) releaseAccumulator() {
	for _, b := range a.batches {
		b.Release()
	}
	a.batches = nil
	a.size = 0
	a.flushable = false
	if a.lingerCancel != nil {
		a.lingerCancel()
		a.lingerCancel = nil
	}
}

// fail stops the appender and notifies failure listeners. Runs on the actor.
func (a *Appender) fail(err error) {
	if a.stopped {
		return
	}
	a.stopped = true
	a.releaseAccumulator()
	report := health.UnhealthyReport(componentName, err)
	a.setReport(report)
	a.logger.Error("storage append failed, appender stopped", log.Err(err))
	a.failures.NotifyFailure(report)
	a.finishClose()
}

func (a *Appender) maybeFinishClose() {
	if !a.closing || a.seq.QueueLen() > 0 || a.inFlight.Load() > 0 {
		return
	}
	a.stopped = true
	a.finishClose()
}

func (a *Appender) finishClose() {
	select {
	case <-a.closedCh:
	default:
		close(a.closedCh)
	}
}

func (a *Appender) setReport(r health.Report) {
	a.reportMu.Lock()
	a.report = r
	a.reportMu.Unlock()
}

// HealthReport returns the current health of the appender.
func (a *Appender) HealthReport() health.Report {
	a.reportMu.Lock()
	defer a.reportMu.Unlock()
	return a.report
}

// AddFailureListener registers l for failure notifications.
func (a *Appender) AddFailureListener(l health.FailureListener) { a.failures.Add(l) }

// RemoveFailureListener unregisters l.
func (a *Appender) RemoveFailureListener(l health.FailureListener) { a.failures.Remove(l) }

// Close flushes everything already sequenced, waits for it to commit and
// stops the actor. When ctx expires first the remaining batches are dropped
// and ctx.Err() is returned. The sequencer should be closed beforehand so the
// queue can drain.
func (a *Appender) Close(ctx context.Context) error {
	if err := a.actor.Submit(func() {
		a.closing = true
		a.run()
	}); err != nil {
		<-a.actor.Done()
		return nil
	}
	var err error
	select {
	case <-a.closedCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	_ = a.actor.Call(func() {
		if !a.stopped {
			a.stopped = true
			a.releaseAccumulator()
		}
		a.finishClose()
	})
	a.seq.RegisterConsumer(nil)
	a.actor.Close()
	return err
}

// accumulatorWriter serializes the accumulated batches back to back.
type accumulatorWriter struct {
	batches []*sequencer.Batch
	size    int
}

func (w accumulatorWriter) Length() int { return w.size }

func (w accumulatorWriter) Write(dst []byte) (int, error) {
	off := 0
	for _, b := range w.batches {
		n, err := b.Write(dst[off:])
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

// inFlightAppend tracks one append until it commits or fails. Its flow
// control slot is released exactly once.
type inFlightAppend struct {
	appender *Appender
	lowest   int64
	highest  int64
	started  time.Time
	once     sync.Once
}

func (f *inFlightAppend) release() {
	f.once.Do(func() {
		a := f.appender
		a.inFlight.Add(-1)
		metrics.AppenderInFlight.WithLabelValues(a.label).Dec()
		a.sem.Release(1)
		a.step.Signal()
	})
}

func (f *inFlightAppend) OnWrite() {}

func (f *inFlightAppend) OnWriteError(err error) {
	f.failAsync(err)
	f.release()
}

func (f *inFlightAppend) OnCommit() {
	elapsed := time.Since(f.started)
	metrics.AppendLatency.WithLabelValues(f.appender.label).Observe(float64(elapsed.Microseconds()) / 1000)
	f.release()
}

func (f *inFlightAppend) OnCommitError(err error) {
	f.failAsync(err)
	f.release()
}

func (f *inFlightAppend) failAsync(err error) {
	a := f.appender
	a.failed.Store(true)
	_ = a.actor.Submit(func() { a.fail(err) })
}
