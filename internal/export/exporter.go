// Package export tails a log stream and publishes its committed batches to
// Kafka. The last exported position is stored in Pebble so a restarted
// exporter resumes right after the last published position.
package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/filter"
	"github.com/rzbill/logstreams/internal/metrics"
	"github.com/rzbill/logstreams/internal/reader"
	"github.com/rzbill/logstreams/pkg/log"
)

// Header keys carried by every exported message.
const (
	HeaderPosition       = "logstreams-position"
	HeaderSourcePosition = "logstreams-source-position"
	HeaderTimestamp      = "logstreams-timestamp"
	HeaderMetadata       = "logstreams-metadata"
	HeaderPartition      = "logstreams-partition"
)

// Source is the stream being exported.
type Source interface {
	Partition() int
	NewBatchReader() (*reader.BatchReader, error)
	RecordAvailable() <-chan struct{}
}

// Options configures an Exporter.
type Options struct {
	// ID names the exporter; positions are tracked per ID.
	ID     string
	Topic  string
	Filter *filter.Filter
	// RetryBackoff is the pause after a failed publish.
	RetryBackoff time.Duration
	// PollInterval bounds the wait for new entries when no commit
	// notification arrives.
	PollInterval time.Duration
	Logger       log.Logger
}

// Exporter publishes batches of one partition.
type Exporter struct {
	src       Source
	pub       Publisher
	positions *Positions
	opts      Options
	logger    log.Logger
	label     string
	partition uint32
}

func New(src Source, pub Publisher, positions *Positions, opts Options) *Exporter {
	if opts.ID == "" {
		opts.ID = "default"
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Exporter{
		src:       src,
		pub:       pub,
		positions: positions,
		opts:      opts,
		logger:    opts.Logger.WithComponent("exporter").With(log.Partition(src.Partition()), log.Str("exporter", opts.ID)),
		label:     metrics.Partition(src.Partition()),
		partition: uint32(src.Partition()),
	}
}

// Position is the last exported position, or -1.
func (e *Exporter) Position() (int64, error) {
	return e.positions.Load(e.opts.ID, e.partition)
}

// Run exports until ctx is done. It returns nil on cancellation and an error
// when the stream can no longer be read.
func (e *Exporter) Run(ctx context.Context) error {
	last, err := e.Position()
	if err != nil {
		return err
	}
	br, err := e.src.NewBatchReader()
	if err != nil {
		return fmt.Errorf("export: open reader: %w", err)
	}
	defer br.Close()
	if last > 0 {
		// The run holding last may have grown after it was exported, so
		// resume at the next position rather than at the next batch.
		br.Seek(last + 1)
	}
	e.logger.Info("exporter started", log.Int64("resume_after", last), log.Str("topic", e.opts.Topic))

	for {
		for br.HasNext() {
			b := br.Next()
			if err := e.publish(ctx, b, last); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		if err := br.Err(); err != nil {
			metrics.ExportErrors.WithLabelValues(e.label, "read").Inc()
			return fmt.Errorf("export: read: %w", err)
		}
		ready := e.src.RecordAvailable()
		if br.HasNext() {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ready:
		case <-time.After(e.opts.PollInterval):
		}
	}
}

// publish retries the entries of b after the given position until they are
// delivered or ctx ends, then records the batch's last position.
func (e *Exporter) publish(ctx context.Context, b *reader.Batch, after int64) error {
	msgs := make([]kafka.Message, 0, b.Len())
	for _, l := range b.Entries() {
		if l.Position() > after && e.opts.Filter.Match(l) {
			msgs = append(msgs, e.message(l))
		}
	}
	for len(msgs) > 0 {
		err := e.pub.Publish(ctx, msgs)
		if err == nil {
			metrics.ExportedEntries.WithLabelValues(e.label, e.opts.Topic).Add(float64(len(msgs)))
			break
		}
		metrics.ExportErrors.WithLabelValues(e.label, "publish").Inc()
		e.logger.Warn("publish failed, retrying", log.Err(err), log.Int64("last_position", b.LastPosition()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.RetryBackoff):
		}
	}
	if err := e.positions.Commit(e.opts.ID, e.partition, b.LastPosition()); err != nil {
		metrics.ExportErrors.WithLabelValues(e.label, "position").Inc()
		return err
	}
	return nil
}

func (e *Exporter) message(l entry.Logged) kafka.Message {
	key := strconv.FormatInt(l.Position(), 10)
	if l.Key() != entry.KeyUnset {
		key = strconv.FormatInt(l.Key(), 10)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: append([]byte(nil), l.Value()...),
		Headers: []kafka.Header{
			{Key: HeaderPosition, Value: []byte(strconv.FormatInt(l.Position(), 10))},
			{Key: HeaderSourcePosition, Value: []byte(strconv.FormatInt(l.SourceEventPosition(), 10))},
			{Key: HeaderTimestamp, Value: []byte(strconv.FormatInt(l.Timestamp(), 10))},
			{Key: HeaderMetadata, Value: append([]byte(nil), l.Metadata()...)},
			{Key: HeaderPartition, Value: []byte(strconv.Itoa(int(e.partition)))},
		},
		Time: time.UnixMilli(l.Timestamp()),
	}
}
