package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	cfgpkg "github.com/rzbill/logstreams/internal/config"
	"github.com/rzbill/logstreams/internal/export"
	"github.com/rzbill/logstreams/internal/filter"
	"github.com/rzbill/logstreams/internal/health"
	"github.com/rzbill/logstreams/internal/logstorage"
	"github.com/rzbill/logstreams/internal/logstream"
	"github.com/rzbill/logstreams/internal/metrics"
	pebblestore "github.com/rzbill/logstreams/internal/storage/pebble"
	"github.com/rzbill/logstreams/pkg/log"
)

// ErrUnknownPartition is returned for partitions outside [0, Partitions).
var ErrUnknownPartition = errors.New("runtime: unknown partition")

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
}

type partition struct {
	storage *logstorage.PebbleStorage
	stream  *logstream.LogStream
}

// Runtime owns one Pebble instance and a log stream per partition.
type Runtime struct {
	db         *pebblestore.DB
	config     cfgpkg.Config
	logger     log.Logger
	partitions []partition
}

// Open initializes the underlying storage and recovers every partition.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	fsync, err := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
	if err != nil {
		return nil, err
	}
	dataDir := cfg.ResolveDataDir()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dataDir,
		Fsync:         fsync,
		FsyncInterval: time.Duration(cfg.Storage.FsyncIntervalMs) * time.Millisecond,
		PebbleOptions: &pebble.Options{Logger: logger.WithComponent("pebble")},
		Metrics:       metrics.NewPebbleHook("db"),
	})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{db: db, config: cfg, logger: logger.WithComponent("runtime")}
	for p := 0; p < cfg.Partitions; p++ {
		if err := rt.openPartition(p); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}
	rt.logger.Info("runtime opened",
		log.Str("data_dir", dataDir),
		log.Int("partitions", cfg.Partitions),
		log.Stringer("fsync", fsync))
	return rt, nil
}

func (r *Runtime) openPartition(p int) error {
	// The appender never has more than MaxInFlight appends uncommitted, so a
	// queue at least that deep keeps Append from blocking the appender actor.
	st, err := logstorage.Open(r.db, logstorage.Options{
		Partition:  uint32(p),
		QueueDepth: max(r.config.Appender.MaxInFlight, logstorage.DefaultQueueDepth),
		Logger:     r.logger,
	})
	if err != nil {
		return err
	}
	s, err := logstream.Open(logstream.Options{
		Partition:         p,
		Storage:           st,
		QueueCapacity:     r.config.Sequencer.QueueCapacity,
		WriteBufferBytes:  r.config.Sequencer.WriteBufferBytes,
		MaxFragmentLength: r.config.Sequencer.MaxFragmentBytes,
		MaxBatchBytes:     r.config.Appender.MaxBatchBytes,
		MaxInFlight:       r.config.Appender.MaxInFlight,
		Linger:            time.Duration(r.config.Appender.LingerMs) * time.Millisecond,
		Logger:            r.logger,
	})
	if err != nil {
		_ = st.Close()
		return err
	}
	s.AddFailureListener(&health.ListenerFuncs{
		Unrecoverable: func(rep health.Report) {
			r.logger.Error("partition is dead", log.Partition(p), log.Err(rep.Issue))
		},
	})
	r.partitions = append(r.partitions, partition{storage: st, stream: s})
	return nil
}

// Close closes streams, storages and the DB in that order.
func (r *Runtime) Close() error {
	var errs []error
	for _, p := range r.partitions {
		if err := p.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.partitions = nil
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}
	return errors.Join(errs...)
}

// CheckHealth fails when the DB is closed or a partition is not healthy.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	for _, p := range r.partitions {
		if rep := p.stream.HealthReport(); rep.Status != health.Healthy {
			return fmt.Errorf("partition %d: %s", p.stream.Partition(), rep)
		}
	}
	return nil
}

// Stream returns the log stream of partition p.
func (r *Runtime) Stream(p int) (*logstream.LogStream, error) {
	if p < 0 || p >= len(r.partitions) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPartition, p)
	}
	return r.partitions[p].stream, nil
}

// Streams returns all partitions' streams in partition order.
func (r *Runtime) Streams() []*logstream.LogStream {
	out := make([]*logstream.LogStream, len(r.partitions))
	for i, p := range r.partitions {
		out[i] = p.stream
	}
	return out
}

// RunExporter exports the configured partition to Kafka until ctx is done.
// It returns immediately when no brokers are configured.
func (r *Runtime) RunExporter(ctx context.Context) error {
	ec := r.config.Export
	if !ec.Enabled() {
		return nil
	}
	return r.RunExporterWith(ctx, export.NewKafkaPublisher(ec.Brokers, ec.Topic))
}

// RunExporterWith runs the configured exporter against pub. pub is closed on
// return.
func (r *Runtime) RunExporterWith(ctx context.Context, pub export.Publisher) error {
	defer pub.Close()
	ec := r.config.Export
	s, err := r.Stream(ec.Partition)
	if err != nil {
		return err
	}
	f, err := filter.New(ec.Filter)
	if err != nil {
		return err
	}
	e := export.New(s, pub, export.NewPositions(r.db), export.Options{
		ID:     ec.ID,
		Topic:  ec.Topic,
		Filter: f,
		Logger: r.logger,
	})
	return e.Run(ctx)
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
