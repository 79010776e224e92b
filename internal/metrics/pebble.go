package metrics

import (
	"time"

	pebblestore "github.com/rzbill/logstreams/internal/storage/pebble"
)

// PebbleHook feeds pebblestore observations into the storage collectors.
type PebbleHook struct {
	partition string
}

// NewPebbleHook returns a hook whose observations carry label as partition.
// A DB shared by all partitions uses "db".
func NewPebbleHook(label string) PebbleHook {
	return PebbleHook{partition: label}
}

var _ pebblestore.MetricsHook = PebbleHook{}

func (h PebbleHook) ObserveWrite(_ time.Duration, bytes int) {
	StorageBytes.WithLabelValues(h.partition, "write").Add(float64(bytes))
}

func (h PebbleHook) ObserveRead(_ time.Duration, bytes int) {
	StorageBytes.WithLabelValues(h.partition, "read").Add(float64(bytes))
}

func (h PebbleHook) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	StorageCommitLatency.WithLabelValues(h.partition).Observe(float64(elapsed.Microseconds()) / 1000)
	StorageBytes.WithLabelValues(h.partition, "write").Add(float64(bytes))
}
