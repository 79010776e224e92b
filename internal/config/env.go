package config

import (
	"os"
	"strconv"
	"strings"
)

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// FromEnv overlays LOGSTREAMS_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	envString("LOGSTREAMS_DATA_DIR", &cfg.DataDir)
	envInt("LOGSTREAMS_PARTITIONS", &cfg.Partitions)
	envInt("LOGSTREAMS_SEQUENCER_QUEUE_CAPACITY", &cfg.Sequencer.QueueCapacity)
	envInt("LOGSTREAMS_SEQUENCER_WRITE_BUFFER_BYTES", &cfg.Sequencer.WriteBufferBytes)
	envInt("LOGSTREAMS_SEQUENCER_MAX_FRAGMENT_BYTES", &cfg.Sequencer.MaxFragmentBytes)
	envInt("LOGSTREAMS_APPENDER_MAX_BATCH_BYTES", &cfg.Appender.MaxBatchBytes)
	envInt("LOGSTREAMS_APPENDER_MAX_IN_FLIGHT", &cfg.Appender.MaxInFlight)
	envInt("LOGSTREAMS_APPENDER_LINGER_MS", &cfg.Appender.LingerMs)
	envString("LOGSTREAMS_STORAGE_FSYNC", &cfg.Storage.Fsync)
	envInt("LOGSTREAMS_STORAGE_FSYNC_INTERVAL_MS", &cfg.Storage.FsyncIntervalMs)
	envString("LOGSTREAMS_LOG_LEVEL", &cfg.Log.Level)
	envString("LOGSTREAMS_LOG_FORMAT", &cfg.Log.Format)
	envString("LOGSTREAMS_METRICS_ADDR", &cfg.Metrics.Addr)
	envString("LOGSTREAMS_EXPORT_ID", &cfg.Export.ID)
	envString("LOGSTREAMS_EXPORT_TOPIC", &cfg.Export.Topic)
	envInt("LOGSTREAMS_EXPORT_PARTITION", &cfg.Export.Partition)
	envString("LOGSTREAMS_EXPORT_FILTER", &cfg.Export.Filter)
	if v := os.Getenv("LOGSTREAMS_EXPORT_BROKERS"); v != "" {
		cfg.Export.Brokers = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Export.Brokers = append(cfg.Export.Brokers, p)
			}
		}
	}
}
