package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	pebblestore "github.com/rzbill/logstreams/internal/storage/pebble"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir    string    `json:"dataDir" yaml:"dataDir"`
	Partitions int       `json:"partitions" yaml:"partitions"`
	Sequencer  Sequencer `json:"sequencer" yaml:"sequencer"`
	Appender   Appender  `json:"appender" yaml:"appender"`
	Storage    Storage   `json:"storage" yaml:"storage"`
	Log        Log       `json:"log" yaml:"log"`
	Metrics    Metrics   `json:"metrics" yaml:"metrics"`
	Export     Export    `json:"export" yaml:"export"`
}

type Sequencer struct {
	QueueCapacity    int `json:"queueCapacity" yaml:"queueCapacity"`
	WriteBufferBytes int `json:"writeBufferBytes" yaml:"writeBufferBytes"`
	MaxFragmentBytes int `json:"maxFragmentBytes" yaml:"maxFragmentBytes"`
}

type Appender struct {
	MaxBatchBytes int `json:"maxBatchBytes" yaml:"maxBatchBytes"`
	MaxInFlight   int `json:"maxInFlight" yaml:"maxInFlight"`
	// LingerMs delays a partial flush; 0 flushes as soon as the queue drains.
	LingerMs int `json:"lingerMs" yaml:"lingerMs"`
}

type Storage struct {
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Metrics struct {
	// Addr serves /metrics when set, e.g. ":9464".
	Addr string `json:"addr" yaml:"addr"`
}

// Export configures the Kafka exporter. It is disabled without brokers.
type Export struct {
	ID        string   `json:"id" yaml:"id"`
	Brokers   []string `json:"brokers" yaml:"brokers"`
	Topic     string   `json:"topic" yaml:"topic"`
	Partition int      `json:"partition" yaml:"partition"`
	Filter    string   `json:"filter" yaml:"filter"`
}

// Enabled reports whether an exporter should run.
func (e Export) Enabled() bool { return len(e.Brokers) > 0 }

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Partitions: 1,
		Sequencer: Sequencer{
			QueueCapacity:    1024,
			WriteBufferBytes: 16 << 20,
			MaxFragmentBytes: 4 << 20,
		},
		Appender: Appender{
			MaxBatchBytes: 4 << 20,
			MaxInFlight:   4,
		},
		Storage: Storage{
			Fsync:           pebblestore.FsyncModeAlways.String(),
			FsyncIntervalMs: 5,
		},
		Log: Log{Level: "info", Format: "text"},
		Export: Export{
			ID: "kafka",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Partitions <= 0 {
		errs = append(errs, errors.New("partitions must be positive"))
	}
	if c.Sequencer.QueueCapacity <= 0 {
		errs = append(errs, errors.New("sequencer.queueCapacity must be positive"))
	}
	if c.Sequencer.WriteBufferBytes <= 0 {
		errs = append(errs, errors.New("sequencer.writeBufferBytes must be positive"))
	}
	if c.Sequencer.MaxFragmentBytes <= 0 {
		errs = append(errs, errors.New("sequencer.maxFragmentBytes must be positive"))
	}
	if c.Appender.MaxBatchBytes <= 0 {
		errs = append(errs, errors.New("appender.maxBatchBytes must be positive"))
	}
	if c.Appender.MaxInFlight <= 0 {
		errs = append(errs, errors.New("appender.maxInFlight must be positive"))
	}
	if c.Appender.LingerMs < 0 {
		errs = append(errs, errors.New("appender.lingerMs must not be negative"))
	}
	if _, err := pebblestore.ParseFsyncMode(c.Storage.Fsync); err != nil {
		errs = append(errs, err)
	}
	if c.Export.Enabled() {
		if strings.TrimSpace(c.Export.Topic) == "" {
			errs = append(errs, errors.New("export.topic is required with brokers"))
		}
		if c.Export.Partition < 0 || c.Export.Partition >= c.Partitions {
			errs = append(errs, fmt.Errorf("export.partition %d out of range", c.Export.Partition))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
