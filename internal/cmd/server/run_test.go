package serverrun

import (
	"context"
	"os"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/logstreams/internal/config"
	logpkg "github.com/rzbill/logstreams/pkg/log"
)

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Partitions = 2
	cfg.Storage.Fsync = "never"
	return cfg
}

func TestNewLoggerFallsBackOnBadFormat(t *testing.T) {
	if l := NewLogger(cfgpkg.Log{Level: "debug", Format: "xml"}); l == nil {
		t.Fatalf("expected fallback logger")
	}
	if l := NewLogger(cfgpkg.Log{Level: "info", Format: "json"}); l == nil {
		t.Fatalf("expected json logger")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("starts listeners")
	}
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := Run(ctx, Options{
		GRPCAddr: "127.0.0.1:0",
		HTTPAddr: "127.0.0.1:0",
		Config:   cfg,
		Logger:   logpkg.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Fatalf("data dir: %v", err)
	}
}

func TestRunFailsOnBadListenAddress(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Run(ctx, Options{
		GRPCAddr: "256.0.0.1:1",
		Config:   cfg,
		Logger:   logpkg.NewNopLogger(),
	})
	if err == nil {
		t.Fatalf("expected listen error")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Partitions = 0
	if err := Run(context.Background(), Options{GRPCAddr: "127.0.0.1:0", Config: cfg, Logger: logpkg.NewNopLogger()}); err == nil {
		t.Fatalf("expected validation error")
	}
}
