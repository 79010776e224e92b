package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/logstreams" {
		t.Fatalf("got %s", got)
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	t.Setenv("HOME", "")
	if got := DefaultDataDir(); got != "./data" {
		t.Fatalf("expected ./data fallback, got %s", got)
	}
}

func TestDefaultDataDirShape(t *testing.T) {
	got := DefaultDataDir()
	if !filepath.IsAbs(got) && !strings.HasPrefix(got, "./") {
		t.Fatalf("unexpected path %s", got)
	}
	if !strings.HasSuffix(got, "logstreams") && got != "./data" {
		t.Fatalf("path %s does not end in logstreams", got)
	}
	if got != DefaultDataDir() {
		t.Fatalf("DefaultDataDir not stable")
	}
}

func TestIsDir(t *testing.T) {
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing directory", ".", true},
		{"missing path", "/non/existent/path/that/does/not/exist", false},
		{"regular file", os.Args[0], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDir(tt.path); got != tt.want {
				t.Fatalf("isDir(%s) = %v", tt.path, got)
			}
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/x"
	if cfg.ResolveDataDir() != "/tmp/x" {
		t.Fatalf("explicit data dir ignored")
	}
}
