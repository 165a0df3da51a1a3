package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetDefaultConcurrency(t *testing.T) {
	expected := runtime.NumCPU() * 4
	if expected < 8 {
		expected = 8
	}
	if expected > 128 {
		expected = 128
	}
	if got := getDefaultConcurrency(); got != expected {
		t.Errorf("getDefaultConcurrency() = %d, want %d", got, expected)
	}
}

func TestGetDefaultMaxConnections_Bounds(t *testing.T) {
	got := getDefaultMaxConnections()
	if got < 8 || got > 64 {
		t.Errorf("getDefaultMaxConnections() = %d, want between 8 and 64", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	// No config file in an empty working directory
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "write" {
		t.Errorf("Mode = %q, want write", cfg.Mode)
	}
	if cfg.Storage.Backend != "mongo" {
		t.Errorf("Storage.Backend = %q, want mongo", cfg.Storage.Backend)
	}
	if cfg.Storage.Collection != "benchmark-test" {
		t.Errorf("Storage.Collection = %q, want benchmark-test", cfg.Storage.Collection)
	}
	if cfg.Storage.MongoDatabase != "bedrock_mongodb_benchmark_localhost" {
		t.Errorf("Storage.MongoDatabase = %q", cfg.Storage.MongoDatabase)
	}
	if cfg.Write.Concurrency != getDefaultConcurrency() {
		t.Errorf("Write.Concurrency = %d, want %d", cfg.Write.Concurrency, getDefaultConcurrency())
	}
	if cfg.Read.ClearExisting {
		t.Error("Read.ClearExisting must default to false")
	}
	if cfg.Read.Lookup != "id" {
		t.Errorf("Read.Lookup = %q, want id", cfg.Read.Lookup)
	}
	if cfg.Report.Interval() != 10*time.Second {
		t.Errorf("Report.Interval() = %v, want 10s", cfg.Report.Interval())
	}
	if cfg.Election.Backend != "sqlite" {
		t.Errorf("Election.Backend = %q, want sqlite", cfg.Election.Backend)
	}
	if cfg.Election.LeaseTTL() != 5*time.Second || cfg.Election.RenewInterval() != time.Second {
		t.Errorf("lease ttl/renew = %v/%v", cfg.Election.LeaseTTL(), cfg.Election.RenewInterval())
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("DOCBENCH_MODE", "read")
	t.Setenv("DOCBENCH_WRITE_CONCURRENCY", "42")
	t.Setenv("DOCBENCH_READ_LOOKUP", "notUnique")
	t.Setenv("DOCBENCH_STORAGE_BACKEND", "postgres")
	t.Setenv("DOCBENCH_STORAGE_POSTGRES_DSN", "postgres://localhost/bench")
	t.Setenv("DOCBENCH_ELECTION_BACKEND", "postgres")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "read" {
		t.Errorf("Mode = %q, want read (from env)", cfg.Mode)
	}
	if cfg.Write.Concurrency != 42 {
		t.Errorf("Write.Concurrency = %d, want 42 (from env)", cfg.Write.Concurrency)
	}
	if cfg.Read.Lookup != "notUnique" {
		t.Errorf("Read.Lookup = %q, want notUnique (from env)", cfg.Read.Lookup)
	}
	// The lease store falls back to the benchmark database
	if cfg.Election.PostgresDSN != "postgres://localhost/bench" {
		t.Errorf("Election.PostgresDSN = %q", cfg.Election.PostgresDSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	content := `
mode = "read"

[storage]
backend = "sqlite"
sqlite_path = "/tmp/bench.db"

[read]
sample_size = 500

[election]
backend = "raft"

[election.raft]
bootstrap = true
peers = ["node-2=10.0.0.2:7946", "node-3=10.0.0.3:7946"]
`
	if err := os.WriteFile(filepath.Join(dir, "docbench.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLitePath != "/tmp/bench.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Read.SampleSize != 500 || cfg.Read.ClearExisting {
		t.Errorf("Read = %+v", cfg.Read)
	}
	if !cfg.Election.Raft.Bootstrap || len(cfg.Election.Raft.Peers) != 2 {
		t.Errorf("Election.Raft = %+v", cfg.Election.Raft)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.WriteFile(filepath.Join(dir, "docbench.toml"), []byte("mode = [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Error("Load() should fail on a malformed config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Backend = "cassandra" }, "unknown storage.backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres"; c.Storage.PostgresDSN = "" }, "storage.postgres_dsn"},
		{"zero write concurrency", func(c *Config) { c.Write.Concurrency = 0 }, "write.batch_size and write.concurrency"},
		{"zero read batch", func(c *Config) { c.Read.BatchSize = 0 }, "read.batch_size and read.concurrency"},
		{"read mode without sample", func(c *Config) { c.Mode = "read"; c.Read.SampleSize = 0 }, "read.sample_size must be at least 1"},
		{"padded read mode without sample", func(c *Config) { c.Mode = " Read "; c.Read.SampleSize = 0 }, "read.sample_size must be at least 1"},
		{"clear with shared elector", func(c *Config) { c.Read.ClearExisting = true; c.Election.Backend = "sqlite" }, "read.clear_existing requires election.backend memory"},
		{"bad lookup", func(c *Config) { c.Read.Lookup = "both" }, "read.lookup"},
		{"negative rate", func(c *Config) { c.Dispatch.MaxOpsPerSec = -1 }, "dispatch.max_ops_per_sec"},
		{"zero interval", func(c *Config) { c.Report.IntervalSeconds = 0 }, "report.interval_seconds"},
		{"unknown elector", func(c *Config) { c.Election.Backend = "zookeeper" }, "unknown election.backend"},
		{"renew not shorter than ttl", func(c *Config) { c.Election.RenewIntervalMS = c.Election.LeaseTTLMS }, "election.renew_interval_ms"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ClearWithMemoryElector(t *testing.T) {
	cfg := validConfig(t)
	cfg.Read.ClearExisting = true
	cfg.Election.Backend = "memory"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate_ZeroSampleOutsideReadMode(t *testing.T) {
	cfg := validConfig(t)
	cfg.Mode = "write"
	cfg.Read.SampleSize = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
