package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for docbench
type Config struct {
	Mode     string
	Log      LogConfig
	Storage  StorageConfig
	Write    WriteConfig
	Read     ReadConfig
	Dispatch DispatchConfig
	Report   ReportConfig
	Election ElectionConfig
	Shutdown ShutdownConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the document store under test
type StorageConfig struct {
	Backend    string // mongo, postgres, sqlite, memory
	Collection string

	MongoURI      string
	MongoDatabase string

	PostgresDSN      string
	PostgresMaxConns int

	SQLitePath string
}

// WriteConfig sizes the write loop
type WriteConfig struct {
	BatchSize   int
	Concurrency int
}

// ReadConfig sizes the read loop and its sample bootstrap
type ReadConfig struct {
	BatchSize     int
	Concurrency   int
	SampleSize    int
	// ClearExisting deletes every record before bootstrapping. Each read
	// process clears on its own, so a late starter would wipe the samples of
	// the others; it is only accepted with the single-process memory elector.
	// Cooperating processes run `docbench reset -yes` once instead.
	ClearExisting bool
	Lookup        string // id or notUnique
}

// DispatchConfig holds limits shared by all loops
type DispatchConfig struct {
	MaxOpsPerSec float64 // 0 = unlimited
}

// ReportConfig holds throughput reporter configuration
type ReportConfig struct {
	IntervalSeconds       int
	BreakerFailures       int
	BreakerTimeoutSeconds int
}

// ElectionConfig selects how cooperating processes pick one reporter
type ElectionConfig struct {
	Backend         string // memory, sqlite, postgres, raft
	NodeID          string // Defaults to host-pid-random
	LeaseTTLMS      int
	RenewIntervalMS int
	SQLitePath      string
	PostgresDSN     string
	Raft            RaftConfig
}

// RaftConfig holds raft elector configuration
type RaftConfig struct {
	BindAddr  string
	DataDir   string
	Bootstrap bool
	Peers     []string // id=host:port
}

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	TimeoutSeconds int
}

// Interval returns the reporter interval as a duration.
func (c ReportConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// BreakerTimeout returns how long an open count breaker waits before probing.
func (c ReportConfig) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSeconds) * time.Second
}

// LeaseTTL returns the election lease TTL.
func (c ElectionConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLMS) * time.Millisecond
}

// RenewInterval returns the election renew interval.
func (c ElectionConfig) RenewInterval() time.Duration {
	return time.Duration(c.RenewIntervalMS) * time.Millisecond
}

// Timeout returns the shutdown timeout.
func (c ShutdownConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables, e.g. DOCBENCH_WRITE_CONCURRENCY
	v.SetEnvPrefix("DOCBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("docbench")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docbench/")
	v.AddConfigPath("$HOME/.docbench/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{
		Mode: v.GetString("mode"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: StorageConfig{
			Backend:          v.GetString("storage.backend"),
			Collection:       v.GetString("storage.collection"),
			MongoURI:         v.GetString("storage.mongo_uri"),
			MongoDatabase:    v.GetString("storage.mongo_database"),
			PostgresDSN:      v.GetString("storage.postgres_dsn"),
			PostgresMaxConns: v.GetInt("storage.postgres_max_conns"),
			SQLitePath:       v.GetString("storage.sqlite_path"),
		},
		Write: WriteConfig{
			BatchSize:   v.GetInt("write.batch_size"),
			Concurrency: v.GetInt("write.concurrency"),
		},
		Read: ReadConfig{
			BatchSize:     v.GetInt("read.batch_size"),
			Concurrency:   v.GetInt("read.concurrency"),
			SampleSize:    v.GetInt("read.sample_size"),
			ClearExisting: v.GetBool("read.clear_existing"),
			Lookup:        v.GetString("read.lookup"),
		},
		Dispatch: DispatchConfig{
			MaxOpsPerSec: v.GetFloat64("dispatch.max_ops_per_sec"),
		},
		Report: ReportConfig{
			IntervalSeconds:       v.GetInt("report.interval_seconds"),
			BreakerFailures:       v.GetInt("report.breaker_failures"),
			BreakerTimeoutSeconds: v.GetInt("report.breaker_timeout_seconds"),
		},
		Election: ElectionConfig{
			Backend:         v.GetString("election.backend"),
			NodeID:          v.GetString("election.node_id"),
			LeaseTTLMS:      v.GetInt("election.lease_ttl_ms"),
			RenewIntervalMS: v.GetInt("election.renew_interval_ms"),
			SQLitePath:      v.GetString("election.sqlite_path"),
			PostgresDSN:     v.GetString("election.postgres_dsn"),
			Raft: RaftConfig{
				BindAddr:  v.GetString("election.raft.bind_addr"),
				DataDir:   v.GetString("election.raft.data_dir"),
				Bootstrap: v.GetBool("election.raft.bootstrap"),
				Peers:     v.GetStringSlice("election.raft.peers"),
			},
		},
		Shutdown: ShutdownConfig{
			TimeoutSeconds: v.GetInt("shutdown.timeout_seconds"),
		},
	}

	// The lease store shares the benchmark database unless told otherwise
	if cfg.Election.PostgresDSN == "" {
		cfg.Election.PostgresDSN = cfg.Storage.PostgresDSN
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "write")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Storage defaults
	v.SetDefault("storage.backend", "mongo")
	v.SetDefault("storage.collection", "benchmark-test")
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_database", "bedrock_mongodb_benchmark_localhost")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.postgres_max_conns", getDefaultMaxConnections())
	v.SetDefault("storage.sqlite_path", "./data/docbench.db")

	// Loop defaults
	v.SetDefault("write.batch_size", 1000)
	v.SetDefault("write.concurrency", getDefaultConcurrency())
	v.SetDefault("read.batch_size", 1000)
	v.SetDefault("read.concurrency", getDefaultConcurrency())
	v.SetDefault("read.sample_size", 10000)
	v.SetDefault("read.clear_existing", false) // Destructive, opt-in only
	v.SetDefault("read.lookup", "id")
	v.SetDefault("dispatch.max_ops_per_sec", 0)

	// Reporter defaults
	v.SetDefault("report.interval_seconds", 10)
	v.SetDefault("report.breaker_failures", 3)
	v.SetDefault("report.breaker_timeout_seconds", 30)

	// Election defaults: processes on one host coordinate through a shared file
	v.SetDefault("election.backend", "sqlite")
	v.SetDefault("election.node_id", "")
	v.SetDefault("election.lease_ttl_ms", 5000)
	v.SetDefault("election.renew_interval_ms", 1000)
	v.SetDefault("election.sqlite_path", "./data/docbench-leases.db")
	v.SetDefault("election.postgres_dsn", "")
	v.SetDefault("election.raft.bind_addr", "127.0.0.1:7946")
	v.SetDefault("election.raft.data_dir", "./data/raft")
	v.SetDefault("election.raft.bootstrap", false)
	v.SetDefault("election.raft.peers", []string{})

	v.SetDefault("shutdown.timeout_seconds", 30)
}

func getDefaultConcurrency() int {
	// Storage calls are I/O bound; keep a few per core in flight
	workers := runtime.NumCPU() * 4
	if workers < 8 {
		return 8
	}
	if workers > 128 {
		return 128
	}
	return workers
}

func getDefaultMaxConnections() int {
	// Enough pooled connections for the default concurrency
	conns := getDefaultConcurrency()
	if conns > 64 {
		return 64
	}
	return conns
}

// Validate checks the configuration for values the benchmark cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	switch c.Storage.Backend {
	case "mongo", "mongodb":
		if c.Storage.MongoURI == "" {
			errs = append(errs, fmt.Errorf("storage.mongo_uri is required for the mongo backend"))
		}
	case "postgres", "postgresql":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgres_dsn is required for the postgres backend"))
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite_path is required for the sqlite backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if c.Storage.Collection == "" {
		errs = append(errs, fmt.Errorf("storage.collection must not be empty"))
	}

	if c.Write.BatchSize < 1 || c.Write.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("write.batch_size and write.concurrency must be at least 1"))
	}
	if c.Read.BatchSize < 1 || c.Read.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("read.batch_size and read.concurrency must be at least 1"))
	}
	if c.Read.SampleSize < 0 {
		errs = append(errs, fmt.Errorf("read.sample_size must not be negative"))
	}
	readMode := strings.EqualFold(strings.TrimSpace(c.Mode), "read")
	if readMode && c.Read.SampleSize == 0 {
		errs = append(errs, fmt.Errorf("read.sample_size must be at least 1 in read mode"))
	}
	switch c.Read.Lookup {
	case "id", "notUnique":
	default:
		errs = append(errs, fmt.Errorf("read.lookup must be id or notUnique, got %q", c.Read.Lookup))
	}
	if c.Dispatch.MaxOpsPerSec < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_ops_per_sec must not be negative"))
	}

	if c.Report.IntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("report.interval_seconds must be at least 1"))
	}

	switch c.Election.Backend {
	case "memory":
	case "sqlite":
		if c.Election.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("election.sqlite_path is required for the sqlite elector"))
		}
	case "postgres":
		if c.Election.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("election.postgres_dsn is required for the postgres elector"))
		}
	case "raft":
		if c.Election.Raft.BindAddr == "" || c.Election.Raft.DataDir == "" {
			errs = append(errs, fmt.Errorf("election.raft.bind_addr and election.raft.data_dir are required for the raft elector"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown election.backend %q", c.Election.Backend))
	}
	if c.Read.ClearExisting && c.Election.Backend != "memory" {
		errs = append(errs, fmt.Errorf("read.clear_existing requires election.backend memory; use `docbench reset -yes` for cooperating processes"))
	}
	if c.Election.Backend != "raft" && c.Election.RenewIntervalMS >= c.Election.LeaseTTLMS {
		errs = append(errs, fmt.Errorf("election.renew_interval_ms must be shorter than election.lease_ttl_ms"))
	}

	return errors.Join(errs...)
}

// NodeIDOrHostname returns the configured node id, falling back to the hostname.
func (c ElectionConfig) NodeIDOrHostname() string {
	if c.NodeID != "" {
		return c.NodeID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "docbench"
	}
	return host
}
