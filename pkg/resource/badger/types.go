// Package badger stores datasets in a Badger key/value database. Dataset
// types, rows and unique-key entries live under separate key prefixes and
// every transactor transaction is a Badger read-write transaction.
package badger

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// Key prefixes for Badger key-value store
const (
	// PrefixType dataset type prefix
	PrefixType = "type:"
	// PrefixRow row data prefix
	PrefixRow = "row:"
	// PrefixIndex unique key entry prefix
	PrefixIndex = "idx:"
	// PrefixSeq sequence number prefix (row ids and auto-increment)
	PrefixSeq = "seq:"
)

// Connection info keys understood by the driver besides PATH and IN_MEMORY.
const (
	InfoSyncWrites     = "SYNC_WRITES"
	InfoCompression    = "COMPRESSION"
	InfoValueThreshold = "VALUE_THRESHOLD"
	InfoGCInterval     = "GC_INTERVAL"
)

// DataSourceConfig configuration for a Badger source
type DataSourceConfig struct {
	// DataDir directory for storing data files
	DataDir string `json:"data_dir"`

	// InMemory if true, runs in pure memory mode (no disk persistence)
	InMemory bool `json:"in_memory"`

	// SyncWrites if true, syncs writes to disk immediately
	SyncWrites bool `json:"sync_writes"`

	// ValueThreshold values larger than this are stored in value log
	ValueThreshold int64 `json:"value_threshold"`

	// Compression none, snappy or zstd
	Compression options.CompressionType `json:"compression"`

	// GCInterval value log GC period; zero disables the background loop
	GCInterval time.Duration `json:"gc_interval"`
}

// DefaultDataSourceConfig returns default configuration
func DefaultDataSourceConfig(dataDir string) *DataSourceConfig {
	return &DataSourceConfig{
		DataDir:        dataDir,
		ValueThreshold: 1 << 10, // 1KB
		Compression:    options.Snappy,
	}
}

// ConfigFrom reads the driver configuration from connection info. Either
// PATH or IN_MEMORY=true is required.
func ConfigFrom(info domain.ConnectionInfo) (*DataSourceConfig, error) {
	cfg := DefaultDataSourceConfig(info.Get(domain.InfoPath))
	var err error
	if cfg.InMemory, err = info.Bool(domain.InfoInMemory, false); err != nil {
		return nil, domain.NewErrConnection(domain.DataSourceTypeBadger, "invalid "+domain.InfoInMemory, err)
	}
	if !cfg.InMemory && cfg.DataDir == "" {
		return nil, domain.NewErrConnection(domain.DataSourceTypeBadger, "PATH or IN_MEMORY=true is required", nil)
	}
	if cfg.SyncWrites, err = info.Bool(InfoSyncWrites, false); err != nil {
		return nil, domain.NewErrConnection(domain.DataSourceTypeBadger, "invalid "+InfoSyncWrites, err)
	}

	threshold, err := info.Int(InfoValueThreshold, int(cfg.ValueThreshold))
	if err != nil {
		return nil, domain.NewErrConnection(domain.DataSourceTypeBadger, "invalid "+InfoValueThreshold, err)
	}
	cfg.ValueThreshold = int64(threshold)

	if cfg.GCInterval, err = info.Duration(InfoGCInterval, 0); err != nil {
		return nil, domain.NewErrConnection(domain.DataSourceTypeBadger, "invalid "+InfoGCInterval, err)
	}

	switch c := strings.ToLower(info.Get(InfoCompression)); c {
	case "", "snappy":
		cfg.Compression = options.Snappy
	case "zstd":
		cfg.Compression = options.ZSTD
	case "none":
		cfg.Compression = options.None
	default:
		return nil, domain.NewErrConnection(domain.DataSourceTypeBadger, fmt.Sprintf("unknown compression %q", c), nil)
	}
	return cfg, nil
}

// Options builds the Badger options for cfg.
func (cfg *DataSourceConfig) Options(log logger.Logger) badger.Options {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DataDir)
	}
	return opts.
		WithSyncWrites(cfg.SyncWrites).
		WithValueThreshold(cfg.ValueThreshold).
		WithCompression(cfg.Compression).
		WithLogger(badgerLogger{log})
}

// badgerLogger routes Badger's own log lines to the component logger.
type badgerLogger struct{ l logger.Logger }

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSuffix(format, "\n"), args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(strings.TrimSuffix(format, "\n"), args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSuffix(format, "\n"), args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSuffix(format, "\n"), args...)
}
