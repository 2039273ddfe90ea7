package kv

import (
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// StoreConfig contains Badger tuning parameters.
type StoreConfig struct {
	// Dir is the Badger directory. Agents in one process sharing a Dir
	// share one database.
	Dir string

	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the discard ratio that triggers a value log rewrite.
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 64MB
	ValueLogFileSize int64

	// SyncWrites fsyncs every commit.
	// Default: true (a committed delta must survive a crash)
	SyncWrites bool
}

// Config configures a KV backend.
type Config struct {
	storage.Options
	Store StoreConfig
}

// DefaultStoreConfig returns the default Badger configuration for dir.
func DefaultStoreConfig(dir string) StoreConfig {
	return StoreConfig{
		Dir:              dir,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        16 << 20, // 16MB
		ValueLogFileSize: 64 << 20, // 64MB
		SyncWrites:       true,
	}
}

func (c StoreConfig) withDefaults() StoreConfig {
	def := DefaultStoreConfig(c.Dir)
	if c.GCInterval <= 0 {
		c.GCInterval = def.GCInterval
	}
	if c.GCThreshold <= 0 || c.GCThreshold >= 1 {
		c.GCThreshold = def.GCThreshold
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.ValueLogFileSize <= 0 {
		c.ValueLogFileSize = def.ValueLogFileSize
	}
	return c
}
