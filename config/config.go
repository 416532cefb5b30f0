// Package config loads the storage core's tunables from a TOML file.
// All fields have spec-mandated defaults, so a zero Config runs the
// core with no file present at all: Database.Open substitutes Default()
// when it is handed a zero Config.
package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const (
	DefaultBufferPoolCapacity = 64
	DefaultBTreeOrder         = 4
	DefaultWALBufferSize      = 64 * 1024
	DefaultLockTimeoutMS      = 5000
	DefaultDeadlockPollMS     = 200
	DefaultCheckpointEveryN   = 1000

	// maxPagesAdvisory mirrors original_source's MAX_PAGES constant; it
	// is advisory only, a request above it is honored but logged.
	maxPagesAdvisory = 1024
)

// Config holds the tunables for one Database instance. Database.Open
// reads BufferPoolCapacity, LockTimeoutMS and DeadlockPollMS; the other
// fields are loaded and defaulted but no component reads them.
type Config struct {
	DataDir             string `toml:"data_dir"`
	BufferPoolCapacity  int    `toml:"buffer_pool_capacity"`
	BTreeOrder          int    `toml:"btree_order"`
	WALBufferSize       int    `toml:"wal_buffer_size"`
	LockTimeoutMS       int    `toml:"lock_timeout_ms"`
	DeadlockPollMS      int    `toml:"deadlock_poll_ms"`
	CheckpointEveryNTxn int    `toml:"checkpoint_every_n_txn"`
	LogLevel            string `toml:"log_level"`
}

// Load reads and decodes a TOML config file, then fills unset fields
// with defaults.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config file %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %s", path)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a Config with every field set to its spec default.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BufferPoolCapacity <= 0 {
		c.BufferPoolCapacity = DefaultBufferPoolCapacity
	}
	if c.BTreeOrder < 3 {
		c.BTreeOrder = DefaultBTreeOrder
	}
	if c.WALBufferSize <= 0 {
		c.WALBufferSize = DefaultWALBufferSize
	}
	if c.LockTimeoutMS <= 0 {
		c.LockTimeoutMS = DefaultLockTimeoutMS
	}
	if c.DeadlockPollMS <= 0 {
		c.DeadlockPollMS = DefaultDeadlockPollMS
	}
	if c.CheckpointEveryNTxn <= 0 {
		c.CheckpointEveryNTxn = DefaultCheckpointEveryN
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ExceedsAdvisoryPageCount reports whether a requested page count is
// above original_source's MAX_PAGES; callers log a warning but proceed.
func ExceedsAdvisoryPageCount(pageCount int) bool {
	return pageCount > maxPagesAdvisory
}
