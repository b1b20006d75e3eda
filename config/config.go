// Package config is the functional-options builder for opening an
// engine instance: file layout, buffer pool sizing, WAL cadence and GC
// cadence all live here so bootstrap has one place to read defaults
// from.
package config

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultDataFileName             = "nodb"
	DefaultWALPrefix                = "log.wal"
	DefaultWALMaxFileSizeBlocks     = 512
	DefaultCheckpointInterval       = 60 * time.Second
	DefaultGroupCommitDelay         = 10 * time.Millisecond
	DefaultGroupCommitCount         = 100
	DefaultGCTriggerInterval        = 30 * time.Second
	DefaultGCThreadCount            = 3
	DefaultBufferPoolShardCount     = 16
	DefaultBufferPoolMemoryCapacity = 32 * 1024 * 1024 // 32 MiB
	DefaultIOThreadCount            = 3
)

// Config is the fully-resolved set of knobs bootstrap reads.
type Config struct {
	Dir          string
	DataFileName string
	WALPrefix    string

	WALMaxFileSizeBlocks int
	CheckpointInterval   time.Duration

	GroupCommitDelay time.Duration
	GroupCommitCount int

	GCTriggerInterval time.Duration
	GCThreadCount     int

	BufferPoolShardCount     int
	BufferPoolMemoryCapacity int64
	IOThreadCount            int

	Logger zerolog.Logger
}

// Option mutates a Config under construction.
type Option func(*Config)

// New resolves a Config from defaults plus the given options, in order.
func New(opts ...Option) Config {
	c := Config{
		Dir:                      ".",
		DataFileName:             DefaultDataFileName,
		WALPrefix:                DefaultWALPrefix,
		WALMaxFileSizeBlocks:     DefaultWALMaxFileSizeBlocks,
		CheckpointInterval:       DefaultCheckpointInterval,
		GroupCommitDelay:         DefaultGroupCommitDelay,
		GroupCommitCount:         DefaultGroupCommitCount,
		GCTriggerInterval:        DefaultGCTriggerInterval,
		GCThreadCount:            DefaultGCThreadCount,
		BufferPoolShardCount:     DefaultBufferPoolShardCount,
		BufferPoolMemoryCapacity: DefaultBufferPoolMemoryCapacity,
		IOThreadCount:            DefaultIOThreadCount,
		Logger:                   zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDir sets the base directory holding the data file and WAL segments.
func WithDir(dir string) Option { return func(c *Config) { c.Dir = dir } }

// WithFileNames overrides the data file name and WAL segment prefix.
func WithFileNames(dataFile, walPrefix string) Option {
	return func(c *Config) { c.DataFileName = dataFile; c.WALPrefix = walPrefix }
}

// WithWAL overrides segment size and group-commit cadence.
func WithWAL(maxFileSizeBlocks int, groupCommitDelay time.Duration, groupCommitCount int) Option {
	return func(c *Config) {
		c.WALMaxFileSizeBlocks = maxFileSizeBlocks
		c.GroupCommitDelay = groupCommitDelay
		c.GroupCommitCount = groupCommitCount
	}
}

// WithCheckpointInterval overrides the periodic checkpoint cadence.
func WithCheckpointInterval(d time.Duration) Option {
	return func(c *Config) { c.CheckpointInterval = d }
}

// WithGC overrides the GC worker pool size and sweep cadence.
func WithGC(threadCount int, interval time.Duration) Option {
	return func(c *Config) { c.GCThreadCount = threadCount; c.GCTriggerInterval = interval }
}

// WithBufferPool overrides shard count and total memory budget in bytes;
// bootstrap divides the budget by the page size to get a frame count.
func WithBufferPool(shardCount int, memoryCapacityBytes int64) Option {
	return func(c *Config) { c.BufferPoolShardCount = shardCount; c.BufferPoolMemoryCapacity = memoryCapacityBytes }
}

// WithIOThreads overrides the disk controller's worker pool size.
func WithIOThreads(n int) Option { return func(c *Config) { c.IOThreadCount = n } }

// WithLogger overrides the destination for structured engine logs.
func WithLogger(log zerolog.Logger) Option { return func(c *Config) { c.Logger = log } }
