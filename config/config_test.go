package config

import "testing"

func TestNewAppliesDefaults(t *testing.T) {
	c := New()
	if c.DataFileName != DefaultDataFileName {
		t.Errorf("DataFileName = %q, want %q", c.DataFileName, DefaultDataFileName)
	}
	if c.WALMaxFileSizeBlocks != DefaultWALMaxFileSizeBlocks {
		t.Errorf("WALMaxFileSizeBlocks = %d, want %d", c.WALMaxFileSizeBlocks, DefaultWALMaxFileSizeBlocks)
	}
	if c.GCThreadCount != DefaultGCThreadCount {
		t.Errorf("GCThreadCount = %d, want %d", c.GCThreadCount, DefaultGCThreadCount)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	c := New(
		WithDir("/tmp/novusdb-test"),
		WithFileNames("data.db", "wal.log"),
		WithGC(7, 0),
		WithIOThreads(9),
	)
	if c.Dir != "/tmp/novusdb-test" {
		t.Errorf("Dir = %q", c.Dir)
	}
	if c.DataFileName != "data.db" || c.WALPrefix != "wal.log" {
		t.Errorf("got DataFileName=%q WALPrefix=%q", c.DataFileName, c.WALPrefix)
	}
	if c.GCThreadCount != 7 {
		t.Errorf("GCThreadCount = %d, want 7", c.GCThreadCount)
	}
	if c.IOThreadCount != 9 {
		t.Errorf("IOThreadCount = %d, want 9", c.IOThreadCount)
	}
}

func TestWithBufferPoolOverridesBoth(t *testing.T) {
	c := New(WithBufferPool(32, 64*1024*1024))
	if c.BufferPoolShardCount != 32 {
		t.Errorf("BufferPoolShardCount = %d, want 32", c.BufferPoolShardCount)
	}
	if c.BufferPoolMemoryCapacity != 64*1024*1024 {
		t.Errorf("BufferPoolMemoryCapacity = %d, want %d", c.BufferPoolMemoryCapacity, 64*1024*1024)
	}
}
