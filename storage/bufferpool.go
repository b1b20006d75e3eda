package storage

import (
	"sync"

	"github.com/nodb-engine/nodb/enginerr"
)

// frame holds one cached page under its own RWMutex so that unrelated
// pages never block each other.
type frame struct {
	mu        sync.RWMutex
	page      Page
	pageIndex uint32
	valid     bool
}

// BufferPool is the frame array + dirty bitmap + LRU table + disk
// controller composition. It owns the frame array and dirty bitmap for
// the engine's entire lifetime.
type BufferPool struct {
	frames []frame
	dirty  *Bitmap
	table  *Table
	disk   *DiskController
	pool   *PagePool
}

// Pool exposes the page pool backing this buffer pool's scratch
// allocations (C2), for components that need a page buffer outside the
// cached frame array (e.g. free-list release staging).
func (bp *BufferPool) Pool() *PagePool { return bp.pool }

// BufferPoolConfig mirrors the configuration surface spec.md enumerates.
type BufferPoolConfig struct {
	ShardCount   int
	FrameCount   int
	IOThreads    int
}

// NewBufferPool wires a BufferPool on top of an already-open disk
// controller.
func NewBufferPool(disk *DiskController, cfg BufferPoolConfig) *BufferPool {
	if cfg.FrameCount <= 0 {
		cfg.FrameCount = 1
	}
	return &BufferPool{
		frames: make([]frame, cfg.FrameCount),
		dirty:  NewBitmap(cfg.FrameCount),
		table:  NewTable(cfg.ShardCount, cfg.FrameCount),
		disk:   disk,
		pool:   NewPagePool(cfg.FrameCount),
	}
}

// ReadSlot is a read-locked view of a cached page. Release must be called
// exactly once.
type ReadSlot struct {
	bp       *BufferPool
	frameID  int
	bypass   *Page
	index    uint32
}

func (s *ReadSlot) Page() *Page {
	if s.bypass != nil {
		return s.bypass
	}
	return &s.bp.frames[s.frameID].page
}
func (s *ReadSlot) Release() {
	if s.bypass != nil {
		return
	}
	s.bp.frames[s.frameID].mu.RUnlock()
}

// WriteSlot is a write-locked view of a cached page. On Release the
// frame's dirty bit is set, since the invariant is "dirty iff in-memory
// differs from the last byte written to disk". A bypass write slot (from
// a zero-capacity shard) instead writes straight through on Release.
type WriteSlot struct {
	bp      *BufferPool
	frameID int
	bypass  *Page
	index   uint32
	err     error
}

func (s *WriteSlot) Page() *Page {
	if s.bypass != nil {
		return s.bypass
	}
	return &s.bp.frames[s.frameID].page
}
func (s *WriteSlot) Release() {
	if s.bypass != nil {
		s.err = s.bp.disk.Write(s.index, s.bypass)
		return
	}
	s.bp.dirty.Insert(s.frameID)
	s.bp.frames[s.frameID].mu.Unlock()
}

// Err reports a bypass write-through failure observed during Release. Only
// meaningful for zero-capacity-shard write slots.
func (s *WriteSlot) Err() error { return s.err }

// resolve returns the frame id backing pageIndex, loading it from disk on
// a miss. Zero-capacity shards (FrameID == -1) bypass caching entirely:
// the caller gets a throwaway frame populated straight from disk and must
// not expect it to still be there on the next call.
func (bp *BufferPool) resolve(index uint32) (int, *Page, error) {
	result, guard, hit := bp.table.Acquire(index)
	if hit {
		return result.FrameID, nil, nil
	}
	defer guard.Release()

	if guard.FrameID < 0 {
		page, err := bp.disk.Read(index)
		if err != nil {
			return 0, nil, err
		}
		return -1, page, nil
	}

	page, err := bp.disk.Read(index)
	if err != nil {
		return 0, nil, err
	}

	f := &bp.frames[guard.FrameID]
	if guard.EvictedOK && bp.dirty.Contains(guard.FrameID) {
		f.mu.RLock()
		old := f.page
		oldIndex := f.pageIndex
		f.mu.RUnlock()
		// Write-back failure leaves the dirty bit set: the page is
		// retried on the next eviction or explicit flush.
		if err := bp.disk.Write(oldIndex, &old); err != nil {
			return 0, nil, err
		}
		bp.dirty.Remove(guard.FrameID)
	}
	f.mu.Lock()
	f.page = *page
	f.pageIndex = index
	f.valid = true
	f.mu.Unlock()
	return guard.FrameID, nil, nil
}

// Read acquires a ReadSlot for index.
func (bp *BufferPool) Read(index uint32) (*ReadSlot, error) {
	frameID, bypass, err := bp.resolve(index)
	if err != nil {
		return nil, err
	}
	if bypass != nil {
		return &ReadSlot{bp: bp, bypass: bypass, index: index}, nil
	}
	bp.frames[frameID].mu.RLock()
	return &ReadSlot{bp: bp, frameID: frameID}, nil
}

// Write acquires a WriteSlot for index.
func (bp *BufferPool) Write(index uint32) (*WriteSlot, error) {
	frameID, bypass, err := bp.resolve(index)
	if err != nil {
		return nil, err
	}
	if bypass != nil {
		return &WriteSlot{bp: bp, bypass: bypass, index: index}, nil
	}
	bp.frames[frameID].mu.Lock()
	return &WriteSlot{bp: bp, frameID: frameID}, nil
}

// Flush writes every dirty frame back to disk at its tracked page index,
// clears the dirty bit, then fsyncs.
func (bp *BufferPool) Flush() error {
	for _, id := range bp.dirty.Iter() {
		f := &bp.frames[id]
		f.mu.RLock()
		page := f.page
		index := f.pageIndex
		f.mu.RUnlock()
		if err := bp.disk.Write(index, &page); err != nil {
			return err
		}
		bp.dirty.Remove(id)
	}
	return bp.disk.Fsync()
}

// IsEmpty reports whether the backing file currently has zero pages.
func (bp *BufferPool) IsEmpty() (bool, error) {
	n, err := bp.disk.Len()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Close flushes then closes the underlying disk controller.
func (bp *BufferPool) Close() error {
	if err := bp.Flush(); err != nil {
		return enginerr.Wrap("bufferpool: close", enginerr.IO, err)
	}
	return bp.disk.Close()
}

// Disk exposes the underlying controller for components (free list,
// replay) that must issue raw page IO outside the cache.
func (bp *BufferPool) Disk() *DiskController { return bp.disk }
