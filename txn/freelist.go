package txn

import (
	"sync"

	"github.com/nodb-engine/nodb/enginerr"
	"github.com/nodb-engine/nodb/storage"
)

// freePageOff is where a Free page stores its next_free_index, right
// after the type tag byte.
const freePageOff = 1

// FreeList is the durable chain of reclaimable page indices. The chain
// head lives in memory (last_free, 0 means "empty, extend the file") and
// is persisted into Checkpoint records by the orchestrator.
type FreeList struct {
	mu         sync.Mutex
	lastFree   uint64
	nextFresh  uint32
	bp         *storage.BufferPool
	wal        *storage.Writer
}

// NewFreeList seeds the chain head from the last checkpoint's
// last_free_head and the never-allocated counter from the buffer pool's
// current page count.
func NewFreeList(bp *storage.BufferPool, wal *storage.Writer, lastFreeHead uint64, pageCount uint32) *FreeList {
	return &FreeList{
		lastFree:  lastFreeHead,
		nextFresh: pageCount,
		bp:        bp,
		wal:       wal,
	}
}

// LastFree reports the current chain head, for Checkpoint records.
func (fl *FreeList) LastFree() uint64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.lastFree
}

// Alloc returns an index ready to be overwritten with a fresh page: the
// head of the free chain if non-empty, else a never-before-used index.
func (fl *FreeList) Alloc() (uint32, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.lastFree == 0 {
		idx := fl.nextFresh
		fl.nextFresh++
		return idx, nil
	}

	idx := uint32(fl.lastFree)
	slot, err := fl.bp.Read(idx)
	if err != nil {
		return 0, enginerr.Wrap("freelist: alloc: read", enginerr.IO, err)
	}
	next := readNextFree(slot.Page())
	slot.Release()

	fl.lastFree = next
	return idx, nil
}

// Release appends a Free WAL record for index, then pushes it onto the
// head of the in-memory/on-disk free chain. The WAL record precedes the
// page write so a crash between the two still lets replay's redo set
// (or the absence of a later overwrite) recover the correct chain state.
func (fl *FreeList) Release(txID uint64, index uint32) error {
	if _, err := fl.wal.Append(txID, storage.OpFree, func(r *storage.Record) {
		r.PageIndex = index
	}); err != nil {
		return enginerr.Wrap("freelist: release: wal append", enginerr.IO, err)
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	slot, err := fl.bp.Write(index)
	if err != nil {
		return enginerr.Wrap("freelist: release: write slot", enginerr.IO, err)
	}
	page := slot.Page()
	page.Data[0] = byte(storage.PageTypeFree)
	putNextFree(page, fl.lastFree)
	slot.Release()
	if err := slot.Err(); err != nil {
		return enginerr.Wrap("freelist: release: bypass write", enginerr.IO, err)
	}

	fl.lastFree = uint64(index)
	return nil
}

func readNextFree(p *storage.Page) uint64 {
	s := storage.NewScanner(p.Data[freePageOff:])
	v, err := s.ReadUint64()
	if err != nil {
		return 0
	}
	return v
}

func putNextFree(p *storage.Page, next uint64) {
	w := storage.NewWriter(p.Data[freePageOff:])
	_ = w.WriteUint64(next)
}
