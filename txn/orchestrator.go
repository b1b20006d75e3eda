package txn

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nodb-engine/nodb/config"
	"github.com/nodb-engine/nodb/enginerr"
	"github.com/nodb-engine/nodb/index"
	"github.com/nodb-engine/nodb/storage"
	"golang.org/x/sync/errgroup"
)

// Engine is the bootstrapped, running instance: buffer pool, WAL writer,
// index, version set, free list and GC pipeline, plus the background
// checkpoint worker that ties rotation and timer events into periodic
// GC + flush + checkpoint + segment cleanup.
type Engine struct {
	cfg  config.Config
	lock *storage.FileLock

	disk *storage.BufferPool
	wal  *storage.Writer
	bt   *index.BTree
	vs   *VersionSet
	fl   *FreeList
	gc   *GC
	keys *KeyLock

	segs segmentDir

	stop      chan struct{}
	eg        errgroup.Group
	closeOnce sync.Once
}

// Bootstrap opens (or creates) the engine rooted at cfg.Dir: it acquires
// the single-process file lock, opens the buffer pool and WAL, replays
// the log, applies redo, initializes MVCC/free-list state from the
// replay result, and — if the data file was non-empty — emits a first
// checkpoint before starting the background checkpoint worker.
func Bootstrap(cfg config.Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, enginerr.Wrap("bootstrap: mkdir", enginerr.IO, err)
	}
	dataPath := filepath.Join(cfg.Dir, cfg.DataFileName)
	lock, err := storage.LockDataFile(dataPath)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		lock.Unlock()
		return nil, enginerr.Wrap("bootstrap: open data file", enginerr.IO, err)
	}
	disk := storage.NewDiskController(f, storage.PageSize, cfg.IOThreadCount, cfg.Logger)

	frameCount := int(cfg.BufferPoolMemoryCapacity / storage.PageSize)
	if frameCount <= 0 {
		frameCount = 1
	}
	bp := storage.NewBufferPool(disk, storage.BufferPoolConfig{
		ShardCount: cfg.BufferPoolShardCount,
		FrameCount: frameCount,
		IOThreads:  cfg.IOThreadCount,
	})

	segs := segmentDir{dir: cfg.Dir, prefix: cfg.WALPrefix}
	replay, err := storage.Replay(segs)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	startSeq := uint64(0)
	if len(replay.ScannedSegs) > 0 {
		startSeq = replay.ScannedSegs[len(replay.ScannedSegs)-1] + 1
	}
	wal, err := storage.NewWriter(storage.WriterConfig{
		MaxFileSizeBlocks: cfg.WALMaxFileSizeBlocks,
		GroupCommitDelay:  cfg.GroupCommitDelay,
		GroupCommitCount:  cfg.GroupCommitCount,
	}, segs.Opener(), startSeq, replay.LastLogID, cfg.Logger)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	for _, entry := range replay.Redo {
		slot, err := bp.Write(entry.PageIndex)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		slot.Page().Data = entry.PageBytes
		slot.Release()
		if err := slot.Err(); err != nil {
			lock.Unlock()
			return nil, err
		}
	}
	if err := bp.Flush(); err != nil {
		lock.Unlock()
		return nil, err
	}

	startTxID := replay.LastTxID
	if startTxID == 0 {
		startTxID = 1 // 0 is reserved for GC's own WAL-labeled page rewrites
	}
	vs := NewVersionSet(replay.Aborted, startTxID)

	pageCount, err := disk.Len()
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if pageCount == 0 {
		pageCount = 1 // page 0 holds the index header (index.HeaderIndex)
	}
	fl := NewFreeList(bp, wal, replay.LastFreeHead, pageCount)

	var bt *index.BTree
	empty, err := bp.IsEmpty()
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if empty {
		bt, err = index.New(gcTxID, bp, wal, fl)
	} else {
		bt = index.Open(bp, wal, fl)
	}
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	gc := NewGC(bt, vs, fl, GCConfig{ThreadCount: cfg.GCThreadCount, Interval: cfg.GCTriggerInterval}, cfg.Logger)

	e := &Engine{
		cfg:  cfg,
		lock: lock,
		disk: bp,
		wal:  wal,
		bt:   bt,
		vs:   vs,
		fl:   fl,
		gc:   gc,
		keys: NewKeyLock(),
		segs: segs,
		stop: make(chan struct{}),
	}

	if !empty {
		if err := e.checkpoint(); err != nil {
			cfg.Logger.Warn().Err(err).Msg("initial checkpoint failed")
		}
	}

	e.eg.Go(e.checkpointWorker)
	e.eg.Go(func() error { e.gc.RunLoop(); return nil })

	return e, nil
}

// checkpoint runs GC once, flushes the buffer pool, appends a Checkpoint
// record, fsyncs it, and unlinks every segment now strictly older than
// the writer's current one.
func (e *Engine) checkpoint() error {
	if err := e.gc.RunOnce(); err != nil {
		e.cfg.Logger.Warn().Err(err).Msg("gc sweep during checkpoint failed")
	}
	if err := e.disk.Flush(); err != nil {
		return err
	}
	freeHead := e.fl.LastFree()
	if _, err := e.wal.Append(gcTxID, storage.OpCheckpoint, func(r *storage.Record) {
		r.LastFreeHead = freeHead
		r.UpToLogID = r.LogID
	}); err != nil {
		return enginerr.Wrap("checkpoint: append", enginerr.IO, err)
	}
	if err := e.wal.Flush(); err != nil {
		return enginerr.Wrap("checkpoint: flush", enginerr.IO, err)
	}
	segs, err := e.segs.Segments()
	if err != nil {
		return err
	}
	current := e.wal.CurrentSeq()
	for _, s := range segs {
		if s < current {
			if err := e.segs.unlink(s); err != nil {
				e.cfg.Logger.Warn().Err(err).Uint64("segment", s).Msg("failed to unlink superseded segment")
			}
		}
	}
	return nil
}

// checkpointWorker fires on WAL segment rotation or the configured
// checkpoint timer, whichever comes first.
func (e *Engine) checkpointWorker() error {
	interval := e.cfg.CheckpointInterval
	if interval <= 0 {
		interval = config.DefaultCheckpointInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-e.stop:
			return nil
		case <-e.wal.Rotations():
			if err := e.checkpoint(); err != nil {
				e.cfg.Logger.Warn().Err(err).Msg("rotation-triggered checkpoint failed")
			}
		case <-t.C:
			if err := e.checkpoint(); err != nil {
				e.cfg.Logger.Warn().Err(err).Msg("timer-triggered checkpoint failed")
			}
		}
	}
}

// NewTransaction allocates a tx_id, emits Start, and returns a handle.
// Start is not fsynced; only Commit waits on durability.
func (e *Engine) NewTransaction() (*Tx, error) {
	id := e.vs.NewTransaction()
	if _, err := e.wal.Append(id, storage.OpStart, nil); err != nil {
		return nil, enginerr.Wrap("new_transaction: append start", enginerr.IO, err)
	}
	return &Tx{id: id, eng: e}, nil
}

// Close stops the checkpoint and GC workers, runs a final checkpoint,
// then closes the buffer pool, WAL and releases the file lock. The GC
// pools are already stopped by then, so the final checkpoint's GC sweep
// returns WorkerClosed and prunes nothing; the flush and the Checkpoint
// record still happen.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stop)
		e.gc.Stop()
		e.eg.Wait()
		if cerr := e.checkpoint(); cerr != nil {
			e.cfg.Logger.Warn().Err(cerr).Msg("final checkpoint failed")
		}
		if cerr := e.disk.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := e.wal.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := e.lock.Unlock(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// Stats is the diagnostic snapshot exposed to the CLI's stats command.
type Stats struct {
	MinActiveTx  uint64
	HasActiveTx  bool
	CurrentTxID  uint64
	WALSegment   uint64
	WALLogID     uint64
	FreeListHead uint64
}

// Stats reports a point-in-time snapshot of engine state.
func (e *Engine) Stats() Stats {
	minActive, hasActive := e.vs.MinActive()
	return Stats{
		MinActiveTx:  minActive,
		HasActiveTx:  hasActive,
		CurrentTxID:  e.vs.CurrentVersion(),
		WALSegment:   e.wal.CurrentSeq(),
		WALLogID:     e.wal.CurrentLogID(),
		FreeListHead: e.fl.LastFree(),
	}
}
