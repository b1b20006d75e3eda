package txn

import (
	"time"

	"github.com/nodb-engine/nodb/enginerr"
	"github.com/nodb-engine/nodb/index"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// gcTxID is a reserved tx_id used only to label the WAL Insert records
// that GC's own page rewrites produce; it is never handed out by
// VersionSet.NewTransaction, since Bootstrap seeds the VersionSet with a
// starting tx_id of at least 1.
const gcTxID = 0

type checkRequest struct {
	ptr   uint32
	reply chan checkResult
}

type checkResult struct {
	empty bool
	err   error
}

type releaseRequest struct {
	ptr   uint32
	reply chan error
}

// GC is the three-stage background pruning pipeline: bounded Check,
// Entry and Release worker pools cooperating over a data-entry chain,
// plus the periodic main loop that walks the whole index.
type GC struct {
	bt *index.BTree
	vs *VersionSet
	fl *FreeList
	log zerolog.Logger

	checkCh   chan checkRequest
	entryCh   chan checkRequest
	releaseCh chan releaseRequest

	interval time.Duration
	stop     chan struct{}
	eg       errgroup.Group
}

// GCConfig mirrors the enumerated GC configuration.
type GCConfig struct {
	ThreadCount int
	Interval    time.Duration
}

// NewGC starts the Check/Entry/Release worker pools. RunLoop must be
// started separately (as its own goroutine) to drive periodic sweeps.
func NewGC(bt *index.BTree, vs *VersionSet, fl *FreeList, cfg GCConfig, log zerolog.Logger) *GC {
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	g := &GC{
		bt:        bt,
		vs:        vs,
		fl:        fl,
		log:       log,
		checkCh:   make(chan checkRequest, cfg.ThreadCount*4),
		entryCh:   make(chan checkRequest, cfg.ThreadCount*4),
		releaseCh: make(chan releaseRequest, cfg.ThreadCount*4),
		interval:  cfg.Interval,
		stop:      make(chan struct{}),
	}
	for i := 0; i < cfg.ThreadCount; i++ {
		g.eg.Go(g.checkWorker)
		g.eg.Go(g.entryWorker)
		g.eg.Go(g.releaseWorker)
	}
	return g
}

// Stop closes the stop channel, which ends the worker pools, and joins
// them via the errgroup.
func (g *GC) Stop() {
	close(g.stop)
	g.eg.Wait()
}

func (g *GC) checkWorker() error {
	for {
		select {
		case <-g.stop:
			return nil
		case req := <-g.checkCh:
			req.reply <- g.doPrune(req.ptr, g.entryCh)
		}
	}
}

func (g *GC) entryWorker() error {
	for {
		select {
		case <-g.stop:
			return nil
		case req := <-g.entryCh:
			req.reply <- g.doPrune(req.ptr, g.entryCh)
		}
	}
}

func (g *GC) releaseWorker() error {
	for {
		select {
		case <-g.stop:
			return nil
		case req := <-g.releaseCh:
			req.reply <- g.doRelease(req.ptr)
		}
	}
}

// doPrune implements both the Check and Entry stages: drop every version
// with tx_id below the GC horizon or in the aborted set, rewrite the
// page, and — only if this page collapsed to nothing and the chain
// continues — recurse into continuation (via continueCh, the Entry
// pool) to learn whether the whole remaining chain is also empty.
func (g *GC) doPrune(ptr uint32, continueCh chan checkRequest) checkResult {
	next, versions, err := g.bt.ReadDataEntry(ptr)
	if err != nil {
		return checkResult{err: enginerr.Wrap("gc: prune: read", enginerr.IO, err)}
	}
	horizon := g.vs.MinVersion()
	kept := versions[:0:0]
	for _, v := range versions {
		if v.TxID < horizon || g.vs.IsAborted(v.TxID) {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) != len(versions) {
		if err := g.bt.WriteDataEntry(gcTxID, ptr, next, kept); err != nil {
			return checkResult{err: err}
		}
	}
	if len(kept) > 0 {
		return checkResult{empty: false}
	}
	if next == 0 {
		return checkResult{empty: true}
	}
	reply := make(chan checkResult, 1)
	select {
	case continueCh <- checkRequest{ptr: next, reply: reply}:
	case <-g.stop:
		return checkResult{err: enginerr.New("gc: prune", enginerr.WorkerClosed)}
	}
	select {
	case res := <-reply:
		return res
	case <-g.stop:
		return checkResult{err: enginerr.New("gc: prune", enginerr.WorkerClosed)}
	}
}

func (g *GC) doRelease(ptr uint32) error {
	idx := ptr
	for idx != 0 {
		next, _, err := g.bt.ReadDataEntry(idx)
		if err != nil {
			return enginerr.Wrap("gc: release: read", enginerr.IO, err)
		}
		if err := g.fl.Release(gcTxID, idx); err != nil {
			return enginerr.Wrap("gc: release", enginerr.IO, err)
		}
		idx = next
	}
	return nil
}

// checkChain submits ptr to the Check stage and blocks for its verdict:
// whether the entire chain rooted at ptr is now empty.
func (g *GC) checkChain(ptr uint32) (bool, error) {
	reply := make(chan checkResult, 1)
	select {
	case g.checkCh <- checkRequest{ptr: ptr, reply: reply}:
	case <-g.stop:
		return false, enginerr.New("gc: check", enginerr.WorkerClosed)
	}
	select {
	case res := <-reply:
		return res.empty, res.err
	case <-g.stop:
		return false, enginerr.New("gc: check", enginerr.WorkerClosed)
	}
}

func (g *GC) release(ptr uint32) error {
	reply := make(chan error, 1)
	select {
	case g.releaseCh <- releaseRequest{ptr: ptr, reply: reply}:
	case <-g.stop:
		return enginerr.New("gc: release", enginerr.WorkerClosed)
	}
	select {
	case err := <-reply:
		return err
	case <-g.stop:
		return enginerr.New("gc: release", enginerr.WorkerClosed)
	}
}

// RunOnce performs one full sweep: every leaf's entries are checked,
// leaves with fully-pruned entries are rewritten, and the reclaimed
// chains are handed to Release. Finally the aborted set is trimmed to
// the new horizon.
func (g *GC) RunOnce() error {
	err := g.bt.Walk(func(lv index.LeafView) error {
		var dropKeys [][]byte
		var dropPtrs []uint32
		for _, e := range lv.Entries {
			isEmpty, err := g.checkChain(e.Pointer)
			if err != nil {
				return err
			}
			if isEmpty {
				dropKeys = append(dropKeys, e.Key)
				dropPtrs = append(dropPtrs, e.Pointer)
			}
		}
		if len(dropKeys) == 0 {
			return nil
		}
		rebuilt := index.RebuildLeafWithout(lv, dropKeys)
		if err := g.bt.RewriteLeaf(gcTxID, rebuilt); err != nil {
			return err
		}
		for _, ptr := range dropPtrs {
			if err := g.release(ptr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	g.vs.RemoveAborted(g.vs.MinVersion())
	return nil
}

// RunLoop drives RunOnce on a ticker until Stop is called.
func (g *GC) RunLoop() {
	t := time.NewTicker(g.interval)
	defer t.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-t.C:
			if err := g.RunOnce(); err != nil {
				g.log.Warn().Err(err).Msg("gc sweep failed")
			}
		}
	}
}
