package storage

import "sort"

// ReplayResult is everything bootstrap needs to reconstruct engine state
// from the WAL: the next log_id/tx_id to hand out, which transactions are
// implicitly aborted, the free-list head recorded by the last checkpoint,
// and the ordered redo set of page images to reapply.
type ReplayResult struct {
	LastLogID    uint64
	LastTxID     uint64
	Aborted      map[uint64]struct{}
	LastFreeHead uint64
	Redo         []RedoEntry
	ScannedSegs  []uint64
}

// RedoEntry is one Insert record surviving past the last checkpoint.
type RedoEntry struct {
	LogID     uint64
	PageIndex uint32
	PageBytes [PageSize]byte
}

// SegmentReader enumerates WAL segment block data for replay; the
// orchestrator supplies one bound to its directory listing, tests supply
// one over in-memory files.
type SegmentReader interface {
	// Segments returns segment sequence numbers in replay order.
	Segments() ([]uint64, error)
	// Blocks returns every block of segment seq, in order.
	Blocks(seq uint64) ([][]byte, error)
}

// Replay scans every block of every segment (sorted by sequence) and
// derives a ReplayResult. A torn block — detected when decodeBlock/
// decodeRecord fails partway — terminates that segment's scan; replay
// continues with the next segment, since only the tail of the log can be
// torn by a crash.
func Replay(r SegmentReader) (ReplayResult, error) {
	segs, err := r.Segments()
	if err != nil {
		return ReplayResult{}, err
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })

	res := ReplayResult{Aborted: make(map[uint64]struct{})}
	started := make(map[uint64]struct{})
	committed := make(map[uint64]struct{})
	freeChain := make(map[uint64]struct{})
	var lastCheckpointLogID uint64
	var allInserts []RedoEntry

	for _, seq := range segs {
		blocks, err := r.Blocks(seq)
		if err != nil {
			return ReplayResult{}, err
		}
		for _, b := range blocks {
			recs, complete := decodeBlock(b)
			for _, rec := range recs {
				if rec.LogID+1 > res.LastLogID {
					res.LastLogID = rec.LogID + 1
				}
				if rec.TxID+1 > res.LastTxID {
					res.LastTxID = rec.TxID + 1
				}
				switch rec.Op {
				case OpStart:
					started[rec.TxID] = struct{}{}
				case OpCommit:
					committed[rec.TxID] = struct{}{}
				case OpAbort:
					res.Aborted[rec.TxID] = struct{}{}
				case OpInsert:
					allInserts = append(allInserts, RedoEntry{
						LogID:     rec.LogID,
						PageIndex: rec.PageIndex,
						PageBytes: rec.PageBytes,
					})
				case OpFree:
					freeChain[rec.LogID] = struct{}{}
				case OpCheckpoint:
					res.LastFreeHead = rec.LastFreeHead
					lastCheckpointLogID = rec.UpToLogID
				}
			}
			if !complete {
				break
			}
		}
		res.ScannedSegs = append(res.ScannedSegs, seq)
	}

	// Decision (see DESIGN.md open question #1): a Start with no matching
	// Commit is folded into the aborted set so its versions are invisible
	// to any post-crash reader, giving S3 its required semantics.
	for tx := range started {
		if _, ok := committed[tx]; !ok {
			res.Aborted[tx] = struct{}{}
		}
	}

	for _, ins := range allInserts {
		if ins.LogID > lastCheckpointLogID {
			res.Redo = append(res.Redo, ins)
		}
	}
	sort.Slice(res.Redo, func(i, j int) bool { return res.Redo[i].LogID < res.Redo[j].LogID })

	return res, nil
}
