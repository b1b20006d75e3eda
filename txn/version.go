// Package txn implements the transaction orchestrator: MVCC visibility
// tracking, the free-list page allocator, the background GC pipeline,
// and the commit/abort glue across the storage package's disk, buffer
// pool and WAL primitives.
package txn

import "sync"

// VersionSet tracks which transaction ids are currently active or
// aborted, and linearizes the birth of new transaction ids. Contention is
// expected to be low: two atomic-ish operations per transaction
// lifetime, one RWMutex guarding both sets.
type VersionSet struct {
	mu         sync.RWMutex
	active     map[uint64]struct{}
	aborted    map[uint64]struct{}
	lastTxID   uint64
}

// NewVersionSet seeds the set from replay: every tx_id folded into
// aborted by Replay (including crash-before-commit transactions, see
// DESIGN.md open question #1) and the next tx_id to hand out.
func NewVersionSet(aborted map[uint64]struct{}, lastTxID uint64) *VersionSet {
	vs := &VersionSet{
		active:   make(map[uint64]struct{}),
		aborted:  make(map[uint64]struct{}, len(aborted)),
		lastTxID: lastTxID,
	}
	for tx := range aborted {
		vs.aborted[tx] = struct{}{}
	}
	return vs
}

// NewTransaction allocates the next tx_id and marks it active.
func (vs *VersionSet) NewTransaction() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	id := vs.lastTxID
	vs.lastTxID++
	vs.active[id] = struct{}{}
	return id
}

// Deactive removes tx from the active set after a successful Commit.
func (vs *VersionSet) Deactive(tx uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.active, tx)
}

// MoveToAbort removes tx from active and adds it to aborted.
func (vs *VersionSet) MoveToAbort(tx uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.active, tx)
	vs.aborted[tx] = struct{}{}
}

// IsVisible reports whether a version written by tx is visible to any
// reader that is not tx itself: neither active nor aborted.
func (vs *VersionSet) IsVisible(tx uint64) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if _, ok := vs.active[tx]; ok {
		return false
	}
	_, aborted := vs.aborted[tx]
	return !aborted
}

func (vs *VersionSet) IsActive(tx uint64) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	_, ok := vs.active[tx]
	return ok
}

func (vs *VersionSet) IsAborted(tx uint64) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	_, ok := vs.aborted[tx]
	return ok
}

// MinActive returns the smallest active tx_id, and false if none are
// active.
func (vs *VersionSet) MinActive() (uint64, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	min, ok := uint64(0), false
	for tx := range vs.active {
		if !ok || tx < min {
			min, ok = tx, true
		}
	}
	return min, ok
}

// CurrentVersion returns the next tx_id that would be handed out, used as
// the GC horizon when nothing is active.
func (vs *VersionSet) CurrentVersion() uint64 {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.lastTxID
}

// MinVersion is MinActive, or CurrentVersion when nothing is active: the
// GC pipeline's pruning horizon.
func (vs *VersionSet) MinVersion() uint64 {
	if min, ok := vs.MinActive(); ok {
		return min
	}
	return vs.CurrentVersion()
}

// RemoveAborted drops every aborted tx_id strictly below v, so the
// aborted set does not grow unboundedly once GC has purged those
// versions.
func (vs *VersionSet) RemoveAborted(v uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for tx := range vs.aborted {
		if tx < v {
			delete(vs.aborted, tx)
		}
	}
}
