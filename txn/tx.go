package txn

import (
	"fmt"
	"sync"

	"github.com/nodb-engine/nodb/enginerr"
	"github.com/nodb-engine/nodb/storage"
)

// Tx is a single MVCC transaction handle. Get/Insert/Delete are valid
// until Commit or Abort closes it; any call afterward returns
// enginerr.TransactionClosed.
type Tx struct {
	id  uint64
	eng *Engine

	mu     sync.Mutex
	closed bool
}

// ID returns the transaction's tx_id.
func (tx *Tx) ID() uint64 { return tx.id }

func (tx *Tx) checkOpen(op string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return enginerr.New(op, enginerr.TransactionClosed)
	}
	return nil
}

// Get returns the version of key visible to this transaction's snapshot,
// or enginerr.NotFound if no visible version exists (or the latest
// visible version is a tombstone).
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if err := tx.checkOpen("tx: get"); err != nil {
		return nil, err
	}
	return tx.eng.bt.Get(tx.id, key, tx.eng.vs.IsVisible)
}

// Insert writes a new version of key visible from tx.id onward.
func (tx *Tx) Insert(key, data []byte) error {
	if err := tx.checkOpen("tx: insert"); err != nil {
		return err
	}
	return tx.eng.keys.WithLock(string(key), func() error {
		return tx.eng.bt.Insert(tx.id, key, data)
	})
}

// Delete writes a tombstone version of key visible from tx.id onward.
func (tx *Tx) Delete(key []byte) error {
	if err := tx.checkOpen("tx: delete"); err != nil {
		return err
	}
	return tx.eng.keys.WithLock(string(key), func() error {
		return tx.eng.bt.Delete(tx.id, key)
	})
}

// Commit durably records the transaction as committed: it appends and
// fsyncs a Commit record before moving tx.id out of the active set, so
// a crash before the fsync returns leaves the transaction looking
// aborted on replay.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return enginerr.New("tx: commit", enginerr.TransactionClosed)
	}
	if _, err := tx.eng.wal.Append(tx.id, storage.OpCommit, nil); err != nil {
		return fmt.Errorf("tx: commit: append: %w", err)
	}
	if err := tx.eng.wal.Flush(); err != nil {
		return fmt.Errorf("tx: commit: flush: %w", err)
	}
	tx.eng.vs.Deactive(tx.id)
	tx.closed = true
	return nil
}

// Abort marks the transaction aborted; its versions become invisible to
// every reader and are reclaimed by a later GC sweep. No fsync wait is
// required since an un-flushed Abort is indistinguishable from a crash
// on replay, which already folds dangling Start records into aborted.
func (tx *Tx) Abort() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return enginerr.New("tx: abort", enginerr.TransactionClosed)
	}
	if _, err := tx.eng.wal.Append(tx.id, storage.OpAbort, nil); err != nil {
		return fmt.Errorf("tx: abort: append: %w", err)
	}
	tx.eng.vs.MoveToAbort(tx.id)
	tx.closed = true
	return nil
}
