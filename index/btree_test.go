package index

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nodb-engine/nodb/storage"
	"github.com/rs/zerolog"
)

// bumpAllocator is a minimal PageAllocator for tests: every call returns
// the next unused page index, starting after the header/root pages New
// already consumed.
type bumpAllocator struct{ next uint32 }

func (a *bumpAllocator) Alloc() (uint32, error) {
	a.next++
	return a.next, nil
}

func newTestTree(t *testing.T) *BTree {
	t.Helper()
	dc := storage.NewDiskController(storage.NewMemFile(), storage.PageSize, 2, zerolog.Nop())
	t.Cleanup(func() { dc.Close() })
	bp := storage.NewBufferPool(dc, storage.BufferPoolConfig{ShardCount: 2, FrameCount: 64, IOThreads: 2})
	bt, err := New(1, bp, nil, &bumpAllocator{next: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bt
}

func alwaysVisible(uint64) bool { return true }
func neverVisible(uint64) bool  { return false }

func TestInsertThenGetVisible(t *testing.T) {
	bt := newTestTree(t)
	if err := bt.Insert(1, []byte("a"), []byte("alpha")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := bt.Get(1, []byte("a"), alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "alpha" {
		t.Fatalf("got %q, want alpha", got)
	}
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	bt := newTestTree(t)
	if _, err := bt.Get(1, []byte("nope"), alwaysVisible); err == nil {
		t.Fatal("expected NotFound for missing key")
	}
}

func TestInvisibleVersionNotReturned(t *testing.T) {
	bt := newTestTree(t)
	if err := bt.Insert(5, []byte("k"), []byte("v5")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// A reader whose snapshot predates tx 5 and isn't tx 5 itself should
	// not see the version.
	if _, err := bt.Get(1, []byte("k"), neverVisible); err == nil {
		t.Fatal("expected NotFound when the writing tx is not visible")
	}
}

func TestWriterSeesOwnUncommittedWrite(t *testing.T) {
	bt := newTestTree(t)
	if err := bt.Insert(7, []byte("k"), []byte("v7")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := bt.Get(7, []byte("k"), neverVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v7" {
		t.Fatalf("got %q, want v7", got)
	}
}

func TestDeleteTombstoneHidesValue(t *testing.T) {
	bt := newTestTree(t)
	if err := bt.Insert(1, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bt.Delete(2, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := bt.Get(1, []byte("k"), alwaysVisible); err == nil {
		t.Fatal("expected NotFound after a visible tombstone")
	}
}

func TestLatestVisibleVersionWins(t *testing.T) {
	bt := newTestTree(t)
	for i := uint64(1); i <= 3; i++ {
		if err := bt.Insert(i, []byte("k"), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	got, err := bt.Get(10, []byte("k"), alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v3" {
		t.Fatalf("got %q, want v3 (highest tx_id in ascending-order chain)", got)
	}
}

func TestInsertManyKeysForcesSplits(t *testing.T) {
	bt := newTestTree(t)
	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("val-%05d", i))
		if err := bt.Insert(1, key, val); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i += 37 {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("val-%05d", i)
		got, err := bt.Get(1, key, alwaysVisible)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestWalkVisitsEveryEntryInOrder(t *testing.T) {
	bt := newTestTree(t)
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("w-%05d", i))
		if err := bt.Insert(1, key, []byte("v")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	seen := map[string]bool{}
	var lastKey string
	err := bt.Walk(func(lv LeafView) error {
		for _, e := range lv.Entries {
			k := string(e.Key)
			if lastKey != "" && k < lastKey {
				t.Fatalf("Walk produced out-of-order keys: %q after %q", k, lastKey)
			}
			lastKey = k
			seen[k] = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(seen) != n {
		t.Fatalf("Walk visited %d distinct keys, want %d", len(seen), n)
	}
}

func TestRebuildLeafWithoutDropsOnlyNamedKeys(t *testing.T) {
	lv := LeafView{
		Index: 3,
		Entries: []LeafEntryView{
			{Key: []byte("a"), Pointer: 1},
			{Key: []byte("b"), Pointer: 2},
			{Key: []byte("c"), Pointer: 3},
		},
	}
	out := RebuildLeafWithout(lv, [][]byte{[]byte("b")})
	if len(out.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(out.Entries))
	}
	for _, e := range out.Entries {
		if string(e.Key) == "b" {
			t.Fatal("expected key b to be dropped")
		}
	}
}

func TestReadDataEntryVersionChainMatchesInsertOrder(t *testing.T) {
	bt := newTestTree(t)
	key := []byte("chained")
	if err := bt.Insert(1, key, []byte("v1")); err != nil {
		t.Fatalf("Insert v1: %v", err)
	}
	if err := bt.Insert(2, key, []byte("v2")); err != nil {
		t.Fatalf("Insert v2: %v", err)
	}
	if err := bt.Delete(3, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, leaf, err := bt.findLeaf(key)
	if err != nil {
		t.Fatalf("findLeaf: %v", err)
	}
	var ptr uint32
	for _, e := range leaf.Entries {
		if string(e.Key) == string(key) {
			ptr = e.Pointer
		}
	}
	if ptr == 0 {
		t.Fatal("expected to find the leaf entry for the chained key")
	}

	_, got, err := bt.ReadDataEntry(ptr)
	if err != nil {
		t.Fatalf("ReadDataEntry: %v", err)
	}
	want := []TxVersion{
		{TxID: 1, Data: []byte("v1")},
		{TxID: 2, Data: []byte("v2")},
		{TxID: 3, Tombstone: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("version chain mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendVersionGrowsChainOnOverflow(t *testing.T) {
	bt := newTestTree(t)
	key := []byte("big")
	big := make([]byte, storage.PageSize/2)
	for i := range big {
		big[i] = byte(i)
	}
	if err := bt.Insert(1, key, big); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// A second large version for the same key must spill into a second
	// chained data-entry page rather than overflow the first.
	if err := bt.Insert(2, key, big); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := bt.Get(10, key, alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != len(big) {
		t.Fatalf("got %d bytes, want %d", len(got), len(big))
	}
}
