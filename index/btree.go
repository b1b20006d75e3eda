// Package index implements the key-ordered Blink-tree that maps keys to
// version-chain page pointers, backed by the storage package's buffer
// pool and write-ahead log.
package index

import (
	"bytes"
	"sort"

	"github.com/nodb-engine/nodb/enginerr"
	"github.com/nodb-engine/nodb/storage"
)

// HeaderIndex is the fixed page index of the tree's header page.
const HeaderIndex uint32 = 0

const (
	nodeKindInternal byte = 0
	nodeKindLeaf     byte = 1
)

// versionKind tags one entry in a data-entry page's version chain.
const (
	versionData      byte = 0
	versionTombstone byte = 1
)

// PageAllocator is the subset of the free-list surface the index needs:
// a source of fresh or reclaimed page indices. txn.FreeList implements
// this; index never imports txn, avoiding a cycle.
type PageAllocator interface {
	Alloc() (uint32, error)
}

// BTree is the Blink-tree index: header page at HeaderIndex, internal
// and leaf nodes chained through the buffer pool, data-entry pages
// holding MVCC version chains.
type BTree struct {
	bp  *storage.BufferPool
	wal *storage.Writer
	pa  PageAllocator
}

// Open wraps an already-bootstrapped header page (created by New on an
// empty file and persisted since).
func Open(bp *storage.BufferPool, wal *storage.Writer, pa PageAllocator) *BTree {
	return &BTree{bp: bp, wal: wal, pa: pa}
}

// New creates a header page and an empty root leaf. Callers must confirm
// the backing file is empty first (storage.BufferPool.IsEmpty).
func New(txID uint64, bp *storage.BufferPool, wal *storage.Writer, pa PageAllocator) (*BTree, error) {
	bt := &BTree{bp: bp, wal: wal, pa: pa}
	rootIdx, err := pa.Alloc()
	if err != nil {
		return nil, enginerr.Wrap("btree: new: alloc root", enginerr.IO, err)
	}
	if err := bt.writeLeaf(txID, rootIdx, leafNode{}); err != nil {
		return nil, err
	}
	if err := bt.writeHeader(txID, HeaderIndex, rootIdx); err != nil {
		return nil, err
	}
	return bt, nil
}

// ---- node shapes ----

type leafEntry struct {
	Key     []byte
	Pointer uint32
}

type leafNode struct {
	Prev, Next uint32
	Entries    []leafEntry
}

type internalNode struct {
	HasRight    bool
	RightPtr    uint32
	RightHigh   []byte
	Keys        [][]byte
	Children    []uint32 // len == len(Keys)+1
}

func nodeKind(p *storage.Page) byte { return p.Data[1] }

func decodeLeaf(p *storage.Page) (leafNode, error) {
	s := storage.NewScanner(p.Data[:])
	if err := storage.CheckTag(s, "btree: decode leaf", storage.PageTypeIndexNode); err != nil {
		return leafNode{}, err
	}
	if _, err := s.ReadByte(); err != nil { // kind byte, already known leaf
		return leafNode{}, err
	}
	var n leafNode
	var err error
	if n.Prev, err = s.ReadUint32(); err != nil {
		return leafNode{}, err
	}
	if n.Next, err = s.ReadUint32(); err != nil {
		return leafNode{}, err
	}
	count, err := s.ReadUint16()
	if err != nil {
		return leafNode{}, err
	}
	n.Entries = make([]leafEntry, 0, count)
	for i := 0; i < int(count); i++ {
		key, err := s.ReadBlob()
		if err != nil {
			return leafNode{}, err
		}
		ptr, err := s.ReadUint32()
		if err != nil {
			return leafNode{}, err
		}
		n.Entries = append(n.Entries, leafEntry{Key: key, Pointer: ptr})
	}
	return n, nil
}

func (bt *BTree) writeLeaf(txID uint64, index uint32, n leafNode) error {
	slot, err := bt.bp.Write(index)
	if err != nil {
		return enginerr.Wrap("btree: write leaf", enginerr.IO, err)
	}
	page := slot.Page()
	w := storage.NewWriter(page.Data[:])
	if err := encodeLeaf(w, n); err != nil {
		slot.Release()
		return enginerr.Wrap("btree: encode leaf", enginerr.InvalidFormat, err)
	}
	if err := bt.logInsert(txID, index, page); err != nil {
		slot.Release()
		return err
	}
	slot.Release()
	return slot.Err()
}

func encodeLeaf(w *storage.Writer, n leafNode) error {
	if err := w.WriteByte(byte(storage.PageTypeIndexNode)); err != nil {
		return err
	}
	if err := w.WriteByte(nodeKindLeaf); err != nil {
		return err
	}
	if err := w.WriteUint32(n.Prev); err != nil {
		return err
	}
	if err := w.WriteUint32(n.Next); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(len(n.Entries))); err != nil {
		return err
	}
	for _, e := range n.Entries {
		if err := w.WriteBlob(e.Key); err != nil {
			return err
		}
		if err := w.WriteUint32(e.Pointer); err != nil {
			return err
		}
	}
	return nil
}

func decodeInternal(p *storage.Page) (internalNode, error) {
	s := storage.NewScanner(p.Data[:])
	if err := storage.CheckTag(s, "btree: decode internal", storage.PageTypeIndexNode); err != nil {
		return internalNode{}, err
	}
	if _, err := s.ReadByte(); err != nil {
		return internalNode{}, err
	}
	var n internalNode
	hasRight, err := s.ReadByte()
	if err != nil {
		return internalNode{}, err
	}
	n.HasRight = hasRight != 0
	if n.RightPtr, err = s.ReadUint32(); err != nil {
		return internalNode{}, err
	}
	if n.RightHigh, err = s.ReadBlob(); err != nil {
		return internalNode{}, err
	}
	count, err := s.ReadUint16()
	if err != nil {
		return internalNode{}, err
	}
	child0, err := s.ReadUint32()
	if err != nil {
		return internalNode{}, err
	}
	n.Children = append(n.Children, child0)
	for i := 0; i < int(count); i++ {
		key, err := s.ReadBlob()
		if err != nil {
			return internalNode{}, err
		}
		child, err := s.ReadUint32()
		if err != nil {
			return internalNode{}, err
		}
		n.Keys = append(n.Keys, key)
		n.Children = append(n.Children, child)
	}
	return n, nil
}

func encodeInternal(w *storage.Writer, n internalNode) error {
	if err := w.WriteByte(byte(storage.PageTypeIndexNode)); err != nil {
		return err
	}
	if err := w.WriteByte(nodeKindInternal); err != nil {
		return err
	}
	var hasRight byte
	if n.HasRight {
		hasRight = 1
	}
	if err := w.WriteByte(hasRight); err != nil {
		return err
	}
	if err := w.WriteUint32(n.RightPtr); err != nil {
		return err
	}
	if err := w.WriteBlob(n.RightHigh); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(len(n.Keys))); err != nil {
		return err
	}
	if err := w.WriteUint32(n.Children[0]); err != nil {
		return err
	}
	for i, k := range n.Keys {
		if err := w.WriteBlob(k); err != nil {
			return err
		}
		if err := w.WriteUint32(n.Children[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (bt *BTree) writeInternal(txID uint64, index uint32, n internalNode) error {
	slot, err := bt.bp.Write(index)
	if err != nil {
		return enginerr.Wrap("btree: write internal", enginerr.IO, err)
	}
	page := slot.Page()
	w := storage.NewWriter(page.Data[:])
	if err := encodeInternal(w, n); err != nil {
		slot.Release()
		return enginerr.Wrap("btree: encode internal", enginerr.InvalidFormat, err)
	}
	if err := bt.logInsert(txID, index, page); err != nil {
		slot.Release()
		return err
	}
	slot.Release()
	return slot.Err()
}

func (bt *BTree) readHeader() (uint32, error) {
	slot, err := bt.bp.Read(HeaderIndex)
	if err != nil {
		return 0, enginerr.Wrap("btree: read header", enginerr.IO, err)
	}
	defer slot.Release()
	s := storage.NewScanner(slot.Page().Data[:])
	if err := storage.CheckTag(s, "btree: decode header", storage.PageTypeHeader); err != nil {
		return 0, err
	}
	return s.ReadUint32()
}

func (bt *BTree) writeHeader(txID uint64, index, root uint32) error {
	slot, err := bt.bp.Write(index)
	if err != nil {
		return enginerr.Wrap("btree: write header", enginerr.IO, err)
	}
	page := slot.Page()
	w := storage.NewWriter(page.Data[:])
	if err := w.WriteByte(byte(storage.PageTypeHeader)); err != nil {
		slot.Release()
		return err
	}
	if err := w.WriteUint32(root); err != nil {
		slot.Release()
		return err
	}
	if err := bt.logInsert(txID, index, page); err != nil {
		slot.Release()
		return err
	}
	slot.Release()
	return slot.Err()
}

// logInsert emits the INSERT WAL record for a page before its write-slot
// is dropped, per the append-before-commit-to-memory ordering.
func (bt *BTree) logInsert(txID uint64, index uint32, page *storage.Page) error {
	if bt.wal == nil {
		return nil
	}
	_, err := bt.wal.Append(txID, storage.OpInsert, func(r *storage.Record) {
		r.PageIndex = index
		r.PageBytes = page.Data
	})
	if err != nil {
		return enginerr.Wrap("btree: wal append", enginerr.IO, err)
	}
	return nil
}

// ---- data-entry pages ----

type version struct {
	TxID uint64
	Kind byte
	Data []byte
}

type dataEntry struct {
	Next     uint32
	Versions []version
}

func decodeDataEntry(p *storage.Page) (dataEntry, error) {
	s := storage.NewScanner(p.Data[:])
	if err := storage.CheckTag(s, "btree: decode data entry", storage.PageTypeDataEntry); err != nil {
		return dataEntry{}, err
	}
	var d dataEntry
	var err error
	if d.Next, err = s.ReadUint32(); err != nil {
		return dataEntry{}, err
	}
	count, err := s.ReadUint16()
	if err != nil {
		return dataEntry{}, err
	}
	for i := 0; i < int(count); i++ {
		var v version
		if v.TxID, err = s.ReadUint64(); err != nil {
			return dataEntry{}, err
		}
		if v.Kind, err = s.ReadByte(); err != nil {
			return dataEntry{}, err
		}
		if v.Kind == versionData {
			if v.Data, err = s.ReadBlob(); err != nil {
				return dataEntry{}, err
			}
		}
		d.Versions = append(d.Versions, v)
	}
	return d, nil
}

func encodedDataEntrySize(d dataEntry) int {
	size := 1 + 4 + 2
	for _, v := range d.Versions {
		size += 8 + 1
		if v.Kind == versionData {
			size += 4 + len(v.Data)
		}
	}
	return size
}

func (bt *BTree) writeDataEntry(txID uint64, index uint32, d dataEntry) error {
	slot, err := bt.bp.Write(index)
	if err != nil {
		return enginerr.Wrap("btree: write data entry", enginerr.IO, err)
	}
	page := slot.Page()
	w := storage.NewWriter(page.Data[:])
	if err := w.WriteByte(byte(storage.PageTypeDataEntry)); err != nil {
		slot.Release()
		return err
	}
	if err := w.WriteUint32(d.Next); err != nil {
		slot.Release()
		return err
	}
	if err := w.WriteUint16(uint16(len(d.Versions))); err != nil {
		slot.Release()
		return err
	}
	for _, v := range d.Versions {
		if err := w.WriteUint64(v.TxID); err != nil {
			slot.Release()
			return err
		}
		if err := w.WriteByte(v.Kind); err != nil {
			slot.Release()
			return err
		}
		if v.Kind == versionData {
			if err := w.WriteBlob(v.Data); err != nil {
				slot.Release()
				return err
			}
		}
	}
	if err := bt.logInsert(txID, index, page); err != nil {
		slot.Release()
		return err
	}
	slot.Release()
	return slot.Err()
}

// ---- search ----

func (bt *BTree) findLeaf(key []byte) (uint32, leafNode, error) {
	idx, err := bt.readHeader()
	if err != nil {
		return 0, leafNode{}, err
	}
	for {
		slot, err := bt.bp.Read(idx)
		if err != nil {
			return 0, leafNode{}, enginerr.Wrap("btree: find leaf", enginerr.IO, err)
		}
		page := slot.Page()
		kind := nodeKind(page)
		if kind == nodeKindLeaf {
			n, err := decodeLeaf(page)
			slot.Release()
			if err != nil {
				return 0, leafNode{}, err
			}
			return idx, n, nil
		}
		n, err := decodeInternal(page)
		slot.Release()
		if err != nil {
			return 0, leafNode{}, err
		}
		idx = descendInternal(n, key)
	}
}

func descendInternal(n internalNode, key []byte) uint32 {
	if n.HasRight && bytes.Compare(n.RightHigh, key) <= 0 {
		return n.RightPtr
	}
	i := sort.Search(len(n.Keys), func(i int) bool { return bytes.Compare(n.Keys[i], key) > 0 })
	return n.Children[i]
}

// Get returns the most recent version of key visible to readerTx: either
// readerTx itself wrote it, or isVisible(tx_id) says so. A Tombstone
// version short-circuits to NotFound even if an older Data version would
// otherwise have matched.
func (bt *BTree) Get(readerTx uint64, key []byte, isVisible func(tx uint64) bool) ([]byte, error) {
	idx, leaf, err := bt.findLeaf(key)
	if err != nil {
		return nil, err
	}
	for {
		i := sort.Search(len(leaf.Entries), func(i int) bool { return bytes.Compare(leaf.Entries[i].Key, key) >= 0 })
		if i < len(leaf.Entries) && bytes.Equal(leaf.Entries[i].Key, key) {
			return bt.scanVersions(leaf.Entries[i].Pointer, readerTx, isVisible)
		}
		if i == len(leaf.Entries) && leaf.Next != 0 {
			idx = leaf.Next
			slot, err := bt.bp.Read(idx)
			if err != nil {
				return nil, enginerr.Wrap("btree: get: hop leaf", enginerr.IO, err)
			}
			leaf, err = decodeLeaf(slot.Page())
			slot.Release()
			if err != nil {
				return nil, err
			}
			continue
		}
		return nil, enginerr.New("btree: get", enginerr.NotFound)
	}
}

func (bt *BTree) scanVersions(entryPtr uint32, readerTx uint64, isVisible func(tx uint64) bool) ([]byte, error) {
	var latest *version
	idx := entryPtr
	for idx != 0 {
		slot, err := bt.bp.Read(idx)
		if err != nil {
			return nil, enginerr.Wrap("btree: scan versions", enginerr.IO, err)
		}
		d, err := decodeDataEntry(slot.Page())
		slot.Release()
		if err != nil {
			return nil, err
		}
		for i := range d.Versions {
			v := &d.Versions[i]
			if v.TxID == readerTx || isVisible(v.TxID) {
				latest = v
			}
		}
		idx = d.Next
	}
	if latest == nil || latest.Kind == versionTombstone {
		return nil, enginerr.New("btree: get", enginerr.NotFound)
	}
	return latest.Data, nil
}

// ---- insert ----

// stackEntry records one internal node visited while descending, for
// bottom-up split propagation.
type stackEntry struct {
	index uint32
	node  internalNode
}

// Insert writes a new version of key, allocating a fresh data-entry
// chain head (and leaf slot) if key is absent.
func (bt *BTree) Insert(txID uint64, key, data []byte) error {
	return bt.put(txID, key, version{TxID: txID, Kind: versionData, Data: data})
}

// Delete writes a Tombstone version for key; a no-op taxonomy-wise if
// key was never present (a Tombstone is still recorded, matching
// insert-or-update semantics — GC later prunes it once invisible).
func (bt *BTree) Delete(txID uint64, key []byte) error {
	return bt.put(txID, key, version{TxID: txID, Kind: versionTombstone})
}

func (bt *BTree) put(txID uint64, key []byte, v version) error {
	rootIdx, err := bt.readHeader()
	if err != nil {
		return err
	}
	var stack []stackEntry
	idx := rootIdx
	for {
		slot, err := bt.bp.Read(idx)
		if err != nil {
			return enginerr.Wrap("btree: insert: descend", enginerr.IO, err)
		}
		page := slot.Page()
		if nodeKind(page) == nodeKindLeaf {
			slot.Release()
			break
		}
		n, err := decodeInternal(page)
		slot.Release()
		if err != nil {
			return err
		}
		stack = append(stack, stackEntry{index: idx, node: n})
		idx = descendInternal(n, key)
	}

	split, err := bt.insertIntoLeaf(txID, idx, key, v)
	if err != nil {
		return err
	}
	for split != nil && len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		split, err = bt.insertIntoInternal(txID, parent.index, parent.node, *split)
		if err != nil {
			return err
		}
	}
	if split != nil {
		return bt.growRoot(txID, rootIdx, *split)
	}
	return nil
}

// splitUp is what a child split hands its parent: the separating key and
// the new right sibling's page index.
type splitUp struct {
	key     []byte
	rightID uint32
}

func (bt *BTree) insertIntoLeaf(txID uint64, index uint32, key []byte, v version) (*splitUp, error) {
	slot, err := bt.bp.Read(index)
	if err != nil {
		return nil, enginerr.Wrap("btree: insert leaf", enginerr.IO, err)
	}
	leaf, err := decodeLeaf(slot.Page())
	slot.Release()
	if err != nil {
		return nil, err
	}

	i := sort.Search(len(leaf.Entries), func(i int) bool { return bytes.Compare(leaf.Entries[i].Key, key) >= 0 })
	if i < len(leaf.Entries) && bytes.Equal(leaf.Entries[i].Key, key) {
		return nil, bt.appendVersion(txID, leaf.Entries[i].Pointer, v)
	}

	entryIdx, err := bt.pa.Alloc()
	if err != nil {
		return nil, enginerr.Wrap("btree: insert leaf: alloc entry", enginerr.IO, err)
	}
	if err := bt.writeDataEntry(txID, entryIdx, dataEntry{Versions: []version{v}}); err != nil {
		return nil, err
	}

	leaf.Entries = append(leaf.Entries, leafEntry{})
	copy(leaf.Entries[i+1:], leaf.Entries[i:])
	leaf.Entries[i] = leafEntry{Key: append([]byte(nil), key...), Pointer: entryIdx}

	if !leafOverflows(leaf) {
		return nil, bt.writeLeaf(txID, index, leaf)
	}
	return bt.splitLeaf(txID, index, leaf)
}

func leafOverflows(n leafNode) bool {
	size := 1 + 1 + 4 + 4 + 2
	for _, e := range n.Entries {
		size += 4 + len(e.Key) + 4
	}
	return size > storage.PageSize
}

func (bt *BTree) splitLeaf(txID uint64, index uint32, leaf leafNode) (*splitUp, error) {
	mid := len(leaf.Entries) / 2
	left := leafNode{Prev: leaf.Prev, Entries: leaf.Entries[:mid]}
	right := leafNode{Entries: append([]leafEntry(nil), leaf.Entries[mid:]...), Next: leaf.Next}

	rightIdx, err := bt.pa.Alloc()
	if err != nil {
		return nil, enginerr.Wrap("btree: split leaf: alloc", enginerr.IO, err)
	}
	left.Next = rightIdx
	right.Prev = index

	if leaf.Next != 0 {
		if err := bt.relinkLeafPrev(txID, leaf.Next, rightIdx); err != nil {
			return nil, err
		}
	}
	if err := bt.writeLeaf(txID, rightIdx, right); err != nil {
		return nil, err
	}
	if err := bt.writeLeaf(txID, index, left); err != nil {
		return nil, err
	}
	return &splitUp{key: right.Entries[0].Key, rightID: rightIdx}, nil
}

func (bt *BTree) relinkLeafPrev(txID uint64, leafIdx, newPrev uint32) error {
	slot, err := bt.bp.Read(leafIdx)
	if err != nil {
		return enginerr.Wrap("btree: relink leaf", enginerr.IO, err)
	}
	n, err := decodeLeaf(slot.Page())
	slot.Release()
	if err != nil {
		return err
	}
	n.Prev = newPrev
	return bt.writeLeaf(txID, leafIdx, n)
}

func (bt *BTree) insertIntoInternal(txID uint64, index uint32, n internalNode, split splitUp) (*splitUp, error) {
	i := sort.Search(len(n.Keys), func(i int) bool { return bytes.Compare(n.Keys[i], split.key) > 0 })
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = split.key

	n.Children = append(n.Children, 0)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = split.rightID

	if !internalOverflows(n) {
		return nil, bt.writeInternal(txID, index, n)
	}
	return bt.splitInternal(txID, index, n)
}

func internalOverflows(n internalNode) bool {
	size := 1 + 1 + 1 + 4 + 4 + len(n.RightHigh) + 2 + 4
	for _, k := range n.Keys {
		size += 4 + len(k) + 4
	}
	return size > storage.PageSize
}

func (bt *BTree) splitInternal(txID uint64, index uint32, n internalNode) (*splitUp, error) {
	mid := len(n.Keys) / 2
	pushUp := n.Keys[mid]

	left := internalNode{
		Keys:     append([][]byte(nil), n.Keys[:mid]...),
		Children: append([]uint32(nil), n.Children[:mid+1]...),
	}
	right := internalNode{
		Keys:     append([][]byte(nil), n.Keys[mid+1:]...),
		Children: append([]uint32(nil), n.Children[mid+1:]...),
		HasRight: n.HasRight,
		RightPtr: n.RightPtr,
		RightHigh: n.RightHigh,
	}

	rightIdx, err := bt.pa.Alloc()
	if err != nil {
		return nil, enginerr.Wrap("btree: split internal: alloc", enginerr.IO, err)
	}
	left.HasRight = true
	left.RightPtr = rightIdx
	left.RightHigh = pushUp

	if err := bt.writeInternal(txID, rightIdx, right); err != nil {
		return nil, err
	}
	if err := bt.writeInternal(txID, index, left); err != nil {
		return nil, err
	}
	return &splitUp{key: pushUp, rightID: rightIdx}, nil
}

func (bt *BTree) growRoot(txID uint64, oldRoot uint32, split splitUp) error {
	newRootIdx, err := bt.pa.Alloc()
	if err != nil {
		return enginerr.Wrap("btree: grow root: alloc", enginerr.IO, err)
	}
	newRoot := internalNode{
		Keys:     [][]byte{split.key},
		Children: []uint32{oldRoot, split.rightID},
	}
	if err := bt.writeInternal(txID, newRootIdx, newRoot); err != nil {
		return err
	}
	return bt.writeHeader(txID, HeaderIndex, newRootIdx)
}

// appendVersion adds v to the tail data-entry page of the chain rooted
// at entryIdx, spilling to a freshly allocated page if the tail would
// overflow PAGE_SIZE.
func (bt *BTree) appendVersion(txID uint64, entryIdx uint32, v version) error {
	idx := entryIdx
	for {
		slot, err := bt.bp.Read(idx)
		if err != nil {
			return enginerr.Wrap("btree: append version", enginerr.IO, err)
		}
		d, err := decodeDataEntry(slot.Page())
		slot.Release()
		if err != nil {
			return err
		}
		if d.Next != 0 {
			idx = d.Next
			continue
		}
		d.Versions = append(d.Versions, v)
		if encodedDataEntrySize(d) <= storage.PageSize {
			return bt.writeDataEntry(txID, idx, d)
		}
		// Overflow: move v alone to a fresh chained page.
		d.Versions = d.Versions[:len(d.Versions)-1]
		nextIdx, err := bt.pa.Alloc()
		if err != nil {
			return enginerr.Wrap("btree: append version: alloc", enginerr.IO, err)
		}
		d.Next = nextIdx
		if err := bt.writeDataEntry(txID, idx, d); err != nil {
			return err
		}
		return bt.writeDataEntry(txID, nextIdx, dataEntry{Versions: []version{v}})
	}
}

// LeafEntryView is the GC-facing, exported view of one leaf entry.
type LeafEntryView struct {
	Key     []byte
	Pointer uint32
}

// LeafView is the GC-facing, exported view of a leaf's contents, used so
// package txn's GC pipeline can walk and rewrite leaves without reaching
// into the unexported leafNode/leafEntry types.
type LeafView struct {
	Index      uint32
	Prev, Next uint32
	Entries    []LeafEntryView
}

func toLeafView(idx uint32, n leafNode) LeafView {
	lv := LeafView{Index: idx, Prev: n.Prev, Next: n.Next}
	for _, e := range n.Entries {
		lv.Entries = append(lv.Entries, LeafEntryView{Key: e.Key, Pointer: e.Pointer})
	}
	return lv
}

func fromLeafView(lv LeafView) leafNode {
	n := leafNode{Prev: lv.Prev, Next: lv.Next}
	for _, e := range lv.Entries {
		n.Entries = append(n.Entries, leafEntry{Key: e.Key, Pointer: e.Pointer})
	}
	return n
}

// Walk invokes fn for every leaf from left to right, used by the GC main
// loop to traverse the whole key space.
func (bt *BTree) Walk(fn func(LeafView) error) error {
	root, err := bt.readHeader()
	if err != nil {
		return err
	}
	idx := root
	for {
		slot, err := bt.bp.Read(idx)
		if err != nil {
			return enginerr.Wrap("btree: walk", enginerr.IO, err)
		}
		page := slot.Page()
		if nodeKind(page) == nodeKindLeaf {
			slot.Release()
			break
		}
		n, err := decodeInternal(page)
		slot.Release()
		if err != nil {
			return err
		}
		idx = n.Children[0]
	}
	for idx != 0 {
		slot, err := bt.bp.Read(idx)
		if err != nil {
			return enginerr.Wrap("btree: walk", enginerr.IO, err)
		}
		n, err := decodeLeaf(slot.Page())
		slot.Release()
		if err != nil {
			return err
		}
		if err := fn(toLeafView(idx, n)); err != nil {
			return err
		}
		idx = n.Next
	}
	return nil
}

// RewriteLeaf persists lv at its Index without the WAL txID path used by
// user transactions; GC runs under its own reserved tx_id so its page
// rewrites are still redo-logged like any other page write.
func (bt *BTree) RewriteLeaf(gcTxID uint64, lv LeafView) error {
	return bt.writeLeaf(gcTxID, lv.Index, fromLeafView(lv))
}

// RebuildLeafWithout returns a copy of lv with every entry whose key
// appears in drop removed, preserving prev/next/index and entry order.
// Used by the GC main loop after Check reports a key's version chain
// collapsed to nothing.
func RebuildLeafWithout(lv LeafView, drop [][]byte) LeafView {
	out := LeafView{Index: lv.Index, Prev: lv.Prev, Next: lv.Next}
	for _, e := range lv.Entries {
		dropped := false
		for _, d := range drop {
			if bytes.Equal(e.Key, d) {
				dropped = true
				break
			}
		}
		if !dropped {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// ReadDataEntry exposes decodeDataEntry for the GC pipeline.
func (bt *BTree) ReadDataEntry(idx uint32) (next uint32, versions []TxVersion, err error) {
	slot, err := bt.bp.Read(idx)
	if err != nil {
		return 0, nil, enginerr.Wrap("btree: read data entry", enginerr.IO, err)
	}
	d, err := decodeDataEntry(slot.Page())
	slot.Release()
	if err != nil {
		return 0, nil, err
	}
	out := make([]TxVersion, len(d.Versions))
	for i, v := range d.Versions {
		out[i] = TxVersion{TxID: v.TxID, Tombstone: v.Kind == versionTombstone, Data: v.Data}
	}
	return d.Next, out, nil
}

// WriteDataEntry exposes writeDataEntry for the GC pipeline, which
// rewrites a pruned version list back in place.
func (bt *BTree) WriteDataEntry(gcTxID uint64, idx uint32, next uint32, versions []TxVersion) error {
	d := dataEntry{Next: next}
	for _, v := range versions {
		kind := versionData
		if v.Tombstone {
			kind = versionTombstone
		}
		d.Versions = append(d.Versions, version{TxID: v.TxID, Kind: kind, Data: v.Data})
	}
	return bt.writeDataEntry(gcTxID, idx, d)
}

// TxVersion is the GC-facing view of one version-chain entry.
type TxVersion struct {
	TxID      uint64
	Tombstone bool
	Data      []byte
}
