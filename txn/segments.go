package txn

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nodb-engine/nodb/enginerr"
	"github.com/nodb-engine/nodb/storage"
)

// segmentDir implements storage.SegmentReader and hands out a
// storage.SegmentOpener, both bound to "<dir>/<prefix>.<seq>" files.
type segmentDir struct {
	dir    string
	prefix string
}

func (sd segmentDir) path(seq uint64) string {
	return filepath.Join(sd.dir, sd.prefix+"."+strconv.FormatUint(seq, 10))
}

// Opener returns a storage.SegmentOpener bound to this directory.
func (sd segmentDir) Opener() storage.SegmentOpener {
	return func(seq uint64) (storage.StorageFile, error) {
		f, err := os.OpenFile(sd.path(seq), os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, enginerr.Wrap("wal: open segment file", enginerr.IO, err)
		}
		return f, nil
	}
}

// Segments lists every "<prefix>.<seq>" file's sequence number present
// in the directory.
func (sd segmentDir) Segments() ([]uint64, error) {
	entries, err := os.ReadDir(sd.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, enginerr.Wrap("wal: list segments", enginerr.IO, err)
	}
	var segs []uint64
	want := sd.prefix + "."
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), want) {
			continue
		}
		seqStr := strings.TrimPrefix(e.Name(), want)
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, seq)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	return segs, nil
}

// Blocks reads every BlockSize-aligned chunk of segment seq's file.
func (sd segmentDir) Blocks(seq uint64) ([][]byte, error) {
	f, err := os.Open(sd.path(seq))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, enginerr.Wrap("wal: open segment for replay", enginerr.IO, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, enginerr.Wrap("wal: stat segment", enginerr.IO, err)
	}
	n := int(fi.Size() / storage.BlockSize)
	blocks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, storage.BlockSize)
		if _, err := f.ReadAt(buf, int64(i)*storage.BlockSize); err != nil {
			return nil, enginerr.Wrap("wal: read segment block", enginerr.IO, err)
		}
		blocks = append(blocks, buf)
	}
	return blocks, nil
}

// unlink removes segment seq's backing file; used once a checkpoint
// proves it redundant.
func (sd segmentDir) unlink(seq uint64) error {
	if err := os.Remove(sd.path(seq)); err != nil && !os.IsNotExist(err) {
		return enginerr.Wrap("wal: unlink segment", enginerr.IO, err)
	}
	return nil
}
