package storage

import (
	"hash/crc32"

	"github.com/nodb-engine/nodb/enginerr"
)

// RecordOp tags a log record's operation.
type RecordOp byte

const (
	OpStart      RecordOp = 0
	OpCommit     RecordOp = 1
	OpAbort      RecordOp = 2
	OpCheckpoint RecordOp = 3
	OpInsert     RecordOp = 4
	OpFree       RecordOp = 5
)

// Record is one WAL entry: {log_id, tx_id, op}. Insert carries the full
// page image so replay can redo it byte-for-byte; Checkpoint carries the
// free-list head and the log_id horizon it supersedes.
type Record struct {
	LogID uint64
	TxID  uint64
	Op    RecordOp

	PageIndex     uint32 // Insert, Free
	PageBytes     [PageSize]byte // Insert
	LastFreeHead  uint64 // Checkpoint
	UpToLogID     uint64 // Checkpoint
}

// encodedSize returns the exact wire size of r, CRC included.
func (r *Record) encodedSize() int {
	base := 8 + 8 + 1 // log_id + tx_id + op_tag
	switch r.Op {
	case OpInsert:
		base += 8 + PageSize
	case OpFree:
		base += 8
	case OpCheckpoint:
		base += 8 + 8
	}
	return base + 4 // crc32
}

// encode appends the wire form of r to w, including a trailing CRC32 over
// everything written before it.
func (r *Record) encode(w *Writer) error {
	start := w.Offset()
	if err := w.WriteUint64(r.LogID); err != nil {
		return err
	}
	if err := w.WriteUint64(r.TxID); err != nil {
		return err
	}
	if err := w.WriteByte(byte(r.Op)); err != nil {
		return err
	}
	switch r.Op {
	case OpInsert:
		if err := w.WriteUint64(uint64(r.PageIndex)); err != nil {
			return err
		}
		if err := w.WriteBytes(r.PageBytes[:]); err != nil {
			return err
		}
	case OpFree:
		if err := w.WriteUint64(uint64(r.PageIndex)); err != nil {
			return err
		}
	case OpCheckpoint:
		if err := w.WriteUint64(r.LastFreeHead); err != nil {
			return err
		}
		if err := w.WriteUint64(r.UpToLogID); err != nil {
			return err
		}
	}
	sum := crc32.ChecksumIEEE(w.buf[start:w.Offset()])
	return w.WriteUint32(sum)
}

// decodeRecord reads one record from s, validating its trailing CRC32.
// A CRC mismatch or a truncated read both surface as InvalidFormat, which
// replay treats as "scan stops here" (a torn block).
func decodeRecord(s *Scanner) (Record, error) {
	start := s.Offset()
	var r Record
	var err error
	if r.LogID, err = s.ReadUint64(); err != nil {
		return r, err
	}
	if r.TxID, err = s.ReadUint64(); err != nil {
		return r, err
	}
	opByte, err := s.ReadByte()
	if err != nil {
		return r, err
	}
	r.Op = RecordOp(opByte)
	switch r.Op {
	case OpStart, OpCommit, OpAbort:
	case OpInsert:
		idx, err := s.ReadUint64()
		if err != nil {
			return r, err
		}
		r.PageIndex = uint32(idx)
		pb, err := s.ReadBytes(PageSize)
		if err != nil {
			return r, err
		}
		copy(r.PageBytes[:], pb)
	case OpFree:
		idx, err := s.ReadUint64()
		if err != nil {
			return r, err
		}
		r.PageIndex = uint32(idx)
	case OpCheckpoint:
		if r.LastFreeHead, err = s.ReadUint64(); err != nil {
			return r, err
		}
		if r.UpToLogID, err = s.ReadUint64(); err != nil {
			return r, err
		}
	default:
		return r, enginerr.New("wal: decode", enginerr.InvalidFormat)
	}
	body := s.buf[start:s.Offset()]
	wantSum, err := s.ReadUint32()
	if err != nil {
		return r, err
	}
	if crc32.ChecksumIEEE(body) != wantSum {
		return r, enginerr.New("wal: decode: crc mismatch", enginerr.InvalidFormat)
	}
	return r, nil
}

// blockHeaderSize is the fixed prefix on every 16 KiB block: a complete
// flag and the number of packed-record bytes that follow.
const blockHeaderSize = 1 + 2

// encodeBlock packs recs into a BlockSize buffer and reports whether all
// of recs fit (complete) or the caller must start a new block for the
// remainder (starting at the returned index into recs).
func encodeBlock(recs []Record) (block [BlockSize]byte, consumed int, complete bool) {
	w := NewWriter(block[blockHeaderSize:])
	for i, r := range recs {
		if r.encodedSize() > w.Remaining() {
			consumed = i
			writeBlockHeader(block[:], w.Offset(), false)
			return block, consumed, false
		}
		if err := r.encode(w); err != nil {
			consumed = i
			writeBlockHeader(block[:], w.Offset(), false)
			return block, consumed, false
		}
	}
	writeBlockHeader(block[:], w.Offset(), true)
	return block, len(recs), true
}

func writeBlockHeader(block []byte, usedLen int, complete bool) {
	if complete {
		block[0] = 1
	} else {
		block[0] = 0
	}
	block[1] = byte(usedLen >> 8)
	block[2] = byte(usedLen)
}

// decodeBlock returns every record packed into block. Decode stops (and
// returns what it has, reported as not complete) the moment a record
// fails to decode, which is how a torn block from a crash mid-write is
// detected during replay.
func decodeBlock(block []byte) (recs []Record, complete bool) {
	usedLen := int(block[1])<<8 | int(block[2])
	complete = block[0] == 1
	if usedLen > len(block)-blockHeaderSize {
		usedLen = len(block) - blockHeaderSize
	}
	s := NewScanner(block[blockHeaderSize : blockHeaderSize+usedLen])
	for s.Remaining() > 0 {
		r, err := decodeRecord(s)
		if err != nil {
			complete = false
			break
		}
		recs = append(recs, r)
	}
	return recs, complete
}
