// Package storage implements the disk-resident building blocks of the
// engine: the page codec, the thread-pooled disk controller, the
// segmented buffer pool, and the write-ahead log. Higher-level
// transaction semantics live in package txn.
package storage

import (
	"encoding/binary"

	"github.com/nodb-engine/nodb/enginerr"
)

// PageSize is the fixed size of a data page in bytes.
const PageSize = 4096

// BlockSize is the fixed size of a WAL block in bytes.
const BlockSize = 16384

// PageType identifies the payload tag stored in byte 0 of a page.
type PageType byte

const (
	PageTypeHeader    PageType = 1
	PageTypeIndexNode PageType = 2
	PageTypeDataEntry PageType = 3
	PageTypeFree      PageType = 4
)

// Page is a fixed 4 KiB byte container. Pages are byte-wise copyable;
// buffers handed back by the page pool are not zeroed on release, so a
// reader must not trust bytes beyond what it itself wrote or what a
// deserialize call consumed.
type Page struct {
	Data [PageSize]byte
}

// Type returns the page's type tag (byte 0).
func (p *Page) Type() PageType { return PageType(p.Data[0]) }

// Serializable is implemented by every on-disk structure that round-trips
// through a Page. Serialize must write the type tag as the first byte;
// Deserialize must verify it and fail with InvalidFormat on mismatch.
type Serializable interface {
	Serialize(p *Page) error
	Deserialize(p *Page) error
}

// Writer is an append-only big-endian cursor over a fixed-size buffer. It
// fails with EOF the instant a write would run past the end of the
// buffer. Each fixed-width write is all-or-nothing; WriteBlob may leave
// its length prefix written when the payload itself does not fit.
type Writer struct {
	buf []byte
	off int
}

// NewWriter wraps buf (typically page.Data[:]) for sequential writes
// starting at offset 0.
func NewWriter(buf []byte) *Writer { return &Writer{buf: buf} }

func (w *Writer) remaining() int { return len(w.buf) - w.off }

func (w *Writer) WriteByte(b byte) error {
	if w.remaining() < 1 {
		return enginerr.New("page.Writer.WriteByte", enginerr.EOF)
	}
	w.buf[w.off] = b
	w.off++
	return nil
}

func (w *Writer) WriteUint16(v uint16) error {
	if w.remaining() < 2 {
		return enginerr.New("page.Writer.WriteUint16", enginerr.EOF)
	}
	binary.BigEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
	return nil
}

func (w *Writer) WriteUint32(v uint32) error {
	if w.remaining() < 4 {
		return enginerr.New("page.Writer.WriteUint32", enginerr.EOF)
	}
	binary.BigEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
	return nil
}

func (w *Writer) WriteUint64(v uint64) error {
	if w.remaining() < 8 {
		return enginerr.New("page.Writer.WriteUint64", enginerr.EOF)
	}
	binary.BigEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
	return nil
}

// WriteBytes copies b verbatim; it does not write a length prefix.
func (w *Writer) WriteBytes(b []byte) error {
	if w.remaining() < len(b) {
		return enginerr.New("page.Writer.WriteBytes", enginerr.EOF)
	}
	copy(w.buf[w.off:], b)
	w.off += len(b)
	return nil
}

// WriteBlob writes a uint32 length prefix followed by the bytes.
func (w *Writer) WriteBlob(b []byte) error {
	if err := w.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// Offset returns the writer's current cursor position.
func (w *Writer) Offset() int { return w.off }

// Remaining reports how many bytes may still be written.
func (w *Writer) Remaining() int { return w.remaining() }

// Scanner is a sequential big-endian read cursor. It fails with EOF when
// advancing past the end of the buffer.
type Scanner struct {
	buf []byte
	off int
}

func NewScanner(buf []byte) *Scanner { return &Scanner{buf: buf} }

func (s *Scanner) remaining() int { return len(s.buf) - s.off }

func (s *Scanner) ReadByte() (byte, error) {
	if s.remaining() < 1 {
		return 0, enginerr.New("page.Scanner.ReadByte", enginerr.EOF)
	}
	b := s.buf[s.off]
	s.off++
	return b, nil
}

func (s *Scanner) ReadUint16() (uint16, error) {
	if s.remaining() < 2 {
		return 0, enginerr.New("page.Scanner.ReadUint16", enginerr.EOF)
	}
	v := binary.BigEndian.Uint16(s.buf[s.off:])
	s.off += 2
	return v, nil
}

func (s *Scanner) ReadUint32() (uint32, error) {
	if s.remaining() < 4 {
		return 0, enginerr.New("page.Scanner.ReadUint32", enginerr.EOF)
	}
	v := binary.BigEndian.Uint32(s.buf[s.off:])
	s.off += 4
	return v, nil
}

func (s *Scanner) ReadUint64() (uint64, error) {
	if s.remaining() < 8 {
		return 0, enginerr.New("page.Scanner.ReadUint64", enginerr.EOF)
	}
	v := binary.BigEndian.Uint64(s.buf[s.off:])
	s.off += 8
	return v, nil
}

// ReadBytes returns a copy of the next n bytes.
func (s *Scanner) ReadBytes(n int) ([]byte, error) {
	if s.remaining() < n {
		return nil, enginerr.New("page.Scanner.ReadBytes", enginerr.EOF)
	}
	out := make([]byte, n)
	copy(out, s.buf[s.off:s.off+n])
	s.off += n
	return out, nil
}

// ReadBlob reads a uint32 length prefix followed by that many bytes.
func (s *Scanner) ReadBlob() ([]byte, error) {
	n, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	return s.ReadBytes(int(n))
}

// Offset returns the scanner's current cursor position.
func (s *Scanner) Offset() int { return s.off }

// Remaining reports how many bytes are left to read.
func (s *Scanner) Remaining() int { return s.remaining() }

// CheckTag reads byte 0 and fails with InvalidFormat unless it matches want.
// Deserialize implementations call this before decoding the rest of the
// payload.
func CheckTag(s *Scanner, op string, want PageType) error {
	got, err := s.ReadByte()
	if err != nil {
		return err
	}
	if PageType(got) != want {
		return enginerr.New(op, enginerr.InvalidFormat)
	}
	return nil
}
