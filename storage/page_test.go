package storage

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriterScannerRoundTrip(t *testing.T) {
	var buf [64]byte
	w := NewWriter(buf[:])
	w.WriteByte(byte(PageTypeDataEntry))
	w.WriteUint16(42)
	w.WriteUint32(1234567)
	w.WriteUint64(9876543210)
	w.WriteBlob([]byte("hello"))

	s := NewScanner(buf[:])
	b, err := s.ReadByte()
	if err != nil || b != byte(PageTypeDataEntry) {
		t.Fatalf("ReadByte: %v, %v", b, err)
	}
	u16, err := s.ReadUint16()
	if err != nil || u16 != 42 {
		t.Fatalf("ReadUint16: %v, %v", u16, err)
	}
	u32, err := s.ReadUint32()
	if err != nil || u32 != 1234567 {
		t.Fatalf("ReadUint32: %v, %v", u32, err)
	}
	u64, err := s.ReadUint64()
	if err != nil || u64 != 9876543210 {
		t.Fatalf("ReadUint64: %v, %v", u64, err)
	}
	blob, err := s.ReadBlob()
	if err != nil || string(blob) != "hello" {
		t.Fatalf("ReadBlob: %q, %v", blob, err)
	}
}

func TestWriterFailsOnOverflow(t *testing.T) {
	var buf [4]byte
	w := NewWriter(buf[:])
	w.WriteUint32(1)
	if err := w.WriteByte(1); err == nil {
		t.Fatal("expected EOF-like error writing past buffer end")
	}
}

func TestScannerFailsPastEnd(t *testing.T) {
	var buf [2]byte
	s := NewScanner(buf[:])
	if _, err := s.ReadUint32(); err == nil {
		t.Fatal("expected EOF-like error reading past buffer end")
	}
}

func TestPageType(t *testing.T) {
	var p Page
	p.Data[0] = byte(PageTypeIndexNode)
	if got := p.Type(); got != PageTypeIndexNode {
		t.Errorf("Type() = %v, want %v", got, PageTypeIndexNode)
	}
}

func TestPageCopyRoundTrip(t *testing.T) {
	var p Page
	p.Data[0] = byte(PageTypeDataEntry)
	w := NewWriter(p.Data[1:])
	w.WriteBlob([]byte("round trip payload"))

	cp := p
	if diff := cmp.Diff(p, cp); diff != "" {
		t.Fatalf("byte-wise page copy diverged (-want +got):\n%s", diff)
	}
	cp.Data[0] = byte(PageTypeFree)
	if diff := cmp.Diff(p, cp); diff == "" {
		t.Fatal("expected mutating the copy to leave the original untouched")
	}
}

func TestCheckTag(t *testing.T) {
	var buf [1]byte
	buf[0] = byte(PageTypeFree)
	s := NewScanner(buf[:])
	if err := CheckTag(s, "test", PageTypeFree); err != nil {
		t.Fatalf("CheckTag: %v", err)
	}

	s2 := NewScanner(buf[:])
	if err := CheckTag(s2, "test", PageTypeHeader); err == nil {
		t.Fatal("expected mismatch error")
	}
}
