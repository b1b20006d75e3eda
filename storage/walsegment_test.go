package storage

import "testing"

func TestRecordEncodeDecodeInsert(t *testing.T) {
	var r Record
	r.LogID = 7
	r.TxID = 3
	r.Op = OpInsert
	r.PageIndex = 1 << 20 // exercises the 8-byte wire width
	copy(r.PageBytes[:], "page payload")

	var buf [PageSize + 64]byte
	w := NewWriter(buf[:])
	if err := r.encode(w); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if w.Offset() != r.encodedSize() {
		t.Fatalf("encode wrote %d bytes, encodedSize() said %d", w.Offset(), r.encodedSize())
	}

	s := NewScanner(buf[:w.Offset()])
	got, err := decodeRecord(s)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if got.LogID != r.LogID || got.TxID != r.TxID || got.Op != r.Op || got.PageIndex != r.PageIndex {
		t.Fatalf("decoded %+v, want fields matching %+v", got, r)
	}
	if string(got.PageBytes[:12]) != "page payload" {
		t.Fatalf("decoded page bytes %q", got.PageBytes[:12])
	}
}

func TestRecordEncodeDecodeFree(t *testing.T) {
	r := Record{LogID: 1, TxID: 9, Op: OpFree, PageIndex: 4242}
	var buf [64]byte
	w := NewWriter(buf[:])
	if err := r.encode(w); err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := NewScanner(buf[:w.Offset()])
	got, err := decodeRecord(s)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if got.PageIndex != 4242 {
		t.Fatalf("got PageIndex=%d, want 4242", got.PageIndex)
	}
}

func TestDecodeRecordDetectsCRCMismatch(t *testing.T) {
	r := Record{LogID: 1, TxID: 1, Op: OpStart}
	var buf [64]byte
	w := NewWriter(buf[:])
	if err := r.encode(w); err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf[0] ^= 0xFF // corrupt the log_id field
	s := NewScanner(buf[:w.Offset()])
	if _, err := decodeRecord(s); err == nil {
		t.Fatal("expected CRC mismatch error on corrupted record")
	}
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	recs := []Record{
		{LogID: 1, TxID: 1, Op: OpStart},
		{LogID: 2, TxID: 1, Op: OpCommit},
		{LogID: 3, TxID: 2, Op: OpFree, PageIndex: 5},
	}
	block, consumed, complete := encodeBlock(recs)
	if !complete || consumed != len(recs) {
		t.Fatalf("expected all records to fit in one block, consumed=%d complete=%v", consumed, complete)
	}
	got, gotComplete := decodeBlock(block[:])
	if !gotComplete {
		t.Fatal("expected decoded block to report complete")
	}
	if len(got) != len(recs) {
		t.Fatalf("decoded %d records, want %d", len(got), len(recs))
	}
	for i, r := range got {
		if r.LogID != recs[i].LogID || r.Op != recs[i].Op {
			t.Fatalf("record %d = %+v, want %+v", i, r, recs[i])
		}
	}
}

func TestEncodeBlockSpillsWhenFull(t *testing.T) {
	var recs []Record
	big := Record{Op: OpInsert}
	for i := 0; i < 10; i++ {
		r := big
		r.LogID = uint64(i)
		r.PageIndex = uint32(i)
		recs = append(recs, r)
	}
	_, consumed, complete := encodeBlock(recs)
	if complete {
		t.Fatal("expected overflow: 10 full-page Insert records cannot fit in one 16 KiB block")
	}
	if consumed == 0 || consumed >= len(recs) {
		t.Fatalf("expected partial consumption, got consumed=%d of %d", consumed, len(recs))
	}
}
