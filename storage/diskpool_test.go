package storage

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestPagePoolAcquireRelease(t *testing.T) {
	pp := NewPagePool(2)
	p1 := pp.Acquire()
	p2 := pp.Acquire()
	if p1 == nil || p2 == nil {
		t.Fatal("expected non-nil pages from an empty pool (fresh allocation)")
	}
	pp.Release(p1)
	p3 := pp.Acquire()
	if p3 != p1 {
		t.Fatalf("expected released page to be reused, got different pointer")
	}
}

func TestDiskControllerReadWriteRoundTrip(t *testing.T) {
	f := NewMemFile()
	dc := NewDiskController(f, PageSize, 2, zerolog.Nop())
	defer dc.Close()

	var page Page
	copy(page.Data[:], "hello disk")
	if err := dc.Write(0, &page); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := dc.Read(0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got.Data[:10]) != "hello disk" {
		t.Fatalf("got %q, want %q", got.Data[:10], "hello disk")
	}
}

func TestDiskControllerLenTracksWrites(t *testing.T) {
	f := NewMemFile()
	dc := NewDiskController(f, PageSize, 2, zerolog.Nop())
	defer dc.Close()

	n, err := dc.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 pages initially, got %d", n)
	}

	var page Page
	if err := dc.Write(2, &page); err != nil {
		t.Fatalf("Write: %v", err)
	}
	n, err = dc.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pages after writing index 2, got %d", n)
	}
}

func TestDiskControllerFsync(t *testing.T) {
	f := NewMemFile()
	dc := NewDiskController(f, PageSize, 1, zerolog.Nop())
	defer dc.Close()
	if err := dc.Fsync(); err != nil {
		t.Fatalf("Fsync: %v", err)
	}
}
