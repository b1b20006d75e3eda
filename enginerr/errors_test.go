package enginerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKindThroughWrap(t *testing.T) {
	cause := errors.New("disk gone")
	err := Wrap("pager: read_page", IO, cause)
	if !Is(err, IO) {
		t.Fatal("expected Is(err, IO) to be true")
	}
	if Is(err, NotFound) {
		t.Fatal("expected Is(err, NotFound) to be false")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap("op", IO, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap("op", IO, cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestNewHasNoWrappedCause(t *testing.T) {
	err := New("tx: get", TransactionClosed)
	if err.Unwrap() != nil {
		t.Fatalf("expected New() error to have no wrapped cause, got %v", err.Unwrap())
	}
	if !Is(err, TransactionClosed) {
		t.Fatal("expected Is(err, TransactionClosed) to be true")
	}
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New("btree: get", NotFound)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error string")
	}
	wrapped := fmt.Errorf("caller: %w", err)
	if !Is(wrapped, NotFound) {
		t.Fatal("expected Kind to propagate through fmt.Errorf wrapping")
	}
}
