package txn

import "testing"

func TestNewTransactionAssignsSequentialIDs(t *testing.T) {
	vs := NewVersionSet(nil, 1)
	a := vs.NewTransaction()
	b := vs.NewTransaction()
	if b != a+1 {
		t.Fatalf("got ids %d, %d; want strictly increasing", a, b)
	}
	if !vs.IsActive(a) || !vs.IsActive(b) {
		t.Fatal("freshly started transactions must be active")
	}
}

func TestDeactiveEndsActiveness(t *testing.T) {
	vs := NewVersionSet(nil, 1)
	tx := vs.NewTransaction()
	vs.Deactive(tx)
	if vs.IsActive(tx) {
		t.Fatal("expected tx to no longer be active after Deactive")
	}
	if vs.IsAborted(tx) {
		t.Fatal("a committed tx must not appear in the aborted set")
	}
}

func TestMoveToAbortMarksAborted(t *testing.T) {
	vs := NewVersionSet(nil, 1)
	tx := vs.NewTransaction()
	vs.MoveToAbort(tx)
	if vs.IsActive(tx) {
		t.Fatal("expected tx to no longer be active after MoveToAbort")
	}
	if !vs.IsAborted(tx) {
		t.Fatal("expected tx in the aborted set")
	}
}

func TestIsVisibleRejectsActiveAndAborted(t *testing.T) {
	vs := NewVersionSet(nil, 1)
	active := vs.NewTransaction()
	aborted := vs.NewTransaction()
	vs.MoveToAbort(aborted)
	committed := vs.NewTransaction()
	vs.Deactive(committed)

	if vs.IsVisible(active) {
		t.Error("an active tx's writes must not be visible to other readers")
	}
	if vs.IsVisible(aborted) {
		t.Error("an aborted tx's writes must never be visible")
	}
	if !vs.IsVisible(committed) {
		t.Error("a committed tx's writes must be visible")
	}
}

func TestMinActiveReportsSmallest(t *testing.T) {
	vs := NewVersionSet(nil, 1)
	_ = vs.NewTransaction() // 1, will commit
	second := vs.NewTransaction()
	third := vs.NewTransaction()
	vs.Deactive(1)
	_ = third

	min, ok := vs.MinActive()
	if !ok {
		t.Fatal("expected an active transaction")
	}
	if min != second {
		t.Fatalf("MinActive = %d, want %d", min, second)
	}
}

func TestMinActiveFalseWhenEmpty(t *testing.T) {
	vs := NewVersionSet(nil, 1)
	if _, ok := vs.MinActive(); ok {
		t.Fatal("expected no active transactions on a fresh set")
	}
}

func TestMinVersionFallsBackToCurrentVersion(t *testing.T) {
	vs := NewVersionSet(nil, 5)
	if got := vs.MinVersion(); got != 5 {
		t.Fatalf("MinVersion = %d, want 5 (CurrentVersion, nothing active)", got)
	}
	tx := vs.NewTransaction()
	if got := vs.MinVersion(); got != tx {
		t.Fatalf("MinVersion = %d, want %d once a tx is active", got, tx)
	}
}

func TestRemoveAbortedTrimsBelowHorizon(t *testing.T) {
	vs := NewVersionSet(map[uint64]struct{}{1: {}, 2: {}, 10: {}}, 20)
	vs.RemoveAborted(5)
	if vs.IsAborted(1) || vs.IsAborted(2) {
		t.Error("expected aborted ids below the horizon to be removed")
	}
	if !vs.IsAborted(10) {
		t.Error("expected aborted id at/above the horizon to remain")
	}
}

func TestSeededAbortedSetFromReplay(t *testing.T) {
	vs := NewVersionSet(map[uint64]struct{}{3: {}}, 4)
	if !vs.IsAborted(3) {
		t.Fatal("expected seeded aborted tx to be reported as aborted")
	}
	if vs.IsVisible(3) {
		t.Fatal("seeded aborted tx must not be visible")
	}
}
