package bitmap

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	b := New(100, OneMeansInUse)
	if b.FreeBlocks() != 100 {
		t.Fatalf("expected 100 free, got %d", b.FreeBlocks())
	}

	run, err := b.AllocBlocks(10, 0, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if run.Start != 0 || run.Count != 10 {
		t.Fatalf("unexpected run %+v", run)
	}
	if b.FreeBlocks() != 90 {
		t.Fatalf("expected 90 free, got %d", b.FreeBlocks())
	}

	b.ReleaseBlocks(run)
	if b.FreeBlocks() != 100 {
		t.Fatalf("expected 100 free after release, got %d", b.FreeBlocks())
	}
}

func TestAllocFirstFitOnTies(t *testing.T) {
	b := New(21, OneMeansInUse)
	// Carve two equal 10-block free runs (0-9 and 11-20) separated by a
	// used block. SetInUse is used because AllocBlocks would back up from
	// a search start of 10 to block 0.
	b.SetInUse(10, true)

	// A clump longer than either run forces the best-run comparison.
	got, err := b.AllocBlocks(12, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Start != 0 {
		t.Fatalf("expected earliest equal-length run to win, got start=%d", got.Start)
	}
}

func TestDiskFull(t *testing.T) {
	b := New(4, OneMeansInUse)
	if _, err := b.AllocBlocks(4, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AllocBlocks(1, 0, nil); err != ErrDiskFull {
		t.Fatalf("expected ErrDiskFull, got %v", err)
	}
}

func TestProDOSSenseInverted(t *testing.T) {
	b := New(8, OneMeansFree)
	if b.FreeBlocks() != 8 {
		t.Fatalf("expected all free, got %d", b.FreeBlocks())
	}
	run, err := b.AllocBlocks(3, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.InUse(run.Start) != true {
		t.Fatal("expected allocated block to read as in-use regardless of sense")
	}
	// Underlying raw bit should be 0 (ProDOS: 0 = in use).
	if b.rawBit(run.Start) != false {
		t.Fatal("expected raw bit cleared for ProDOS in-use block")
	}
}

func TestWrapAroundSearch(t *testing.T) {
	b := New(10, OneMeansInUse)
	first, _ := b.AllocBlocks(8, 0, nil) // blocks 0..7 used
	_ = first
	// Search starting near the end should wrap and find blocks 8,9 then fail
	// to complete a run of 4, landing on best-effort blocks 8,9; verify no
	// allocation beyond capacity.
	if _, err := b.AllocBlocks(4, 8, nil); err != nil {
		t.Fatal(err)
	}
	if b.FreeBlocks() != 0 {
		t.Fatalf("expected 0 free, got %d", b.FreeBlocks())
	}
}
