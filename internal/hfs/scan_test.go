package hfs

import "testing"

func TestScanCleanVolumeNoConflicts(t *testing.T) {
	img := buildTestImage(t, 32)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}

	dir, err := v.CreateDir(RootCNID, "Docs")
	if err != nil {
		t.Fatal(err)
	}
	f, err := v.CreateFile(dir.CNID, "README")
	if err != nil {
		t.Fatal(err)
	}
	fb := v.OpenFile(dir.CNID, f, ForkData)
	if _, err := fb.EnsureAllocated(0); err != nil {
		t.Fatal(err)
	}
	if err := fb.Flush(); err != nil {
		t.Fatal(err)
	}

	analysis, err := v.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if analysis.Conflicts != 0 {
		t.Fatalf("expected no conflicts on a freshly-written volume, got %+v", analysis)
	}
	if v.IsDubious() {
		t.Fatal("clean volume marked dubious by scan")
	}
	if analysis.MarkedUsed == 0 {
		t.Fatalf("expected the written file's block to show up as marked-used, got %+v", analysis)
	}
}

func TestScanDetectsCNIDPastNext(t *testing.T) {
	img := buildTestImage(t, 32)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.CreateDir(RootCNID, "Docs"); err != nil {
		t.Fatal(err)
	}
	v.mdb.NextCNID = RootCNID + 1 // force every created entry's CNID to be >= next-cnid

	if _, err := v.Scan(); err != nil {
		t.Fatal(err)
	}
	if !v.IsDubious() {
		t.Fatal("expected scan to mark the volume dubious when an entry's CNID >= MDB.next-cnid")
	}
}
