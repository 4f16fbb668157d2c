// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"errors"
	"testing"

	"github.com/goldenapple/retroimg/errs"
	"github.com/goldenapple/retroimg/internal/chunk"
)

type memDevice struct{ buf []byte }

func newMem(n int) *memDevice { return &memDevice{buf: make([]byte, n)} }

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}
func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.buf[off:], p), nil
}

func newProDOSFS(t *testing.T) *Filesystem {
	t.Helper()
	mem := newMem(chunk.BlockSize * 280)
	dev := chunk.NewBlockImage(mem, mem, int64(len(mem.buf)))
	fs, err := OpenAs(dev, ProDOS)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Format("TEST.VOL"); err != nil {
		t.Fatal(err)
	}
	if err := fs.PrepareFileAccess(false); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestModeStateMachine(t *testing.T) {
	mem := newMem(chunk.BlockSize * 280)
	dev := chunk.NewBlockImage(mem, mem, int64(len(mem.buf)))
	fs, err := OpenAs(dev, ProDOS)
	if err != nil {
		t.Fatal(err)
	}
	if fs.Mode() != ModeRaw {
		t.Fatalf("new filesystem should start in Raw, got %s", fs.Mode())
	}
	if err := fs.Format("TEST.VOL"); err != nil {
		t.Fatal(err)
	}
	if fs.Mode() != ModeRaw {
		t.Fatalf("format should return in Raw mode, got %s", fs.Mode())
	}

	if err := fs.PrepareFileAccess(false); err != nil {
		t.Fatal(err)
	}
	if fs.Mode() != ModeFileAccess {
		t.Fatalf("expected FileAccess, got %s", fs.Mode())
	}

	// A second prepare_file_access while already mounted is WrongMode.
	if err := fs.PrepareFileAccess(false); !errors.Is(err, errs.WrongMode) {
		t.Fatalf("expected WrongMode, got %v", err)
	}

	if err := fs.PrepareRawAccess(); err != nil {
		t.Fatal(err)
	}
	if fs.Mode() != ModeRaw {
		t.Fatalf("expected Raw after prepare_raw_access, got %s", fs.Mode())
	}
}

func TestPrepareRawAccessRefusedWithOpenDescriptor(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "HELLO", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := fs.OpenFile(h, ReadWrite, DataFork)
	if err != nil {
		t.Fatal(err)
	}
	defer desc.Dispose()

	if err := fs.PrepareRawAccess(); !errors.Is(err, errs.OpenConflict) {
		t.Fatalf("expected OpenConflict while a descriptor is open, got %v", err)
	}
}

func TestHandleInvalidatedByModeSwitch(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.PrepareRawAccess(); err != nil {
		t.Fatal(err)
	}
	if err := fs.PrepareFileAccess(false); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.OpenFile(root, ReadOnly, DataFork); !errors.Is(err, errs.Disposed) {
		t.Fatalf("expected Disposed for a handle from a prior generation, got %v", err)
	}
}

func TestOpenFileTableRefusesSecondWriter(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "A", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	w1, err := fs.OpenFile(h, ReadWrite, DataFork)
	if err != nil {
		t.Fatal(err)
	}
	defer w1.Dispose()

	if _, err := fs.OpenFile(h, ReadWrite, DataFork); !errors.Is(err, errs.OpenConflict) {
		t.Fatalf("expected OpenConflict for a second writer, got %v", err)
	}
	if _, err := fs.OpenFile(h, ReadOnly, DataFork); !errors.Is(err, errs.OpenConflict) {
		t.Fatalf("expected OpenConflict for a reader while a writer is open, got %v", err)
	}
}

func TestOpenFileTableAllowsMultipleReaders(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "A", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	r1, err := fs.OpenFile(h, ReadOnly, DataFork)
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Dispose()
	r2, err := fs.OpenFile(h, ReadOnly, DataFork)
	if err != nil {
		t.Fatalf("expected a second reader to be allowed, got %v", err)
	}
	defer r2.Dispose()
}

func TestReadOnlyDescriptorRefusesWrites(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "A", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	r, err := fs.OpenFile(h, ReadOnly, DataFork)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Dispose()

	if _, err := r.Write([]byte("hi")); err == nil {
		t.Fatal("expected Write on a ReadOnly descriptor to be refused")
	}
	if _, err := r.WriteAt([]byte("hi"), 0); err == nil {
		t.Fatal("expected WriteAt on a ReadOnly descriptor to be refused")
	}
	if err := r.SetLength(10); err == nil {
		t.Fatal("expected SetLength on a ReadOnly descriptor to be refused")
	}
}

func TestOpenFileTableSlotReleasedOnDispose(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "A", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	w, err := fs.OpenFile(h, ReadWrite, DataFork)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Dispose(); err != nil {
		t.Fatal(err)
	}
	w2, err := fs.OpenFile(h, ReadWrite, DataFork)
	if err != nil {
		t.Fatalf("expected the slot to be free after dispose, got %v", err)
	}
	w2.Dispose()
}

func TestMoveAndDeleteRefusedWhileForkOpen(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "A", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := fs.OpenFile(h, ReadOnly, DataFork)
	if err != nil {
		t.Fatal(err)
	}
	defer desc.Dispose()

	if err := fs.DeleteFile(root, h); !errors.Is(err, errs.OpenConflict) {
		t.Fatalf("expected delete to refuse with a fork open, got %v", err)
	}
	if err := fs.MoveFile(h, root, "B"); !errors.Is(err, errs.OpenConflict) {
		t.Fatalf("expected move to refuse with a fork open, got %v", err)
	}
}

func TestCreateReadDirLookupDeleteRoundTrip(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.CreateFile(root, "ALPHA", KindFile); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.CreateFile(root, "BETA", KindFile); err != nil {
		t.Fatal(err)
	}

	entries, err := fs.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	h, err := fs.Lookup(root, "ALPHA")
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.DeleteFile(root, h); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Lookup(root, "ALPHA"); err == nil {
		t.Fatal("expected lookup of a deleted file to fail")
	}
}

func TestRenameRoundTrip(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "OLDNAME", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.MoveFile(h, root, "NEWNAME"); err != nil {
		t.Fatal(err)
	}
	if h.Entry().Name != "NEWNAME" {
		t.Fatalf("expected handle to reflect new name, got %q", h.Entry().Name)
	}
	if _, err := fs.Lookup(root, "NEWNAME"); err != nil {
		t.Fatalf("expected new name to resolve: %v", err)
	}
}

func TestFormatRefusedWithOpenDescriptor(t *testing.T) {
	fs := newProDOSFS(t)
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.CreateFile(root, "A", KindFile)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := fs.OpenFile(h, ReadOnly, DataFork)
	if err != nil {
		t.Fatal(err)
	}
	defer desc.Dispose()

	if err := fs.Format("TEST.VOL"); !errors.Is(err, errs.WrongMode) {
		t.Fatalf("expected format to refuse with a descriptor open, got %v", err)
	}
	if err := fs.PrepareRawAccess(); !errors.Is(err, errs.OpenConflict) {
		t.Fatalf("expected prepare_raw_access to refuse with a descriptor open, got %v", err)
	}
}

func TestWriteRefusedOutsideFileAccess(t *testing.T) {
	mem := newMem(chunk.BlockSize * 280)
	dev := chunk.NewBlockImage(mem, mem, int64(len(mem.buf)))
	fs, err := OpenAs(dev, ProDOS)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Format("TEST.VOL"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Flush(); !errors.Is(err, errs.WrongMode) {
		t.Fatalf("expected flush in Raw mode to be WrongMode, got %v", err)
	}
}
