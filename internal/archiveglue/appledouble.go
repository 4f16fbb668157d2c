// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package archiveglue

import (
	"io"

	"github.com/goldenapple/retroimg/internal/appledouble"
	"github.com/goldenapple/retroimg/internal/vfs"
)

// MetaFromEntry builds an appledouble.AppleDouble from one mounted
// directory entry's format-agnostic metadata (spec.md §6's "doubled-
// entry" AppleDouble convention, same one internal/rofsview uses for
// "._name" sidecars). Type/Creator and Finder flags beyond "locked" are
// format-specific (HFS-only) and are left zero here; callers that need
// them should set ad.Type/ad.Creator/ad.Flags from the driver's native
// record before calling EncodeDataAndResourceFork.
func MetaFromEntry(e vfs.Entry) *appledouble.AppleDouble {
	ad := &appledouble.AppleDouble{
		CreateTime: e.CreateDate,
		ModTime:    e.ModifyDate,
		Locked:     e.Locked,
	}
	return ad
}

// EncodeDataAndResourceFork produces the AppleSingle-style combined
// stream retroimgctl's "extract --applesingle" mode writes: an
// AppleDouble header plus the resource fork, sized so the caller can
// io.Copy it directly. rsrc may be nil for an entry with no resource
// fork, in which case the header alone (zero-length fork) is returned.
func EncodeDataAndResourceFork(ad *appledouble.AppleDouble, rsrc io.ReaderAt, rsrcSize int64) (io.ReaderAt, int64) {
	if rsrc == nil {
		rsrc = zeroReaderAt{}
		rsrcSize = 0
	}
	return ad.WithResourceFork(rsrc, rsrcSize)
}

// EncodeSequentialResourceFork is the streaming counterpart of
// EncodeDataAndResourceFork, for sources (e.g. a spinner.Opener-backed
// decompressing stream) that can only be read once, sequentially.
func EncodeSequentialResourceFork(ad *appledouble.AppleDouble, open func() (io.ReadCloser, error), size int64) (func() (io.ReadCloser, error), int64) {
	return ad.WithSequentialResourceFork(open, size)
}

// EncodeDirSidecar produces the "._dirname" AppleDouble stream carrying
// just Finder directory info, per spec.md §6's doubled-entry convention
// for directories (no resource fork to attach).
func EncodeDirSidecar(ad *appledouble.AppleDouble) (func() io.Reader, int64) {
	return ad.ForDir()
}

type zeroReaderAt struct{}

func (zeroReaderAt) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }
