// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package descriptor implements the generic open-file state machine
// (spec.md §4.7): Read/Write/Seek/SetLength/Flush/Dispose on top of any
// filesystem's block resolver. Each concrete filesystem (ProDOS, CP/M,
// HFS, ...) supplies a Backend that maps logical block indices to device
// blocks; this package handles partial-block read-modify-write, the
// sparse-vs-fill-byte distinction, and SEEK_DATA/SEEK_HOLE.
//
// Modeled on the teacher's byte-range readers (internal/multireaderat,
// internal/sectionreader) generalized from read-only ranges into a
// stateful read/write/seek engine, since the teacher never needed to
// write to its mounted images.
package descriptor

import (
	"errors"
	"fmt"
	"io"

	"github.com/goldenapple/retroimg/errs"
	"github.com/goldenapple/retroimg/internal/inithint"
)

// ErrClosed is returned by every method once Dispose has been called.
var ErrClosed = errors.New("descriptor: use of disposed file descriptor")

// Backend is the per-filesystem block resolver a Descriptor drives.
// Block indices are logical (0, 1, 2, ...) at BlockSize() granularity;
// device block numbers are whatever the concrete filesystem's BlockStore
// expects and are opaque to this package. Each filesystem keeps its own
// sparse-block sentinel (prodos.ErrSparse, cpm.ErrSparse, ...) rather than
// this package defining one everyone must import and wrap.
type Backend interface {
	BlockSize() int
	// FillByte is what an unwritten/sparse region reads back as: 0x00 for
	// ProDOS and HFS, 0xE5 for CP/M (spec §4.7).
	FillByte() byte
	// Size is the file's current logical length in bytes.
	Size() int64
	// IsSparse reports whether err (as returned by Resolve) means "this
	// block has no backing storage" rather than a real failure.
	IsSparse(err error) bool
	// Resolve maps a logical block index to a device block, or returns an
	// error for which IsSparse is true if that block has no backing
	// storage yet.
	Resolve(block int64) (devBlock int64, err error)
	// EnsureAllocated is like Resolve but allocates backing storage (and
	// extends the directory entry / EOF bookkeeping) if necessary.
	EnsureAllocated(block int64) (devBlock int64, err error)
	ReadBlock(devBlock int64, dst []byte) error
	WriteBlock(devBlock int64, src []byte) error
	// Truncate sets the logical size, freeing trailing blocks on shrink.
	// Growing past the last allocated block is lazy: no blocks are
	// allocated until something is actually written to them.
	Truncate(newSize int64) error
}

// Flusher is implemented by backends that buffer metadata in memory and
// need an explicit sync point (e.g. a dirty directory entry).
type Flusher interface {
	Flush() error
}

// blockReaderAt adapts a single Backend.ReadBlock call to io.ReaderAt so
// inithint.ReadAt can poison the scratch buffer before the real read,
// turning a backend that under-fills its destination into a loud,
// visible bug (a residual 0xbd run) instead of a silent zero.
type blockReaderAt struct {
	backend Backend
	block   int64
}

func (b blockReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if err := b.backend.ReadBlock(b.block, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Descriptor is one open file handle over a Backend. It is not safe for
// concurrent use — callers needing that enforce it at the vfs open-file
// table layer (spec §4.8).
type Descriptor struct {
	backend  Backend
	pos      int64
	closed   bool
	readOnly bool
}

// New wraps backend in a fresh descriptor positioned at offset 0. readOnly
// mirrors the mode the caller opened the fork with (vfs.ReadOnly vs
// vfs.ReadWrite); ReadAt/Read/Seek are unaffected by it.
func New(backend Backend, readOnly bool) *Descriptor {
	return &Descriptor{backend: backend, readOnly: readOnly}
}

func (d *Descriptor) checkOpen() error {
	if d.closed {
		return ErrClosed
	}
	return nil
}

// Read implements io.Reader, resolving sparse blocks to FillByte runs
// rather than surfacing the underlying sparseness to the caller.
func (d *Descriptor) Read(p []byte) (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	n, err := d.ReadAt(p, d.pos)
	d.pos += int64(n)
	return n, err
}

// ReadAt reads without disturbing the descriptor's seek position.
func (d *Descriptor) ReadAt(p []byte, off int64) (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	size := d.backend.Size()
	if off >= size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > size {
		p = p[:size-off]
	}
	blockSize := int64(d.backend.BlockSize())
	scratch := make([]byte, blockSize)
	total := 0
	for total < len(p) {
		abs := off + int64(total)
		blockIdx := abs / blockSize
		inBlock := abs % blockSize
		want := len(p) - total
		if room := int(blockSize - inBlock); want > room {
			want = room
		}

		devBlock, rerr := d.backend.Resolve(blockIdx)
		switch {
		case d.backend.IsSparse(rerr):
			for i := 0; i < want; i++ {
				p[total+i] = d.backend.FillByte()
			}
		case rerr != nil:
			return total, rerr
		default:
			if _, err := inithint.ReadAt(blockReaderAt{d.backend, devBlock}, scratch, 0); err != nil {
				return total, err
			}
			copy(p[total:total+want], scratch[inBlock:int(inBlock)+want])
		}
		total += want
	}
	return total, nil
}

// Write implements io.Writer, growing the file (and allocating blocks
// lazily) as needed.
func (d *Descriptor) Write(p []byte) (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	if d.readOnly {
		return 0, errs.ReadOnly
	}
	n, err := d.WriteAt(p, d.pos)
	d.pos += int64(n)
	return n, err
}

// WriteAt writes without disturbing the descriptor's seek position,
// growing the logical size if the write extends past current EOF.
func (d *Descriptor) WriteAt(p []byte, off int64) (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	if d.readOnly {
		return 0, errs.ReadOnly
	}
	blockSize := int64(d.backend.BlockSize())
	total := 0
	for total < len(p) {
		abs := off + int64(total)
		blockIdx := abs / blockSize
		inBlock := abs % blockSize
		want := len(p) - total
		if room := int(blockSize - inBlock); want > room {
			want = room
		}

		devBlock, aerr := d.backend.EnsureAllocated(blockIdx)
		if aerr != nil {
			return total, aerr
		}

		if want == int(blockSize) {
			if err := d.backend.WriteBlock(devBlock, p[total:total+want]); err != nil {
				return total, err
			}
		} else {
			scratch := make([]byte, blockSize)
			existing, rerr := d.backend.Resolve(blockIdx)
			switch {
			case d.backend.IsSparse(rerr):
				for i := range scratch {
					scratch[i] = d.backend.FillByte()
				}
			case rerr != nil:
				return total, rerr
			default:
				if err := d.backend.ReadBlock(existing, scratch); err != nil {
					return total, err
				}
			}
			copy(scratch[inBlock:int(inBlock)+want], p[total:total+want])
			if err := d.backend.WriteBlock(devBlock, scratch); err != nil {
				return total, err
			}
		}
		total += want
	}
	if newEnd := off + int64(total); newEnd > d.backend.Size() {
		if err := d.backend.Truncate(newEnd); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Seek implements io.Seeker.
func (d *Descriptor) Seek(offset int64, whence int) (int64, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = d.pos + offset
	case io.SeekEnd:
		newPos = d.backend.Size() + offset
	default:
		return 0, fmt.Errorf("descriptor: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("descriptor: negative seek position %d", newPos)
	}
	d.pos = newPos
	return newPos, nil
}

// SeekData returns the offset of the first byte at or after off that
// belongs to an allocated (non-sparse) block, or io.EOF if none remains.
func (d *Descriptor) SeekData(off int64) (int64, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	blockSize := int64(d.backend.BlockSize())
	size := d.backend.Size()
	for pos := off; pos < size; pos += blockSize - pos%blockSize {
		blockIdx := pos / blockSize
		if _, err := d.backend.Resolve(blockIdx); err == nil {
			return pos, nil
		} else if !d.backend.IsSparse(err) {
			return 0, err
		}
	}
	return 0, io.EOF
}

// SeekHole returns the offset of the first byte at or after off that
// falls in a sparse hole (or at EOF, which counts as a hole).
func (d *Descriptor) SeekHole(off int64) (int64, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	blockSize := int64(d.backend.BlockSize())
	size := d.backend.Size()
	for pos := off; pos < size; pos += blockSize - pos%blockSize {
		blockIdx := pos / blockSize
		_, err := d.backend.Resolve(blockIdx)
		if d.backend.IsSparse(err) {
			return pos, nil
		} else if err != nil {
			return 0, err
		}
	}
	return size, nil
}

// SetLength truncates or extends the file's logical size.
func (d *Descriptor) SetLength(newSize int64) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.readOnly {
		return errs.ReadOnly
	}
	return d.backend.Truncate(newSize)
}

// Flush syncs any backend-buffered metadata (e.g. a dirty directory
// entry) without closing the descriptor.
func (d *Descriptor) Flush() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if f, ok := d.backend.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Dispose flushes and marks the descriptor unusable. Calling it twice is
// a no-op.
func (d *Descriptor) Dispose() error {
	if d.closed {
		return nil
	}
	err := d.Flush()
	d.closed = true
	return err
}
