// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package compressedimage exposes a compressed disk image (.dsk.gz,
// .dsk.xz, .dsk.bz2) as a random-access chunk.Device, by layering
// internal/spinner's "close, reopen, and reread from the start" cache
// over a fresh decompressing stream each time. None of gzip, bzip2, or
// xz support seeking on their own, which is exactly the "sequential-only
// file" case spinner was built for (its own doc comment, and the
// teacher's internal/webdavfs use of it for AppleDouble resource forks).
package compressedimage

import (
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/therootcompany/xz"

	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/spinner"
)

// Codec names a compression scheme this package can decompress.
type Codec int

const (
	Gzip Codec = iota
	Bzip2
	XZ
)

// Source is a spinner.Opener over one compressed disk image. open must
// return a fresh stream positioned at the start of the compressed data
// every time it's called (e.g. (*os.File).Open and seek to 0, or a
// fresh HTTP GET); size is the known decompressed length, required
// because chunk.Image needs an exact byte length up front.
type Source struct {
	codec Codec
	open  func() (io.ReadCloser, error)
	name  string
	size  int64
}

// NewSource wraps open (which must yield the *compressed* bytes from the
// start each call) using codec, with the given decompressed size and a
// label used in diagnostics.
func NewSource(codec Codec, open func() (io.ReadCloser, error), size int64, name string) *Source {
	return &Source{codec: codec, open: open, name: name, size: size}
}

func (s *Source) String() string { return s.name }

// Open implements spinner.Opener: layer the chosen decompressor over a
// freshly-opened compressed stream.
func (s *Source) Open() (fs.File, error) {
	raw, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("compressedimage: opening %s: %w", s.name, err)
	}

	var r io.Reader
	switch s.codec {
	case Gzip:
		zr, err := gzip.NewReader(raw)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("compressedimage: gzip header in %s: %w", s.name, err)
		}
		r = zr
	case Bzip2:
		r = bzip2.NewReader(raw)
	case XZ:
		zr, err := xz.NewReader(raw, xz.DefaultDictMax)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("compressedimage: xz header in %s: %w", s.name, err)
		}
		r = zr
	default:
		raw.Close()
		return nil, errors.New("compressedimage: unknown codec")
	}

	return &decompressingFile{r: r, closer: raw, size: s.size}, nil
}

// decompressingFile implements fs.File (Read/Close/Stat), plus the
// private "Size() int64" sizer interface internal/spinner's sizeOf
// checks before falling back to Stat — bypassing the fact that a
// decompressing stream's Stat (if it even has one) would report the
// *compressed* size, not the uncompressed one spinner needs.
type decompressingFile struct {
	r      io.Reader
	closer io.Closer
	size   int64
}

func (f *decompressingFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *decompressingFile) Close() error               { return f.closer.Close() }
func (f *decompressingFile) Size() int64                { return f.size }
func (f *decompressingFile) Stat() (fs.FileInfo, error) {
	return nil, errors.New("compressedimage: Stat unsupported, use Size")
}

// readerAt adapts a Source to io.ReaderAt via spinner.ReadAt.
type readerAt struct{ src *Source }

func (ra readerAt) ReadAt(p []byte, off int64) (int, error) {
	return spinner.ReadAt(ra.src, p, off)
}

// OpenDevice wraps src as a read-only chunk.Device of blockLength bytes.
// Writes are refused (spec §3's chunk.Device write path is for seekable,
// mutable media only — a compressed stream has neither property).
func OpenDevice(src *Source, blockLength int64) chunk.Device {
	return chunk.NewBlockImage(readerAt{src}, nil, blockLength)
}
