// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package chunk implements the block-device abstraction described in
// spec.md §3/§4.1: a fixed-size-block provider, optionally also addressable
// as 256-byte track/sector pairs, plus a gated wrapper that enforces the
// filesystem's current access level.
package chunk

import (
	"errors"
	"fmt"
	"io"

	"github.com/goldenapple/retroimg/errs"
)

const (
	BlockSize  = 512
	SectorSize = 256
)

// SectorOrder names a track/sector-to-byte-offset translation for 5.25"
// floppy images (spec §6: "Physical | ProDOS_Block | DOS_Sector | ...").
type SectorOrder int

const (
	OrderPhysical SectorOrder = iota
	OrderProDOSBlock
	OrderDOSSector
)

// ErrBadBlock is returned by Device implementations when the underlying
// medium reports an unrecoverable read, distinct from a generic I/O error
// so callers can retry on adjacent sectors (spec §4.1).
var ErrBadBlock = errors.New("chunk: unrecoverable block read")

// Device is the contract implemented by every producer of blocks: a raw
// disk image, a partition slice, a multipart container, or a
// nibble-decoded sector stream (spec §6).
type Device interface {
	FormattedLength() int64
	IsReadOnly() bool
	HasBlocks() bool
	HasSectors() bool

	// NumTracks/NumSectorsPerTrack are only meaningful when HasSectors.
	NumTracks() int
	NumSectorsPerTrack() int
	FileOrder() SectorOrder

	ReadBlock(n uint32, dst []byte) error
	WriteBlock(n uint32, src []byte) error
	ReadBlocks(start uint32, count uint32, dst []byte) error

	ReadSector(track, sector uint32, dst []byte, order SectorOrder) error
	WriteSector(track, sector uint32, src []byte, order SectorOrder) error
}

// Image is a Device backed by an io.ReaderAt/io.WriterAt (typically an
// *os.File or an in-memory buffer), addressing blocks by byte offset. This
// is the common case; nibble-encoded or multi-part devices implement
// Device directly.
type Image struct {
	ra       io.ReaderAt
	wa       io.WriterAt // nil => read-only
	length   int64
	order    SectorOrder
	tracks   int
	secsPerT int
}

// NewBlockImage wraps a block-addressed image (ProDOS .po / HFS .img) of
// the given byte length.
func NewBlockImage(ra io.ReaderAt, wa io.WriterAt, length int64) *Image {
	return &Image{ra: ra, wa: wa, length: length, order: OrderProDOSBlock}
}

// NewSectorImage wraps a track/sector image (DOS 3.3 .dsk) with explicit
// geometry, so ReadSector/WriteSector can validate bounds and ReadBlock can
// synthesize 512-byte blocks from two 256-byte sectors.
func NewSectorImage(ra io.ReaderAt, wa io.WriterAt, tracks, sectorsPerTrack int, order SectorOrder) *Image {
	return &Image{
		ra: ra, wa: wa,
		length:   int64(tracks) * int64(sectorsPerTrack) * SectorSize,
		order:    order,
		tracks:   tracks,
		secsPerT: sectorsPerTrack,
	}
}

func (d *Image) FormattedLength() int64 { return d.length }
func (d *Image) IsReadOnly() bool       { return d.wa == nil }
func (d *Image) HasBlocks() bool        { return d.secsPerT == 0 }
func (d *Image) HasSectors() bool       { return d.secsPerT != 0 }
func (d *Image) NumTracks() int         { return d.tracks }
func (d *Image) NumSectorsPerTrack() int { return d.secsPerT }
func (d *Image) FileOrder() SectorOrder { return d.order }

func (d *Image) ReadBlock(n uint32, dst []byte) error {
	if len(dst) != BlockSize {
		return fmt.Errorf("chunk: ReadBlock dst must be %d bytes, got %d", BlockSize, len(dst))
	}
	off := int64(n) * BlockSize
	if off+BlockSize > d.length {
		return fmt.Errorf("chunk: block %d past end of %d-byte device", n, d.length)
	}
	nr, err := d.ra.ReadAt(dst, off)
	if nr != BlockSize {
		return wrapBadBlock(n, err)
	}
	return nil
}

func (d *Image) WriteBlock(n uint32, src []byte) error {
	if d.wa == nil {
		return fmt.Errorf("chunk: write on read-only device: %w", errs.ReadOnly)
	}
	if len(src) != BlockSize {
		return fmt.Errorf("chunk: WriteBlock src must be %d bytes, got %d", BlockSize, len(src))
	}
	off := int64(n) * BlockSize
	if off+BlockSize > d.length {
		return fmt.Errorf("chunk: block %d past end of %d-byte device", n, d.length)
	}
	_, err := d.wa.WriteAt(src, off)
	return err
}

func (d *Image) ReadBlocks(start uint32, count uint32, dst []byte) error {
	need := int(count) * BlockSize
	if len(dst) != need {
		return fmt.Errorf("chunk: ReadBlocks dst must be %d bytes, got %d", need, len(dst))
	}
	off := int64(start) * BlockSize
	n := int64(count) * BlockSize
	if off+n > d.length {
		return fmt.Errorf("chunk: blocks [%d,%d) past end of %d-byte device", start, uint64(start)+uint64(count), d.length)
	}
	nr, err := d.ra.ReadAt(dst, off)
	if int64(nr) != n {
		return wrapBadBlock(start, err)
	}
	return nil
}

func (d *Image) ReadSector(track, sector uint32, dst []byte, order SectorOrder) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("chunk: ReadSector dst must be %d bytes, got %d", SectorSize, len(dst))
	}
	off, err := d.sectorOffset(track, sector, order)
	if err != nil {
		return err
	}
	nr, rerr := d.ra.ReadAt(dst, off)
	if nr != SectorSize {
		return wrapBadBlock(track*100+sector, rerr)
	}
	return nil
}

func (d *Image) WriteSector(track, sector uint32, src []byte, order SectorOrder) error {
	if d.wa == nil {
		return fmt.Errorf("chunk: write on read-only device: %w", errs.ReadOnly)
	}
	if len(src) != SectorSize {
		return fmt.Errorf("chunk: WriteSector src must be %d bytes, got %d", SectorSize, len(src))
	}
	off, err := d.sectorOffset(track, sector, order)
	if err != nil {
		return err
	}
	_, werr := d.wa.WriteAt(src, off)
	return werr
}

func (d *Image) sectorOffset(track, sector uint32, order SectorOrder) (int64, error) {
	if d.secsPerT == 0 {
		return 0, fmt.Errorf("chunk: device has no sector geometry")
	}
	if int(sector) >= d.secsPerT {
		return 0, fmt.Errorf("chunk: sector %d out of range (%d per track)", sector, d.secsPerT)
	}
	if order == OrderPhysical {
		order = d.order
	}
	logicalSector := translateSector(sector, order, d.secsPerT)
	return (int64(track)*int64(d.secsPerT) + int64(logicalSector)) * SectorSize, nil
}

// translateSector maps a requested (DOS 3.3 logical) sector number to the
// physical position it occupies in the given on-disk ordering.
func translateSector(sector uint32, order SectorOrder, secsPerTrack int) uint32 {
	if secsPerTrack != 16 || order == OrderDOSSector {
		return sector
	}
	// DOS-logical -> ProDOS-block-file physical skew table for 16-sector disks.
	var skew = [16]uint32{0, 13, 11, 9, 7, 5, 3, 1, 14, 12, 10, 8, 6, 4, 2, 15}
	if order == OrderProDOSBlock {
		return skew[sector]
	}
	return sector
}

func wrapBadBlock(n uint32, cause error) error {
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("chunk: block %d unreadable: %w: %v", n, ErrBadBlock, cause)
}
