// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package hfs implements a writable model of Apple's Hierarchical File
// System (HFS, 1985) as described in spec.md: Master Directory Block,
// catalog and extents B*-trees (via internal/hfsbtree), the allocation
// bitmap (via internal/bitmap), and extent-chain file access.
//
// It generalizes the teacher's read-only parser
// (elliotnunn/BeHierarchic internal/hfs/hfs.go) from "build an fs.FS once
// at Open time" into an engine that can look up, create, grow, and delete
// catalog entries against a live internal/chunk.Device.
package hfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/goldenapple/retroimg/internal/chunk"
)

const mdbOffset = 0x400 // block 2, per Inside Macintosh

// ErrBadMagic is returned by Open when the MDB signature isn't 'BD'.
var ErrBadMagic = errors.New("hfs: not an HFS volume (bad MDB signature)")

// Extent is one (startBlock, blockCount) run of allocation blocks, the
// on-disk form used by both the MDB's 3-extent descriptors and extents
// B*-tree records.
type Extent struct {
	StartBlock uint16
	BlockCount uint16
}

// MDB mirrors the fields of the classic 162-byte Master Directory Block
// that this engine reads and maintains.
type MDB struct {
	CreateDate   time.Time
	ModifyDate   time.Time
	Attributes   uint16
	NumFiles     uint16 // root dir file count
	VBMStart     uint16 // drVBMSt: first block of the volume bitmap
	AllocPtr     uint16 // drAllocPtr: next block to start clump search from
	NumAllocBlks uint16
	AllocBlkSize uint32
	ClumpSize    uint32
	AllocBlkSt   uint16 // first 512-byte block occupied by allocation block 0
	NextCNID     uint32
	FreeBlocks   uint16
	Name         string // Mac Roman volume name, decoded to UTF-8
	BackupDate   time.Time

	CatalogExtents [3]Extent
	ExtentsExtents [3]Extent
	CatalogSize    uint32
	ExtentsSize    uint32

	WriteCount uint32
}

func macTimeDecode(field []byte) time.Time {
	stamp := binary.BigEndian.Uint32(field)
	if stamp == 0 {
		return time.Time{}
	}
	return time.Unix(int64(stamp)-2082844800, 0).UTC()
}

func macTimeEncode(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix() + 2082844800)
}

func decodeExtentRecord(rec []byte) [3]Extent {
	var ext [3]Extent
	for i := 0; i < 3; i++ {
		ext[i] = Extent{
			StartBlock: binary.BigEndian.Uint16(rec[4*i:]),
			BlockCount: binary.BigEndian.Uint16(rec[4*i+2:]),
		}
	}
	return ext
}

func encodeExtentRecord(ext [3]Extent) []byte {
	rec := make([]byte, 12)
	for i, e := range ext {
		binary.BigEndian.PutUint16(rec[4*i:], e.StartBlock)
		binary.BigEndian.PutUint16(rec[4*i+2:], e.BlockCount)
	}
	return rec
}

// ReadMDB reads and decodes the Master Directory Block at its fixed offset.
func ReadMDB(dev chunk.Device) (*MDB, error) {
	var buf [512]byte
	if err := readAt(dev, mdbOffset, buf[:]); err != nil {
		return nil, fmt.Errorf("hfs: reading MDB: %w", err)
	}
	if buf[0] != 'B' || buf[1] != 'D' {
		return nil, ErrBadMagic
	}

	m := &MDB{
		CreateDate:   macTimeDecode(buf[0x02:]),
		ModifyDate:   macTimeDecode(buf[0x06:]),
		Attributes:   binary.BigEndian.Uint16(buf[0x0a:]),
		NumFiles:     binary.BigEndian.Uint16(buf[0x0c:]),
		VBMStart:     binary.BigEndian.Uint16(buf[0x0e:]),
		AllocPtr:     binary.BigEndian.Uint16(buf[0x10:]),
		NumAllocBlks: binary.BigEndian.Uint16(buf[0x12:]),
		AllocBlkSize: binary.BigEndian.Uint32(buf[0x14:]),
		ClumpSize:    binary.BigEndian.Uint32(buf[0x18:]),
		AllocBlkSt:   binary.BigEndian.Uint16(buf[0x1c:]),
		NextCNID:     binary.BigEndian.Uint32(buf[0x1e:]),
		FreeBlocks:   binary.BigEndian.Uint16(buf[0x22:]),
		BackupDate:   macTimeDecode(buf[0x72:]),
	}
	nameLen := int(buf[0x24])
	if nameLen > 27 {
		nameLen = 27
	}
	m.Name = macRomanToUTF8(buf[0x25 : 0x25+nameLen])

	m.CatalogExtents = decodeExtentRecord(buf[0x96:])
	m.CatalogSize = binary.BigEndian.Uint32(buf[0x7a:])
	m.ExtentsExtents = decodeExtentRecord(buf[0x86:])
	m.ExtentsSize = binary.BigEndian.Uint32(buf[0x76:])
	m.WriteCount = binary.BigEndian.Uint32(buf[0x6c:])

	return m, nil
}

// WriteMDB encodes m and writes it back to its fixed offset, preserving
// whatever reserved bytes a real volume may carry by reading-modifying the
// existing block first.
func WriteMDB(dev chunk.Device, m *MDB) error {
	var buf [512]byte
	if err := readAt(dev, mdbOffset, buf[:]); err != nil {
		return fmt.Errorf("hfs: reading MDB for update: %w", err)
	}
	buf[0], buf[1] = 'B', 'D'
	binary.BigEndian.PutUint32(buf[0x02:], macTimeEncode(m.CreateDate))
	binary.BigEndian.PutUint32(buf[0x06:], macTimeEncode(m.ModifyDate))
	binary.BigEndian.PutUint16(buf[0x0a:], m.Attributes)
	binary.BigEndian.PutUint16(buf[0x0c:], m.NumFiles)
	binary.BigEndian.PutUint16(buf[0x0e:], m.VBMStart)
	binary.BigEndian.PutUint16(buf[0x10:], m.AllocPtr)
	binary.BigEndian.PutUint16(buf[0x12:], m.NumAllocBlks)
	binary.BigEndian.PutUint32(buf[0x14:], m.AllocBlkSize)
	binary.BigEndian.PutUint32(buf[0x18:], m.ClumpSize)
	binary.BigEndian.PutUint16(buf[0x1c:], m.AllocBlkSt)
	binary.BigEndian.PutUint32(buf[0x1e:], m.NextCNID)
	binary.BigEndian.PutUint16(buf[0x22:], m.FreeBlocks)

	name := utf8ToMacRoman(m.Name)
	if len(name) > 27 {
		name = name[:27]
	}
	buf[0x24] = byte(len(name))
	clear(buf[0x25:0x25+27])
	copy(buf[0x25:], name)

	binary.BigEndian.PutUint32(buf[0x6c:], m.WriteCount)
	binary.BigEndian.PutUint32(buf[0x72:], macTimeEncode(m.BackupDate))
	binary.BigEndian.PutUint32(buf[0x76:], m.ExtentsSize)
	binary.BigEndian.PutUint32(buf[0x7a:], m.CatalogSize)
	copy(buf[0x86:], encodeExtentRecord(m.ExtentsExtents))
	copy(buf[0x96:], encodeExtentRecord(m.CatalogExtents))

	if err := writeAt(dev, mdbOffset, buf[:]); err != nil {
		return fmt.Errorf("hfs: writing MDB: %w", err)
	}
	return nil
}

func readAt(dev chunk.Device, byteOffset int64, buf []byte) error {
	blk := uint32(byteOffset / chunk.BlockSize)
	if byteOffset%chunk.BlockSize != 0 || len(buf) != chunk.BlockSize {
		return fmt.Errorf("hfs: readAt only supports whole-block offsets, got %d/%d", byteOffset, len(buf))
	}
	return dev.ReadBlock(blk, buf)
}

func writeAt(dev chunk.Device, byteOffset int64, buf []byte) error {
	blk := uint32(byteOffset / chunk.BlockSize)
	if byteOffset%chunk.BlockSize != 0 || len(buf) != chunk.BlockSize {
		return fmt.Errorf("hfs: writeAt only supports whole-block offsets, got %d/%d", byteOffset, len(buf))
	}
	return dev.WriteBlock(blk, buf)
}
