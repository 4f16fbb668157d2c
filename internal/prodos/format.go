// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package prodos

import (
	"encoding/binary"
	"fmt"

	"github.com/goldenapple/retroimg/internal/bitmap"
	"github.com/goldenapple/retroimg/internal/chunk"
)

// Format lays down a fresh ProDOS volume on dev: two zeroed boot blocks, a
// one-block volume directory (just the header entry, no files), and a
// volume bitmap sized to the device, with the boot/directory/bitmap blocks
// themselves marked in use. The directory grows one block at a time as
// CreateFile/CreateDir need room, the same way findFreeSlot already does
// for an opened volume.
func Format(dev chunk.Device, volName string) (*Volume, error) {
	totalBlocks := int(dev.FormattedLength() / blockSize)
	numBmBlocks := (totalBlocks + 4095) / 4096
	// boot blocks (2) + volume directory (1) + bitmap
	if totalBlocks <= 2+1+numBmBlocks {
		return nil, fmt.Errorf("prodos: volume too small to format (%d blocks)", totalBlocks)
	}
	if len(volName) > 15 {
		return nil, fmt.Errorf("prodos: volume name %q longer than 15 characters", volName)
	}

	bm := bitmap.New(totalBlocks, bitmap.OneMeansFree)
	if _, err := bm.AllocBlocks(2, 0, "boot"); err != nil {
		return nil, err
	}
	dirRun, err := bm.AllocBlocks(1, 0, "voldir")
	if err != nil {
		return nil, err
	}
	bmRun, err := bm.AllocBlocks(numBmBlocks, 0, "bitmap")
	if err != nil {
		return nil, err
	}
	bitmapBlk := uint16(bmRun.Start)

	var boot [512]byte
	if err := dev.WriteBlock(0, boot[:]); err != nil {
		return nil, err
	}
	if err := dev.WriteBlock(1, boot[:]); err != nil {
		return nil, err
	}

	dirBlk := uint16(dirRun.Start)
	var dir [512]byte
	binary.LittleEndian.PutUint16(dir[0:2], 0)  // no previous block
	binary.LittleEndian.PutUint16(dir[2:4], 0)  // no next block yet
	copy(dir[dirBlockHeaderSz:dirBlockHeaderSz+dirHeaderEntrySz], encodeVolDirHeader(volName, bitmapBlk, uint16(totalBlocks)))
	if err := dev.WriteBlock(uint32(dirBlk), dir[:]); err != nil {
		return nil, err
	}

	padded := make([]byte, numBmBlocks*512)
	copy(padded, bm.Bytes())
	for i := 0; i < numBmBlocks; i++ {
		if err := dev.WriteBlock(uint32(bitmapBlk)+uint32(i), padded[i*512:(i+1)*512]); err != nil {
			return nil, err
		}
	}

	return &Volume{
		dev:         dev,
		bitmap:      bm,
		bitmapBlk:   bitmapBlk,
		totalBlocks: uint16(totalBlocks),
		volName:     volName,
	}, nil
}

// encodeVolDirHeader builds the 39-byte volume-header entry that leads
// block 2's entry list (spec §4.6): storage type/name, then the
// bit_map_pointer/total_blocks pair Open reads back from the tail of the
// entry.
func encodeVolDirHeader(volName string, bitmapBlk, totalBlocks uint16) []byte {
	raw := make([]byte, dirHeaderEntrySz)
	name := utf8ToMacRoman(volName)
	if len(name) > 15 {
		name = name[:15]
	}
	raw[0] = byte(StorageVolDirHeader)<<4 | byte(len(name))
	copy(raw[1:], name)
	raw[0x1f] = dirHeaderEntrySz
	raw[0x20] = entriesPerBlock
	binary.LittleEndian.PutUint16(raw[0x23:], bitmapBlk)
	binary.LittleEndian.PutUint16(raw[0x25:], totalBlocks)
	return raw
}
