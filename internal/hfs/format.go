// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package hfs

import (
	"fmt"
	"time"

	"github.com/goldenapple/retroimg/internal/bitmap"
	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/hfsbtree"
	"github.com/goldenapple/retroimg/internal/usage"
)

// catalogKeyLen/extentsKeyLen are the keyLength field Inside Macintosh
// defines for each tree: 37 (the longest possible catalog key, though
// catalog keys are actually variable-length) and 7 (extents keys are
// fixed-length), round-tripped into the header node but otherwise unused
// by this engine.
const (
	catalogKeyLen = 37
	extentsKeyLen = 7
)

// reservedBlocks is how many 512-byte device blocks sit before the volume
// bitmap on every volume this engine formats: two boot blocks plus the MDB
// itself.
const reservedBlocks = 3

// Format lays down a fresh, empty HFS volume on dev: boot blocks, an MDB,
// a volume bitmap, and empty catalog and extents-overflow B*-trees (via
// hfsbtree.Create). The root directory needs no catalog record of its own
// (Lookup synthesizes one for CNID 2 when nothing overrides it), so an
// empty catalog tree is already a valid, mountable volume.
func Format(dev chunk.Device, volName string, opts ...Option) (*Volume, error) {
	var o volumeOptions
	for _, opt := range opts {
		opt(&o)
	}

	totalBlocks := int(dev.FormattedLength() / 512)
	if len(volName) > 27 {
		return nil, fmt.Errorf("hfs: volume name %q longer than 27 characters", volName)
	}

	blocksPerAlloc, vbmStart, allocBlkSt, numAllocBlks, err := planAllocation(totalBlocks)
	if err != nil {
		return nil, err
	}
	allocBlkSize := uint32(blocksPerAlloc) * 512
	clumpSize := allocBlkSize * 4

	var zero [512]byte
	if err := dev.WriteBlock(0, zero[:]); err != nil {
		return nil, err
	}
	if err := dev.WriteBlock(1, zero[:]); err != nil {
		return nil, err
	}

	now := time.Now()
	mdb := &MDB{
		CreateDate:   now,
		ModifyDate:   now,
		VBMStart:     uint16(vbmStart),
		AllocPtr:     0,
		NumAllocBlks: uint16(numAllocBlks),
		AllocBlkSize: allocBlkSize,
		ClumpSize:    clumpSize,
		AllocBlkSt:   uint16(allocBlkSt),
		NextCNID:     16, // CNIDs 1-15 are reserved for special files, per Inside Macintosh
		Name:         volName,
	}

	v := &Volume{dev: dev, mdb: mdb}
	v.bitmap = bitmap.New(int(mdb.NumAllocBlks), bitmap.OneMeansInUse)
	v.usage = usage.New(int(mdb.NumAllocBlks))

	volumeTag := uint64(macTimeEncode(mdb.CreateDate))

	v.extentsStore = newExtentsStorage(v)
	var extentsStorage hfsbtree.Storage = v.extentsStore
	if o.nodeCache != nil {
		extentsStorage = o.nodeCache.Wrap(v.extentsStore, volumeTag^1)
	}
	v.extentsTree, err = hfsbtree.Create(extentsStorage, volumeTag^1, CompareExtentsKeys, extentsKeyLen)
	if err != nil {
		return nil, fmt.Errorf("hfs: creating extents-overflow tree: %w", err)
	}

	v.catalogStore = newCatalogStorage(v)
	var catalogStorage hfsbtree.Storage = v.catalogStore
	if o.nodeCache != nil {
		catalogStorage = o.nodeCache.Wrap(v.catalogStore, volumeTag^2)
	}
	v.catalogTree, err = hfsbtree.Create(catalogStorage, volumeTag^2, CompareCatalogKeys, catalogKeyLen)
	if err != nil {
		return nil, fmt.Errorf("hfs: creating catalog tree: %w", err)
	}

	mdb.FreeBlocks = uint16(v.bitmap.FreeBlocks())
	if err := v.Flush(); err != nil {
		return nil, err
	}
	return v, nil
}

// planAllocation picks an allocation-block size (a multiple of 512 bytes)
// small enough to keep the volume's allocation-block count within uint16
// range, then lays out the bitmap and allocation area that follow it.
func planAllocation(totalBlocks int) (blocksPerAlloc, vbmStart, allocBlkSt, numAllocBlks int, err error) {
	for blocksPerAlloc = 1; ; blocksPerAlloc++ {
		vbmStart = reservedBlocks
		available := totalBlocks - vbmStart
		if available <= 0 {
			return 0, 0, 0, 0, fmt.Errorf("hfs: volume too small to format (%d blocks)", totalBlocks)
		}
		// First guess at numAllocBlks ignoring the bitmap's own footprint,
		// then shrink by however many blocks the bitmap itself needs.
		guess := available / blocksPerAlloc
		bmBlocks := ((guess + 7) / 8 + 511) / 512
		remaining := available - bmBlocks
		n := remaining / blocksPerAlloc
		if n <= 0 {
			return 0, 0, 0, 0, fmt.Errorf("hfs: volume too small to format (%d blocks)", totalBlocks)
		}
		if n <= 0xffff {
			allocBlkSt = vbmStart + bmBlocks
			numAllocBlks = n
			return blocksPerAlloc, vbmStart, allocBlkSt, numAllocBlks, nil
		}
	}
}
