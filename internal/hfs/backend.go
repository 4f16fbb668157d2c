package hfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goldenapple/retroimg/internal/bitmap"
)

// ErrSparse marks a fork block with no allocation behind it yet — zero-fill
// on read, allocate on write, the same sparse contract descriptor.Backend
// expects from every concrete filesystem.
var ErrSparse = errors.New("hfs: sparse fork block")

// FileBackend adapts one fork of an HFS catalog entry to descriptor.Backend.
// Its block unit is the volume's allocation block (MDB.AllocBlkSize, a
// multiple of 512 bytes), mirroring how the catalog and extents-overflow
// trees already address storage through fileStorage.
type FileBackend struct {
	v        *Volume
	parentID uint32
	forkKind uint8
	entry    DirEntry
}

// OpenFile returns a descriptor.Backend for one fork of e, a child of
// parentID. Changes to the fork's extents/size are buffered in memory and
// only reach the catalog tree on Flush.
func (v *Volume) OpenFile(parentID uint32, e DirEntry, forkKind uint8) *FileBackend {
	return &FileBackend{v: v, parentID: parentID, forkKind: forkKind, entry: e}
}

func (fb *FileBackend) extents() [3]Extent {
	if fb.forkKind == ForkResource {
		return fb.entry.RsrcExtents
	}
	return fb.entry.DataExtents
}

func (fb *FileBackend) setExtents(first [3]Extent) {
	if fb.forkKind == ForkResource {
		fb.entry.RsrcExtents = first
	} else {
		fb.entry.DataExtents = first
	}
}

func (fb *FileBackend) logicalSize() uint32 {
	if fb.forkKind == ForkResource {
		return fb.entry.RsrcLogicalSize
	}
	return fb.entry.DataLogicalSize
}

func (fb *FileBackend) setLogicalSize(n uint32) {
	if fb.forkKind == ForkResource {
		fb.entry.RsrcLogicalSize = n
	} else {
		fb.entry.DataLogicalSize = n
	}
}

// chaseWithKeys walks the fork's extent chain exactly like
// extentChain.chaseOverflow, but also returns the extents-tree keys
// visited along the way, so Truncate can delete the ones it drops.
func (fb *FileBackend) chaseWithKeys() (runs []Extent, keys [][]byte, err error) {
	runs = append(runs, firstThreeExtents(fb.extents()).runs...)
	n := extentChain{runs: runs}.numBlocks()
	for {
		key := encodeExtentsKey(ExtentsKey{ForkKind: fb.forkKind, FileID: fb.entry.CNID, StartBlock: n})
		body, found, serr := fb.v.extentsTree.Search(key)
		if serr != nil {
			return nil, nil, serr
		}
		if !found {
			break
		}
		more := decodeExtentRecord(body)
		added := false
		for _, e := range more {
			if e.BlockCount != 0 {
				runs = append(runs, e)
				n += e.BlockCount
				added = true
			}
		}
		if !added {
			break
		}
		keys = append(keys, key)
	}
	return runs, keys, nil
}

func (fb *FileBackend) BlockSize() int          { return int(fb.v.mdb.AllocBlkSize) }
func (fb *FileBackend) FillByte() byte          { return 0 }
func (fb *FileBackend) Size() int64             { return int64(fb.logicalSize()) }
func (fb *FileBackend) IsSparse(err error) bool { return errors.Is(err, ErrSparse) }

func (fb *FileBackend) Resolve(block int64) (int64, error) {
	runs, _, err := fb.chaseWithKeys()
	if err != nil {
		return 0, err
	}
	allocBlocks := extentChain{runs: runs}.allocationBlocks()
	if block < 0 || int(block) >= len(allocBlocks) {
		return 0, ErrSparse
	}
	return int64(allocBlocks[block]), nil
}

// EnsureAllocated grows the fork one clump at a time (spec §4.5's growth
// policy: a new run when the existing tail isn't adjacent, an overflow
// record once the catalog record's three extent slots are full) until
// block is covered. An adjacent run is merged only into a tail held in the
// catalog record; a tail held in an overflow record gets a new record.
func (fb *FileBackend) EnsureAllocated(block int64) (int64, error) {
	runs, _, err := fb.chaseWithKeys()
	if err != nil {
		return 0, err
	}
	c := extentChain{runs: runs}
	allocBlocks := c.allocationBlocks()

	clump := int(fb.v.mdb.ClumpSize / fb.v.mdb.AllocBlkSize)
	if clump < 1 {
		clump = 1
	}
	for int(block) >= len(allocBlocks) {
		n := c.numBlocks()
		run, err := extendChain(fb.v.bitmap, clump, int(fb.v.mdb.AllocPtr), fb.entry.CNID)
		if err != nil {
			return 0, fmt.Errorf("hfs: growing fork: %w", err)
		}
		if last := len(c.runs) - 1; last >= 0 && last < 3 && c.runs[last].StartBlock+c.runs[last].BlockCount == run.StartBlock {
			c.runs[last].BlockCount += run.BlockCount
		} else if len(c.runs) < 3 {
			c.runs = append(c.runs, run)
		} else {
			key := encodeExtentsKey(ExtentsKey{ForkKind: fb.forkKind, FileID: fb.entry.CNID, StartBlock: n})
			if err := fb.v.extentsTree.Insert(key, encodeExtentRecord([3]Extent{run, {}, {}})); err != nil {
				return 0, fmt.Errorf("hfs: recording overflow extent: %w", err)
			}
			c.runs = append(c.runs, run)
		}
		allocBlocks = c.allocationBlocks()
	}

	var first [3]Extent
	for i := 0; i < 3 && i < len(c.runs); i++ {
		first[i] = c.runs[i]
	}
	fb.setExtents(first)
	return int64(allocBlocks[block]), nil
}

func (fb *FileBackend) ReadBlock(devBlock int64, dst []byte) error {
	blocksPerAlloc := fb.v.mdb.AllocBlkSize / 512
	base := uint32(fb.v.mdb.AllocBlkSt) + uint32(devBlock)*blocksPerAlloc
	for i := uint32(0); i < blocksPerAlloc; i++ {
		if err := fb.v.dev.ReadBlock(base+i, dst[i*512:(i+1)*512]); err != nil {
			return err
		}
	}
	return nil
}

func (fb *FileBackend) WriteBlock(devBlock int64, src []byte) error {
	blocksPerAlloc := fb.v.mdb.AllocBlkSize / 512
	base := uint32(fb.v.mdb.AllocBlkSt) + uint32(devBlock)*blocksPerAlloc
	for i := uint32(0); i < blocksPerAlloc; i++ {
		if err := fb.v.dev.WriteBlock(base+i, src[i*512:(i+1)*512]); err != nil {
			return err
		}
	}
	return nil
}

// Truncate frees or extends the fork to cover newSize bytes, trimming or
// growing both the catalog record's three extent slots and any overflow
// records, then updates the fork's logical size.
func (fb *FileBackend) Truncate(newSize int64) error {
	blockSize := int64(fb.BlockSize())
	newBlockCount := int((newSize + blockSize - 1) / blockSize)

	runs, keys, err := fb.chaseWithKeys()
	if err != nil {
		return err
	}
	total := int(extentChain{runs: runs}.numBlocks())

	switch {
	case newBlockCount < total:
		allocBlocks := extentChain{runs: runs}.allocationBlocks()
		for _, ab := range allocBlocks[newBlockCount:] {
			fb.v.bitmap.ReleaseBlocks(bitmap.Run{Start: ab, Count: 1})
		}

		var trimmed []Extent
		remaining := newBlockCount
		for _, r := range runs {
			if remaining <= 0 {
				break
			}
			if int(r.BlockCount) <= remaining {
				trimmed = append(trimmed, r)
				remaining -= int(r.BlockCount)
			} else {
				trimmed = append(trimmed, Extent{StartBlock: r.StartBlock, BlockCount: uint16(remaining)})
				remaining = 0
			}
		}
		for _, k := range keys {
			_ = fb.v.extentsTree.Delete(k)
		}

		var first [3]Extent
		for i := 0; i < 3 && i < len(trimmed); i++ {
			first[i] = trimmed[i]
		}
		fb.setExtents(first)

		if len(trimmed) > 3 {
			n := first[0].BlockCount + first[1].BlockCount + first[2].BlockCount
			for _, r := range trimmed[3:] {
				key := encodeExtentsKey(ExtentsKey{ForkKind: fb.forkKind, FileID: fb.entry.CNID, StartBlock: n})
				if err := fb.v.extentsTree.Insert(key, encodeExtentRecord([3]Extent{r, {}, {}})); err != nil {
					return err
				}
				n += r.BlockCount
			}
		}

	case newBlockCount > total:
		if newBlockCount > 0 {
			if _, err := fb.EnsureAllocated(int64(newBlockCount - 1)); err != nil {
				return err
			}
		}
	}

	fb.setLogicalSize(uint32(newSize))
	return nil
}

// Flush writes the fork's updated extents and logical size back into the
// catalog tree. Catalog records can't be updated in place (spec §4.4's
// B*-tree has no "replace"), so this deletes and reinserts under the same
// key.
func (fb *FileBackend) Flush() error {
	return fb.v.updateFileCatalogEntry(fb.parentID, fb.entry)
}

// updateFileCatalogEntry re-encodes e's file record (same field offsets as
// decodeCatalogEntry/CreateFile) and replaces it in the catalog tree.
func (v *Volume) updateFileCatalogEntry(parentID uint32, e DirEntry) error {
	key := encodeCatalogKey(CatalogKey{ParentID: parentID, Name: e.Name})
	body, found, err := v.catalogTree.Search(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("hfs: %s: %w", e.Name, errTruncatedRecord)
	}
	if len(body) < 0x66 {
		nbody := make([]byte, 0x66)
		copy(nbody, body)
		body = nbody
	} else {
		body = append([]byte(nil), body...)
	}

	body[0] = recFile
	if e.Locked {
		body[0x01] |= 0x01
	} else {
		body[0x01] &^= 0x01
	}
	copy(body[0x04:0x14], e.FinderInfo[:])
	binary.BigEndian.PutUint32(body[0x14:], e.CNID)
	binary.BigEndian.PutUint32(body[0x1a:], e.DataLogicalSize)
	binary.BigEndian.PutUint32(body[0x24:], e.RsrcLogicalSize)
	binary.BigEndian.PutUint32(body[0x2c:], macTimeEncode(e.CreateDate))
	binary.BigEndian.PutUint32(body[0x30:], macTimeEncode(e.ModifyDate))
	copy(body[0x4a:0x56], encodeExtentRecord(e.DataExtents))
	copy(body[0x56:0x62], encodeExtentRecord(e.RsrcExtents))

	if err := v.catalogTree.Delete(key); err != nil {
		return err
	}
	return v.catalogTree.Insert(key, body)
}
