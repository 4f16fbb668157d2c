package hfs

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/bitmap"
	"github.com/goldenapple/retroimg/internal/hfsbtree"
)

// extentChain resolves a fork's allocation blocks into absolute device
// block numbers, chasing into the extents-overflow tree exactly like the
// teacher's blockExtents.chaseOverflow, but pulling records from a live
// hfsbtree.Tree instead of a pre-parsed map.
type extentChain struct {
	runs []Extent // allocation-block runs, in logical order
}

func firstThreeExtents(rec [3]Extent) extentChain {
	var c extentChain
	for _, e := range rec {
		if e.BlockCount != 0 {
			c.runs = append(c.runs, e)
		}
	}
	return c
}

func (c extentChain) numBlocks() uint16 {
	var n uint16
	for _, r := range c.runs {
		n += r.BlockCount
	}
	return n
}

// chaseOverflow appends further extent records from the extents-overflow
// tree until the fork's logical-block coverage is accounted for or no more
// records exist, mirroring chaseOverflow in the teacher's hfs.go.
func (c extentChain) chaseOverflow(tree *hfsbtree.Tree, fileID uint32, forkKind uint8) (extentChain, error) {
	n := c.numBlocks()
	for {
		key := encodeExtentsKey(ExtentsKey{ForkKind: forkKind, FileID: fileID, StartBlock: n})
		body, found, err := tree.Search(key)
		if err != nil {
			return c, err
		}
		if !found {
			break
		}
		more := decodeExtentRecord(body)
		added := false
		for _, e := range more {
			if e.BlockCount != 0 {
				c.runs = append(c.runs, e)
				n += e.BlockCount
				added = true
			}
		}
		if !added {
			break
		}
	}
	return c, nil
}

// deviceBlocks converts each allocation-block run into the absolute
// 512-byte device block numbers it occupies, honoring the MDB's
// allocation-block size (which may span multiple 512-byte blocks) and its
// start offset.
func (c extentChain) deviceBlocks(m *MDB) []uint32 {
	blocksPerAlloc := m.AllocBlkSize / 512
	var out []uint32
	for _, r := range c.runs {
		base := uint32(m.AllocBlkSt) + uint32(r.StartBlock)*blocksPerAlloc
		for i := uint16(0); i < r.BlockCount; i++ {
			for j := uint32(0); j < blocksPerAlloc; j++ {
				out = append(out, base+uint32(i)*blocksPerAlloc+j)
			}
		}
	}
	return out
}

// allocationBlocks is like deviceBlocks but reports allocation-block
// numbers (not raw device blocks), for updating the volume bitmap.
func (c extentChain) allocationBlocks() []int {
	var out []int
	for _, r := range c.runs {
		for i := uint16(0); i < r.BlockCount; i++ {
			out = append(out, int(r.StartBlock)+int(i))
		}
	}
	return out
}

// extendChain allocates one more run for a fork from bm and returns it as
// an Extent. It writes no extent record: the caller places the run in the
// catalog record's three slots or in an extents-overflow record.
func extendChain(bm *bitmap.Bitmap, clump int, searchStart int, owner any) (Extent, error) {
	run, err := bm.AllocBlocks(clump, searchStart, owner)
	if err != nil {
		return Extent{}, fmt.Errorf("hfs: growing fork: %w", err)
	}
	if run.Count > 0xffff || run.Start > 0xffff {
		return Extent{}, fmt.Errorf("hfs: allocation run too large to represent")
	}
	return Extent{StartBlock: uint16(run.Start), BlockCount: uint16(run.Count)}, nil
}
