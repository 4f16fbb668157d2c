package hfsbtree

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-tinylfu"

	"github.com/goldenapple/retroimg/internal/bitmap"
)

// headerMapBits is how many node-occupancy bits fit in the header node's
// own map record, alongside the 30-byte header record and a 2-byte
// reserved record, within one 512-byte page. This implementation does not
// chain further KindMap nodes (spec §4.4's header record points at one),
// so a tree created by Create cannot grow past this many nodes — fine for
// the volumes this module formats, but a real scale ceiling worth noting.
const headerMapBits = 3600

// Create initializes a brand-new, empty B*-tree in storage: a header node
// (node 0) followed by a single empty leaf root (node 1), matching the
// shape Open expects to read back. Used by format() (spec §4.8) to lay
// down fresh catalog and extents-overflow files.
func Create(storage Storage, volume uint64, compare CompareFunc, keyLen uint16) (*Tree, error) {
	if err := storage.Grow(2); err != nil {
		return nil, fmt.Errorf("hfsbtree: allocating header+root nodes: %w", err)
	}

	t := &Tree{
		storage:   storage,
		compare:   compare,
		volume:    volume,
		depth:     1,
		root:      1,
		numRecs:   0,
		firstLeaf: 1,
		lastLeaf:  1,
		nodeSize:  NodeSize,
		keyLen:    keyLen,
		cache:     tinylfu.New[cacheKey, *Node](256, 2560, hashCacheKey),
	}
	t.nodeBitmap = bitmap.New(headerMapBits, bitmap.OneMeansInUse)
	if _, err := t.nodeBitmap.AllocBlocks(2, 0, "header+root"); err != nil {
		return nil, fmt.Errorf("hfsbtree: marking header+root nodes in use: %w", err)
	}

	root := &Node{Num: 1, Kind: KindLeaf, Height: 1}
	if err := t.writeNode(root); err != nil {
		return nil, err
	}

	hr := make([]byte, 30)
	binary.BigEndian.PutUint16(hr[0:], t.depth)
	binary.BigEndian.PutUint32(hr[2:], t.root)
	binary.BigEndian.PutUint32(hr[6:], t.numRecs)
	binary.BigEndian.PutUint32(hr[10:], t.firstLeaf)
	binary.BigEndian.PutUint32(hr[14:], t.lastLeaf)
	binary.BigEndian.PutUint16(hr[18:], t.nodeSize)
	binary.BigEndian.PutUint16(hr[20:], t.keyLen)
	binary.BigEndian.PutUint32(hr[22:], headerMapBits)

	hdr := &Node{
		Num:  0,
		Kind: KindHeader,
		Records: [][]byte{
			hr,
			make([]byte, 2), // reserved record; Open only checks a record is present
			t.nodeBitmap.Bytes(),
		},
	}
	if !hdr.fits(0) {
		return nil, fmt.Errorf("hfsbtree: header record layout exceeds one node")
	}
	if err := t.writeNode(hdr); err != nil {
		return nil, err
	}
	return t, nil
}
