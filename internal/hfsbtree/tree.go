package hfsbtree

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"

	"github.com/goldenapple/retroimg/internal/bitmap"
)

// Storage is the backing store for a B*-tree's own node pages: the
// catalog file or the extents-overflow file, addressed by node number.
// Implementations live in internal/hfs, which resolves node numbers onto
// the file's own extent/allocation-block chain.
type Storage interface {
	NodeCount() uint32
	ReadNode(num uint32) ([]byte, error)
	WriteNode(num uint32, raw []byte) error
	// Grow extends the backing file so it can hold at least newCount
	// nodes, allocating storage through the filesystem's normal growth
	// path (spec §4.4 step 3: "allocate a fresh node... extending with a
	// map node if needed").
	Grow(newCount uint32) error
}

// CompareFunc orders two keys the way a particular tree variant requires
// (spec §4.4: "catalog keys compare parent-CNID first... extents keys
// compare fork-kind, then CNID, then start-block-index").
type CompareFunc func(a, b []byte) int

// cacheKey namespaces the node cache by volume so two open trees never
// collide, exactly as blkCacheKey namespaces spinner's block cache by
// Opener.
type cacheKey struct {
	volume uint64
	node   uint32
}

func hashCacheKey(k cacheKey) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:], k.volume)
	binary.BigEndian.PutUint32(buf[8:], k.node)
	return xxhash.Sum64(buf[:])
}

// Tree is an open B*-tree: a header plus a node cache over a Storage.
type Tree struct {
	storage Storage
	compare CompareFunc
	volume  uint64 // cache namespace, e.g. hash of the volume's MDB create-date

	depth    uint16
	root     uint32
	numRecs  uint32
	firstLeaf uint32
	lastLeaf  uint32
	nodeSize  uint16 // always NodeSize; kept for round-tripping unusual images
	keyLen    uint16

	nodeBitmap *bitmap.Bitmap // node-occupancy map (spec: "node-occupancy bitmap")

	cache *tinylfu.T[cacheKey, *Node]
}

const headerRecordMaxNodes = 1 << 16 // HFS node numbers are 32-bit but volumes are small; bound the bitmap generously

// Open reads the header node (node 0) and reconstructs the in-memory node-
// occupancy bitmap from the header's map record plus any linked map nodes.
func Open(storage Storage, volume uint64, compare CompareFunc) (*Tree, error) {
	hdrRaw, err := storage.ReadNode(0)
	if err != nil {
		return nil, fmt.Errorf("hfsbtree: reading header node: %w", err)
	}
	hdrNode, err := decodeNode(0, hdrRaw)
	if err != nil {
		return nil, err
	}
	if hdrNode.Kind != KindHeader || len(hdrNode.Records) < 3 {
		return nil, fmt.Errorf("hfsbtree: %w: node 0 is not a well-formed header", errStructural)
	}

	hr := hdrNode.Records[0]
	if len(hr) < 30 {
		return nil, fmt.Errorf("hfsbtree: %w: header record too short", errStructural)
	}

	t := &Tree{
		storage:   storage,
		compare:   compare,
		volume:    volume,
		depth:     binary.BigEndian.Uint16(hr[0:]),
		root:      binary.BigEndian.Uint32(hr[2:]),
		numRecs:   binary.BigEndian.Uint32(hr[6:]),
		firstLeaf: binary.BigEndian.Uint32(hr[10:]),
		lastLeaf:  binary.BigEndian.Uint32(hr[14:]),
		nodeSize:  binary.BigEndian.Uint16(hr[18:]),
		keyLen:    binary.BigEndian.Uint16(hr[20:]),
		cache:     tinylfu.New[cacheKey, *Node](256, 2560, hashCacheKey),
	}

	totalNodes := binary.BigEndian.Uint32(hr[22:])
	// The map record (3rd record of the header node) holds the first
	// chunk of the occupancy bitmap; further chunks live in linked map
	// (KindMap) nodes reachable via FLink from the header node.
	bits := append([]byte(nil), hdrNode.Records[2]...)
	next := hdrNode.FLink
	for next != 0 {
		raw, err := storage.ReadNode(next)
		if err != nil {
			return nil, fmt.Errorf("hfsbtree: reading map node %d: %w", next, err)
		}
		mapNode, err := decodeNode(next, raw)
		if err != nil {
			return nil, err
		}
		if mapNode.Kind != KindMap || len(mapNode.Records) == 0 {
			return nil, fmt.Errorf("hfsbtree: %w: expected map node at %d", errStructural, next)
		}
		bits = append(bits, mapNode.Records[0]...)
		next = mapNode.FLink
	}
	t.nodeBitmap = bitmap.Load(bits, int(totalNodes), bitmap.OneMeansInUse)
	return t, nil
}

func (t *Tree) readNode(num uint32) (*Node, error) {
	key := cacheKey{t.volume, num}
	if n, ok := t.cache.Get(key); ok {
		return n, nil
	}
	raw, err := t.storage.ReadNode(num)
	if err != nil {
		return nil, fmt.Errorf("hfsbtree: reading node %d: %w", num, err)
	}
	n, err := decodeNode(num, raw)
	if err != nil {
		return nil, err
	}
	t.cache.Add(key, n)
	return n, nil
}

func (t *Tree) writeNode(n *Node) error {
	if err := t.storage.WriteNode(n.Num, n.encode()); err != nil {
		return fmt.Errorf("hfsbtree: writing node %d: %w", n.Num, err)
	}
	t.cache.Add(cacheKey{t.volume, n.Num}, n)
	return nil
}

// Flush writes the header node back out, reflecting the tree's current
// root/depth/leaf-chain/record-count fields. Callers (internal/hfs) are
// responsible for calling this after a batch of mutations, matching spec
// §5's "flush() guarantees that all dirty metadata ... have been submitted
// to the device before return".
func (t *Tree) Flush() error {
	hdrRaw, err := t.storage.ReadNode(0)
	if err != nil {
		return err
	}
	hdrNode, err := decodeNode(0, hdrRaw)
	if err != nil {
		return err
	}
	hr := hdrNode.Records[0]
	binary.BigEndian.PutUint16(hr[0:], t.depth)
	binary.BigEndian.PutUint32(hr[2:], t.root)
	binary.BigEndian.PutUint32(hr[6:], t.numRecs)
	binary.BigEndian.PutUint32(hr[10:], t.firstLeaf)
	binary.BigEndian.PutUint32(hr[14:], t.lastLeaf)

	copy(hdrNode.Records[2], t.nodeBitmap.Bytes())
	return t.writeNode(hdrNode)
}

func (t *Tree) Root() uint32  { return t.root }
func (t *Tree) Depth() uint16 { return t.depth }
func (t *Tree) FirstLeaf() uint32 { return t.firstLeaf }
func (t *Tree) LastLeaf() uint32  { return t.lastLeaf }
func (t *Tree) RecordCount() uint32 { return t.numRecs }
