package hfs

import (
	"testing"

	"github.com/goldenapple/retroimg/internal/chunk"
)

// buildTestImage assembles the smallest possible valid-looking HFS volume
// in memory: an MDB, a one-block-per-allocation-block layout, a volume
// bitmap, and empty catalog/extents trees each occupying two allocation
// blocks. It is deliberately minimal — just enough for Volume.Open to
// succeed and for catalog operations to exercise the B*-tree engine.
func buildTestImage(t *testing.T, numAllocBlocks int) *chunk.Image {
	t.Helper()
	const allocBlkSize = 512
	const totalBlocks = 64 // device blocks; plenty of headroom past numAllocBlocks

	buf := make([]byte, totalBlocks*512)
	ra := &memReaderWriter{buf: buf}
	img := chunk.NewBlockImage(ra, ra, int64(len(buf)))

	// Layout (all in 512-byte device blocks); allocation block size equals
	// the device block size here, so allocation blocks and device blocks
	// coincide 1:1 past AllocBlkSt:
	//   block 0-1:  boot blocks (unused)
	//   block 2:    MDB
	//   block 3:    volume bitmap
	//   block 4-5:  extents tree (alloc blocks 0-1: header + root leaf)
	//   block 6-7:  catalog tree (alloc blocks 2-3: header + root leaf)
	//   block 8..:  free allocation blocks
	const allocBlkSt = 4

	mdb := &MDB{
		NumAllocBlks:   uint16(numAllocBlocks),
		AllocBlkSize:   allocBlkSize,
		ClumpSize:      allocBlkSize,
		AllocBlkSt:     allocBlkSt,
		VBMStart:       3,
		NextCNID:       16,
		Name:           "TestVolume",
		ExtentsExtents: [3]Extent{{StartBlock: 0, BlockCount: 2}},
		CatalogExtents: [3]Extent{{StartBlock: 2, BlockCount: 2}},
		ExtentsSize:    2 * allocBlkSize,
		CatalogSize:    2 * allocBlkSize,
	}
	if err := WriteMDB(img, mdb); err != nil {
		t.Fatal(err)
	}

	// Volume bitmap: mark allocation blocks 0-3 in use (1 = in use).
	var bmBlock [512]byte
	bmBlock[0] = 0xF0
	if err := img.WriteBlock(3, bmBlock[:]); err != nil {
		t.Fatal(err)
	}

	writeEmptyTreeNodes(t, img, 4, totalBitmapBytes(numAllocBlocks))
	writeEmptyTreeNodes(t, img, 6, totalBitmapBytes(numAllocBlocks))

	return img
}

func totalBitmapBytes(numAllocBlocks int) int {
	n := (numAllocBlocks + 7) / 8
	if n < 32 {
		n = 32 // leave room to grow the node-occupancy map during tests
	}
	return n
}

// writeEmptyTreeNodes writes a two-node B*-tree: the header node (node 0)
// at the given device block number and an empty root leaf (node 1) in the
// block after it, each filling one 512-byte allocation block.
func writeEmptyTreeNodes(t *testing.T, img *chunk.Image, deviceBlock uint32, mapBytes int) {
	t.Helper()
	hdr := &hfsbtreeNode{
		kind: hfsbtreeKindHeader,
		records: [][]byte{
			make([]byte, 30),
			make([]byte, 128),
			make([]byte, mapBytes),
		},
	}
	hr := hdr.records[0]
	putU16(hr, 0, 1)
	putU32(hr, 2, 1) // root = node 1, the empty leaf written below
	putU32(hr, 6, 0)
	putU32(hr, 10, 1)
	putU32(hr, 14, 1)
	putU16(hr, 18, 512)
	putU16(hr, 20, 0)
	putU32(hr, 22, 2) // total node count: header + root leaf

	hdr.records[2][0] = 0xC0 // node 0 (header) and node 1 (root leaf) in use

	if err := img.WriteBlock(deviceBlock, hdr.encode()); err != nil {
		t.Fatal(err)
	}
	leaf := &hfsbtreeNode{kind: hfsbtreeKindLeaf}
	if err := img.WriteBlock(deviceBlock+1, leaf.encode()); err != nil {
		t.Fatal(err)
	}
}

func putU16(b []byte, off int, v uint16) { b[off], b[off+1] = byte(v>>8), byte(v) }
func putU32(b []byte, off int, v uint32) {
	b[off], b[off+1], b[off+2], b[off+3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

// hfsbtreeNode is a tiny local stand-in that knows how to encode itself
// exactly like hfsbtree.Node, avoiding an import cycle (hfsbtree doesn't
// export node construction since nothing outside the package should build
// raw nodes by hand except tests like this one).
type hfsbtreeNode struct {
	kind    uint8
	records [][]byte
}

const (
	hfsbtreeKindHeader = 1
	hfsbtreeKindLeaf   = 0xff
)

func (n *hfsbtreeNode) encode() []byte {
	raw := make([]byte, 512)
	raw[8] = n.kind
	putU16(raw, 10, uint16(len(n.records)))
	offset := 14
	for i, r := range n.records {
		copy(raw[offset:], r)
		putU16(raw, 512-2-2*i, uint16(offset))
		offset += len(r)
	}
	putU16(raw, 512-2-2*len(n.records), uint16(offset))
	return raw
}

type memReaderWriter struct{ buf []byte }

func (m *memReaderWriter) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}

func (m *memReaderWriter) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.buf[off:], p), nil
}

func TestVolumeOpenAndCreate(t *testing.T) {
	img := buildTestImage(t, 32)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}

	if v.MDB().Name != "TestVolume" {
		t.Fatalf("unexpected volume name %q", v.MDB().Name)
	}

	dir, err := v.CreateDir(RootCNID, "Applications")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.CreateFile(dir.CNID, "README"); err != nil {
		t.Fatal(err)
	}

	children, err := v.ReadDir(dir.CNID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Name != "README" {
		t.Fatalf("unexpected children: %+v", children)
	}

	entry, err := v.Lookup([]string{"Applications", "README"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.IsDir {
		t.Fatal("README should not be a directory")
	}

	if err := v.Delete(dir.CNID, "README"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Lookup([]string{"Applications", "README"}); err == nil {
		t.Fatal("expected README to be gone")
	}

	if err := v.Delete(RootCNID, "Applications"); err != nil {
		t.Fatal(err)
	}
}

func TestVolumeFlushRoundTrips(t *testing.T) {
	img := buildTestImage(t, 32)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.CreateDir(RootCNID, "Games"); err != nil {
		t.Fatal(err)
	}
	if err := v.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	children, err := reopened.ReadDir(RootCNID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range children {
		if c.Name == "Games" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Games to survive a flush+reopen, got %+v", children)
	}
}
