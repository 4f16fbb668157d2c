package pascal

import (
	"bytes"
	"testing"

	"github.com/goldenapple/retroimg/internal/chunk"
)

// buildTestVolume lays down a minimal header (dir occupies blocks 0-5,
// i.e. header range [0,6)) on a 200-block device with no files yet.
func buildTestVolume(t *testing.T) *chunk.Image {
	t.Helper()
	const totalBlocks = 200
	buf := make([]byte, totalBlocks*blockSize)
	dir := make([]byte, dirBytes)
	header := Entry{FirstBlock: 0, NextBlock: 6, FileKind: KindVolumeHeader, Name: "TESTVOL"}
	copy(dir[0:entrySize], header.encode())
	copy(buf[dirStartBlock*blockSize:], dir)
	ra := &memRW{buf: buf}
	return chunk.NewBlockImage(ra, ra, int64(len(buf)))
}

type memRW struct{ buf []byte }

func (m *memRW) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m.buf[off:]), nil }
func (m *memRW) WriteAt(p []byte, off int64) (int, error) { return copy(m.buf[off:], p), nil }

func TestCreateFileFillsFirstGap(t *testing.T) {
	img := buildTestVolume(t)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	e, err := v.CreateFile("HELLO.TEXT", 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if e.FirstBlock != 6 || e.NextBlock != 10 {
		t.Fatalf("expected [6,10), got [%d,%d)", e.FirstBlock, e.NextBlock)
	}
}

// TestDefragmentIdempotence models spec scenario F: mount a volume with
// gaps, defragment, re-mount, defragment again. The second call must
// write nothing and leave the directory bit-identical.
func TestDefragmentIdempotence(t *testing.T) {
	img := buildTestVolume(t)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}

	// Two files with a gap deliberately left between them by allocating
	// then deleting a spacer.
	if _, err := v.CreateFile("A.TEXT", 3, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := v.CreateFile("SPACER", 3, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := v.CreateFile("B.TEXT", 3, 2); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("SPACER"); err != nil {
		t.Fatal(err)
	}

	// Write recognizable content into A.TEXT and B.TEXT's blocks so we can
	// confirm the data moved, not just the directory entries.
	a, _ := v.Lookup("A.TEXT")
	writeBlocks(t, img, a.FirstBlock, []byte("AAAAAAAAAAAAAAAA"))
	b, _ := v.Lookup("B.TEXT")
	writeBlocks(t, img, b.FirstBlock, []byte("BBBBBBBBBBBBBBBB"))

	if err := v.Defragment(); err != nil {
		t.Fatal(err)
	}
	postFirst, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	dirAfterFirst := dirSnapshot(t, img)

	a2, _ := postFirst.Lookup("A.TEXT")
	b2, _ := postFirst.Lookup("B.TEXT")
	if b2.FirstBlock != a2.NextBlock {
		t.Fatalf("expected B to immediately follow A after defragment, got A=[%d,%d) B=[%d,%d)",
			a2.FirstBlock, a2.NextBlock, b2.FirstBlock, b2.NextBlock)
	}
	verifyBlocks(t, img, a2.FirstBlock, []byte("AAAAAAAAAAAAAAAA"))
	verifyBlocks(t, img, b2.FirstBlock, []byte("BBBBBBBBBBBBBBBB"))

	// Track every block write across the second defragment call.
	writes := 0
	tracker := &trackingDevice{Image: img, writes: &writes}
	reopened, err := Open(tracker)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Defragment(); err != nil {
		t.Fatal(err)
	}
	if writes != 0 {
		t.Fatalf("expected zero block writes on idempotent defragment, got %d", writes)
	}
	dirAfterSecond := dirSnapshot(t, img)
	if !bytes.Equal(dirAfterFirst, dirAfterSecond) {
		t.Fatalf("directory changed across idempotent defragment")
	}
}

func writeBlocks(t *testing.T, img *chunk.Image, start uint16, pattern []byte) {
	t.Helper()
	buf := make([]byte, blockSize)
	for i := range buf {
		buf[i] = pattern[i%len(pattern)]
	}
	if err := img.WriteBlock(uint32(start), buf); err != nil {
		t.Fatal(err)
	}
}

func verifyBlocks(t *testing.T, img *chunk.Image, start uint16, pattern []byte) {
	t.Helper()
	buf := make([]byte, blockSize)
	if err := img.ReadBlock(uint32(start), buf); err != nil {
		t.Fatal(err)
	}
	for i, c := range buf {
		if c != pattern[i%len(pattern)] {
			t.Fatalf("block %d byte %d: expected %q pattern, got %#x", start, i, pattern, c)
		}
	}
}

func dirSnapshot(t *testing.T, img *chunk.Image) []byte {
	t.Helper()
	raw := make([]byte, dirBytes)
	if err := img.ReadBlocks(dirStartBlock, dirBlocks, raw); err != nil {
		t.Fatal(err)
	}
	return raw
}

// trackingDevice wraps a *chunk.Image and counts WriteBlock calls, to
// assert an operation performed none.
type trackingDevice struct {
	*chunk.Image
	writes *int
}

func (d *trackingDevice) WriteBlock(n uint32, src []byte) error {
	*d.writes++
	return d.Image.WriteBlock(n, src)
}
