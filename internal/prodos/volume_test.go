package prodos

import (
	"encoding/binary"
	"testing"

	"github.com/goldenapple/retroimg/internal/bitmap"
	"github.com/goldenapple/retroimg/internal/chunk"
)

// buildTestVolume assembles a minimal 800 KB (1600-block) ProDOS volume:
// a volume directory header at block 2 with no entries yet, and a volume
// bitmap starting at block 6 marking blocks 0-5 in use.
func buildTestVolume(t *testing.T) *chunk.Image {
	t.Helper()
	const totalBlocks = 1600
	buf := make([]byte, totalBlocks*512)
	ra := &memRW{buf: buf}
	img := chunk.NewBlockImage(ra, ra, int64(len(buf)))

	const bitmapBlk = 6

	var hdr [512]byte
	binary.LittleEndian.PutUint16(hdr[0:2], 0) // prev
	binary.LittleEndian.PutUint16(hdr[2:4], 0) // next
	entry := hdr[4:]
	name := "TESTVOL"
	entry[0] = byte(StorageVolDirHeader)<<4 | byte(len(name))
	copy(entry[1:], name)
	entry[0x1f] = direntSize
	entry[0x20] = entriesPerBlock
	binary.LittleEndian.PutUint16(entry[0x23:], bitmapBlk)
	binary.LittleEndian.PutUint16(entry[0x25:], totalBlocks)
	if err := img.WriteBlock(volDirBlock, hdr[:]); err != nil {
		t.Fatal(err)
	}

	bm := bitmap.New(totalBlocks, bitmap.OneMeansFree)
	for i := 0; i < 6; i++ {
		bm.AllocBlocks(1, 0, "reserved")
	}
	raw := bm.Bytes()
	numBmBlocks := (len(raw) + 511) / 512
	padded := make([]byte, numBmBlocks*512)
	copy(padded, raw)
	for i := 0; i < numBmBlocks; i++ {
		if err := img.WriteBlock(uint32(bitmapBlk+i), padded[i*512:(i+1)*512]); err != nil {
			t.Fatal(err)
		}
	}

	return img
}

type memRW struct{ buf []byte }

func (m *memRW) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m.buf[off:]), nil }
func (m *memRW) WriteAt(p []byte, off int64) (int, error) { return copy(m.buf[off:], p), nil }

func TestVolumeOpenEmptyRoot(t *testing.T) {
	img := buildTestVolume(t)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	if v.Name() != "TESTVOL" {
		t.Fatalf("unexpected volume name %q", v.Name())
	}
	children, err := v.ReadDir(volDirBlock)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 0 {
		t.Fatalf("expected empty root, got %+v", children)
	}
}

func TestVolumeCreateFileAndDir(t *testing.T) {
	img := buildTestVolume(t)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}

	dir, err := v.CreateDir(volDirBlock, "GAMES")
	if err != nil {
		t.Fatal(err)
	}
	if dir.StorageType != StorageDirectory {
		t.Fatalf("expected directory storage type, got %v", dir.StorageType)
	}

	if _, err := v.CreateFile(dir.KeyBlock, "LODE.RUNNER", 0x06); err != nil {
		t.Fatal(err)
	}

	children, err := v.ReadDir(dir.KeyBlock)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Name != "LODE.RUNNER" {
		t.Fatalf("unexpected children: %+v", children)
	}

	entry, err := v.Lookup([]string{"GAMES", "LODE.RUNNER"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.StorageType == StorageDirectory {
		t.Fatal("LODE.RUNNER should not be a directory")
	}

	if err := v.Delete(dir.KeyBlock, "LODE.RUNNER"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Lookup([]string{"GAMES", "LODE.RUNNER"}); err == nil {
		t.Fatal("expected LODE.RUNNER to be gone")
	}
	if err := v.Delete(volDirBlock, "GAMES"); err != nil {
		t.Fatal(err)
	}
}

func TestVolumeFlushPersistsBitmap(t *testing.T) {
	img := buildTestVolume(t)
	v, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	freeBefore := v.bitmap.FreeBlocks()
	if _, err := v.CreateDir(volDirBlock, "UTIL"); err != nil {
		t.Fatal(err)
	}
	if freeBefore == v.bitmap.FreeBlocks() {
		t.Fatal("expected CreateDir to consume at least one free block")
	}
	if err := v.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(img)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.bitmap.FreeBlocks() != v.bitmap.FreeBlocks() {
		t.Fatalf("bitmap did not round-trip: got %d free, want %d", reopened.bitmap.FreeBlocks(), v.bitmap.FreeBlocks())
	}
}
