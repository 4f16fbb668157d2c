package chunk

import (
	"bytes"
	"errors"
	"testing"
)

type memDevice struct {
	buf []byte
}

func newMem(n int) *memDevice { return &memDevice{buf: make([]byte, n)} }

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.buf[off:])
	return n, nil
}
func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	n := copy(m.buf[off:], p)
	return n, nil
}

func TestBlockRoundTrip(t *testing.T) {
	mem := newMem(BlockSize * 4)
	dev := NewBlockImage(mem, mem, int64(len(mem.buf)))

	var data [BlockSize]byte
	for i := range data {
		data[i] = byte(i)
	}
	if err := dev.WriteBlock(2, data[:]); err != nil {
		t.Fatal(err)
	}

	var got [BlockSize]byte
	if err := dev.ReadBlock(2, got[:]); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:], got[:]) {
		t.Fatal("round trip mismatch")
	}
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	mem := newMem(BlockSize)
	dev := NewBlockImage(mem, nil, int64(len(mem.buf)))
	if !dev.IsReadOnly() {
		t.Fatal("expected read-only")
	}
	var buf [BlockSize]byte
	if err := dev.WriteBlock(0, buf[:]); err == nil {
		t.Fatal("expected write to fail on read-only device")
	}
}

func TestGatedLevels(t *testing.T) {
	mem := newMem(BlockSize)
	g := NewGated(NewBlockImage(mem, mem, int64(len(mem.buf))))

	var buf [BlockSize]byte
	if err := g.ReadBlock(0, buf[:]); err == nil {
		t.Fatal("expected read to fail while Closed")
	}

	g.SetLevel(ReadOnly)
	if err := g.ReadBlock(0, buf[:]); err != nil {
		t.Fatal(err)
	}
	if err := g.WriteBlock(0, buf[:]); err == nil {
		t.Fatal("expected write to fail while ReadOnly")
	}

	g.SetLevel(Open)
	if err := g.WriteBlock(0, buf[:]); err != nil {
		t.Fatal(err)
	}
}

func TestBadBlockDistinguishable(t *testing.T) {
	mem := newMem(BlockSize / 2) // the medium returns a short read
	dev := NewBlockImage(mem, mem, BlockSize)
	var buf [BlockSize]byte
	err := dev.ReadBlock(0, buf[:])
	if !errors.Is(err, ErrBadBlock) {
		t.Fatalf("expected ErrBadBlock, got %v", err)
	}
}

func TestSectorSkew(t *testing.T) {
	mem := newMem(SectorSize * 16)
	dev := NewSectorImage(mem, mem, 1, 16, OrderDOSSector)
	var data [SectorSize]byte
	data[0] = 0x42
	if err := dev.WriteSector(0, 7, data[:], OrderDOSSector); err != nil {
		t.Fatal(err)
	}
	var got [SectorSize]byte
	if err := dev.ReadSector(0, 7, got[:], OrderDOSSector); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x42 {
		t.Fatal("sector mismatch")
	}
}
