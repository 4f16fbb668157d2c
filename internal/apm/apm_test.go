package apm

import (
	"encoding/binary"
	"testing"
)

type memRW struct{ buf []byte }

func (m *memRW) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m.buf[off:]), nil }
func (m *memRW) WriteAt(p []byte, off int64) (int, error) { return copy(m.buf[off:], p), nil }

func putEntry(buf []byte, block int, mapEntryCount, partStart, partBlkCnt uint32, name, typ string) {
	off := block * 512
	buf[off], buf[off+1] = 'P', 'M'
	binary.BigEndian.PutUint32(buf[off+4:], mapEntryCount)
	binary.BigEndian.PutUint32(buf[off+8:], partStart)
	binary.BigEndian.PutUint32(buf[off+12:], partBlkCnt)
	copy(buf[off+16:off+48], name)
	copy(buf[off+48:off+80], typ)
}

func buildAPMImage(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 20*512)
	buf[0], buf[1] = 'E', 'R'
	binary.BigEndian.PutUint16(buf[2:], 512)
	putEntry(buf, 1, 2, 1, 1, "Apple", "Apple_partition_map")
	putEntry(buf, 2, 2, 2, 10, "disk image", "Apple_HFS")
	return buf
}

func TestReadParsesPartitions(t *testing.T) {
	buf := buildAPMImage(t)
	ra := &memRW{buf: buf}
	parts, err := Read(ra, ra)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 {
		t.Fatalf("expected 1 non-free partition, got %d: %+v", len(parts), parts)
	}
	p := parts[0]
	if p.Type != "Apple_HFS" || p.Name != "hfs-1" {
		t.Fatalf("unexpected partition: %+v", p)
	}
	if p.Device.FormattedLength() != 10*512 {
		t.Fatalf("expected 10-block device, got %d bytes", p.Device.FormattedLength())
	}

	var blk [512]byte
	for i := range blk {
		blk[i] = byte(i)
	}
	if err := p.Device.WriteBlock(0, blk[:]); err != nil {
		t.Fatal(err)
	}
	// The write must have landed at disk block 2 (partStart), not block 0.
	if buf[2*512] != 0 {
		t.Fatalf("expected partition block 0 to map to disk block 2, got byte %#x", buf[2*512])
	}

	var got [512]byte
	if err := p.Device.ReadBlock(0, got[:]); err != nil {
		t.Fatal(err)
	}
	if got != blk {
		t.Fatalf("read back mismatch")
	}
}

func TestReadRejectsNonAPM(t *testing.T) {
	buf := make([]byte, 1024)
	ra := &memRW{buf: buf}
	if _, err := Read(ra, ra); err == nil {
		t.Fatal("expected error for non-APM image")
	}
}
