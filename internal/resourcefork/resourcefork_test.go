package resourcefork

import (
	"encoding/binary"
	"testing"
)

type memReaderAt struct{ buf []byte }

func (m *memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}

// buildBareFork assembles a minimal one-type, one-resource, named resource
// fork: type "TEST", id 128, name "Foo", 2-byte payload "HI".
func buildBareFork(t *testing.T) []byte {
	t.Helper()

	const (
		dataOffset = 16
		dataLength = 6  // 4-byte length prefix + "HI"
		mapOffset  = dataOffset + dataLength
		mapLength  = 54
	)

	buf := make([]byte, mapOffset+mapLength)

	binary.BigEndian.PutUint32(buf[0:], dataOffset)
	binary.BigEndian.PutUint32(buf[4:], mapOffset)
	binary.BigEndian.PutUint32(buf[8:], dataLength)
	binary.BigEndian.PutUint32(buf[12:], mapLength)

	binary.BigEndian.PutUint32(buf[dataOffset:], 2)
	copy(buf[dataOffset+4:], "HI")

	m := buf[mapOffset:]
	binary.BigEndian.PutUint16(m[24:], 28) // type list offset
	binary.BigEndian.PutUint16(m[26:], 50) // name list offset

	binary.BigEndian.PutUint16(m[28:], 0) // nType-1
	copy(m[30:34], "TEST")
	binary.BigEndian.PutUint16(m[34:], 0)  // nRes-1
	binary.BigEndian.PutUint16(m[36:], 10) // ref list offset, relative to type list

	binary.BigEndian.PutUint16(m[38:], 128) // resource id
	binary.BigEndian.PutUint16(m[40:], 0)   // name offset, relative to name list
	binary.BigEndian.PutUint32(m[42:], 0)   // attr(0) + data offset(0)

	m[50] = 3
	copy(m[51:], "Foo")

	return buf
}

func TestParseBareFork(t *testing.T) {
	buf := buildBareFork(t)
	res, err := Parse(&memReaderAt{buf: buf})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(res))
	}
	r := res[0]
	if r.TypeString() != "TEST" || r.ID != 128 || r.Name != "Foo" {
		t.Fatalf("unexpected resource: %+v", r)
	}
	if r.Size != 2 {
		t.Fatalf("expected size 2, got %d", r.Size)
	}
	got := make([]byte, r.Size)
	if _, err := (&memReaderAt{buf: buf}).ReadAt(got, r.Offset); err != nil {
		t.Fatal(err)
	}
	if string(got) != "HI" {
		t.Fatalf("expected payload %q, got %q", "HI", got)
	}
}

func TestParseAppleDoubleWrapped(t *testing.T) {
	fork := buildBareFork(t)

	const entryCount = 1
	header := make([]byte, 26+12*entryCount)
	header[0], header[1], header[2] = 0x00, 0x05, 0x16
	binary.BigEndian.PutUint16(header[24:], entryCount)
	const forkStart = 128
	binary.BigEndian.PutUint32(header[26:], 2) // entry ID 2 = resource fork
	binary.BigEndian.PutUint32(header[30:], forkStart)
	binary.BigEndian.PutUint32(header[34:], uint32(len(fork)))

	buf := make([]byte, forkStart+len(fork))
	copy(buf, header)
	copy(buf[forkStart:], fork)

	res, err := Parse(&memReaderAt{buf: buf})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].TypeString() != "TEST" {
		t.Fatalf("unexpected parse through AppleDouble wrapper: %+v", res)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	buf := make([]byte, 64)
	if _, err := Parse(&memReaderAt{buf: buf}); err == nil {
		t.Fatal("expected error for garbage input")
	}
}
