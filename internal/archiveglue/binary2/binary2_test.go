package binary2

import (
	"bytes"
	"io"
	"testing"
)

func makeRecord(name string, storageType StorageType, data []byte) []byte {
	hdr := make([]byte, recordSize)
	hdr[20] = byte(len(name))
	copy(hdr[21:], name)
	hdr[4] = byte(storageType)
	eof := len(data)
	hdr[16] = byte(eof)
	hdr[17] = byte(eof >> 8)
	hdr[18] = byte(eof >> 16)
	hdr[111] = 0x0A
	hdr[112] = 'G'
	hdr[113] = 'L'

	padded := (eof + recordSize - 1) / recordSize * recordSize
	buf := make([]byte, recordSize+padded)
	copy(buf, hdr)
	copy(buf[recordSize:], data)
	return buf
}

func TestReaderSingleMember(t *testing.T) {
	payload := []byte("hello, binary ii")
	archive := makeRecord("HELLO.TXT", StorageSeedling, payload)

	r := NewReader(bytes.NewReader(archive))
	e, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.Name != "HELLO.TXT" {
		t.Fatalf("name = %q", e.Name)
	}
	if e.EOF != int64(len(payload)) {
		t.Fatalf("eof = %d, want %d", e.EOF, len(payload))
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("data = %q, want %q", got, payload)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Next at end: %v", err)
	}
}

func TestReaderSkipsUnreadMember(t *testing.T) {
	a := makeRecord("A", StorageSeedling, []byte("AAAA"))
	b := makeRecord("B", StorageSeedling, []byte("BBBBBBBB"))
	archive := append(a, b...)

	r := NewReader(bytes.NewReader(archive))
	if _, err := r.Next(); err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	// Deliberately don't read the first member's data.
	e2, err := r.Next()
	if err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	if e2.Name != "B" {
		t.Fatalf("name = %q, want B", e2.Name)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "BBBBBBBB" {
		t.Fatalf("data = %q", got)
	}
}

func TestReaderRejectsBadSignature(t *testing.T) {
	bad := make([]byte, recordSize)
	r := NewReader(bytes.NewReader(bad))
	if _, err := r.Next(); err != ErrNotBinary2 {
		t.Fatalf("err = %v, want ErrNotBinary2", err)
	}
}
