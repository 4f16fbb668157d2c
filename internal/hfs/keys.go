package hfs

import (
	"bytes"
	"encoding/binary"
)

// Catalog record types, per ndNHeight... no: ckrDataType at the start of
// the record body (not the key).
const (
	recDirectory     = 1
	recFile          = 2
	recDirectoryThread = 3
	recFileThread      = 4
)

// Fork identifiers used in extents keys (xkrFkType).
const (
	ForkData     uint8 = 0x00
	ForkResource uint8 = 0xff
)

// CatalogKey is (parent directory CNID, child name); catalog keys sort by
// parent first, then by case-folded name (spec §3: "entries within a
// directory sort the way the Finder displays them").
type CatalogKey struct {
	ParentID uint32
	Name     string // UTF-8; empty for thread-record keys, which have no name
}

func encodeCatalogKey(k CatalogKey) []byte {
	name := utf8ToMacRoman(k.Name)
	if len(name) > 31 {
		name = name[:31]
	}
	rec := make([]byte, 6+len(name))
	binary.BigEndian.PutUint32(rec[0:], k.ParentID)
	rec[4] = byte(len(name))
	copy(rec[5:], name)
	return rec[:5+len(name)]
}

func decodeCatalogKey(k []byte) CatalogKey {
	parent := binary.BigEndian.Uint32(k[0:])
	n := int(k[4])
	if 5+n > len(k) {
		n = len(k) - 5
	}
	return CatalogKey{ParentID: parent, Name: macRomanToUTF8(k[5 : 5+n])}
}

// CompareCatalogKeys implements hfsbtree.CompareFunc for the catalog tree.
func CompareCatalogKeys(a, b []byte) int {
	ka, kb := decodeCatalogKey(a), decodeCatalogKey(b)
	if ka.ParentID != kb.ParentID {
		if ka.ParentID < kb.ParentID {
			return -1
		}
		return 1
	}
	return bytes.Compare(macNameOrdinal(utf8ToMacRoman(ka.Name)), macNameOrdinal(utf8ToMacRoman(kb.Name)))
}

// ExtentsKey is (fork kind, file CNID, first logical allocation block the
// record continues from) — the key of an extents-overflow record.
type ExtentsKey struct {
	ForkKind   uint8
	FileID     uint32
	StartBlock uint16
}

func encodeExtentsKey(k ExtentsKey) []byte {
	rec := make([]byte, 7)
	rec[0] = k.ForkKind
	binary.BigEndian.PutUint32(rec[1:], k.FileID)
	binary.BigEndian.PutUint16(rec[5:], k.StartBlock)
	return rec
}

func decodeExtentsKey(k []byte) ExtentsKey {
	return ExtentsKey{
		ForkKind:   k[0],
		FileID:     binary.BigEndian.Uint32(k[1:]),
		StartBlock: binary.BigEndian.Uint16(k[5:]),
	}
}

// CompareExtentsKeys implements hfsbtree.CompareFunc for the extents tree:
// fork kind, then CNID, then start-block-index (spec §4.4).
func CompareExtentsKeys(a, b []byte) int {
	ka, kb := decodeExtentsKey(a), decodeExtentsKey(b)
	if ka.ForkKind != kb.ForkKind {
		if ka.ForkKind < kb.ForkKind {
			return -1
		}
		return 1
	}
	if ka.FileID != kb.FileID {
		if ka.FileID < kb.FileID {
			return -1
		}
		return 1
	}
	if ka.StartBlock != kb.StartBlock {
		if ka.StartBlock < kb.StartBlock {
			return -1
		}
		return 1
	}
	return 0
}
