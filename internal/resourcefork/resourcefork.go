// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package resourcefork parses a classic Mac OS resource fork (optionally
// wrapped in an AppleDouble header) into a flat, fork-relative extent
// list: one Resource per (type, id) pair, each naming the byte range of
// its data within the fork. Callers resolve that range against whatever
// io.ReaderAt is backing the fork (a ProDOS extended-info data fork, an
// HFS resource fork, a bare .rsrc file, ...).
package resourcefork

import (
	"cmp"
	"encoding/binary"
	"errors"
	"io"
	"slices"
)

// ErrFormat is returned for any header that doesn't parse as a resource
// fork (with or without an AppleDouble wrapper).
var ErrFormat = errors.New("resourcefork: not a valid resource fork")

// Resource is one decoded resource map entry.
type Resource struct {
	Type   [4]byte // OSType, e.g. "ICON", "STR "
	ID     int16
	Name   string // empty if the resource is unnamed
	Offset int64  // fork-relative byte offset of the resource's data (past its 4-byte length prefix)
	Size   int64
}

// TypeString renders the 4-byte OSType as a string, trimming trailing
// spaces (the classic Mac OS padding convention).
func (r Resource) TypeString() string {
	s := string(r.Type[:])
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// Parse reads the resource map from r (auto-detecting an AppleDouble
// header) and returns every resource in fork-data order.
func Parse(r io.ReaderAt) ([]Resource, error) {
	forkOffset := resourceForkOffset(r)

	var rfHeader [16]byte
	n, err := r.ReadAt(rfHeader[:], forkOffset)
	if n != len(rfHeader) {
		return nil, err
	}
	dataOffset := forkOffset + int64(binary.BigEndian.Uint32(rfHeader[0:]))
	mapOffset := forkOffset + int64(binary.BigEndian.Uint32(rfHeader[4:]))
	dataSize := int64(binary.BigEndian.Uint32(rfHeader[8:]))
	mapSize := int64(binary.BigEndian.Uint32(rfHeader[12:]))

	rmap := make([]byte, mapSize)
	n, err = r.ReadAt(rmap, mapOffset)
	if n != len(rmap) {
		return nil, err
	}

	if len(rmap) < 28 {
		return nil, ErrFormat
	}
	tlo := int(binary.BigEndian.Uint16(rmap[24:]))
	nlo := int(binary.BigEndian.Uint16(rmap[26:]))
	if len(rmap) < tlo+2 || len(rmap) < nlo {
		return nil, ErrFormat
	}
	typeList := rmap[tlo:]
	nameList := rmap[nlo:]

	var out []Resource
	nType := int(binary.BigEndian.Uint16(typeList[0:]) + 1)
	if len(typeList) < 2+8*nType {
		return nil, ErrFormat
	}
	for i := range nType {
		te := typeList[2+8*i:][:8]
		var typ [4]byte
		copy(typ[:], te[:4])
		nRes := int(binary.BigEndian.Uint16(te[4:]) + 1)
		sf := int(binary.BigEndian.Uint16(te[6:]))
		if len(typeList) < sf+12*nRes {
			return nil, ErrFormat
		}
		for j := range nRes {
			re := typeList[sf+12*j:][:12]
			id := int16(binary.BigEndian.Uint16(re[0:]))
			nameof := int(int16(binary.BigEndian.Uint16(re[2:])))
			var name string
			if nameof >= 0 {
				if len(nameList) < nameof+1 {
					return nil, ErrFormat
				}
				nlen := int(nameList[nameof])
				if len(nameList) < nameof+1+nlen {
					return nil, ErrFormat
				}
				name = string(nameList[nameof+1 : nameof+1+nlen])
			}
			dataoff := dataOffset + int64(binary.BigEndian.Uint32(re[4:])&0xffffff)
			if dataoff+4 > dataOffset+dataSize {
				return nil, ErrFormat
			}
			var szbuf [4]byte
			if n, err := r.ReadAt(szbuf[:], dataoff); n != 4 {
				return nil, err
			}
			size := int64(binary.BigEndian.Uint32(szbuf[:]))
			out = append(out, Resource{Type: typ, ID: id, Name: name, Offset: dataoff + 4, Size: size})
		}
	}

	slices.SortFunc(out, func(a, b Resource) int { return cmp.Compare(a.Offset, b.Offset) })
	return out, nil
}

// resourceForkOffset looks for an AppleDouble resource-fork entry (entry
// ID 2) and returns its byte offset, or 0 if r is a bare resource fork.
func resourceForkOffset(r io.ReaderAt) int64 {
	header := make([]byte, 3)
	n, _ := r.ReadAt(header, 0)
	if n < len(header) {
		return 0
	}
	if string(header) != "\x00\x05\x16" {
		return 0
	}
	nf := make([]byte, 2)
	n, _ = r.ReadAt(nf, 24)
	if n != len(nf) {
		return 0
	}
	recList := make([]byte, 12*int(binary.BigEndian.Uint16(nf)))
	n, _ = r.ReadAt(recList, 26)
	if n != len(recList) {
		return 0
	}
	for ; len(recList) > 0; recList = recList[12:] {
		if binary.BigEndian.Uint32(recList) == 2 {
			return int64(binary.BigEndian.Uint32(recList[4:]))
		}
	}
	return 0
}
