// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package apm parses an Apple Partition Map and slices the backing disk
// into one chunk.Device per partition.
package apm

import (
	"cmp"
	"encoding/binary"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/sectionreader"
)

// Partition is one named, typed slice of the disk.
type Partition struct {
	Name   string // e.g. "hfs-1", "driver43-1" (deduplicated, lowercased pmParType)
	Type   string // raw pmParType, e.g. "Apple_HFS"
	Device chunk.Device
}

// offsetWriterAt rebases WriteAt calls onto a byte range of a larger
// io.WriterAt, the write-side analog of io.NewSectionReader.
type offsetWriterAt struct {
	w   io.WriterAt
	off int64
	n   int64
}

func (o offsetWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > o.n {
		return 0, io.ErrShortWrite
	}
	return o.w.WriteAt(p, off+o.off)
}

// Read parses the Apple Partition Map on disk and returns one
// chunk.Device per entry other than "Apple_Free" and the map's own
// "Apple_partition_map" entry, sorted by starting block. diskW may be
// nil, in which case every returned partition is read-only.
func Read(disk io.ReaderAt, diskW io.WriterAt) ([]Partition, error) {
	var ddm [514]byte
	n, _ := disk.ReadAt(ddm[:], 0)
	if n < 514 || ddm[0] != 'E' || ddm[1] != 'R' {
		return nil, errors.New("apm: not an Apple Partition Map")
	}

	sbBlkSize := binary.BigEndian.Uint16(ddm[2:])

	// Some CDs had "shadow maps" for buggy ROMs that assumed 512-byte
	// sectors even for 2048-byte CDs.
	mapEntryStep := int64(sbBlkSize)
	if ddm[512] == 'P' && ddm[513] == 'M' {
		mapEntryStep = 512
	}

	var first [8]byte
	n, _ = disk.ReadAt(first[:], mapEntryStep)
	if n < 8 || first[0] != 'P' || first[1] != 'M' {
		return nil, errors.New("apm: corrupt Apple Partition Map")
	}
	count := int64(binary.BigEndian.Uint32(first[4:8]))

	raw := make([]byte, count*mapEntryStep)
	n, _ = disk.ReadAt(raw, mapEntryStep)
	if n != len(raw) {
		return nil, errors.New("apm: truncated Apple Partition Map")
	}

	var entries [][]byte
	for i := range count {
		ent := raw[i*mapEntryStep:][:512]
		if ent[0] != 'P' || ent[1] != 'M' {
			return nil, errors.New("apm: corrupt Apple Partition Map")
		}
		entries = append(entries, ent)
	}

	slices.SortStableFunc(entries, func(a, b []byte) int {
		return cmp.Compare(binary.BigEndian.Uint32(a[8:]), binary.BigEndian.Uint32(b[8:]))
	})

	ofeach := make(map[string]int)
	var out []Partition
	for _, ent := range entries {
		pmPyPartStart := binary.BigEndian.Uint32(ent[8:])
		pmPartBlkCnt := binary.BigEndian.Uint32(ent[12:])
		pmParType, _, _ := strings.Cut(string(ent[48:80]), "\x00")

		if pmParType == "Apple_Free" || pmParType == "Apple_partition_map" {
			continue
		}

		name := strings.ToLower(strings.TrimPrefix(pmParType, "Apple_"))
		ofeach[name]++
		name += "-" + strconv.Itoa(ofeach[name])

		pstart := mapEntryStep * int64(pmPyPartStart)
		plen := mapEntryStep * int64(pmPartBlkCnt)

		r := sectionreader.Section(disk, pstart, plen)
		var w io.WriterAt
		if diskW != nil {
			w = offsetWriterAt{diskW, pstart, plen}
		}
		out = append(out, Partition{
			Name:   name,
			Type:   pmParType,
			Device: chunk.NewBlockImage(r, w, plen),
		})
	}
	return out, nil
}
