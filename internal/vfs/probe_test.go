// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"encoding/binary"
	"testing"

	"github.com/goldenapple/retroimg/internal/chunk"
)

func putAPMEntry(buf []byte, block int, mapEntryCount, partStart, partBlkCnt uint32, name, typ string) {
	off := block * 512
	buf[off], buf[off+1] = 'P', 'M'
	binary.BigEndian.PutUint32(buf[off+4:], mapEntryCount)
	binary.BigEndian.PutUint32(buf[off+8:], partStart)
	binary.BigEndian.PutUint32(buf[off+12:], partBlkCnt)
	copy(buf[off+16:off+48], name)
	copy(buf[off+48:off+80], typ)
}

// buildFormattedHFSBytes formats a fresh HFS volume of blocks 512-byte
// blocks in memory and returns its raw device image, to be embedded as an
// Apple Partition Map entry's contents.
func buildFormattedHFSBytes(t *testing.T, blocks int) []byte {
	t.Helper()
	mem := newMem(chunk.BlockSize * blocks)
	dev := chunk.NewBlockImage(mem, mem, int64(len(mem.buf)))
	fs, err := OpenAs(dev, HFS)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Format("PART"); err != nil {
		t.Fatal(err)
	}
	return mem.buf
}

// TestProbeSlicesApplePartitionMap exercises the gap the review flagged:
// a bare-volume probe alone can never recognize an APM-partitioned image,
// since block 0 of a partition map never looks like an HFS/ProDOS/Pascal/
// CP/M volume header.
func TestProbeSlicesApplePartitionMap(t *testing.T) {
	const partBlocks = 800
	const partStart = 3 // block 1: the partition map's own entry; block 2: the HFS entry

	sub := buildFormattedHFSBytes(t, partBlocks)

	total := partStart + partBlocks
	buf := make([]byte, total*512)
	buf[0], buf[1] = 'E', 'R'
	binary.BigEndian.PutUint16(buf[2:], 512)
	putAPMEntry(buf, 1, 2, 1, 1, "Apple", "Apple_partition_map")
	putAPMEntry(buf, 2, 2, uint32(partStart), uint32(partBlocks), "disk image", "Apple_HFS")
	copy(buf[partStart*512:], sub)

	mem := &memDevice{buf: buf}
	dev := chunk.NewBlockImage(mem, mem, int64(len(mem.buf)))

	fs, format, err := Probe(dev)
	if err != nil {
		t.Fatalf("expected Probe to slice the partition map and find the HFS volume inside it, got %v", err)
	}
	if format != HFS {
		t.Fatalf("expected HFS, got %s", format)
	}
	root, err := fs.GetVolDirEntry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.CreateFile(root, "A", KindFile); err != nil {
		t.Fatalf("expected the probed volume to be a live, writable mount: %v", err)
	}
}

func TestProbeBareVolumeStillWorksWithoutAPartitionMap(t *testing.T) {
	mem := newMem(chunk.BlockSize * 280)
	dev := chunk.NewBlockImage(mem, mem, int64(len(mem.buf)))
	fs, err := OpenAs(dev, ProDOS)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Format("TEST.VOL"); err != nil {
		t.Fatal(err)
	}
	if err := fs.PrepareRawAccess(); err != nil {
		t.Fatal(err)
	}

	probed, format, err := Probe(dev)
	if err != nil {
		t.Fatalf("expected a bare (unpartitioned) ProDOS volume to probe directly: %v", err)
	}
	if format != ProDOS {
		t.Fatalf("expected ProDOS, got %s", format)
	}
	if _, err := probed.GetVolDirEntry(); err != nil {
		t.Fatal(err)
	}
}
