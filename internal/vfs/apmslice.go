// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"io"

	"github.com/goldenapple/retroimg/internal/apm"
	"github.com/goldenapple/retroimg/internal/chunk"
)

// deviceReaderAt adapts a chunk.Device's block-granularity ReadBlock onto
// the arbitrary-byte-offset io.ReaderAt apm.Read expects: the partition
// map's own header isn't necessarily block-aligned the way a mounted
// volume's contents are.
type deviceReaderAt struct{ dev chunk.Device }

func (d deviceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	var scratch [chunk.BlockSize]byte
	for total < len(p) {
		abs := off + int64(total)
		block := abs / chunk.BlockSize
		inBlock := int(abs % chunk.BlockSize)
		want := len(p) - total
		if room := chunk.BlockSize - inBlock; want > room {
			want = room
		}
		if err := d.dev.ReadBlock(uint32(block), scratch[:]); err != nil {
			return total, err
		}
		copy(p[total:total+want], scratch[inBlock:inBlock+want])
		total += want
	}
	return total, nil
}

// deviceWriterAt is the write-side counterpart, used only so a writable
// partition map's own sliced partitions come back writable too.
type deviceWriterAt struct{ dev chunk.Device }

func (d deviceWriterAt) WriteAt(p []byte, off int64) (int, error) {
	total := 0
	var scratch [chunk.BlockSize]byte
	for total < len(p) {
		abs := off + int64(total)
		block := abs / chunk.BlockSize
		inBlock := int(abs % chunk.BlockSize)
		want := len(p) - total
		if room := chunk.BlockSize - inBlock; want > room {
			want = room
		}
		if inBlock != 0 || want != chunk.BlockSize {
			if err := d.dev.ReadBlock(uint32(block), scratch[:]); err != nil {
				return total, err
			}
		}
		copy(scratch[inBlock:inBlock+want], p[total:total+want])
		if err := d.dev.WriteBlock(uint32(block), scratch[:]); err != nil {
			return total, err
		}
		total += want
	}
	return total, nil
}

// probeAPM slices dev's Apple Partition Map (if it has one) and returns one
// chunk.Device per partition, sorted by starting block. A device with no partition
// map (or a corrupt one) simply yields ok == false; that's the common case
// for a bare, unpartitioned volume image and isn't itself an error Probe
// should report.
func probeAPM(dev chunk.Device) (partitions []apm.Partition, ok bool) {
	var writer io.WriterAt
	if !dev.IsReadOnly() {
		writer = deviceWriterAt{dev}
	}
	parts, err := apm.Read(deviceReaderAt{dev}, writer)
	if err != nil {
		return nil, false
	}
	return parts, true
}
