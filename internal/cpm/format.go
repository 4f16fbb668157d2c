// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package cpm

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/chunk"
)

// Format lays down a fresh CP/M volume on dev: every directory and data
// block filled with FillByte, which decodeDirEntry already reads as an
// empty (0xE5 user number) directory slot, so Open needs nothing special
// to recognize the result as a file-free volume.
func Format(dev chunk.Device) (*Volume, error) {
	if dev.FormattedLength() != requiredDeviceBlocks*deviceBlockSize {
		return nil, ErrUnsupportedGeometry
	}

	var fill [cpmBlockSize]byte
	for i := range fill {
		fill[i] = FillByte
	}
	store := deviceBlockStore{dev}
	numCPMBlocks := uint8(requiredDeviceBlocks / devBlocksPerCPM)
	for blk := uint8(0); blk < numCPMBlocks; blk++ {
		if err := store.WriteBlock(blk, fill[:]); err != nil {
			return nil, fmt.Errorf("cpm: formatting block %d: %w", blk, err)
		}
	}

	return Open(dev)
}
