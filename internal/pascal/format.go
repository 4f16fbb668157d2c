// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package pascal

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/chunk"
)

// Format lays down a fresh volume directory on dev: a header entry naming
// the directory's own four blocks and the given volume label, and no file
// entries. The directory occupies blocks 2-5 regardless of volume size;
// everything from block 6 to the end of the device is one large gap that
// CreateFile will allocate out of.
func Format(dev chunk.Device, volName string) (*Volume, error) {
	totalBlocks := int(dev.FormattedLength() / blockSize)
	if totalBlocks <= dirStartBlock+dirBlocks {
		return nil, fmt.Errorf("pascal: volume too small to hold a directory (%d blocks)", totalBlocks)
	}
	if len(volName) > 15 {
		return nil, fmt.Errorf("pascal: volume name %q longer than 15 characters", volName)
	}

	v := &Volume{
		dev: dev,
		header: Entry{
			FirstBlock: dirStartBlock,
			NextBlock:  dirStartBlock + dirBlocks,
			FileKind:   KindVolumeHeader,
			Name:       volName,
		},
		totalBlocks: totalBlocks,
	}
	if err := v.persistDirectory(); err != nil {
		return nil, err
	}
	return v, nil
}
