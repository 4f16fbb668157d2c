// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package prodos

import "fmt"

// AddRsrcFork converts e's dirent in place to StorageExtended, giving it
// an (initially empty) resource fork alongside whatever data fork it
// already had. It is idempotent: calling it again on an already-extended
// entry returns e unchanged. Per spec §8's blocks_used invariant
// (dirent.blocks_used == data.blocks_used + rsrc.blocks_used + 1 and
// dirent.eof == 512), the dirent's own EOF/blocks-used fields are
// rewritten to describe the extended-info block itself, not either fork.
func (v *Volume) AddRsrcFork(e Entry) (Entry, error) {
	if e.StorageType == StorageExtended {
		return e, nil
	}
	if v.dubious {
		return Entry{}, fmt.Errorf("prodos: refusing to modify a dubious volume")
	}

	alloc := volumeAllocator{v.bitmap}
	infoBlock, err := alloc.AllocBlock(e.KeyBlock)
	if err != nil {
		return Entry{}, err
	}

	ei := ExtendedInfo{
		DataStorageType: e.StorageType,
		DataKeyBlock:    e.KeyBlock,
		DataBlocksUsed:  e.BlocksUsed,
		DataEOF:         e.EOF,
		RsrcStorageType: StorageDeleted,
	}
	if err := v.dev.WriteBlock(uint32(infoBlock), ei.encode()); err != nil {
		alloc.FreeBlock(infoBlock)
		return Entry{}, err
	}

	e.StorageType = StorageExtended
	e.KeyBlock = infoBlock
	e.BlocksUsed = ei.DataBlocksUsed + ei.RsrcBlocksUsed + 1
	e.EOF = 512
	if err := v.writeEntrySlot(e.HeaderBlock, e.block, e.slot, e.Dirent); err != nil {
		return Entry{}, err
	}
	if err := v.Flush(); err != nil {
		return Entry{}, err
	}
	return e, nil
}
