package prodos

import (
	"encoding/binary"
	"fmt"
)

// forkDescriptorSize is the size of one fork's sub-record within an
// extended-info (GS/OS "extended file") block: storage type, key block,
// blocks used, and EOF, matching a regular dirent's analogous fields.
const forkDescriptorSize = 8

// ExtendedInfo decodes the 512-byte key block of a StorageExtended dirent
// (spec §4.6: "the extended-info block that fuses a data and resource
// fork under one catalog entry"): two 256-byte halves, one per fork, each
// beginning with a short fork descriptor followed by Finder-info payload.
type ExtendedInfo struct {
	DataStorageType StorageType
	DataKeyBlock    uint16
	DataBlocksUsed  uint16
	DataEOF         uint32

	RsrcStorageType StorageType
	RsrcKeyBlock    uint16
	RsrcBlocksUsed  uint16
	RsrcEOF         uint32
}

func decodeExtendedInfo(raw []byte) (ExtendedInfo, error) {
	if len(raw) < 512 {
		return ExtendedInfo{}, fmt.Errorf("prodos: extended-info block too short (%d bytes)", len(raw))
	}
	var ei ExtendedInfo
	ei.DataStorageType, ei.DataKeyBlock, ei.DataBlocksUsed, ei.DataEOF = decodeForkDescriptor(raw[0:forkDescriptorSize])
	ei.RsrcStorageType, ei.RsrcKeyBlock, ei.RsrcBlocksUsed, ei.RsrcEOF = decodeForkDescriptor(raw[256 : 256+forkDescriptorSize])
	return ei, nil
}

func decodeForkDescriptor(b []byte) (StorageType, uint16, uint16, uint32) {
	storageType := StorageType(b[0] & 0x0f)
	keyBlock := binary.LittleEndian.Uint16(b[1:3])
	blocksUsed := binary.LittleEndian.Uint16(b[3:5])
	eof := uint32(b[5]) | uint32(b[6])<<8 | uint32(b[7])<<16
	return storageType, keyBlock, blocksUsed, eof
}

func encodeForkDescriptor(b []byte, storageType StorageType, keyBlock, blocksUsed uint16, eof uint32) {
	b[0] = byte(storageType) & 0x0f
	binary.LittleEndian.PutUint16(b[1:3], keyBlock)
	binary.LittleEndian.PutUint16(b[3:5], blocksUsed)
	b[5] = byte(eof)
	b[6] = byte(eof >> 8)
	b[7] = byte(eof >> 16)
}

func (ei ExtendedInfo) encode() []byte {
	raw := make([]byte, 512)
	encodeForkDescriptor(raw[0:forkDescriptorSize], ei.DataStorageType, ei.DataKeyBlock, ei.DataBlocksUsed, ei.DataEOF)
	encodeForkDescriptor(raw[256:256+forkDescriptorSize], ei.RsrcStorageType, ei.RsrcKeyBlock, ei.RsrcBlocksUsed, ei.RsrcEOF)
	return raw
}

// openExtendedFork returns a *File resolver for one fork of an extended
// (forked) ProDOS file, plus the fork's logical EOF.
func openExtendedFork(store BlockStore, alloc BlockAllocator, ei ExtendedInfo, resource bool) (*File, uint32) {
	if resource {
		return NewFile(store, alloc, ei.RsrcStorageType, ei.RsrcKeyBlock), ei.RsrcEOF
	}
	return NewFile(store, alloc, ei.DataStorageType, ei.DataKeyBlock), ei.DataEOF
}

// blocksUsedInvariant checks spec §4.6's extended-info invariant:
// blocks_used (of the StorageExtended dirent itself) equals the sum of
// both forks' blocks_used plus the one block the extended-info structure
// itself occupies, and the dirent's own EOF is fixed at 512 (the size of
// the key block, not either fork's data).
func blocksUsedInvariant(direntBlocksUsed uint16, direntEOF uint32, ei ExtendedInfo) bool {
	return direntBlocksUsed == ei.DataBlocksUsed+ei.RsrcBlocksUsed+1 && direntEOF == 512
}
