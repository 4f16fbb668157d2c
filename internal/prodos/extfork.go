// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package prodos

import "errors"

// ExtendedForkBackend adapts one fork (data or resource) of a
// StorageExtended entry to descriptor.Backend. Growth/shrink updates the
// corresponding half of the extended-info block in place; the outer
// dirent's own blocks_used/eof are refreshed on Flush to satisfy spec
// §8's invariant (blocks_used == data.blocks_used + rsrc.blocks_used + 1,
// eof == 512).
type ExtendedForkBackend struct {
	v           *Volume
	headerBlock uint16
	entry       Entry // the StorageExtended dirent
	resource    bool
	ei          ExtendedInfo
	file        *File
}

// OpenExtendedFork reads e's extended-info block and returns a backend
// for its data or resource fork.
func (v *Volume) OpenExtendedFork(headerBlock uint16, e Entry, resource bool) (*ExtendedForkBackend, error) {
	var raw [512]byte
	if err := v.dev.ReadBlock(uint32(e.KeyBlock), raw[:]); err != nil {
		return nil, err
	}
	ei, err := decodeExtendedInfo(raw[:])
	if err != nil {
		return nil, err
	}
	file, _ := openExtendedFork(deviceBlockStore{v.dev}, volumeAllocator{v.bitmap}, ei, resource)
	return &ExtendedForkBackend{v: v, headerBlock: headerBlock, entry: e, resource: resource, ei: ei, file: file}, nil
}

func (fb *ExtendedForkBackend) BlockSize() int { return blockSize }
func (fb *ExtendedForkBackend) FillByte() byte { return 0 }

func (fb *ExtendedForkBackend) Size() int64 {
	if fb.resource {
		return int64(fb.ei.RsrcEOF)
	}
	return int64(fb.ei.DataEOF)
}

func (fb *ExtendedForkBackend) IsSparse(err error) bool { return errors.Is(err, ErrSparse) }

func (fb *ExtendedForkBackend) Resolve(block int64) (int64, error) {
	b, err := fb.file.Resolve(int(block))
	return int64(b), err
}

func (fb *ExtendedForkBackend) EnsureAllocated(block int64) (int64, error) {
	b, err := fb.file.EnsureAllocated(int(block))
	return int64(b), err
}

func (fb *ExtendedForkBackend) ReadBlock(devBlock int64, dst []byte) error {
	return fb.v.dev.ReadBlock(uint32(devBlock), dst)
}

func (fb *ExtendedForkBackend) WriteBlock(devBlock int64, src []byte) error {
	return fb.v.dev.WriteBlock(uint32(devBlock), src)
}

func (fb *ExtendedForkBackend) Truncate(newSize int64) error {
	newBlockCount := (int(newSize) + blockSize - 1) / blockSize
	if err := fb.file.Truncate(newBlockCount); err != nil {
		return err
	}
	if fb.resource {
		fb.ei.RsrcStorageType = fb.file.Type
		fb.ei.RsrcKeyBlock = fb.file.KeyBlock
		fb.ei.RsrcEOF = uint32(newSize)
		fb.ei.RsrcBlocksUsed = uint16(newBlockCount)
	} else {
		fb.ei.DataStorageType = fb.file.Type
		fb.ei.DataKeyBlock = fb.file.KeyBlock
		fb.ei.DataEOF = uint32(newSize)
		fb.ei.DataBlocksUsed = uint16(newBlockCount)
	}
	return nil
}

// Flush writes the extended-info block back and refreshes the outer
// dirent's blocks_used/eof to match spec §8's invariant.
func (fb *ExtendedForkBackend) Flush() error {
	if err := fb.v.dev.WriteBlock(uint32(fb.entry.KeyBlock), fb.ei.encode()); err != nil {
		return err
	}
	fb.entry.BlocksUsed = fb.ei.DataBlocksUsed + fb.ei.RsrcBlocksUsed + 1
	fb.entry.EOF = 512
	return fb.v.writeEntrySlot(fb.headerBlock, fb.entry.block, fb.entry.slot, fb.entry.Dirent)
}
