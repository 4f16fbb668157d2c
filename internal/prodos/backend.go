// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package prodos

import "errors"

// FileBackend adapts a Volume entry to internal/descriptor.Backend,
// keeping the dirent's storage type, key block, blocks-used and EOF in
// sync with the underlying File resolver as the descriptor reads, writes,
// and truncates.
type FileBackend struct {
	v           *Volume
	headerBlock uint16
	entry       Entry
	file        *File
}

// OpenFile returns a descriptor backend for an already-looked-up
// directory entry.
func (v *Volume) OpenFile(headerBlock uint16, e Entry) *FileBackend {
	return &FileBackend{
		v:           v,
		headerBlock: headerBlock,
		entry:       e,
		file:        NewFile(deviceBlockStore{v.dev}, volumeAllocator{v.bitmap}, e.StorageType, e.KeyBlock),
	}
}

func (fb *FileBackend) BlockSize() int { return blockSize }
func (fb *FileBackend) FillByte() byte { return 0 }
func (fb *FileBackend) Size() int64    { return int64(fb.entry.EOF) }

func (fb *FileBackend) IsSparse(err error) bool { return errors.Is(err, ErrSparse) }

func (fb *FileBackend) Resolve(block int64) (int64, error) {
	b, err := fb.file.Resolve(int(block))
	return int64(b), err
}

func (fb *FileBackend) EnsureAllocated(block int64) (int64, error) {
	b, err := fb.file.EnsureAllocated(int(block))
	if err != nil {
		return 0, err
	}
	// BlocksUsed/EOF bookkeeping is settled by Truncate, which WriteAt
	// always calls when a write extends the logical size.
	return int64(b), nil
}

func (fb *FileBackend) ReadBlock(devBlock int64, dst []byte) error {
	return fb.v.dev.ReadBlock(uint32(devBlock), dst)
}

func (fb *FileBackend) WriteBlock(devBlock int64, src []byte) error {
	return fb.v.dev.WriteBlock(uint32(devBlock), src)
}

// Truncate updates the logical EOF and, on shrink, frees blocks past the
// new size and demotes the storage type where the ladder allows it.
func (fb *FileBackend) Truncate(newSize int64) error {
	newBlockCount := (int(newSize) + blockSize - 1) / blockSize
	if err := fb.file.Truncate(newBlockCount); err != nil {
		return err
	}
	fb.entry.StorageType = fb.file.Type
	fb.entry.KeyBlock = fb.file.KeyBlock
	fb.entry.EOF = uint32(newSize)
	fb.entry.BlocksUsed = uint16(newBlockCount)
	return nil
}

// Flush persists the dirent back into its directory slot.
func (fb *FileBackend) Flush() error {
	return fb.v.writeEntrySlot(fb.headerBlock, fb.entry.block, fb.entry.slot, fb.entry.Dirent)
}

