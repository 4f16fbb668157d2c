// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package pascal

import (
	"errors"
	"fmt"
)

// ErrSparse marks a logical block past the entry's current contiguous
// range — the sparse/not-yet-allocated signal internal/descriptor expects
// from every Backend, even though a Pascal file's "sparseness" is just
// "past EOF and not yet Grown".
var ErrSparse = errors.New("pascal: block past end of file")

// FileBackend adapts one Pascal directory entry to descriptor.Backend.
// Unlike ProDOS/HFS/CP/M, growth isn't lazy per block: EnsureAllocated
// calls Volume.Grow (falling back to Defragment once if the immediately
// following gap is too small), matching CreateFile's "caller states a
// size, the volume finds room" contract instead of a block-by-block
// allocator.
type FileBackend struct {
	v     *Volume
	idx   int
	entry Entry
}

// OpenFile returns a descriptor.Backend for name, found by directory
// index to keep writeback unambiguous even if Defragment moves it.
func (v *Volume) OpenFile(name string) (*FileBackend, error) {
	for i, e := range v.files {
		if e.Name == name {
			return &FileBackend{v: v, idx: i, entry: e}, nil
		}
	}
	return nil, fmt.Errorf("pascal: %s not found", name)
}

func (fb *FileBackend) BlockSize() int          { return blockSize }
func (fb *FileBackend) FillByte() byte          { return 0 }
func (fb *FileBackend) IsSparse(err error) bool { return errors.Is(err, ErrSparse) }

func (fb *FileBackend) Size() int64 {
	n := fb.entry.numBlocks()
	if n == 0 {
		return 0
	}
	if fb.entry.BytesInLastBlock == 0 {
		return int64(n) * blockSize
	}
	return int64(n-1)*blockSize + int64(fb.entry.BytesInLastBlock)
}

func (fb *FileBackend) Resolve(block int64) (int64, error) {
	if block < 0 || int(block) >= fb.entry.numBlocks() {
		return 0, ErrSparse
	}
	return int64(fb.entry.FirstBlock) + block, nil
}

// EnsureAllocated grows the file's contiguous range to cover block,
// defragmenting once if the gap immediately following it isn't large
// enough (spec §8 scenario F: "defragmenting... closes those gaps").
func (fb *FileBackend) EnsureAllocated(block int64) (int64, error) {
	want := int(block) + 1
	if want <= fb.entry.numBlocks() {
		return int64(fb.entry.FirstBlock) + block, nil
	}
	e, err := fb.v.Grow(fb.entry.Name, want)
	if errors.Is(err, ErrNotEnoughRoom) {
		if derr := fb.v.Defragment(); derr != nil {
			return 0, derr
		}
		e, err = fb.v.Grow(fb.entry.Name, want)
	}
	if err != nil {
		return 0, fmt.Errorf("pascal: growing %s: %w", fb.entry.Name, err)
	}
	fb.entry = e
	fb.v.files[fb.idx] = e
	return int64(e.FirstBlock) + block, nil
}

func (fb *FileBackend) ReadBlock(devBlock int64, dst []byte) error {
	return fb.v.dev.ReadBlock(uint32(devBlock), dst)
}

func (fb *FileBackend) WriteBlock(devBlock int64, src []byte) error {
	return fb.v.dev.WriteBlock(uint32(devBlock), src)
}

// Truncate sets the logical size, growing (via EnsureAllocated's Grow/
// Defragment path) or shrinking the entry's block range and updating
// BytesInLastBlock to match.
func (fb *FileBackend) Truncate(newSize int64) error {
	if newSize < 0 {
		return fmt.Errorf("pascal: negative length %d", newSize)
	}
	newBlockCount := int((newSize + blockSize - 1) / blockSize)
	if newBlockCount > fb.entry.numBlocks() {
		if newBlockCount > 0 {
			if _, err := fb.EnsureAllocated(int64(newBlockCount - 1)); err != nil {
				return err
			}
		}
	} else if newBlockCount < fb.entry.numBlocks() {
		fb.entry.NextBlock = fb.entry.FirstBlock + uint16(newBlockCount)
	}
	if newSize%blockSize == 0 {
		fb.entry.BytesInLastBlock = 0
	} else {
		fb.entry.BytesInLastBlock = uint16(newSize % blockSize)
	}
	fb.v.files[fb.idx] = fb.entry
	return fb.v.persistDirectory()
}

// Flush is a no-op: every mutation above already persists the directory
// immediately, since Pascal has no separate catalog-tree-style commit
// point the way HFS does.
func (fb *FileBackend) Flush() error { return nil }
