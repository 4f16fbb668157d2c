// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package cpm

import "errors"

// FileBackend adapts a CP/M file to internal/descriptor.Backend at
// 128-byte record granularity (CP/M's native unit of sparseness), doing
// the record-within-CP/M-block read-modify-write internally so the
// descriptor package only ever sees uniform BlockSize()-sized units.
type FileBackend struct {
	v    *Volume
	user uint8
	name string
}

// OpenFile returns a descriptor backend for an existing file.
func (v *Volume) OpenFile(user uint8, name string) (*FileBackend, error) {
	if _, err := v.Lookup(user, name); err != nil {
		return nil, err
	}
	return &FileBackend{v: v, user: user, name: name}, nil
}

func (fb *FileBackend) BlockSize() int { return recordSize }
func (fb *FileBackend) FillByte() byte { return FillByte }

func (fb *FileBackend) Size() int64 {
	fc, err := fb.v.Lookup(fb.user, fb.name)
	if err != nil {
		return 0
	}
	return fc.Size()
}

func (fb *FileBackend) IsSparse(err error) bool { return errors.Is(err, ErrSparse) }

// Resolve maps a record index to a composite device-block id encoding
// both the CP/M block number and the record's slot within it.
func (fb *FileBackend) Resolve(recordIndex int64) (int64, error) {
	fc, err := fb.v.Lookup(fb.user, fb.name)
	if err != nil {
		return 0, err
	}
	block, recInBlock, err := fc.Resolve(int(recordIndex))
	if err != nil {
		return 0, err
	}
	return int64(block)*recordsPerCPMBlock + int64(recInBlock), nil
}

func (fb *FileBackend) EnsureAllocated(recordIndex int64) (int64, error) {
	block, recInBlock, err := fb.v.EnsureAllocated(fb.user, fb.name, int(recordIndex))
	if err != nil {
		return 0, err
	}
	return int64(block)*recordsPerCPMBlock + int64(recInBlock), nil
}

func (fb *FileBackend) ReadBlock(devBlock int64, dst []byte) error {
	block, recInBlock := splitDevBlock(devBlock)
	store := deviceBlockStore{fb.v.dev}
	var raw [cpmBlockSize]byte
	if err := store.ReadBlock(block, raw[:]); err != nil {
		return err
	}
	copy(dst, raw[recInBlock*recordSize:(recInBlock+1)*recordSize])
	return nil
}

func (fb *FileBackend) WriteBlock(devBlock int64, src []byte) error {
	block, recInBlock := splitDevBlock(devBlock)
	store := deviceBlockStore{fb.v.dev}
	var raw [cpmBlockSize]byte
	if err := store.ReadBlock(block, raw[:]); err != nil {
		return err
	}
	copy(raw[recInBlock*recordSize:(recInBlock+1)*recordSize], src)
	return store.WriteBlock(block, raw[:])
}

func (fb *FileBackend) Truncate(newSize int64) error {
	return fb.v.Truncate(fb.user, fb.name, newSize)
}

func splitDevBlock(devBlock int64) (block uint8, recInBlock int) {
	return uint8(devBlock / recordsPerCPMBlock), int(devBlock % recordsPerCPMBlock)
}
