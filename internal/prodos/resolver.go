package prodos

import "fmt"

// IndexBlock is a 512-byte ProDOS index block decoded into 256 logical
// block-number slots. On disk the low bytes of all 256 entries occupy the
// first half of the block and the high bytes the second half (spec §4.6).
type IndexBlock [entriesPerIndex]uint16

func decodeIndexBlock(raw []byte) IndexBlock {
	var ib IndexBlock
	for i := 0; i < entriesPerIndex; i++ {
		ib[i] = uint16(raw[i]) | uint16(raw[entriesPerIndex+i])<<8
	}
	return ib
}

func (ib IndexBlock) encode() []byte {
	raw := make([]byte, blockSize)
	for i, v := range ib {
		raw[i] = byte(v)
		raw[entriesPerIndex+i] = byte(v >> 8)
	}
	return raw
}

// File resolves a ProDOS file's logical block index to a device block
// number, growing or shrinking storage as needed, across the
// seedling/sapling/tree ladder.
type File struct {
	Type       StorageType
	KeyBlock   uint16 // seedling: the data block itself; sapling: the index block; tree: the master index block
	store      BlockStore
	alloc      BlockAllocator
}

// NewFile wraps an existing dirent's storage-type/key-pointer pair for
// block resolution and growth.
func NewFile(store BlockStore, alloc BlockAllocator, typ StorageType, keyBlock uint16) *File {
	return &File{Type: typ, KeyBlock: keyBlock, store: store, alloc: alloc}
}

// Resolve returns the device block number holding logical block index
// (0-based). It returns ErrSparse, wrapping no device block, if the index
// falls within an unallocated hole.
func (f *File) Resolve(index int) (uint16, error) {
	switch f.Type {
	case StorageSeedling:
		if index != 0 {
			return 0, fmt.Errorf("prodos: seedling file has only block 0")
		}
		return f.KeyBlock, nil
	case StorageSapling:
		if index >= maxSaplingBlocks {
			return 0, fmt.Errorf("prodos: block %d past sapling capacity", index)
		}
		return f.resolveViaIndex(f.KeyBlock, index)
	case StorageTree:
		if index >= maxTreeBlocks {
			return 0, fmt.Errorf("prodos: block %d past tree capacity", index)
		}
		masterSlot := index / entriesPerIndex
		subSlot := index % entriesPerIndex
		var master [blockSize]byte
		if err := f.store.ReadBlock(f.KeyBlock, master[:]); err != nil {
			return 0, err
		}
		mi := decodeIndexBlock(master[:])
		subIndexBlock := mi[masterSlot]
		if subIndexBlock == 0 {
			return 0, ErrSparse
		}
		return f.resolveViaIndex(subIndexBlock, subSlot)
	default:
		return 0, fmt.Errorf("prodos: storage type %d has no block ladder", f.Type)
	}
}

func (f *File) resolveViaIndex(indexBlockNum uint16, slot int) (uint16, error) {
	var raw [blockSize]byte
	if err := f.store.ReadBlock(indexBlockNum, raw[:]); err != nil {
		return 0, err
	}
	ib := decodeIndexBlock(raw[:])
	v := ib[slot]
	if v == 0 {
		return 0, ErrSparse
	}
	return v, nil
}

// EnsureAllocated makes sure logical block index has backing storage,
// promoting the storage type (seedling -> sapling -> tree) and allocating
// index blocks as needed (spec §4.7 write path / §4.6 growth). Returns the
// device block number to write into.
func (f *File) EnsureAllocated(index int) (uint16, error) {
	if f.Type == StorageDeleted {
		if index != 0 {
			return f.promoteAndAllocate(index)
		}
		blk, err := f.alloc.AllocBlock(0)
		if err != nil {
			return 0, err
		}
		f.Type = StorageSeedling
		f.KeyBlock = blk
		return blk, nil
	}

	if f.Type == StorageSeedling {
		if index == 0 {
			return f.KeyBlock, nil
		}
		return f.promoteAndAllocate(index)
	}

	if f.Type == StorageSapling && index >= maxSaplingBlocks {
		return f.promoteAndAllocate(index)
	}

	switch f.Type {
	case StorageSapling:
		return f.ensureViaIndex(f.KeyBlock, index)
	case StorageTree:
		masterSlot := index / entriesPerIndex
		subSlot := index % entriesPerIndex
		var raw [blockSize]byte
		if err := f.store.ReadBlock(f.KeyBlock, raw[:]); err != nil {
			return 0, err
		}
		mi := decodeIndexBlock(raw[:])
		if mi[masterSlot] == 0 {
			subBlk, err := f.alloc.AllocBlock(f.KeyBlock)
			if err != nil {
				return 0, err
			}
			mi[masterSlot] = subBlk
			if err := f.store.WriteBlock(f.KeyBlock, mi.encode()); err != nil {
				return 0, err
			}
			if err := f.store.WriteBlock(subBlk, IndexBlock{}.encode()); err != nil {
				return 0, err
			}
		}
		return f.ensureViaIndex(mi[masterSlot], subSlot)
	default:
		return 0, fmt.Errorf("prodos: cannot allocate into storage type %d", f.Type)
	}
}

func (f *File) ensureViaIndex(indexBlockNum uint16, slot int) (uint16, error) {
	var raw [blockSize]byte
	if err := f.store.ReadBlock(indexBlockNum, raw[:]); err != nil {
		return 0, err
	}
	ib := decodeIndexBlock(raw[:])
	if ib[slot] != 0 {
		return ib[slot], nil
	}
	blk, err := f.alloc.AllocBlock(indexBlockNum)
	if err != nil {
		return 0, err
	}
	ib[slot] = blk
	if err := f.store.WriteBlock(indexBlockNum, ib.encode()); err != nil {
		return 0, err
	}
	return blk, nil
}

// promoteAndAllocate bumps the storage type up one tier (carrying forward
// any existing single block as the new ladder's first entry) and retries
// EnsureAllocated.
func (f *File) promoteAndAllocate(index int) (uint16, error) {
	switch f.Type {
	case StorageDeleted, StorageSeedling:
		indexBlk, err := f.alloc.AllocBlock(f.KeyBlock)
		if err != nil {
			return 0, err
		}
		var ib IndexBlock
		if f.Type == StorageSeedling {
			ib[0] = f.KeyBlock
		}
		if err := f.store.WriteBlock(indexBlk, ib.encode()); err != nil {
			return 0, err
		}
		f.Type = StorageSapling
		f.KeyBlock = indexBlk
		return f.EnsureAllocated(index)
	case StorageSapling:
		masterBlk, err := f.alloc.AllocBlock(f.KeyBlock)
		if err != nil {
			return 0, err
		}
		var mi IndexBlock
		mi[0] = f.KeyBlock
		if err := f.store.WriteBlock(masterBlk, mi.encode()); err != nil {
			return 0, err
		}
		f.Type = StorageTree
		f.KeyBlock = masterBlk
		return f.EnsureAllocated(index)
	default:
		return 0, fmt.Errorf("prodos: cannot promote storage type %d further", f.Type)
	}
}

// Truncate releases every block at or past logical index newBlockCount,
// demoting storage type where the ladder allows it (spec §4.6: "Truncation
// demotes and frees unreachable indices and data blocks").
func (f *File) Truncate(newBlockCount int) error {
	switch f.Type {
	case StorageSeedling:
		if newBlockCount == 0 {
			f.alloc.FreeBlock(f.KeyBlock)
			f.Type = StorageDeleted
			f.KeyBlock = 0
		}
		return nil
	case StorageSapling:
		return f.truncateSapling(newBlockCount)
	case StorageTree:
		return f.truncateTree(newBlockCount)
	default:
		return nil
	}
}

func (f *File) truncateSapling(newBlockCount int) error {
	var raw [blockSize]byte
	if err := f.store.ReadBlock(f.KeyBlock, raw[:]); err != nil {
		return err
	}
	ib := decodeIndexBlock(raw[:])
	for i := newBlockCount; i < maxSaplingBlocks; i++ {
		if ib[i] != 0 {
			f.alloc.FreeBlock(ib[i])
			ib[i] = 0
		}
	}
	if newBlockCount <= 1 {
		last := ib[0]
		f.alloc.FreeBlock(f.KeyBlock)
		if newBlockCount == 0 {
			f.Type = StorageDeleted
			f.KeyBlock = 0
		} else {
			f.Type = StorageSeedling
			f.KeyBlock = last
		}
		return nil
	}
	return f.store.WriteBlock(f.KeyBlock, ib.encode())
}

func (f *File) truncateTree(newBlockCount int) error {
	var raw [blockSize]byte
	if err := f.store.ReadBlock(f.KeyBlock, raw[:]); err != nil {
		return err
	}
	mi := decodeIndexBlock(raw[:])
	firstFreedMaster := (newBlockCount + entriesPerIndex - 1) / entriesPerIndex
	for i := firstFreedMaster; i < entriesPerIndex; i++ {
		if mi[i] == 0 {
			continue
		}
		var sub [blockSize]byte
		if err := f.store.ReadBlock(mi[i], sub[:]); err == nil {
			si := decodeIndexBlock(sub[:])
			for _, b := range si {
				if b != 0 {
					f.alloc.FreeBlock(b)
				}
			}
		}
		f.alloc.FreeBlock(mi[i])
		mi[i] = 0
	}
	if boundary := newBlockCount % entriesPerIndex; boundary != 0 && newBlockCount/entriesPerIndex < entriesPerIndex {
		slot := newBlockCount / entriesPerIndex
		if mi[slot] != 0 {
			var sub [blockSize]byte
			if err := f.store.ReadBlock(mi[slot], sub[:]); err == nil {
				si := decodeIndexBlock(sub[:])
				for i := boundary; i < entriesPerIndex; i++ {
					if si[i] != 0 {
						f.alloc.FreeBlock(si[i])
						si[i] = 0
					}
				}
				_ = f.store.WriteBlock(mi[slot], si.encode())
			}
		}
	}
	if newBlockCount <= maxSaplingBlocks {
		sub := mi[0]
		f.alloc.FreeBlock(f.KeyBlock)
		if sub == 0 && newBlockCount == 0 {
			f.Type = StorageDeleted
			f.KeyBlock = 0
			return nil
		}
		f.Type = StorageSapling
		f.KeyBlock = sub
		return nil
	}
	return f.store.WriteBlock(f.KeyBlock, mi.encode())
}
