package prodos

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goldenapple/retroimg/internal/bitmap"
	"github.com/goldenapple/retroimg/internal/chunk"
)

const (
	volDirBlock      = 2
	entriesPerBlock  = 13
	dirBlockHeaderSz = 4 // prev/next links, 2 bytes each
	// dirHeaderEntrySz is the directory/volume header entry's size: the
	// same entry_length (0x27) every regular dirent uses, since the
	// header's extra fields (entries_per_block, file_count,
	// bit_map_pointer/total_blocks) replace dirent fields that a header
	// entry has no use for rather than extending past direntSize.
	dirHeaderEntrySz = direntSize
)

// Volume is an open ProDOS volume: the device, its volume bitmap, and the
// cached volume-directory key block. It mirrors internal/hfs.Volume's
// shape (Open/ReadDir/Lookup/CreateFile/CreateDir/Delete over a
// chunk.Device) even though ProDOS has no B*-tree — its catalog is a
// simple linked list of fixed-layout directory blocks (spec §4.6).
type Volume struct {
	dev        chunk.Device
	bitmap     *bitmap.Bitmap
	bitmapBlk  uint16
	totalBlocks uint16
	volName    string
	dubious    bool
}

// deviceBlockStore adapts a chunk.Device to prodos.BlockStore.
type deviceBlockStore struct{ dev chunk.Device }

func (d deviceBlockStore) ReadBlock(num uint16, dst []byte) error  { return d.dev.ReadBlock(uint32(num), dst) }
func (d deviceBlockStore) WriteBlock(num uint16, src []byte) error { return d.dev.WriteBlock(uint32(num), src) }

// volumeAllocator adapts a bitmap.Bitmap (ProDOS sense) to BlockAllocator.
type volumeAllocator struct{ b *bitmap.Bitmap }

func (a volumeAllocator) AllocBlock(hint uint16) (uint16, error) {
	r, err := a.b.AllocBlocks(1, int(hint), "prodos")
	if err != nil {
		return 0, err
	}
	return uint16(r.Start), nil
}

func (a volumeAllocator) FreeBlock(b uint16) {
	a.b.ReleaseBlocks(bitmap.Run{Start: int(b), Count: 1})
}

// Open reads the volume directory header at block 2 and the volume bitmap
// it points at.
func Open(dev chunk.Device) (*Volume, error) {
	var hdr [512]byte
	if err := dev.ReadBlock(volDirBlock, hdr[:]); err != nil {
		return nil, err
	}
	entry := hdr[dirBlockHeaderSz:]
	storageType := StorageType(entry[0] >> 4)
	if storageType != StorageVolDirHeader {
		return nil, fmt.Errorf("prodos: block 2 is not a volume directory header (storage type %x)", storageType)
	}
	nameLen := int(entry[0] & 0x0f)
	name := macRomanToUTF8(entry[1 : 1+nameLen])

	// bit_map_pointer and total_blocks sit at $23/$25 relative to the
	// entry start (past storage_type/name/dates/version/access/
	// entry_length/entries_per_block/file_count), ending at entry_length
	// itself ($27 = 39 bytes, same as every other dirent).
	bitmapBlk := binary.LittleEndian.Uint16(entry[0x23:])
	totalBlocks := binary.LittleEndian.Uint16(entry[0x25:])

	numBmBlocks := (int(totalBlocks) + 4095) / 4096
	raw := make([]byte, numBmBlocks*512)
	if err := dev.ReadBlocks(uint32(bitmapBlk), uint32(numBmBlocks), raw); err != nil {
		return nil, err
	}
	bm := bitmap.Load(raw, int(totalBlocks), bitmap.OneMeansFree)

	return &Volume{
		dev:         dev,
		bitmap:      bm,
		bitmapBlk:   bitmapBlk,
		totalBlocks: totalBlocks,
		volName:     name,
	}, nil
}

func (v *Volume) Name() string       { return v.volName }
func (v *Volume) IsDubious() bool    { return v.dubious }
func (v *Volume) markDubious()       { v.dubious = true }

// Flush writes the volume bitmap back to disk. The directory tree is
// written block-by-block as entries are mutated, so there is no separate
// catalog flush the way HFS needs one for its B*-trees.
func (v *Volume) Flush() error {
	if v.dubious {
		return fmt.Errorf("prodos: refusing to flush a dubious volume")
	}
	raw := v.bitmap.Bytes()
	numBmBlocks := (len(raw) + 511) / 512
	padded := make([]byte, numBmBlocks*512)
	copy(padded, raw)
	for i := 0; i < numBmBlocks; i++ {
		if err := v.dev.WriteBlock(uint32(v.bitmapBlk)+uint32(i), padded[i*512:(i+1)*512]); err != nil {
			return err
		}
	}
	return nil
}

// Entry is a resolved directory entry together with the block/slot it
// lives at, needed to rewrite it in place.
type Entry struct {
	Dirent
	block uint16
	slot  int
}

// ReadDir returns every live entry in the directory headed by
// headerBlock (spec §4.6: "a linked list of directory blocks"; pass
// volDirBlock for the root).
func (v *Volume) ReadDir(headerBlock uint16) ([]Entry, error) {
	var out []Entry
	blk := headerBlock
	first := true
	for blk != 0 {
		var raw [512]byte
		if err := v.dev.ReadBlock(uint32(blk), raw[:]); err != nil {
			v.markDubious()
			return nil, fmt.Errorf("prodos: reading directory block %d: %w", blk, err)
		}
		next := binary.LittleEndian.Uint16(raw[2:4])
		start := dirBlockHeaderSz
		n := entriesPerBlock
		if first {
			// The first entry of the first block is the directory/volume
			// header itself (the same size as a regular entry) and is skipped
			// from the listing.
			start += dirHeaderEntrySz
			n--
			first = false
		}
		for i := 0; i < n; i++ {
			off := start + i*direntSize
			rec := raw[off : off+direntSize]
			if rec[0] == 0 {
				continue
			}
			out = append(out, Entry{Dirent: decodeDirent(rec, headerBlock), block: blk, slot: i})
		}
		blk = next
	}
	return out, nil
}

// Lookup walks path components from the volume root.
func (v *Volume) Lookup(path []string) (Entry, error) {
	dirBlock := uint16(volDirBlock)
	var last Entry
	for i, name := range path {
		children, err := v.ReadDir(dirBlock)
		if err != nil {
			return Entry{}, err
		}
		found := false
		for _, c := range children {
			if c.Name == name {
				last = c
				found = true
				break
			}
		}
		if !found {
			return Entry{}, fmt.Errorf("prodos: %s not found", name)
		}
		if i < len(path)-1 {
			if last.StorageType != StorageDirectory {
				return Entry{}, fmt.Errorf("prodos: %s is not a directory", name)
			}
			dirBlock = last.KeyBlock
		}
	}
	return last, nil
}

// findFreeSlot scans a directory's block chain for an empty (deleted)
// entry slot, growing the chain by one block if none is found.
func (v *Volume) findFreeSlot(headerBlock uint16) (block uint16, slot int, err error) {
	blk := headerBlock
	first := true
	var lastBlk uint16
	for blk != 0 {
		var raw [512]byte
		if err := v.dev.ReadBlock(uint32(blk), raw[:]); err != nil {
			return 0, 0, err
		}
		start := dirBlockHeaderSz
		n := entriesPerBlock
		if first {
			start += dirHeaderEntrySz
			n--
			first = false
		}
		for i := 0; i < n; i++ {
			off := start + i*direntSize
			if raw[off] == 0 {
				return blk, i, nil
			}
		}
		lastBlk = blk
		blk = binary.LittleEndian.Uint16(raw[2:4])
	}

	alloc := volumeAllocator{v.bitmap}
	newBlk, err := alloc.AllocBlock(lastBlk)
	if err != nil {
		return 0, 0, err
	}
	var zero [512]byte
	binary.LittleEndian.PutUint16(zero[0:2], lastBlk)
	if err := v.dev.WriteBlock(uint32(newBlk), zero[:]); err != nil {
		return 0, 0, err
	}
	var prevRaw [512]byte
	if err := v.dev.ReadBlock(uint32(lastBlk), prevRaw[:]); err != nil {
		return 0, 0, err
	}
	binary.LittleEndian.PutUint16(prevRaw[2:4], newBlk)
	if err := v.dev.WriteBlock(uint32(lastBlk), prevRaw[:]); err != nil {
		return 0, 0, err
	}
	return newBlk, 0, nil
}

func (v *Volume) writeEntrySlot(headerBlock, block uint16, slot int, d Dirent) error {
	var raw [512]byte
	if err := v.dev.ReadBlock(uint32(block), raw[:]); err != nil {
		return err
	}
	start := dirBlockHeaderSz
	if block == headerBlock {
		start += dirHeaderEntrySz
	}
	off := start + slot*direntSize
	copy(raw[off:off+direntSize], d.encode())
	return v.dev.WriteBlock(uint32(block), raw[:])
}

// CreateFile adds a zero-length Seedling-free (Deleted-storage) dirent;
// actual block allocation happens lazily through descriptor writes via
// the File resolver.
func (v *Volume) CreateFile(headerBlock uint16, name string, fileType uint8) (Entry, error) {
	if v.dubious {
		return Entry{}, fmt.Errorf("prodos: refusing to modify a dubious volume")
	}
	siblings, err := v.ReadDir(headerBlock)
	if err != nil {
		return Entry{}, err
	}
	for _, c := range siblings {
		if c.Name == name {
			return Entry{}, fmt.Errorf("prodos: %s already exists", name)
		}
	}
	block, slot, err := v.findFreeSlot(headerBlock)
	if err != nil {
		return Entry{}, err
	}
	now := time.Now()
	d := Dirent{StorageType: StorageDeleted, Name: name, FileType: fileType, CreateDate: now, ModDate: now, HeaderBlock: headerBlock}
	if err := v.writeEntrySlot(headerBlock, block, slot, d); err != nil {
		return Entry{}, err
	}
	return Entry{Dirent: d, block: block, slot: slot}, nil
}

// CreateDir allocates a new directory block chain headed by its own
// directory-header entry, and links a StorageDirectory entry for it into
// the parent.
func (v *Volume) CreateDir(headerBlock uint16, name string) (Entry, error) {
	if v.dubious {
		return Entry{}, fmt.Errorf("prodos: refusing to modify a dubious volume")
	}
	alloc := volumeAllocator{v.bitmap}
	newBlk, err := alloc.AllocBlock(headerBlock)
	if err != nil {
		return Entry{}, err
	}
	var raw [512]byte
	hdrEntry := Dirent{StorageType: StorageSubdirHeader, Name: name, CreateDate: time.Now(), ModDate: time.Now()}
	he := hdrEntry.encode()
	copy(raw[dirBlockHeaderSz:], he)
	raw[dirBlockHeaderSz+0x20] = entriesPerBlock // entries_per_block, subdir header field
	if err := v.dev.WriteBlock(uint32(newBlk), raw[:]); err != nil {
		return Entry{}, err
	}

	block, slot, err := v.findFreeSlot(headerBlock)
	if err != nil {
		return Entry{}, err
	}
	now := time.Now()
	d := Dirent{StorageType: StorageDirectory, Name: name, KeyBlock: newBlk, BlocksUsed: 1, CreateDate: now, ModDate: now, HeaderBlock: headerBlock}
	if err := v.writeEntrySlot(headerBlock, block, slot, d); err != nil {
		return Entry{}, err
	}
	return Entry{Dirent: d, block: block, slot: slot}, nil
}

// Delete removes name from the directory headed by headerBlock, freeing
// its data blocks (directories must be empty).
func (v *Volume) Delete(headerBlock uint16, name string) error {
	if v.dubious {
		return fmt.Errorf("prodos: refusing to modify a dubious volume")
	}
	children, err := v.ReadDir(headerBlock)
	if err != nil {
		return err
	}
	var target *Entry
	for i := range children {
		if children[i].Name == name {
			target = &children[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("prodos: %s not found", name)
	}

	if target.StorageType == StorageDirectory {
		sub, err := v.ReadDir(target.KeyBlock)
		if err != nil {
			return err
		}
		if len(sub) > 0 {
			return fmt.Errorf("prodos: directory %s is not empty", name)
		}
		alloc := volumeAllocator{v.bitmap}
		blk := target.KeyBlock
		for blk != 0 {
			var raw [512]byte
			if err := v.dev.ReadBlock(uint32(blk), raw[:]); err != nil {
				break
			}
			next := binary.LittleEndian.Uint16(raw[2:4])
			alloc.FreeBlock(blk)
			blk = next
		}
	} else if target.StorageType == StorageExtended {
		store, alloc := deviceBlockStore{v.dev}, volumeAllocator{v.bitmap}
		var raw [512]byte
		if err := v.dev.ReadBlock(uint32(target.KeyBlock), raw[:]); err == nil {
			if ei, err := decodeExtendedInfo(raw[:]); err == nil {
				_ = NewFile(store, alloc, ei.DataStorageType, ei.DataKeyBlock).Truncate(0)
				_ = NewFile(store, alloc, ei.RsrcStorageType, ei.RsrcKeyBlock).Truncate(0)
			}
		}
		alloc.FreeBlock(target.KeyBlock)
	} else {
		f := NewFile(deviceBlockStore{v.dev}, volumeAllocator{v.bitmap}, target.StorageType, target.KeyBlock)
		_ = f.Truncate(0)
	}

	zero := Dirent{StorageType: StorageDeleted}
	return v.writeEntrySlot(headerBlock, target.block, target.slot, zero)
}
