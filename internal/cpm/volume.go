package cpm

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/chunk"
)

// Volume is an open CP/M volume: the backing device and the decoded
// directory. CP/M has no volume bitmap — free space is recomputed at
// mount time by scanning every directory entry's allocation pointers
// (spec §4.2's "volume usage tracker" pattern, applied without a
// persistent bitmap since the format has none).
type Volume struct {
	dev      chunk.Device
	entries  []DirEntry // one slot per directory entry, including free ones
	numBlocks uint8     // total CP/M blocks, including the 2 directory blocks
	used     map[uint8]bool
	dubious  bool
}

type deviceBlockStore struct{ dev chunk.Device }

func (d deviceBlockStore) ReadBlock(num uint8, dst []byte) error {
	base := uint32(num) * devBlocksPerCPM
	return d.dev.ReadBlocks(base, devBlocksPerCPM, dst)
}

func (d deviceBlockStore) WriteBlock(num uint8, src []byte) error {
	for i := 0; i < devBlocksPerCPM; i++ {
		if err := d.dev.WriteBlock(uint32(num)*devBlocksPerCPM+uint32(i), src[i*deviceBlockSize:(i+1)*deviceBlockSize]); err != nil {
			return err
		}
	}
	return nil
}

type volumeAllocator struct{ v *Volume }

func (a volumeAllocator) AllocBlock() (uint8, error) {
	for b := uint8(dirCPMBlocks); ; b++ {
		if !a.v.used[b] {
			a.v.used[b] = true
			return b, nil
		}
		if b == a.v.numBlocks-1 {
			break
		}
	}
	return 0, fmt.Errorf("cpm: disk full")
}

func (a volumeAllocator) FreeBlock(b uint8) { delete(a.v.used, b) }

// Open reads the fixed two-block directory and rebuilds the in-memory
// free-block set by scanning every live entry's allocation pointers.
func Open(dev chunk.Device) (*Volume, error) {
	if dev.FormattedLength() != requiredDeviceBlocks*deviceBlockSize {
		return nil, ErrUnsupportedGeometry
	}
	store := deviceBlockStore{dev}
	entries := make([]DirEntry, 0, dirEntryCount)
	for blk := uint8(0); blk < dirCPMBlocks; blk++ {
		var raw [cpmBlockSize]byte
		if err := store.ReadBlock(blk, raw[:]); err != nil {
			return nil, err
		}
		perBlock := cpmBlockSize / dirEntrySize
		for slot := 0; slot < perBlock; slot++ {
			off := slot * dirEntrySize
			entries = append(entries, decodeDirEntry(raw[off:off+dirEntrySize], blk, slot))
		}
	}

	numBlocks := uint8(requiredDeviceBlocks / devBlocksPerCPM)
	free := make(map[uint8]bool)
	for b := uint8(0); b < dirCPMBlocks; b++ {
		free[b] = true
	}
	for _, e := range entries {
		if e.IsFree() {
			continue
		}
		for _, b := range e.Blocks {
			if b != 0 {
				free[b] = true
			}
		}
	}

	return &Volume{dev: dev, entries: entries, numBlocks: numBlocks, used: free}, nil
}

func (v *Volume) IsDubious() bool { return v.dubious }
func (v *Volume) markDubious()    { v.dubious = true }

// FreeBlocks reports how many CP/M blocks remain unallocated.
func (v *Volume) FreeBlocks() int {
	return int(v.numBlocks) - len(v.used)
}

// chains groups every live directory entry into per-file chains.
func (v *Volume) chains() []FileChain {
	byKey := make(map[[2]any][]DirEntry)
	var order [][2]any
	for _, e := range v.entries {
		if e.IsFree() {
			continue
		}
		key := [2]any{e.UserNumber, e.Name}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], e)
	}
	out := make([]FileChain, 0, len(order))
	for _, key := range order {
		out = append(out, newFileChain(byKey[key]))
	}
	return out
}

// ReadDir lists every file on the (flat, single-directory) volume for the
// given user number.
func (v *Volume) ReadDir(user uint8) ([]FileChain, error) {
	var out []FileChain
	for _, fc := range v.chains() {
		if fc.UserNumber == user {
			out = append(out, fc)
		}
	}
	return out, nil
}

// Lookup finds a file by user number and name.
func (v *Volume) Lookup(user uint8, name string) (FileChain, error) {
	for _, fc := range v.chains() {
		if fc.UserNumber == user && fc.Name == name {
			return fc, nil
		}
	}
	return FileChain{}, fmt.Errorf("cpm: %s not found", name)
}

func (v *Volume) findFreeDirSlot() (int, error) {
	for i, e := range v.entries {
		if e.IsFree() {
			return i, nil
		}
	}
	return 0, fmt.Errorf("cpm: directory full")
}

func (v *Volume) writeDirEntry(index int, d DirEntry) error {
	blk := uint8(index / (cpmBlockSize / dirEntrySize))
	slot := index % (cpmBlockSize / dirEntrySize)
	store := deviceBlockStore{v.dev}
	var raw [cpmBlockSize]byte
	if err := store.ReadBlock(blk, raw[:]); err != nil {
		return err
	}
	copy(raw[slot*dirEntrySize:(slot+1)*dirEntrySize], d.encode())
	if err := store.WriteBlock(blk, raw[:]); err != nil {
		return err
	}
	d.block, d.slot = blk, slot
	v.entries[index] = d
	return nil
}

// CreateFile adds the file's first (empty) extent.
func (v *Volume) CreateFile(user uint8, name string) (FileChain, error) {
	if v.dubious {
		return FileChain{}, fmt.Errorf("cpm: refusing to modify a dubious volume")
	}
	if _, err := v.Lookup(user, name); err == nil {
		return FileChain{}, fmt.Errorf("cpm: %s already exists", name)
	}
	idx, err := v.findFreeDirSlot()
	if err != nil {
		return FileChain{}, err
	}
	d := DirEntry{UserNumber: user, Name: name, ExtentNumber: 0}
	if err := v.writeDirEntry(idx, d); err != nil {
		return FileChain{}, err
	}
	return newFileChain([]DirEntry{d}), nil
}

// EnsureAllocated makes sure recordIndex within the named file has
// backing storage, growing the extent chain (and directory) as needed.
func (v *Volume) EnsureAllocated(user uint8, name string, recordIndex int) (block uint8, recordInBlock int, err error) {
	if v.dubious {
		return 0, 0, fmt.Errorf("cpm: refusing to modify a dubious volume")
	}
	fc, err := v.Lookup(user, name)
	if err != nil {
		return 0, 0, err
	}
	alloc := volumeAllocator{v}

	extentNumber := recordIndex / recordsPerExtent
	recordInExtent := recordIndex % recordsPerExtent
	blockSlot := recordInExtent / recordsPerCPMBlock

	entry, ok := fc.extentFor(extentNumber)
	entryIdx := -1
	if ok {
		for i, e := range v.entries {
			if !e.IsFree() && e.UserNumber == user && e.Name == name && e.ExtentNumber == extentNumber {
				entryIdx = i
				break
			}
		}
	} else {
		idx, ferr := v.findFreeDirSlot()
		if ferr != nil {
			return 0, 0, ferr
		}
		entry = DirEntry{UserNumber: user, Name: name, ExtentNumber: extentNumber}
		entryIdx = idx
	}

	if entry.Blocks[blockSlot] == 0 {
		b, aerr := alloc.AllocBlock()
		if aerr != nil {
			return 0, 0, aerr
		}
		entry.Blocks[blockSlot] = b
		var zero [cpmBlockSize]byte
		for i := range zero {
			zero[i] = FillByte
		}
		if werr := (deviceBlockStore{v.dev}).WriteBlock(b, zero[:]); werr != nil {
			return 0, 0, werr
		}
	}
	newRC := uint8(recordInExtent%recordsPerExtent + 1)
	if newRC > entry.RecordCount {
		entry.RecordCount = newRC
	}
	if err := v.writeDirEntry(entryIdx, entry); err != nil {
		return 0, 0, err
	}
	return entry.Blocks[blockSlot], recordInExtent % recordsPerCPMBlock, nil
}

// Truncate sets a file's logical size, freeing trailing blocks/extents
// past the new size and clamping the last kept extent's record count.
func (v *Volume) Truncate(user uint8, name string, newSize int64) error {
	if v.dubious {
		return fmt.Errorf("cpm: refusing to modify a dubious volume")
	}
	fc, err := v.Lookup(user, name)
	if err != nil {
		return err
	}
	alloc := volumeAllocator{v}
	newRecordCount := int((newSize + recordSize - 1) / recordSize)
	keepExtents := (newRecordCount + recordsPerExtent - 1) / recordsPerExtent

	for i, e := range v.entries {
		if e.IsFree() || e.UserNumber != user || e.Name != name {
			continue
		}
		if e.ExtentNumber >= keepExtents {
			for _, b := range e.Blocks {
				if b != 0 {
					alloc.FreeBlock(b)
				}
			}
			if err := v.writeDirEntry(i, DirEntry{UserNumber: emptyUser}); err != nil {
				return err
			}
			continue
		}
		if e.ExtentNumber == keepExtents-1 {
			recsInExtent := newRecordCount - e.ExtentNumber*recordsPerExtent
			keepBlockSlots := (recsInExtent + recordsPerCPMBlock - 1) / recordsPerCPMBlock
			for slot := keepBlockSlots; slot < len(e.Blocks); slot++ {
				if e.Blocks[slot] != 0 {
					alloc.FreeBlock(e.Blocks[slot])
					e.Blocks[slot] = 0
				}
			}
			e.RecordCount = uint8(recsInExtent)
			if err := v.writeDirEntry(i, e); err != nil {
				return err
			}
		}
	}
	_ = fc
	return nil
}

// Delete frees every block in the file's chain and clears its directory
// entries.
func (v *Volume) Delete(user uint8, name string) error {
	if v.dubious {
		return fmt.Errorf("cpm: refusing to modify a dubious volume")
	}
	fc, err := v.Lookup(user, name)
	if err != nil {
		return err
	}
	alloc := volumeAllocator{v}
	for i, e := range v.entries {
		if e.IsFree() || e.UserNumber != user || e.Name != name {
			continue
		}
		for _, b := range e.Blocks {
			if b != 0 {
				alloc.FreeBlock(b)
			}
		}
		if err := v.writeDirEntry(i, DirEntry{UserNumber: emptyUser}); err != nil {
			return err
		}
	}
	_ = fc
	return nil
}
