// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package pascal implements the UCSD Pascal filesystem (spec.md §3/§6): a
// volume directory of fixed 26-byte entries, each a contiguous
// [start-block, next-block) range, sorted by start block with no
// allocation bitmap — free space is whatever falls in the gaps between
// entries, and "defragmenting" means sliding files down to close those
// gaps.
//
// Modeled on internal/apm's sorted-entry-list style (the closest teacher
// analog to "a short, sorted table of contiguous ranges") since the
// teacher repo has no Pascal support of its own.
package pascal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goldenapple/retroimg/internal/chunk"
)

const (
	blockSize     = 512
	entrySize     = 26
	dirStartBlock = 2
	dirBlocks     = 4 // blocks 2-5: the volume directory
	dirBytes      = dirBlocks * blockSize
	maxEntries    = dirBytes / entrySize // 78: 1 volume header + 77 file entries

	// KindVolumeHeader is the reserved file-kind of directory entry 0.
	KindVolumeHeader = 0
)

var (
	// ErrDiskFull is returned when no gap (including the tail) is large
	// enough to satisfy a requested allocation.
	ErrDiskFull = errors.New("pascal: disk full")
	// ErrNotEnoughRoom is returned by Grow when the immediately following
	// gap can't satisfy the requested growth; the caller should
	// Defragment and retry.
	ErrNotEnoughRoom = errors.New("pascal: not enough contiguous room to grow in place")
)

// Entry is one decoded 26-byte directory entry: a contiguous block range
// plus a name and kind (or, for index 0, the volume header).
type Entry struct {
	FirstBlock       uint16
	NextBlock        uint16 // exclusive: the range is [FirstBlock, NextBlock)
	FileKind         uint16
	Name             string
	BytesInLastBlock uint16
	ModDate          uint16 // packed UCSD date, opaque to this package
}

func (e Entry) numBlocks() int { return int(e.NextBlock) - int(e.FirstBlock) }

func decodeEntry(raw []byte) Entry {
	var e Entry
	e.FirstBlock = le16(raw[0:2])
	e.NextBlock = le16(raw[2:4])
	e.FileKind = le16(raw[4:6])
	nameLen := int(raw[6])
	if nameLen > 15 {
		nameLen = 15
	}
	e.Name = string(raw[7 : 7+nameLen])
	e.BytesInLastBlock = le16(raw[22:24])
	e.ModDate = le16(raw[24:26])
	return e
}

func (e Entry) encode() []byte {
	raw := make([]byte, entrySize)
	putLE16(raw[0:2], e.FirstBlock)
	putLE16(raw[2:4], e.NextBlock)
	putLE16(raw[4:6], e.FileKind)
	name := e.Name
	if len(name) > 15 {
		name = name[:15]
	}
	raw[6] = byte(len(name))
	copy(raw[7:22], name)
	putLE16(raw[22:24], e.BytesInLastBlock)
	putLE16(raw[24:26], e.ModDate)
	return raw
}

func le16(b []byte) uint16     { return uint16(b[0]) | uint16(b[1])<<8 }
func putLE16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v >> 8) }

// Volume is an open Pascal volume.
type Volume struct {
	dev         chunk.Device
	header      Entry   // directory entry 0
	files       []Entry // entries 1.., sorted by FirstBlock
	totalBlocks int
	dubious     bool
}

func (v *Volume) IsDubious() bool { return v.dubious }
func (v *Volume) markDubious()    { v.dubious = true }

// Open reads the 4-block volume directory starting at block 2.
func Open(dev chunk.Device) (*Volume, error) {
	raw := make([]byte, dirBytes)
	if err := dev.ReadBlocks(dirStartBlock, dirBlocks, raw); err != nil {
		return nil, err
	}
	header := decodeEntry(raw[0:entrySize])
	if header.FileKind != KindVolumeHeader {
		return nil, fmt.Errorf("pascal: block 2 is not a volume header (kind %d)", header.FileKind)
	}

	var files []Entry
	for i := 1; i < maxEntries; i++ {
		off := i * entrySize
		e := decodeEntry(raw[off : off+entrySize])
		if e.FirstBlock == 0 && e.NextBlock == 0 {
			break
		}
		files = append(files, e)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FirstBlock < files[j].FirstBlock })

	return &Volume{
		dev:         dev,
		header:      header,
		files:       files,
		totalBlocks: int(dev.FormattedLength() / blockSize),
	}, nil
}

// Name returns the volume label stored in the header entry.
func (v *Volume) Name() string { return v.header.Name }

func (v *Volume) persistDirectory() error {
	raw := make([]byte, dirBytes)
	copy(raw[0:entrySize], v.header.encode())
	for i, e := range v.files {
		off := (i + 1) * entrySize
		if off+entrySize > dirBytes {
			return fmt.Errorf("pascal: too many files for a %d-entry directory", maxEntries)
		}
		copy(raw[off:off+entrySize], e.encode())
	}
	return v.writeDirBlocks(raw)
}

func (v *Volume) writeDirBlocks(raw []byte) error {
	for i := 0; i < dirBlocks; i++ {
		if err := v.dev.WriteBlock(uint32(dirStartBlock+i), raw[i*blockSize:(i+1)*blockSize]); err != nil {
			return err
		}
	}
	return nil
}

// ReadDir lists every file on the (flat) volume.
func (v *Volume) ReadDir() []Entry { return append([]Entry(nil), v.files...) }

// Lookup finds a file by name.
func (v *Volume) Lookup(name string) (Entry, error) {
	for _, e := range v.files {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("pascal: %s not found", name)
}

// gaps returns every free [start, end) range between entries (including
// the tail up to totalBlocks), in ascending order.
func (v *Volume) gaps() []Entry {
	var out []Entry
	cursor := uint16(v.header.NextBlock)
	for _, e := range v.files {
		if e.FirstBlock > cursor {
			out = append(out, Entry{FirstBlock: cursor, NextBlock: e.FirstBlock})
		}
		if e.NextBlock > cursor {
			cursor = e.NextBlock
		}
	}
	if int(cursor) < v.totalBlocks {
		out = append(out, Entry{FirstBlock: cursor, NextBlock: uint16(v.totalBlocks)})
	}
	return out
}

// CreateFile allocates a new contiguous file of exactly numBlocks blocks
// in the first gap (including the tail) that fits it — UCSD Pascal files
// don't grow incrementally the way ProDOS/HFS ones do; the caller must
// know the size up front, or else Grow/Defragment to extend it later.
func (v *Volume) CreateFile(name string, kind uint16, numBlocks int) (Entry, error) {
	if v.dubious {
		return Entry{}, fmt.Errorf("pascal: refusing to modify a dubious volume")
	}
	if _, err := v.Lookup(name); err == nil {
		return Entry{}, fmt.Errorf("pascal: %s already exists", name)
	}
	if len(v.files)+1 >= maxEntries {
		return Entry{}, fmt.Errorf("pascal: directory full")
	}
	for _, g := range v.gaps() {
		if g.numBlocks() >= numBlocks {
			e := Entry{FirstBlock: g.FirstBlock, NextBlock: g.FirstBlock + uint16(numBlocks), FileKind: kind, Name: name}
			v.files = append(v.files, e)
			sort.Slice(v.files, func(i, j int) bool { return v.files[i].FirstBlock < v.files[j].FirstBlock })
			if err := v.persistDirectory(); err != nil {
				return Entry{}, err
			}
			return e, nil
		}
	}
	return Entry{}, ErrDiskFull
}

// Grow extends name's block range in place if the gap immediately
// following it has room; otherwise it returns ErrNotEnoughRoom, and the
// caller should Defragment before retrying.
func (v *Volume) Grow(name string, newNumBlocks int) (Entry, error) {
	if v.dubious {
		return Entry{}, fmt.Errorf("pascal: refusing to modify a dubious volume")
	}
	idx := -1
	for i, e := range v.files {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Entry{}, fmt.Errorf("pascal: %s not found", name)
	}
	e := v.files[idx]
	want := e.FirstBlock + uint16(newNumBlocks)
	var limit uint16 = uint16(v.totalBlocks)
	if idx+1 < len(v.files) {
		limit = v.files[idx+1].FirstBlock
	}
	if want > limit {
		return Entry{}, ErrNotEnoughRoom
	}
	e.NextBlock = want
	v.files[idx] = e
	if err := v.persistDirectory(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Delete removes name from the directory. Its blocks become part of a gap;
// no data is erased.
func (v *Volume) Delete(name string) error {
	if v.dubious {
		return fmt.Errorf("pascal: refusing to modify a dubious volume")
	}
	idx := -1
	for i, e := range v.files {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("pascal: %s not found", name)
	}
	v.files = append(v.files[:idx], v.files[idx+1:]...)
	return v.persistDirectory()
}

// Defragment slides every file down to close gaps, copying displaced data
// blocks and rewriting the directory once. If the volume is already
// compact it makes no block writes at all (spec §8 scenario F).
func (v *Volume) Defragment() error {
	if v.dubious {
		return fmt.Errorf("pascal: refusing to modify a dubious volume")
	}
	cursor := v.header.NextBlock
	moved := false
	newFiles := make([]Entry, len(v.files))
	for i, e := range v.files {
		n := e.numBlocks()
		if e.FirstBlock != cursor {
			if err := v.copyBlocks(e.FirstBlock, cursor, n); err != nil {
				return err
			}
			e.FirstBlock = cursor
			e.NextBlock = cursor + uint16(n)
			moved = true
		}
		newFiles[i] = e
		cursor += uint16(n)
	}
	if !moved {
		return nil
	}
	v.files = newFiles
	return v.persistDirectory()
}

func (v *Volume) copyBlocks(src, dst uint16, count int) error {
	if count == 0 || src == dst {
		return nil
	}
	buf := make([]byte, blockSize)
	if src > dst {
		for i := 0; i < count; i++ {
			if err := v.dev.ReadBlock(uint32(src)+uint32(i), buf); err != nil {
				return err
			}
			if err := v.dev.WriteBlock(uint32(dst)+uint32(i), buf); err != nil {
				return err
			}
		}
		return nil
	}
	for i := count - 1; i >= 0; i-- {
		if err := v.dev.ReadBlock(uint32(src)+uint32(i), buf); err != nil {
			return err
		}
		if err := v.dev.WriteBlock(uint32(dst)+uint32(i), buf); err != nil {
			return err
		}
	}
	return nil
}
