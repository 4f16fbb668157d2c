package cpm

import "sort"

// FileChain is every extent belonging to one user+name file, ordered by
// extent number (spec §3: "extents of one file are linked by matching
// user + name; the extent-number provides order; sparse extents are
// permitted").
type FileChain struct {
	UserNumber uint8
	Name       string
	extents    []DirEntry // sorted by ExtentNumber, may have gaps
}

func newFileChain(entries []DirEntry) FileChain {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ExtentNumber < entries[j].ExtentNumber })
	fc := FileChain{extents: entries}
	if len(entries) > 0 {
		fc.UserNumber = entries[0].UserNumber
		fc.Name = entries[0].Name
	}
	return fc
}

// extentFor returns the DirEntry for extentNumber, or (zero, false) if
// that extent has no directory entry (a sparse gap per spec §3).
func (fc FileChain) extentFor(extentNumber int) (DirEntry, bool) {
	for _, e := range fc.extents {
		if e.ExtentNumber == extentNumber {
			return e, true
		}
	}
	return DirEntry{}, false
}

// Size returns the file's logical byte length: the highest extent's
// record count gives the tail, every full extent below it contributes
// recordsPerExtent records.
func (fc FileChain) Size() int64 {
	if len(fc.extents) == 0 {
		return 0
	}
	last := fc.extents[len(fc.extents)-1]
	return int64(last.ExtentNumber)*int64(recordsPerExtent)*recordSize + int64(last.RecordCount)*recordSize
}

// Resolve maps a logical record index (128-byte granularity) to a CP/M
// block number and the record's offset within that block. Returns
// ErrSparse if the covering extent (or its allocation slot) doesn't exist.
func (fc FileChain) Resolve(recordIndex int) (block uint8, recordInBlock int, err error) {
	extentNumber := recordIndex / recordsPerExtent
	recordInExtent := recordIndex % recordsPerExtent
	entry, ok := fc.extentFor(extentNumber)
	if !ok {
		return 0, 0, ErrSparse
	}
	blockSlot := recordInExtent / recordsPerCPMBlock
	if blockSlot >= len(entry.Blocks) {
		return 0, 0, ErrSparse
	}
	b := entry.Blocks[blockSlot]
	if b == 0 {
		return 0, 0, ErrSparse
	}
	return b, recordInExtent % recordsPerCPMBlock, nil
}

// lastExtent returns the highest-numbered extent, or (zero, false) for an
// empty chain.
func (fc FileChain) lastExtent() (DirEntry, bool) {
	if len(fc.extents) == 0 {
		return DirEntry{}, false
	}
	return fc.extents[len(fc.extents)-1], true
}
