// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package hfsbtree implements the HFS B*-tree engine described in spec.md
// §4.4: fixed 512-byte node pages (header/map/index/leaf), a free-list-of-
// offsets record trailer, key search, and insert/delete with split/merge.
//
// It generalizes the teacher's read-only node parser
// (elliotnunn/BeHierarchic internal/hfs/btree.go, parseBTree/parseBNode)
// into a writable node pool.
package hfsbtree

import (
	"encoding/binary"
	"fmt"
)

const NodeSize = 512

// Node kinds, per Inside Macintosh's BTNodeDescriptor.ndType.
const (
	KindIndex  uint8 = 0
	KindHeader uint8 = 1
	KindMap    uint8 = 2
	KindLeaf   uint8 = 0xFF
)

// Node is the decoded form of one 512-byte page: a descriptor plus an
// ordered list of variable-length records.
type Node struct {
	Num     uint32
	FLink   uint32
	BLink   uint32
	Kind    uint8
	Height  uint8
	Records [][]byte
}

// decodeNode mirrors the teacher's parseBNode: cnt records, with cnt+1
// offsets stored as a free list at the tail of the page, each offset
// validated to be monotonic and within bounds before trusting it.
func decodeNode(num uint32, raw []byte) (*Node, error) {
	if len(raw) != NodeSize {
		return nil, fmt.Errorf("hfsbtree: node must be %d bytes, got %d", NodeSize, len(raw))
	}
	n := &Node{
		Num:    num,
		FLink:  binary.BigEndian.Uint32(raw[0:]),
		BLink:  binary.BigEndian.Uint32(raw[4:]),
		Kind:   raw[8],
		Height: raw[9],
	}
	cnt := binary.BigEndian.Uint16(raw[10:])
	if cnt > 248 {
		return nil, fmt.Errorf("hfsbtree: node %d: %w: %d records exceeds maximum", num, errStructural, cnt)
	}

	lowlimit, highlimit := uint16(14), uint16(NodeSize-2*(cnt+1))
	n.Records = make([][]byte, 0, cnt)
	for i := uint16(0); i < cnt; i++ {
		start := binary.BigEndian.Uint16(raw[NodeSize-2-2*i:])
		end := binary.BigEndian.Uint16(raw[NodeSize-4-2*i:])
		if lowlimit > start || start > end || end > highlimit {
			return nil, fmt.Errorf("hfsbtree: node %d: %w: record at [%d:%d]", num, errStructural, start, end)
		}
		rec := make([]byte, end-start)
		copy(rec, raw[start:end])
		n.Records = append(n.Records, rec)
		lowlimit = end
	}
	return n, nil
}

// byteSize is the total page occupancy this node would need once encoded:
// 14-byte descriptor + all records + (len(Records)+1) 2-byte offsets.
func (n *Node) byteSize() int {
	total := 14
	for _, r := range n.Records {
		total += len(r)
	}
	total += 2 * (len(n.Records) + 1)
	return total
}

// fits reports whether this node, plus a hypothetical extra record of
// length extra, still fits in one page. Pass extra=0 to just check the
// node as it stands.
func (n *Node) fits(extra int) bool {
	total := n.byteSize() + extra
	if extra > 0 {
		total += 2 // one more offset entry
	}
	return total <= NodeSize
}

func (n *Node) encode() []byte {
	raw := make([]byte, NodeSize)
	binary.BigEndian.PutUint32(raw[0:], n.FLink)
	binary.BigEndian.PutUint32(raw[4:], n.BLink)
	raw[8] = n.Kind
	raw[9] = n.Height
	binary.BigEndian.PutUint16(raw[10:], uint16(len(n.Records)))

	offset := uint16(14)
	for i, r := range n.Records {
		copy(raw[offset:], r)
		binary.BigEndian.PutUint16(raw[NodeSize-2-2*i:], offset)
		offset += uint16(len(r))
	}
	binary.BigEndian.PutUint16(raw[NodeSize-2-2*len(n.Records):], offset)
	return raw
}
