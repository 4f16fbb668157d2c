package hfsbtree

import (
	"encoding/binary"
	"fmt"

	"github.com/goldenapple/retroimg/internal/bitmap"
)

func bitmapRun(num uint32) bitmap.Run {
	return bitmap.Run{Start: int(num), Count: 1}
}

func encodeIndexRecord(key []byte, child uint32) []byte {
	rec := make([]byte, len(key)+4)
	copy(rec, key)
	binary.BigEndian.PutUint32(rec[len(key):], child)
	return rec
}

// allocNode claims a free node number from the occupancy bitmap, growing
// the backing storage (and, if the bitmap itself has no spare bits, adding
// a new map node) as spec §4.4 step 3 describes.
func (t *Tree) allocNode() (uint32, error) {
	run, err := t.nodeBitmap.AllocBlocks(1, 0, "hfsbtree")
	if err == nil {
		return uint32(run.Start), nil
	}

	// Out of occupancy bits: grow the tree by one node and extend the
	// bitmap to cover it (the classic "extend the map record" path; a real
	// implementation chains a fresh KindMap node once the header's own map
	// record fills, which is handled the same way the header's bitmap was
	// assembled in Open).
	newTotal := t.nodeBitmap.NumBlocks() + 1
	if err := t.storage.Grow(uint32(newTotal)); err != nil {
		return 0, fmt.Errorf("hfsbtree: growing storage: %w", err)
	}
	t.nodeBitmap.Grow(newTotal)
	run, err = t.nodeBitmap.AllocBlocks(1, 0, "hfsbtree")
	if err != nil {
		return 0, err
	}
	return uint32(run.Start), nil
}

func (t *Tree) freeNode(num uint32) {
	t.nodeBitmap.ReleaseBlocks(bitmapRun(num))
}

// insertLeafSorted inserts the leaf record rec into n.Records in key order,
// returning the index it landed at; insertIndexSorted does the same for
// index records, whose key is the record minus the trailing child pointer.
func insertLeafSorted(t *Tree, n *Node, rec []byte) int {
	key := leafRecordKey(rec)
	i := 0
	for ; i < len(n.Records); i++ {
		if t.compare(leafRecordKey(n.Records[i]), key) > 0 {
			break
		}
	}
	n.Records = append(n.Records, nil)
	copy(n.Records[i+1:], n.Records[i:])
	n.Records[i] = rec
	return i
}

func insertIndexSorted(t *Tree, n *Node, rec []byte) int {
	key := indexRecordKey(rec)
	i := 0
	for ; i < len(n.Records); i++ {
		if t.compare(indexRecordKey(n.Records[i]), key) > 0 {
			break
		}
	}
	n.Records = append(n.Records, nil)
	copy(n.Records[i+1:], n.Records[i:])
	n.Records[i] = rec
	return i
}

// Insert adds a (key, value) leaf record. value is appended verbatim after
// a one-byte key-length prefix and the key itself (matching leafRecordKey/
// leafRecordBody), padded to an even boundary.
func (t *Tree) Insert(key, value []byte) error {
	if len(key) > 255 {
		return fmt.Errorf("hfsbtree: key too long (%d bytes)", len(key))
	}
	rec := make([]byte, 0, 1+len(key)+1+len(value))
	rec = append(rec, byte(len(key)))
	rec = append(rec, key...)
	if len(rec)%2 != 0 {
		rec = append(rec, 0) // pad key+lenbyte to even, per Inside Macintosh
	}
	rec = append(rec, value...)

	path, leaf, err := t.descend(key)
	if err != nil {
		return err
	}
	if _, ok := findInLeaf(t, leaf, key); ok {
		return ErrDuplicateKey
	}

	if leaf.fits(len(rec)) {
		insertLeafSorted(t, leaf, rec)
		t.numRecs++
		return t.writeNode(leaf)
	}
	return t.splitAndInsertLeaf(path, leaf, rec)
}

// splitAndInsertLeaf splits a full leaf in two, balancing byte occupancy,
// inserts rec into whichever half it belongs in, links the new node into
// the leaf chain, and propagates an index record for it up the path.
func (t *Tree) splitAndInsertLeaf(path []uint32, leaf *Node, rec []byte) error {
	all := append(append([][]byte{}, leaf.Records...), rec)
	// Re-sort by key; rec's insertion point was already determined by
	// descend, but appending and re-sorting keeps this function simple and
	// correct regardless of where rec lands.
	sortLeafRecords(t, all)

	splitAt := byteBalancedSplit(all)
	left := &Node{Num: leaf.Num, Kind: KindLeaf, BLink: leaf.BLink, Records: all[:splitAt]}

	newNum, err := t.allocNode()
	if err != nil {
		return err
	}
	right := &Node{Num: newNum, Kind: KindLeaf, FLink: leaf.FLink, BLink: leaf.Num, Records: all[splitAt:]}
	left.FLink = newNum

	// Re-point the node that used to follow leaf (if any) back at right.
	if right.FLink != 0 {
		following, err := t.readNode(right.FLink)
		if err != nil {
			return err
		}
		following.BLink = newNum
		if err := t.writeNode(following); err != nil {
			return err
		}
	} else {
		t.lastLeaf = newNum
	}
	if leaf.Num == t.firstLeaf {
		// unchanged: left keeps the original node number
	}

	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	t.numRecs++

	rightKey := leafRecordKey(right.Records[0])
	return t.propagateSplit(path, leaf.Num, rightKey, newNum)
}

// propagateSplit adds an index record (rightKey -> newChild) to the parent
// of the node the split happened in, recursing upward and allocating a new
// root if the root itself splits (spec §4.4 step 5).
func (t *Tree) propagateSplit(path []uint32, splitChild uint32, rightKey []byte, newChild uint32) error {
	if len(path) == 1 {
		// splitChild was the root; allocate a fresh root index node with
		// two children: the old root and the new sibling.
		oldRootKey, err := t.leftmostKey(splitChild)
		if err != nil {
			return err
		}
		newRootNum, err := t.allocNode()
		if err != nil {
			return err
		}
		newRoot := &Node{
			Num:  newRootNum,
			Kind: KindIndex,
			Records: [][]byte{
				encodeIndexRecord(oldRootKey, splitChild),
				encodeIndexRecord(rightKey, newChild),
			},
		}
		if err := t.writeNode(newRoot); err != nil {
			return err
		}
		t.root = newRootNum
		t.depth++
		return nil
	}

	parentNum := path[len(path)-2]
	parent, err := t.readNode(parentNum)
	if err != nil {
		return err
	}
	newRec := encodeIndexRecord(rightKey, newChild)
	if parent.fits(len(newRec)) {
		insertIndexSorted(t, parent, newRec)
		return t.writeNode(parent)
	}
	return t.splitAndInsertIndex(path[:len(path)-1], parent, newRec)
}

func (t *Tree) splitAndInsertIndex(path []uint32, node *Node, rec []byte) error {
	all := append(append([][]byte{}, node.Records...), rec)
	sortIndexRecords(t, all)

	splitAt := len(all) / 2
	left := &Node{Num: node.Num, Kind: KindIndex, Records: all[:splitAt]}
	newNum, err := t.allocNode()
	if err != nil {
		return err
	}
	right := &Node{Num: newNum, Kind: KindIndex, Records: all[splitAt:]}
	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}

	rightKey := indexRecordKey(right.Records[0])
	return t.propagateSplit(path, node.Num, rightKey, newNum)
}

// leftmostKey returns the smallest key reachable under the subtree rooted
// at num (descending leftmost children down to a leaf).
func (t *Tree) leftmostKey(num uint32) ([]byte, error) {
	n, err := t.readNode(num)
	if err != nil {
		return nil, err
	}
	if n.Kind == KindLeaf {
		if len(n.Records) == 0 {
			return nil, fmt.Errorf("hfsbtree: %w: empty leaf %d", errStructural, num)
		}
		return leafRecordKey(n.Records[0]), nil
	}
	return t.leftmostKey(indexRecordChild(n.Records[0]))
}

func sortLeafRecords(t *Tree, recs [][]byte) {
	insertionSortBy(recs, func(a, b []byte) int {
		return t.compare(leafRecordKey(a), leafRecordKey(b))
	})
}

func sortIndexRecords(t *Tree, recs [][]byte) {
	insertionSortBy(recs, func(a, b []byte) int {
		return t.compare(indexRecordKey(a), indexRecordKey(b))
	})
}

func insertionSortBy(recs [][]byte, cmp func(a, b []byte) int) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && cmp(recs[j-1], recs[j]) > 0; j-- {
			recs[j-1], recs[j] = recs[j], recs[j-1]
		}
	}
}

// byteBalancedSplit picks the split point that most evenly divides total
// record bytes between the two halves (spec: "split the leaf so that byte
// occupancy is balanced").
func byteBalancedSplit(recs [][]byte) int {
	total := 0
	for _, r := range recs {
		total += len(r)
	}
	running := 0
	for i, r := range recs {
		if running+len(r) >= total/2 {
			if i == 0 {
				return 1
			}
			return i
		}
		running += len(r)
	}
	return len(recs) / 2
}

// Delete removes key's leaf record, compacting the leaf and recursing
// upward to drop now-empty index records (spec §4.4's delete algorithm).
func (t *Tree) Delete(key []byte) error {
	path, leaf, err := t.descend(key)
	if err != nil {
		return err
	}
	idx, ok := findInLeaf(t, leaf, key)
	if !ok {
		return ErrNotFound
	}
	leaf.Records = append(leaf.Records[:idx], leaf.Records[idx+1:]...)
	t.numRecs--

	if len(leaf.Records) > 0 {
		if err := t.writeNode(leaf); err != nil {
			return err
		}
		// If we removed the leftmost record, the parent's pointer-key for
		// this subtree is now stale; refresh it.
		if idx == 0 {
			return t.fixupParentKey(path, leaf.Num, leafRecordKey(leaf.Records[0]))
		}
		return nil
	}

	// Leaf is now empty: unlink it from the leaf chain and drop its index
	// record from the parent, recursing upward (and collapsing the root if
	// this empties it).
	return t.removeEmptyLeaf(path, leaf)
}

func (t *Tree) removeEmptyLeaf(path []uint32, leaf *Node) error {
	if leaf.BLink != 0 {
		prev, err := t.readNode(leaf.BLink)
		if err != nil {
			return err
		}
		prev.FLink = leaf.FLink
		if err := t.writeNode(prev); err != nil {
			return err
		}
	} else {
		t.firstLeaf = leaf.FLink
	}
	if leaf.FLink != 0 {
		next, err := t.readNode(leaf.FLink)
		if err != nil {
			return err
		}
		next.BLink = leaf.BLink
		if err := t.writeNode(next); err != nil {
			return err
		}
	} else {
		t.lastLeaf = leaf.BLink
	}
	t.freeNode(leaf.Num)

	return t.removeChildFromParent(path, leaf.Num)
}

// removeChildFromParent drops the index record pointing at child from its
// parent in path, recursing upward if the parent itself becomes empty, and
// collapsing the root when the whole tree shrinks to a single node.
func (t *Tree) removeChildFromParent(path []uint32, child uint32) error {
	if len(path) == 1 {
		// child was the root; nothing above it to fix up. An empty root is
		// left in place (a tree with zero records but a valid empty root
		// node), matching how HFS volumes keep an always-present root.
		return nil
	}
	parentNum := path[len(path)-2]
	parent, err := t.readNode(parentNum)
	if err != nil {
		return err
	}
	for i, rec := range parent.Records {
		if indexRecordChild(rec) == child {
			parent.Records = append(parent.Records[:i], parent.Records[i+1:]...)
			break
		}
	}

	if len(parent.Records) > 0 {
		if err := t.writeNode(parent); err != nil {
			return err
		}
		return nil
	}

	// Parent is now empty. If it was the root, collapse the tree by one
	// level: its sole remaining... there is none, so there's nothing left
	// under this subtree; this only happens when the whole tree is empty.
	if len(path) == 2 {
		t.freeNode(parent.Num)
		t.root = 0
		t.depth = 0
		return nil
	}
	t.freeNode(parent.Num)
	return t.removeChildFromParent(path[:len(path)-1], parent.Num)
}

// fixupParentKey propagates a changed leftmost key up through path so every
// ancestor's pointer-key for this subtree stays accurate (spec step 4: "If
// the new record is the leftmost of its node, replace the parent's
// pointer-key for this subtree, and propagate the key change upward").
func (t *Tree) fixupParentKey(path []uint32, child uint32, newKey []byte) error {
	for i := len(path) - 2; i >= 0; i-- {
		parentNum := path[i]
		parent, err := t.readNode(parentNum)
		if err != nil {
			return err
		}
		changed := false
		for j, rec := range parent.Records {
			if indexRecordChild(rec) == child {
				parent.Records[j] = encodeIndexRecord(newKey, child)
				changed = true
				break
			}
		}
		if !changed {
			return nil
		}
		if err := t.writeNode(parent); err != nil {
			return err
		}
		if j0 := firstRecordIndexForChild(parent, child); j0 != 0 {
			return nil // only the leftmost record of parent needs to keep propagating
		}
		child = parentNum
	}
	return nil
}

func firstRecordIndexForChild(n *Node, child uint32) int {
	for i, rec := range n.Records {
		if indexRecordChild(rec) == child {
			return i
		}
	}
	return -1
}
