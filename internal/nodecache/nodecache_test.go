// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package nodecache

import (
	"bytes"
	"testing"

	"github.com/goldenapple/retroimg/internal/hfsbtree"
)

// fakeStorage is a minimal in-memory hfsbtree.Storage that counts reads so
// tests can tell whether Wrap actually served a node from the cache
// instead of falling through.
type fakeStorage struct {
	nodes [][]byte
	reads int
}

func (f *fakeStorage) NodeCount() uint32 { return uint32(len(f.nodes)) }

func (f *fakeStorage) ReadNode(num uint32) ([]byte, error) {
	f.reads++
	return append([]byte(nil), f.nodes[num]...), nil
}

func (f *fakeStorage) WriteNode(num uint32, raw []byte) error {
	f.nodes[num] = append([]byte(nil), raw...)
	return nil
}

func (f *fakeStorage) Grow(newCount uint32) error {
	for uint32(len(f.nodes)) < newCount {
		f.nodes = append(f.nodes, make([]byte, hfsbtree.NodeSize))
	}
	return nil
}

func TestWrapServesReadsFromCacheAfterFirstMiss(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	backing := &fakeStorage{nodes: [][]byte{bytes.Repeat([]byte{0x42}, hfsbtree.NodeSize)}}
	cached := store.Wrap(backing, 1)

	first, err := cached.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	if backing.reads != 1 {
		t.Fatalf("expected the first read to miss through to the backing storage, got %d reads", backing.reads)
	}

	second, err := cached.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	if backing.reads != 1 {
		t.Fatalf("expected the second read to be served from the cache, backing storage saw %d reads", backing.reads)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached read returned different bytes than the original: %x vs %x", first, second)
	}
}

func TestWrapNamespacesByVolume(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	backingA := &fakeStorage{nodes: [][]byte{bytes.Repeat([]byte{0xAA}, hfsbtree.NodeSize)}}
	backingB := &fakeStorage{nodes: [][]byte{bytes.Repeat([]byte{0xBB}, hfsbtree.NodeSize)}}
	cachedA := store.Wrap(backingA, 1)
	cachedB := store.Wrap(backingB, 2)

	a, err := cachedA.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cachedB.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct volumes to read distinct node contents, cache keys collided")
	}
}

func TestInvalidateVolumeDropsCachedNodes(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	backing := &fakeStorage{nodes: [][]byte{bytes.Repeat([]byte{0x11}, hfsbtree.NodeSize)}}
	cached := store.Wrap(backing, 7)
	if _, err := cached.ReadNode(0); err != nil {
		t.Fatal(err)
	}
	if backing.reads != 1 {
		t.Fatalf("expected exactly one miss before invalidation, got %d", backing.reads)
	}

	if err := store.InvalidateVolume(7); err != nil {
		t.Fatal(err)
	}

	backing.nodes[0] = bytes.Repeat([]byte{0x22}, hfsbtree.NodeSize)
	raw, err := cached.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	if backing.reads != 2 {
		t.Fatalf("expected invalidation to force a fresh miss, backing storage saw %d reads", backing.reads)
	}
	if !bytes.Equal(raw, backing.nodes[0]) {
		t.Fatal("expected the post-invalidation read to reflect the updated backing contents")
	}
}
