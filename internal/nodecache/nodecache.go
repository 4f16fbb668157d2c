// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package nodecache is an optional second-level cache for raw 512-byte HFS
// B*-tree node pages, sitting behind internal/hfsbtree's in-memory tinylfu
// cache. Where that cache is evicted on process exit, nodecache persists
// to a pebble LSM so a long-running host (retroimgctl serve) doesn't
// re-walk the catalog/extents trees from cold on every restart.
//
// It's a hfsbtree.Storage decorator, not a hfsbtree.Tree change: Tree's
// own readNode/writeNode stay exactly as the teacher wrote them, and
// this wraps whatever Storage internal/hfs already resolves node numbers
// through.
package nodecache

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble/v2"

	"github.com/goldenapple/retroimg/internal/hfsbtree"
)

// Store wraps an open pebble database as a node cache shared by however
// many volumes retroimgctl serve has mounted; entries are namespaced by
// volume signature.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a pebble database at dir for use as a
// node cache.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("nodecache: opening %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pebble database.
func (s *Store) Close() error { return s.db.Close() }

// Wrap decorates storage with a read-through/write-through cache of its
// nodes, namespaced by volume (typically a hash of the volume's MDB
// create-date, matching the namespace internal/hfsbtree.Tree itself
// uses for its in-memory cache).
func (s *Store) Wrap(storage hfsbtree.Storage, volume uint64) hfsbtree.Storage {
	return &cachedStorage{Storage: storage, store: s, volume: volume}
}

type cachedStorage struct {
	hfsbtree.Storage
	store  *Store
	volume uint64
}

func (c *cachedStorage) key(num uint32) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:], c.volume)
	binary.BigEndian.PutUint32(buf[8:], num)
	return buf[:]
}

func (c *cachedStorage) ReadNode(num uint32) ([]byte, error) {
	if v, closer, err := c.store.db.Get(c.key(num)); err == nil {
		raw := append([]byte(nil), v...)
		closer.Close()
		return raw, nil
	} else if err != pebble.ErrNotFound {
		return nil, fmt.Errorf("nodecache: reading node %d from cache: %w", num, err)
	}

	raw, err := c.Storage.ReadNode(num)
	if err != nil {
		return nil, err
	}
	if err := c.store.db.Set(c.key(num), raw, pebble.NoSync); err != nil {
		return nil, fmt.Errorf("nodecache: populating cache for node %d: %w", num, err)
	}
	return raw, nil
}

func (c *cachedStorage) WriteNode(num uint32, raw []byte) error {
	if err := c.Storage.WriteNode(num, raw); err != nil {
		return err
	}
	return c.store.db.Set(c.key(num), raw, pebble.NoSync)
}

// InvalidateVolume drops every cached node for volume, used after a raw-
// mode write (or an unclean unmount recovery) invalidates the tree
// structure out from under the cache.
func (s *Store) InvalidateVolume(volume uint64) error {
	lo := make([]byte, 8)
	binary.BigEndian.PutUint64(lo, volume)
	hi := make([]byte, 8)
	binary.BigEndian.PutUint64(hi, volume+1)
	return s.db.DeleteRange(lo, hi, pebble.NoSync)
}
