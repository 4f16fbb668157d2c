package hfs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goldenapple/retroimg/errs"
	"github.com/goldenapple/retroimg/internal/bitmap"
	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/hfsbtree"
	"github.com/goldenapple/retroimg/internal/nodecache"
	"github.com/goldenapple/retroimg/internal/usage"
)

// Option configures an optional extra behind Open/Format, e.g. a
// persistent node cache for a long-running host.
type Option func(*volumeOptions)

type volumeOptions struct {
	nodeCache *nodecache.Store
}

// WithNodeCache decorates the catalog and extents-overflow trees'
// storage with cache, so repeated mounts of the same volume (retroimgctl
// serve's HFS path) don't re-walk cold B*-tree nodes from the device on
// every request. Safe to omit; a Volume opened without it behaves exactly
// as before this option existed.
func WithNodeCache(cache *nodecache.Store) Option {
	return func(o *volumeOptions) { o.nodeCache = cache }
}

// RootCNID is the catalog node ID of the volume's root directory.
const RootCNID uint32 = 2

// AttrUnmountedCleanly is MDB attribute bit 8: set means the previous
// unmount finished normally (spec §6).
const AttrUnmountedCleanly uint16 = 1 << 8

// Volume is an open HFS volume: its MDB, allocation bitmap, and the two
// B*-trees (catalog, extents-overflow) that sit on top of it.
type Volume struct {
	dev chunk.Device
	mdb *MDB

	bitmap *bitmap.Bitmap
	usage  *usage.Map

	catalogTree *hfsbtree.Tree
	extentsTree *hfsbtree.Tree

	catalogStore *fileStorage
	extentsStore *fileStorage

	dubious        bool
	uncleanUnmount bool
	notes          *errs.Notes
}

// DirEntry is one decoded catalog entry: either a directory or a file.
type DirEntry struct {
	CNID       uint32
	Name       string
	IsDir      bool
	CreateDate time.Time
	ModifyDate time.Time
	FinderInfo [16]byte
	// File-only fields:
	DataLogicalSize uint32
	RsrcLogicalSize uint32
	DataExtents     [3]Extent
	RsrcExtents     [3]Extent
	Locked          bool
}

// Open mounts an HFS volume: reads the MDB, loads the allocation bitmap,
// and opens the catalog and extents-overflow trees.
func Open(dev chunk.Device, opts ...Option) (*Volume, error) {
	var o volumeOptions
	for _, opt := range opts {
		opt(&o)
	}

	mdb, err := ReadMDB(dev)
	if err != nil {
		return nil, err
	}

	v := &Volume{dev: dev, mdb: mdb}
	v.uncleanUnmount = mdb.Attributes&AttrUnmountedCleanly == 0

	bmBytes := (int(mdb.NumAllocBlks) + 7) / 8
	bmBlocks := (bmBytes + 511) / 512
	raw := make([]byte, bmBlocks*512)
	for i := 0; i < bmBlocks; i++ {
		if err := dev.ReadBlock(uint32(mdb.VBMStart)+uint32(i), raw[i*512:(i+1)*512]); err != nil {
			return nil, fmt.Errorf("hfs: reading volume bitmap: %w", err)
		}
	}
	v.bitmap = bitmap.Load(raw, int(mdb.NumAllocBlks), bitmap.OneMeansInUse)
	v.usage = usage.New(int(mdb.NumAllocBlks))

	volumeTag := uint64(macTimeEncode(mdb.CreateDate))

	v.extentsStore = newExtentsStorage(v)
	var extentsStorage hfsbtree.Storage = v.extentsStore
	if o.nodeCache != nil {
		extentsStorage = o.nodeCache.Wrap(v.extentsStore, volumeTag^1)
	}
	v.extentsTree, err = hfsbtree.Open(extentsStorage, volumeTag^1, CompareExtentsKeys)
	if err != nil {
		return nil, fmt.Errorf("hfs: opening extents-overflow tree: %w", err)
	}

	v.catalogStore = newCatalogStorage(v)
	var catalogStorage hfsbtree.Storage = v.catalogStore
	if o.nodeCache != nil {
		catalogStorage = o.nodeCache.Wrap(v.catalogStore, volumeTag^2)
	}
	v.catalogTree, err = hfsbtree.Open(catalogStorage, volumeTag^2, CompareCatalogKeys)
	if err != nil {
		return nil, fmt.Errorf("hfs: opening catalog tree: %w", err)
	}

	return v, nil
}

// MDB returns the volume's in-memory Master Directory Block (read-only use
// expected; mutate through Volume methods instead).
func (v *Volume) MDB() *MDB { return v.mdb }

// IsDubious reports whether scan/verify or a structural read error has
// marked this volume untrustworthy (spec §4.4/§7: write operations are
// refused on a dubious volume).
func (v *Volume) IsDubious() bool { return v.dubious }

// SetNotes attaches the filesystem's diagnostic log (spec §7), recording
// the unclean-unmount finding from Open immediately since the log wasn't
// available yet when that check ran (vfs.NotesAware wiring happens once
// PrepareFileAccess succeeds, after Open has already returned).
func (v *Volume) SetNotes(n *errs.Notes) {
	v.notes = n
	if v.uncleanUnmount {
		n.Add(errs.Info, "hfs: MDB attribute bit 8 (unmounted cleanly) is clear; treating as an unclean mount")
	}
}

func (v *Volume) markDubious(cause error) error {
	v.dubious = true
	if v.notes != nil {
		v.notes.Add(errs.Warning, "hfs: volume marked dubious: %v", cause)
	}
	return fmt.Errorf("hfs: volume marked dubious: %w", cause)
}

// Flush writes back the extents and catalog trees, the allocation bitmap,
// and the MDB, in that order (leaves the MDB update — which is what a
// crash-recovery scan trusts — until everything it depends on is durable).
func (v *Volume) Flush() error {
	if v.dubious {
		return fmt.Errorf("hfs: refusing to flush a dubious volume")
	}
	if err := v.extentsTree.Flush(); err != nil {
		return err
	}
	if err := v.catalogTree.Flush(); err != nil {
		return err
	}
	if err := v.flushBitmap(); err != nil {
		return err
	}
	return WriteMDB(v.dev, v.mdb)
}

func (v *Volume) flushBitmap() error {
	bmBlocks := (int(v.mdb.NumAllocBlks) + 4095) / 4096
	raw := v.bitmap.Bytes()
	for i := 0; i < bmBlocks; i++ {
		start := i * 512
		end := start + 512
		if end > len(raw) {
			end = len(raw)
		}
		block := make([]byte, 512)
		copy(block, raw[start:end])
		if err := v.dev.WriteBlock(uint32(v.mdb.VBMStart)+uint32(i), block); err != nil {
			return fmt.Errorf("hfs: writing volume bitmap: %w", err)
		}
	}
	return nil
}

// AllocCNID returns the next catalog node ID and advances the MDB counter,
// matching the monotonically-increasing CNID allocation spec §4.4's scan
// pass checks against ("verify that the maximum CNID observed is strictly
// less than MDB.next-cnid").
func (v *Volume) AllocCNID() uint32 {
	id := v.mdb.NextCNID
	v.mdb.NextCNID++
	return id
}

// ReadDir lists the immediate children of the directory dirID.
func (v *Volume) ReadDir(dirID uint32) ([]DirEntry, error) {
	var out []DirEntry
	err := v.catalogTree.Walk(func(rec []byte) error {
		key := leafRecordKey(rec)
		k := decodeCatalogKey(key)
		if k.ParentID != dirID || k.Name == "" {
			return nil
		}
		body := leafRecordBody(rec, len(key))
		e, err := decodeCatalogEntry(body, k.Name)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if hfsbtree.IsStructural(err) {
		return nil, v.markDubious(err)
	}
	return out, err
}

// Lookup resolves a "/"-separated path (relative to the root directory)
// to its catalog entry.
func (v *Volume) Lookup(path []string) (DirEntry, error) {
	dirID := RootCNID
	var entry DirEntry
	found := false
	for i, name := range path {
		key := encodeCatalogKey(CatalogKey{ParentID: dirID, Name: name})
		body, ok, err := v.catalogTree.Search(key)
		if err != nil {
			if hfsbtree.IsStructural(err) {
				return DirEntry{}, v.markDubious(err)
			}
			return DirEntry{}, err
		}
		if !ok {
			return DirEntry{}, fmt.Errorf("hfs: %s: %w", name, hfsbtree.ErrNotFound)
		}
		entry, err = decodeCatalogEntry(body, name)
		if err != nil {
			return DirEntry{}, err
		}
		found = true
		if entry.IsDir {
			dirID = entry.CNID
		} else if i != len(path)-1 {
			return DirEntry{}, fmt.Errorf("hfs: %s is not a directory", name)
		}
	}
	if !found {
		return DirEntry{CNID: RootCNID, Name: v.mdb.Name, IsDir: true}, nil
	}
	return entry, nil
}

func decodeCatalogEntry(body []byte, name string) (DirEntry, error) {
	if len(body) < 1 {
		return DirEntry{}, fmt.Errorf("hfs: %w: empty catalog record body", errTruncatedRecord)
	}
	switch body[0] {
	case recDirectory:
		if len(body) < 0x56 {
			return DirEntry{}, fmt.Errorf("hfs: %w: directory record too short", errTruncatedRecord)
		}
		var fi [16]byte
		copy(fi[:], body[0x16:0x26])
		return DirEntry{
			CNID:       binary.BigEndian.Uint32(body[0x06:]),
			Name:       name,
			IsDir:      true,
			CreateDate: macTimeDecode(body[0x0e:]),
			ModifyDate: macTimeDecode(body[0x12:]),
			FinderInfo: fi,
		}, nil
	case recFile:
		if len(body) < 0x66 {
			return DirEntry{}, fmt.Errorf("hfs: %w: file record too short", errTruncatedRecord)
		}
		var fi [16]byte
		copy(fi[:], body[0x04:0x14])
		return DirEntry{
			CNID:            binary.BigEndian.Uint32(body[0x14:]),
			Name:            name,
			IsDir:           false,
			CreateDate:      macTimeDecode(body[0x2c:]),
			ModifyDate:      macTimeDecode(body[0x30:]),
			FinderInfo:      fi,
			Locked:          body[0x01]&0x01 != 0,
			DataLogicalSize: binary.BigEndian.Uint32(body[0x1a:]),
			RsrcLogicalSize: binary.BigEndian.Uint32(body[0x24:]),
			DataExtents:     decodeExtentRecord(body[0x4a:]),
			RsrcExtents:     decodeExtentRecord(body[0x56:]),
		}, nil
	default:
		return DirEntry{}, fmt.Errorf("hfs: %w: unexpected catalog record type %d", errTruncatedRecord, body[0])
	}
}
