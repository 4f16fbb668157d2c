// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"fmt"

	"github.com/goldenapple/retroimg/errs"
	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/descriptor"
	"github.com/goldenapple/retroimg/internal/hfs"
	"github.com/goldenapple/retroimg/internal/nodecache"
	"github.com/goldenapple/retroimg/internal/usage"
)

// hfsNodeCache, set via SetHFSNodeCache, is shared by every HFS volume
// this process mounts — a long-running host (retroimgctl serve) wants
// one persistent pebble database behind every open volume, not one per
// mount. Left nil, hfsDriver behaves exactly as it did before this cache
// existed.
var hfsNodeCache *nodecache.Store

// SetHFSNodeCache installs (or, passed nil, removes) the node cache every
// subsequent openHFS/formatHFS call decorates its B*-tree storage with.
// It does not affect volumes already open.
func SetHFSNodeCache(cache *nodecache.Store) { hfsNodeCache = cache }

// hfsDriver wraps an *hfs.Volume. Entry.native always holds an
// hfs.DirEntry plus the CNID of its parent directory (hfs needs the
// parent for ReadDir/CreateFile/Delete/Rename; the catalog key does not
// carry it standalone on a DirEntry).
type hfsDriver struct {
	v *hfs.Volume
}

// SetNotes implements vfs.NotesAware.
func (d *hfsDriver) SetNotes(n *errs.Notes) { d.v.SetNotes(n) }

// Scan implements vfs.Scanner.
func (d *hfsDriver) Scan() (usage.Analysis, error) { return d.v.Scan() }

type hfsNative struct {
	entry    hfs.DirEntry
	parentID uint32
}

func hfsOpenOpts() []hfs.Option {
	if hfsNodeCache == nil {
		return nil
	}
	return []hfs.Option{hfs.WithNodeCache(hfsNodeCache)}
}

func openHFS(dev chunk.Device) (Driver, error) {
	v, err := hfs.Open(dev, hfsOpenOpts()...)
	if err != nil {
		return nil, err
	}
	return &hfsDriver{v: v}, nil
}

func formatHFS(dev chunk.Device, volName string) (Driver, error) {
	v, err := hfs.Format(dev, volName, hfsOpenOpts()...)
	if err != nil {
		return nil, err
	}
	return &hfsDriver{v: v}, nil
}

func toEntry(n hfsNative) Entry {
	e := n.entry
	return Entry{
		Name:        e.Name,
		IsDir:       e.IsDir,
		Size:        int64(e.DataLogicalSize),
		RsrcSize:    int64(e.RsrcLogicalSize),
		HasRsrcFork: !e.IsDir,
		CreateDate:  e.CreateDate,
		ModifyDate:  e.ModifyDate,
		Locked:      e.Locked,
		native:      n,
	}
}

func (d *hfsDriver) native(e Entry) hfsNative { return e.native.(hfsNative) }

func (d *hfsDriver) VolumeName() string { return d.v.MDB().Name }

func (d *hfsDriver) Root() Entry {
	root, _ := d.v.Lookup(nil)
	return toEntry(hfsNative{entry: root, parentID: 1})
}

func (d *hfsDriver) ReadDir(dir Entry) ([]Entry, error) {
	n := d.native(dir)
	children, err := d.v.ReadDir(n.entry.CNID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(children))
	for i, c := range children {
		out[i] = toEntry(hfsNative{entry: c, parentID: n.entry.CNID})
	}
	return out, nil
}

func (d *hfsDriver) Lookup(dir Entry, name string) (Entry, error) {
	n := d.native(dir)
	children, err := d.v.ReadDir(n.entry.CNID)
	if err != nil {
		return Entry{}, err
	}
	for _, c := range children {
		if c.Name == name {
			return toEntry(hfsNative{entry: c, parentID: n.entry.CNID}), nil
		}
	}
	return Entry{}, fmt.Errorf("hfs: %s not found", name)
}

func (d *hfsDriver) CreateFile(parent Entry, name string) (Entry, error) {
	n := d.native(parent)
	e, err := d.v.CreateFile(n.entry.CNID, name)
	if err != nil {
		return Entry{}, err
	}
	return toEntry(hfsNative{entry: e, parentID: n.entry.CNID}), nil
}

func (d *hfsDriver) CreateDir(parent Entry, name string) (Entry, error) {
	n := d.native(parent)
	e, err := d.v.CreateDir(n.entry.CNID, name)
	if err != nil {
		return Entry{}, err
	}
	return toEntry(hfsNative{entry: e, parentID: n.entry.CNID}), nil
}

func (d *hfsDriver) Delete(parent Entry, entry Entry) error {
	pn := d.native(parent)
	n := d.native(entry)
	return d.v.Delete(pn.entry.CNID, n.entry.Name)
}

func (d *hfsDriver) Rename(parent Entry, entry Entry, newName string) (Entry, error) {
	pn := d.native(parent)
	n := d.native(entry)
	e, err := d.v.Rename(pn.entry.CNID, n.entry.Name, newName)
	if err != nil {
		return Entry{}, err
	}
	return toEntry(hfsNative{entry: e, parentID: pn.entry.CNID}), nil
}

func (d *hfsDriver) OpenFork(entry Entry, part Part) (descriptor.Backend, error) {
	n := d.native(entry)
	forkKind := hfs.ForkData
	if part == RsrcFork {
		forkKind = hfs.ForkResource
	}
	return d.v.OpenFile(n.parentID, n.entry, forkKind), nil
}

func (d *hfsDriver) AddRsrcFork(entry Entry) (Entry, error) {
	// HFS files are natively dual-fork; nothing to provision.
	return entry, nil
}

func (d *hfsDriver) Flush() error { return d.v.Flush() }

func (d *hfsDriver) IsDubious() bool { return d.v.IsDubious() }

func (d *hfsDriver) EntryKey(entry Entry) string {
	n := d.native(entry)
	return fmt.Sprintf("cnid:%d", n.entry.CNID)
}

func (d *hfsDriver) SameEntry(a, b Entry) bool {
	return d.native(a).entry.CNID == d.native(b).entry.CNID
}
