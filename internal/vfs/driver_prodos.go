// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/descriptor"
	"github.com/goldenapple/retroimg/internal/prodos"
)

// prodosRootBlock is the fixed volume-directory block every ProDOS image
// uses (spec §6: "ProDOS volume directory at block 2").
const prodosRootBlock = 2

// prodosDriver wraps a *prodos.Volume. Entry.native holds the prodos
// Entry together with the block number of the directory it lives in,
// since ReadDir/CreateFile/Delete/Rename are all keyed by header block
// rather than by a stable CNID the way HFS is.
type prodosDriver struct {
	v *prodos.Volume
}

type prodosNative struct {
	entry       prodos.Entry
	headerBlock uint16 // directory this entry lives in
	isRoot      bool
}

func openProDOS(dev chunk.Device) (Driver, error) {
	v, err := prodos.Open(dev)
	if err != nil {
		return nil, err
	}
	return &prodosDriver{v: v}, nil
}

func formatProDOS(dev chunk.Device, volName string) (Driver, error) {
	v, err := prodos.Format(dev, volName)
	if err != nil {
		return nil, err
	}
	return &prodosDriver{v: v}, nil
}

func prodosToEntry(n prodosNative) Entry {
	e := n.entry
	return Entry{
		Name:        e.Name,
		IsDir:       e.StorageType == prodos.StorageDirectory,
		Size:        int64(e.EOF),
		HasRsrcFork: e.StorageType == prodos.StorageExtended,
		CreateDate:  e.CreateDate,
		ModifyDate:  e.ModDate,
		native:      n,
	}
}

func (d *prodosDriver) native(e Entry) prodosNative { return e.native.(prodosNative) }

func (d *prodosDriver) VolumeName() string { return d.v.Name() }

func (d *prodosDriver) Root() Entry {
	return Entry{
		Name:  d.v.Name(),
		IsDir: true,
		native: prodosNative{
			entry:       prodos.Entry{},
			headerBlock: prodosRootBlock,
			isRoot:      true,
		},
	}
}

// dirBlockOf returns the directory block a listing/creation under dir
// should use: the root's own fixed block, or the subdirectory entry's
// own key block (a ProDOS subdirectory's key block IS its header block).
func dirBlockOf(n prodosNative) uint16 {
	if n.isRoot {
		return prodosRootBlock
	}
	return n.entry.KeyBlock
}

func (d *prodosDriver) ReadDir(dir Entry) ([]Entry, error) {
	n := d.native(dir)
	blk := dirBlockOf(n)
	entries, err := d.v.ReadDir(blk)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = prodosToEntry(prodosNative{entry: e, headerBlock: blk})
	}
	return out, nil
}

func (d *prodosDriver) Lookup(dir Entry, name string) (Entry, error) {
	n := d.native(dir)
	blk := dirBlockOf(n)
	entries, err := d.v.ReadDir(blk)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return prodosToEntry(prodosNative{entry: e, headerBlock: blk}), nil
		}
	}
	return Entry{}, fmt.Errorf("prodos: %s not found", name)
}

func (d *prodosDriver) CreateFile(parent Entry, name string) (Entry, error) {
	n := d.native(parent)
	blk := dirBlockOf(n)
	e, err := d.v.CreateFile(blk, name, 0x06) // BIN, a reasonable default file type
	if err != nil {
		return Entry{}, err
	}
	return prodosToEntry(prodosNative{entry: e, headerBlock: blk}), nil
}

func (d *prodosDriver) CreateDir(parent Entry, name string) (Entry, error) {
	n := d.native(parent)
	blk := dirBlockOf(n)
	e, err := d.v.CreateDir(blk, name)
	if err != nil {
		return Entry{}, err
	}
	return prodosToEntry(prodosNative{entry: e, headerBlock: blk}), nil
}

func (d *prodosDriver) Delete(parent Entry, entry Entry) error {
	pn := d.native(parent)
	n := d.native(entry)
	return d.v.Delete(dirBlockOf(pn), n.entry.Name)
}

func (d *prodosDriver) Rename(parent Entry, entry Entry, newName string) (Entry, error) {
	pn := d.native(parent)
	n := d.native(entry)
	e, err := d.v.Rename(dirBlockOf(pn), n.entry, newName)
	if err != nil {
		return Entry{}, err
	}
	return prodosToEntry(prodosNative{entry: e, headerBlock: n.headerBlock}), nil
}

func (d *prodosDriver) OpenFork(entry Entry, part Part) (descriptor.Backend, error) {
	n := d.native(entry)
	if n.entry.StorageType == prodos.StorageExtended {
		return d.v.OpenExtendedFork(n.headerBlock, n.entry, part == RsrcFork)
	}
	if part == RsrcFork {
		return nil, fmt.Errorf("prodos: %s has no resource fork", n.entry.Name)
	}
	return d.v.OpenFile(n.headerBlock, n.entry), nil
}

func (d *prodosDriver) AddRsrcFork(entry Entry) (Entry, error) {
	n := d.native(entry)
	e, err := d.v.AddRsrcFork(n.entry)
	if err != nil {
		return Entry{}, err
	}
	return prodosToEntry(prodosNative{entry: e, headerBlock: n.headerBlock}), nil
}

func (d *prodosDriver) Flush() error { return d.v.Flush() }

func (d *prodosDriver) IsDubious() bool { return d.v.IsDubious() }

func (d *prodosDriver) EntryKey(entry Entry) string {
	n := d.native(entry)
	if n.isRoot {
		return "block:2/slot:header"
	}
	return fmt.Sprintf("block:%d/name:%s", n.headerBlock, n.entry.Name)
}

func (d *prodosDriver) SameEntry(a, b Entry) bool {
	return d.EntryKey(a) == d.EntryKey(b)
}
