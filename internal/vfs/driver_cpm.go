// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/cpm"
	"github.com/goldenapple/retroimg/internal/descriptor"
)

// cpmDriver wraps a *cpm.Volume. CP/M is flat per user number; this
// engine only ever addresses user 0, the convention every CP/M image in
// practice uses for its single visible directory.
type cpmDriver struct {
	v *cpm.Volume
}

const cpmUser = 0

type cpmNative struct {
	chain  cpm.FileChain
	isRoot bool
}

func openCPM(dev chunk.Device) (Driver, error) {
	v, err := cpm.Open(dev)
	if err != nil {
		return nil, err
	}
	return &cpmDriver{v: v}, nil
}

func formatCPM(dev chunk.Device, volName string) (Driver, error) {
	v, err := cpm.Format(dev)
	if err != nil {
		return nil, err
	}
	return &cpmDriver{v: v}, nil
}

func cpmToEntry(fc cpm.FileChain) Entry {
	return Entry{Name: fc.Name, IsDir: false, Size: fc.Size(), native: cpmNative{chain: fc}}
}

func (d *cpmDriver) native(e Entry) cpmNative { return e.native.(cpmNative) }

// VolumeName: CP/M directory entries carry no volume label field this
// engine decodes, so the device itself is the only identity a host has.
func (d *cpmDriver) VolumeName() string { return "" }

func (d *cpmDriver) Root() Entry {
	return Entry{Name: "", IsDir: true, native: cpmNative{isRoot: true}}
}

func (d *cpmDriver) ReadDir(dir Entry) ([]Entry, error) {
	if !d.native(dir).isRoot {
		return nil, fmt.Errorf("cpm: %s is not a directory", dir.Name)
	}
	chains, err := d.v.ReadDir(cpmUser)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(chains))
	for i, fc := range chains {
		out[i] = cpmToEntry(fc)
	}
	return out, nil
}

func (d *cpmDriver) Lookup(dir Entry, name string) (Entry, error) {
	if !d.native(dir).isRoot {
		return Entry{}, fmt.Errorf("cpm: %s is not a directory", dir.Name)
	}
	fc, err := d.v.Lookup(cpmUser, name)
	if err != nil {
		return Entry{}, err
	}
	return cpmToEntry(fc), nil
}

func (d *cpmDriver) CreateFile(parent Entry, name string) (Entry, error) {
	if !d.native(parent).isRoot {
		return Entry{}, fmt.Errorf("cpm: %s is not a directory", parent.Name)
	}
	fc, err := d.v.CreateFile(cpmUser, name)
	if err != nil {
		return Entry{}, err
	}
	return cpmToEntry(fc), nil
}

func (d *cpmDriver) CreateDir(parent Entry, name string) (Entry, error) {
	return Entry{}, fmt.Errorf("cpm: subdirectories are not supported")
}

func (d *cpmDriver) Delete(parent Entry, entry Entry) error {
	return d.v.Delete(cpmUser, d.native(entry).chain.Name)
}

func (d *cpmDriver) Rename(parent Entry, entry Entry, newName string) (Entry, error) {
	fc, err := d.v.Rename(cpmUser, d.native(entry).chain, newName)
	if err != nil {
		return Entry{}, err
	}
	return cpmToEntry(fc), nil
}

func (d *cpmDriver) OpenFork(entry Entry, part Part) (descriptor.Backend, error) {
	if part == RsrcFork {
		return nil, fmt.Errorf("cpm: %s has no resource fork", entry.Name)
	}
	return d.v.OpenFile(cpmUser, d.native(entry).chain.Name)
}

func (d *cpmDriver) AddRsrcFork(entry Entry) (Entry, error) {
	return Entry{}, fmt.Errorf("cpm: resource forks are not supported")
}

func (d *cpmDriver) Flush() error { return nil }

func (d *cpmDriver) IsDubious() bool { return d.v.IsDubious() }

func (d *cpmDriver) EntryKey(entry Entry) string {
	n := d.native(entry)
	if n.isRoot {
		return "root"
	}
	return "file:" + n.chain.Name
}

func (d *cpmDriver) SameEntry(a, b Entry) bool {
	return d.EntryKey(a) == d.EntryKey(b)
}
