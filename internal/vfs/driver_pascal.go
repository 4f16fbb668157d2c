// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/descriptor"
	"github.com/goldenapple/retroimg/internal/pascal"
)

// pascalDriver wraps a *pascal.Volume. UCSD Pascal volumes are flat (no
// subdirectories), so Root is a synthetic directory entry and ReadDir on
// anything else is an error.
type pascalDriver struct {
	v *pascal.Volume
}

type pascalNative struct {
	entry  pascal.Entry
	isRoot bool
}

func openPascal(dev chunk.Device) (Driver, error) {
	v, err := pascal.Open(dev)
	if err != nil {
		return nil, err
	}
	return &pascalDriver{v: v}, nil
}

func formatPascal(dev chunk.Device, volName string) (Driver, error) {
	v, err := pascal.Format(dev, volName)
	if err != nil {
		return nil, err
	}
	return &pascalDriver{v: v}, nil
}

func pascalToEntry(e pascal.Entry) Entry {
	return Entry{
		Name:   e.Name,
		IsDir:  false,
		Size:   pascalSize(e),
		native: pascalNative{entry: e},
	}
}

func pascalSize(e pascal.Entry) int64 {
	n := e.NextBlock - e.FirstBlock
	if n == 0 {
		return 0
	}
	return int64(n-1)*512 + int64(e.BytesInLastBlock)
}

func (d *pascalDriver) native(e Entry) pascalNative { return e.native.(pascalNative) }

func (d *pascalDriver) VolumeName() string { return d.v.Name() }

func (d *pascalDriver) Root() Entry {
	return Entry{Name: d.v.Name(), IsDir: true, native: pascalNative{isRoot: true}}
}

func (d *pascalDriver) ReadDir(dir Entry) ([]Entry, error) {
	if !d.native(dir).isRoot {
		return nil, fmt.Errorf("pascal: %s is not a directory", dir.Name)
	}
	files := d.v.ReadDir()
	out := make([]Entry, len(files))
	for i, e := range files {
		out[i] = pascalToEntry(e)
	}
	return out, nil
}

func (d *pascalDriver) Lookup(dir Entry, name string) (Entry, error) {
	if !d.native(dir).isRoot {
		return Entry{}, fmt.Errorf("pascal: %s is not a directory", dir.Name)
	}
	e, err := d.v.Lookup(name)
	if err != nil {
		return Entry{}, err
	}
	return pascalToEntry(e), nil
}

func (d *pascalDriver) CreateFile(parent Entry, name string) (Entry, error) {
	if !d.native(parent).isRoot {
		return Entry{}, fmt.Errorf("pascal: %s is not a directory", parent.Name)
	}
	const kindDatafile = 5 // UCSD Pascal's generic untyped-binary file kind
	e, err := d.v.CreateFile(name, kindDatafile, 0)
	if err != nil {
		return Entry{}, err
	}
	return pascalToEntry(e), nil
}

func (d *pascalDriver) CreateDir(parent Entry, name string) (Entry, error) {
	return Entry{}, fmt.Errorf("pascal: subdirectories are not supported")
}

func (d *pascalDriver) Delete(parent Entry, entry Entry) error {
	return d.v.Delete(d.native(entry).entry.Name)
}

func (d *pascalDriver) Rename(parent Entry, entry Entry, newName string) (Entry, error) {
	e, err := d.v.Rename(d.native(entry).entry.Name, newName)
	if err != nil {
		return Entry{}, err
	}
	return pascalToEntry(e), nil
}

func (d *pascalDriver) OpenFork(entry Entry, part Part) (descriptor.Backend, error) {
	if part == RsrcFork {
		return nil, fmt.Errorf("pascal: %s has no resource fork", entry.Name)
	}
	return d.v.OpenFile(d.native(entry).entry.Name)
}

func (d *pascalDriver) AddRsrcFork(entry Entry) (Entry, error) {
	return Entry{}, fmt.Errorf("pascal: resource forks are not supported")
}

func (d *pascalDriver) Flush() error { return nil }

func (d *pascalDriver) IsDubious() bool { return d.v.IsDubious() }

func (d *pascalDriver) EntryKey(entry Entry) string {
	n := d.native(entry)
	if n.isRoot {
		return "root"
	}
	return "file:" + n.entry.Name
}

func (d *pascalDriver) SameEntry(a, b Entry) bool {
	return d.EntryKey(a) == d.EntryKey(b)
}
