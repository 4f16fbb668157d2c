// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package rofsview adapts any mounted, file-access-mode vfs.Filesystem to
// io/fs.FS, generalizing the teacher's internal/hfs hfs.go Open/openfile/
// ReadDir shape (a single format-specific fs.FS) into a format-agnostic
// read-only view over the four writable drivers this module implements.
// It exists so the existing internal/webdavfs front end, stdlib
// testing/fstest.TestFS, and doublestar globbing all work unmodified
// against any mounted image (spec.md §B.4's "Read-only fs.FS view").
package rofsview

import (
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/goldenapple/retroimg/internal/internpath"
	"github.com/goldenapple/retroimg/internal/vfs"
)

// FS presents fs.root (and, recursively, every directory beneath it) as an
// io/fs.FS. Resource forks are exposed as "._name" sidecars, matching the
// AppleDouble convention the teacher's hfs.go and internal/appledouble
// both already use for naming.
type FS struct {
	vfs *vfs.Filesystem
}

// New wraps vol, which must already be in file-access mode (PrepareFileAccess
// called and returned successfully).
func New(vol *vfs.Filesystem) (*FS, error) {
	if vol.Mode() != vfs.ModeFileAccess {
		return nil, fmt.Errorf("rofsview: filesystem is not in file-access mode")
	}
	return &FS{vfs: vol}, nil
}

// Open implements io/fs.FS. The path is interned through internpath.Path
// (the same "._name" sidecar / resource-fork representation the teacher's
// AppleDouble naming convention already uses), so directory trees heavy
// with resource-fork sidecars share storage for the repeated prefix
// rather than allocating a fresh string per listed entry.
func (v *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	p := internpath.New(name)

	root, err := v.vfs.GetVolDirEntry()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	h := root
	if name == "." {
		return v.open(h, p)
	}

	components := strings.Split(name, "/")
	for i, c := range components {
		lookupName := c
		if i == len(components)-1 {
			lookupName = strings.TrimPrefix(c, "._")
		}
		child, err := v.vfs.Lookup(h, lookupName)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		h = child
	}
	return v.open(h, p)
}

func (v *FS) open(h *vfs.Handle, p internpath.Path) (fs.File, error) {
	e := h.Entry()
	sidecar := strings.HasPrefix(p.Base(), "._")
	if sidecar && !e.HasRsrcFork {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fs.ErrNotExist}
	}
	of := &openFile{v: v, h: h, path: p, sidecar: sidecar}
	if e.IsDir && !sidecar {
		return of, nil
	}
	part := vfs.DataFork
	if sidecar {
		part = vfs.RsrcFork
	}
	d, err := v.vfs.OpenFile(h, vfs.ReadOnly, part)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: err}
	}
	of.d = d
	return of, nil
}

// openFile implements fs.File, fs.FileInfo, fs.DirEntry, and (for
// directories) fs.ReadDirFile, same as the teacher's openfile.
type openFile struct {
	v       *FS
	h       *vfs.Handle
	path    internpath.Path
	sidecar bool
	d       interface {
		io.Reader
		io.ReaderAt
		io.Seeker
	}
	listOffset int
	children   []vfs.Entry
}

func (f *openFile) Name() string {
	return f.path.Base()
}

func (f *openFile) Size() int64 {
	e := f.h.Entry()
	if f.sidecar {
		return e.RsrcSize
	}
	return e.Size
}

func (f *openFile) Mode() fs.FileMode {
	if f.IsDir() {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
func (f *openFile) Type() fs.FileMode        { return f.Mode().Type() }
func (f *openFile) ModTime() time.Time       { return f.h.Entry().ModifyDate }
func (f *openFile) Sys() any                 { return f.h }
func (f *openFile) IsDir() bool              { return f.h.Entry().IsDir && !f.sidecar }
func (f *openFile) Info() (fs.FileInfo, error) { return f, nil }
func (f *openFile) Stat() (fs.FileInfo, error) { return f, nil }

func (f *openFile) Read(p []byte) (int, error) {
	if f.d == nil {
		return 0, io.EOF
	}
	return f.d.Read(p)
}

func (f *openFile) ReadAt(p []byte, off int64) (int, error) {
	if f.d == nil {
		return 0, io.EOF
	}
	return f.d.ReadAt(p, off)
}

func (f *openFile) Seek(offset int64, whence int) (int64, error) {
	if f.d == nil {
		return 0, fmt.Errorf("rofsview: seek on a directory")
	}
	return f.d.Seek(offset, whence)
}

// ReadDir implements fs.ReadDirFile with the teacher's doubled-entry
// (file + "._name" sidecar) listing semantics.
func (f *openFile) ReadDir(count int) ([]fs.DirEntry, error) {
	if f.children == nil {
		children, err := f.v.vfs.ReadDir(f.h)
		if err != nil {
			return nil, err
		}
		f.children = children
	}

	n := len(f.children)*2 - f.listOffset
	if n <= 0 {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	if count > 0 && n > count {
		n = count
	}
	list := make([]fs.DirEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (f.listOffset + i) / 2
		isSidecar := (f.listOffset+i)%2 == 1
		child := f.children[idx]
		if isSidecar && !child.HasRsrcFork {
			continue
		}
		h, err := f.v.vfs.Lookup(f.h, child.Name)
		if err != nil {
			return nil, err
		}
		childName := child.Name
		if isSidecar {
			childName = "._" + childName
		}
		list = append(list, &openFile{v: f.v, h: h, path: f.path.Join(childName), sidecar: isSidecar})
	}
	f.listOffset += n
	return list, nil
}

func (f *openFile) Close() error {
	if f.d == nil {
		return nil
	}
	type disposer interface{ Dispose() error }
	if dp, ok := f.d.(disposer); ok {
		return dp.Dispose()
	}
	return nil
}
