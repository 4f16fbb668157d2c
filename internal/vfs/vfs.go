// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package vfs implements the filesystem-independent file-access engine
// (spec.md §4.7-4.8): the Closed/Raw/FileAccess mode state machine, the
// open-file table that enforces one-writer-xor-many-readers per
// entry/part, and the operation set a host drives a mounted image
// through. Each concrete on-disk format (hfs, prodos, cpm, pascal) is
// wrapped by a Driver adapter in this package; Filesystem itself never
// touches format-specific bytes.
package vfs

import (
	"fmt"
	"time"

	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/descriptor"
	"github.com/goldenapple/retroimg/internal/usage"
	"github.com/goldenapple/retroimg/errs"
)

// Scanner is implemented by drivers that support spec §4.2/§4.4's
// free-space-scavenge/validation pass: walk the volume's allocation
// structures once, building a usage.Map and rebuilding the volume bitmap,
// flagging the driver dubious on any conflict or inconsistency found.
// Optional: a driver that doesn't implement it simply isn't scanned when
// PrepareFileAccess(true) is requested.
type Scanner interface {
	Scan() (usage.Analysis, error)
}

// NotesAware is implemented by drivers that want their dubious/damage
// findings mirrored into the filesystem's diagnostic log (spec §7). It is
// optional: a driver that doesn't implement it simply isn't logged to.
type NotesAware interface {
	SetNotes(n *errs.Notes)
}

// Part names which fork (or raw device view) a descriptor addresses.
type Part int

const (
	DataFork Part = iota
	RsrcFork
	RawData
)

// OpenMode is the read/write mode a descriptor is opened with.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	ReadWrite
)

// CreateKind selects what create_file makes.
type CreateKind int

const (
	KindFile CreateKind = iota
	KindDirectory
	KindExtended
)

// Mode is the filesystem object's place in the state machine.
type Mode int

const (
	ModeClosed Mode = iota
	ModeRaw
	ModeFileAccess
)

func (m Mode) String() string {
	switch m {
	case ModeClosed:
		return "closed"
	case ModeRaw:
		return "raw"
	case ModeFileAccess:
		return "file-access"
	default:
		return "unknown"
	}
}

// Entry is one directory entry, uniform across all four drivers. native
// holds the driver's own concrete identity for the entry (e.g.
// hfs.DirEntry, a prodos header-block+Entry pair, a cpm.FileChain, a
// pascal.Entry); only the driver that produced it ever type-asserts it
// back out.
type Entry struct {
	Name        string
	IsDir       bool
	Size        int64
	RsrcSize    int64
	HasRsrcFork bool
	CreateDate  time.Time
	ModifyDate  time.Time
	Locked      bool

	native any
}

// entryTableKey returns a string uniquely identifying this entry+fork within its
// driver, for open-file-table bookkeeping. Drivers supply the identity
// half through Driver.EntryKey; Part distinguishes the fork.
func entryTableKey(driverKey string, part Part) string {
	return fmt.Sprintf("%s#%d", driverKey, part)
}

// Handle is a live reference to an Entry, bound to the generation of its
// owning Filesystem at the time it was obtained. A generation bump (on
// any mode transition that invalidates outstanding handles) makes every
// older Handle fail check_file_access with errs.Disposed, matching spec
// §4.8's "after a successful switch to raw mode, all entries are
// invalidated; the host must re-scan."
type Handle struct {
	fs         *Filesystem
	generation uint64
	entry      Entry
}

// Entry returns the handle's underlying directory entry. Callers should
// treat the result as a snapshot: it is not refreshed by later writes
// through other handles to the same file.
func (h *Handle) Entry() Entry { return h.entry }

func (h *Handle) valid() bool {
	return h != nil && h.fs != nil && h.generation == h.fs.generation
}

// Driver adapts one concrete on-disk format to the shape Filesystem
// needs. Every method operates on natives stashed in Entry.native; a
// Driver must never be called with an Entry produced by another Driver.
type Driver interface {
	// VolumeName is the label stored in the volume's own header.
	VolumeName() string
	// Root returns the entry for the top-level directory.
	Root() Entry
	// ReadDir lists dir's immediate children.
	ReadDir(dir Entry) ([]Entry, error)
	// Lookup finds a single child of dir by name.
	Lookup(dir Entry, name string) (Entry, error)
	// CreateFile/CreateDir add a new entry under parent.
	CreateFile(parent Entry, name string) (Entry, error)
	CreateDir(parent Entry, name string) (Entry, error)
	// Delete removes entry from parent.
	Delete(parent Entry, entry Entry) error
	// Rename changes entry's name in place (same directory only: no
	// driver implements cross-directory move).
	Rename(parent Entry, entry Entry, newName string) (Entry, error)
	// OpenFork returns a descriptor.Backend for the requested fork.
	OpenFork(entry Entry, part Part) (descriptor.Backend, error)
	// AddRsrcFork ensures entry has a resource fork, creating an empty
	// one if the format requires explicit provisioning (ProDOS extended
	// info); returns the updated entry.
	AddRsrcFork(entry Entry) (Entry, error)
	// Flush persists all dirty metadata (directory blocks, bitmap,
	// MDB/superblock copies).
	Flush() error
	// IsDubious reports whether a scan or prior error marked the volume
	// suspect (spec §7's "keep what we have").
	IsDubious() bool
	// EntryKey returns a string identifying entry's underlying storage
	// slot, stable across reads, for open-file-table bookkeeping.
	EntryKey(entry Entry) string
	// SameEntry reports whether a and b name the same on-disk slot.
	SameEntry(a, b Entry) bool
}

// Opener mounts a driver's concrete volume type from a raw device in
// file-access mode. One Opener per format is registered below.
type Opener func(dev chunk.Device) (Driver, error)

// Formatter lays down a fresh, empty volume of the driver's format and
// returns a mounted Driver over it, mirroring Opener but for format().
type Formatter func(dev chunk.Device, volName string) (Driver, error)

// openFileSlot tracks how many readers and whether a writer currently
// hold a given (entry, part).
type openFileSlot struct {
	readers int
	writer  bool
}

// Filesystem is the host-facing object implementing spec §4.8's state
// machine and operation set over one Driver. It assumes single-threaded
// cooperative use (spec §5): no internal locking.
type Filesystem struct {
	dev       chunk.Device
	gated     *chunk.Gated
	opener    Opener
	formatter Formatter

	mode       Mode
	generation uint64
	driver     Driver
	notes      *errs.Notes

	openFiles map[string]*openFileSlot
}

// Notes returns the filesystem's diagnostic log (spec §7). Always
// non-nil; empty until a scan or a driver that implements NotesAware
// records something.
func (fs *Filesystem) Notes() *errs.Notes { return fs.notes }

// Open wires a raw chunk device to a format's Opener/Formatter pair and
// returns a Filesystem in the Closed state's logical equivalent: Raw,
// since open_image itself is the Closed-to-Raw transition (spec §4.8's
// diagram has no separate "construct but don't attach a device" state).
func Open(dev chunk.Device, opener Opener, formatter Formatter) *Filesystem {
	fs := &Filesystem{
		dev:       dev,
		gated:     chunk.NewGated(dev),
		opener:    opener,
		formatter: formatter,
		mode:      ModeRaw,
		notes:     errs.NewNotes(nil),
		openFiles: make(map[string]*openFileSlot),
	}
	fs.gated.SetLevel(chunk.Open)
	return fs
}

// RawDevice returns the gated device a host uses for raw block editing.
// It only permits writes while the filesystem is in Raw mode.
func (fs *Filesystem) RawDevice() *chunk.Gated { return fs.gated }

// Mode reports the current state-machine state.
func (fs *Filesystem) Mode() Mode { return fs.mode }

// IsDubious reports whether the mounted volume (if any) was marked
// suspect by a scan or a prior structural error.
func (fs *Filesystem) IsDubious() bool {
	return fs.driver != nil && fs.driver.IsDubious()
}

// bumpGeneration invalidates every outstanding Handle.
func (fs *Filesystem) bumpGeneration() {
	fs.generation++
	fs.openFiles = make(map[string]*openFileSlot)
}

// PrepareFileAccess mounts the driver (Raw -> FileAccess). scan requests
// the free-space-scavenge/validation pass (spec §4.2/§4.4): for a driver
// implementing Scanner, this walks its allocation structures and rebuilds
// its usage map/bitmap before the filesystem is handed to the host. A
// driver that doesn't implement Scanner is unaffected by scan's value.
func (fs *Filesystem) PrepareFileAccess(scan bool) error {
	if fs.mode != ModeRaw {
		return fmt.Errorf("vfs: prepare_file_access: %w (in %s)", errs.WrongMode, fs.mode)
	}
	driver, err := fs.opener(fs.dev)
	if err != nil {
		// Failure during prepare_file_access returns to Raw (spec §4.8):
		// fs.mode is untouched, so it is already correct.
		return fmt.Errorf("vfs: prepare_file_access: %w", err)
	}
	if na, ok := driver.(NotesAware); ok {
		na.SetNotes(fs.notes)
	}
	if scan {
		if sc, ok := driver.(Scanner); ok {
			if _, serr := sc.Scan(); serr != nil {
				return fmt.Errorf("vfs: prepare_file_access: scan: %w", serr)
			}
		}
	}
	fs.driver = driver
	fs.mode = ModeFileAccess
	fs.gated.SetLevel(chunk.ReadOnly)
	fs.bumpGeneration()
	return nil
}

// PrepareRawAccess unmounts the driver (FileAccess -> Raw), refusing if
// any descriptor is still open.
func (fs *Filesystem) PrepareRawAccess() error {
	if fs.mode == ModeRaw {
		return nil
	}
	if fs.mode != ModeFileAccess {
		return fmt.Errorf("vfs: prepare_raw_access: %w (in %s)", errs.WrongMode, fs.mode)
	}
	if fs.anyOpen() {
		return fmt.Errorf("vfs: prepare_raw_access: %w", errs.OpenConflict)
	}
	if fs.driver != nil {
		if err := fs.driver.Flush(); err != nil {
			return err
		}
	}
	fs.driver = nil
	fs.mode = ModeRaw
	fs.gated.SetLevel(chunk.Open)
	fs.bumpGeneration()
	return nil
}

func (fs *Filesystem) anyOpen() bool {
	for _, slot := range fs.openFiles {
		if slot.writer || slot.readers > 0 {
			return true
		}
	}
	return false
}

// Flush persists all dirty metadata without changing mode.
func (fs *Filesystem) Flush() error {
	if fs.mode != ModeFileAccess {
		return fmt.Errorf("vfs: flush: %w", errs.WrongMode)
	}
	return fs.driver.Flush()
}

// Format refuses when any descriptor is open or the volume is already
// prepared for file access (spec §4.8); otherwise it lays down a fresh
// volume and returns in Raw mode.
func (fs *Filesystem) Format(volName string) error {
	if fs.mode == ModeFileAccess {
		return fmt.Errorf("vfs: format: %w (volume prepared for file access)", errs.WrongMode)
	}
	if fs.anyOpen() {
		return fmt.Errorf("vfs: format: %w", errs.OpenConflict)
	}
	driver, err := fs.formatter(fs.dev, volName)
	if err != nil {
		return fmt.Errorf("vfs: format: %w", err)
	}
	// format() "returns in raw mode": the freshly built driver is
	// discarded rather than kept mounted, matching the spec's result
	// state even though our Formatter happens to mount as a side effect
	// of writing the initial structures.
	_ = driver
	fs.mode = ModeRaw
	fs.gated.SetLevel(chunk.Open)
	fs.bumpGeneration()
	return nil
}

// GetVolDirEntry returns a handle to the volume's root directory.
func (fs *Filesystem) GetVolDirEntry() (*Handle, error) {
	if err := fs.requireFileAccess(); err != nil {
		return nil, err
	}
	return fs.wrap(fs.driver.Root()), nil
}

func (fs *Filesystem) requireFileAccess() error {
	if fs.mode != ModeFileAccess {
		return fmt.Errorf("vfs: %w", errs.WrongMode)
	}
	return nil
}

func (fs *Filesystem) wrap(e Entry) *Handle {
	return &Handle{fs: fs, generation: fs.generation, entry: e}
}

// checkFileAccess is the shared modify-operation gate spec §4.8 names:
// "Disposed, WrongMode, ReadOnly, NotPartOfThisFs, Damaged,
// DubiousAndWriting, or OpenConflict as appropriate." This engine's
// error taxonomy (errs package) spells Damaged and DubiousAndWriting as
// DamagedFile and DubiousFile; see DESIGN.md for the naming reconciliation.
func (fs *Filesystem) checkFileAccess(h *Handle, wantWrite bool, part Part) error {
	if fs.mode != ModeFileAccess {
		return fmt.Errorf("vfs: %w", errs.WrongMode)
	}
	if h == nil || h.fs != fs {
		return fmt.Errorf("vfs: %w", errs.NotPartOfThisFs)
	}
	if !h.valid() {
		return fmt.Errorf("vfs: %w", errs.Disposed)
	}
	if wantWrite && fs.dev.IsReadOnly() {
		return fmt.Errorf("vfs: %w", errs.ReadOnly)
	}
	if fs.driver.IsDubious() && wantWrite {
		return fmt.Errorf("vfs: %w", errs.DubiousFile)
	}
	key := entryTableKey(fs.driver.EntryKey(h.entry), part)
	slot := fs.openFiles[key]
	if slot != nil {
		if wantWrite && (slot.writer || slot.readers > 0) {
			return fmt.Errorf("vfs: %w", errs.OpenConflict)
		}
		if !wantWrite && slot.writer {
			return fmt.Errorf("vfs: %w", errs.OpenConflict)
		}
	}
	return nil
}

// OpenFile opens a descriptor on h's given fork, enforcing the
// open-file table's one-writer-xor-many-readers rule.
func (fs *Filesystem) OpenFile(h *Handle, mode OpenMode, part Part) (*descriptor.Descriptor, error) {
	wantWrite := mode == ReadWrite
	if err := fs.checkFileAccess(h, wantWrite, part); err != nil {
		return nil, err
	}
	backend, err := fs.driver.OpenFork(h.entry, part)
	if err != nil {
		return nil, err
	}
	key := entryTableKey(fs.driver.EntryKey(h.entry), part)
	slot := fs.openFiles[key]
	if slot == nil {
		slot = &openFileSlot{}
		fs.openFiles[key] = slot
	}
	if wantWrite {
		slot.writer = true
	} else {
		slot.readers++
	}
	return descriptor.New(&trackedBackend{
		Backend: backend,
		onClose: func() { fs.closeFile(key, wantWrite) },
	}, !wantWrite), nil
}

func (fs *Filesystem) closeFile(key string, wasWriter bool) {
	slot, ok := fs.openFiles[key]
	if !ok {
		return
	}
	if wasWriter {
		slot.writer = false
	} else if slot.readers > 0 {
		slot.readers--
	}
	if !slot.writer && slot.readers == 0 {
		delete(fs.openFiles, key)
	}
}

// trackedBackend wraps a descriptor.Backend so Flush (the descriptor's
// close path) also releases the open-file-table slot it was opened
// under.
type trackedBackend struct {
	descriptor.Backend
	onClose  func()
	released bool
}

func (b *trackedBackend) Flush() error {
	var err error
	if f, ok := b.Backend.(descriptor.Flusher); ok {
		err = f.Flush()
	}
	if !b.released {
		b.released = true
		b.onClose()
	}
	return err
}

// CreateFile adds a new entry under parent. mode selects plain file,
// directory, or a ProDOS-style extended (dual-fork) file. For Extended the
// plain file is created first and then handed to the driver's
// AddRsrcFork: ProDOS adds an extended-info block, HFS (natively
// dual-fork) returns the entry unchanged, and CP/M and Pascal return an
// error, leaving the plain file in place.
func (fs *Filesystem) CreateFile(parent *Handle, name string, kind CreateKind) (*Handle, error) {
	if err := fs.checkFileAccess(parent, true, RawData); err != nil {
		return nil, err
	}
	var e Entry
	var err error
	switch kind {
	case KindDirectory:
		e, err = fs.driver.CreateDir(parent.entry, name)
	default:
		e, err = fs.driver.CreateFile(parent.entry, name)
		if err == nil && kind == KindExtended {
			e, err = fs.driver.AddRsrcFork(e)
		}
	}
	if err != nil {
		return nil, err
	}
	return fs.wrap(e), nil
}

// MoveFile renames entry within its current parent. No underlying
// driver implements cross-directory move, so newParent must name the
// same directory entry already holds.
func (fs *Filesystem) MoveFile(h, newParent *Handle, newName string) error {
	if err := fs.checkFileAccess(h, true, RawData); err != nil {
		return err
	}
	if err := fs.checkFileAccess(newParent, true, RawData); err != nil {
		return err
	}
	if err := fs.refuseIfForksOpen(h); err != nil {
		return fmt.Errorf("vfs: move_file: %w", err)
	}
	renamed, err := fs.driver.Rename(newParent.entry, h.entry, newName)
	if err != nil {
		return err
	}
	h.entry = renamed
	return nil
}

// DeleteFile removes entry. Refused if any descriptor on it is open
// (refuseIfForksOpen checks both forks in the open-file table).
func (fs *Filesystem) DeleteFile(parent, h *Handle) error {
	if err := fs.checkFileAccess(h, true, RawData); err != nil {
		return err
	}
	if err := fs.refuseIfForksOpen(h); err != nil {
		return fmt.Errorf("vfs: delete_file: %w", err)
	}
	return fs.driver.Delete(parent.entry, h.entry)
}

// refuseIfForksOpen implements "directory writes (create/delete/move)
// require no descriptors open on the affected entry" (spec §4.7).
func (fs *Filesystem) refuseIfForksOpen(h *Handle) error {
	for _, part := range []Part{DataFork, RsrcFork} {
		key := entryTableKey(fs.driver.EntryKey(h.entry), part)
		if slot, ok := fs.openFiles[key]; ok && (slot.writer || slot.readers > 0) {
			return errs.OpenConflict
		}
	}
	return nil
}

// AddRsrcFork provisions entry with an (initially empty) resource fork.
func (fs *Filesystem) AddRsrcFork(h *Handle) error {
	if err := fs.checkFileAccess(h, true, RsrcFork); err != nil {
		return err
	}
	e, err := fs.driver.AddRsrcFork(h.entry)
	if err != nil {
		return err
	}
	h.entry = e
	return nil
}

// ReadDir lists dir's children.
func (fs *Filesystem) ReadDir(h *Handle) ([]Entry, error) {
	if err := fs.checkFileAccess(h, false, RawData); err != nil {
		return nil, err
	}
	return fs.driver.ReadDir(h.entry)
}

// Lookup finds a single named child of dir.
func (fs *Filesystem) Lookup(dir *Handle, name string) (*Handle, error) {
	if err := fs.checkFileAccess(dir, false, RawData); err != nil {
		return nil, err
	}
	e, err := fs.driver.Lookup(dir.entry, name)
	if err != nil {
		return nil, err
	}
	return fs.wrap(e), nil
}

// CloseAll forcibly clears the open-file table, as if every outstanding
// descriptor had been disposed. Intended for host error-recovery paths;
// it does not flush them first.
func (fs *Filesystem) CloseAll() {
	fs.openFiles = make(map[string]*openFileSlot)
}

// VolumeName returns the mounted volume's label.
func (fs *Filesystem) VolumeName() (string, error) {
	if err := fs.requireFileAccess(); err != nil {
		return "", err
	}
	return fs.driver.VolumeName(), nil
}
