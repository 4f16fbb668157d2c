// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package retroimg is a library for reading and writing vintage disk-image
// filesystems (HFS, ProDOS, CP/M, UCSD Pascal) and the archive formats
// (AppleSingle/AppleDouble, ZIP, GZip, Binary II) used alongside them.
//
// This package is a thin facade: the file-access engine itself (chunk
// device, B*-tree, extent/index-tree file models, descriptor state
// machine, and the per-format drivers) lives under internal/ per spec
// §4-§5, and is re-exported here as the stable, host-facing API a program
// outside this module can import.
package retroimg

import (
	"io"

	"github.com/goldenapple/retroimg/errs"
	"github.com/goldenapple/retroimg/internal/chunk"
	"github.com/goldenapple/retroimg/internal/nodecache"
	"github.com/goldenapple/retroimg/internal/vfs"
)

// NodeCache is a persistent, disk-backed cache of raw HFS B*-tree node
// pages (internal/nodecache, a pebble LSM), meant for a long-running host
// that mounts the same volumes repeatedly across restarts.
type NodeCache = nodecache.Store

// OpenNodeCache opens (creating if absent) a node cache at dir.
func OpenNodeCache(dir string) (*NodeCache, error) {
	return nodecache.Open(dir)
}

// SetHFSNodeCache installs cache (or, passed nil, removes it) so every HFS
// volume subsequently opened or formatted through this package decorates
// its catalog/extents-overflow trees' storage with it.
func SetHFSNodeCache(cache *NodeCache) {
	vfs.SetHFSNodeCache(cache)
}

// Device is the block/sector provider contract (spec §4.1/§6): a raw disk
// image, a partition slice, a multipart container, or a nibble-decoded
// sector stream.
type Device = chunk.Device

// SectorOrder names a track/sector-to-byte-offset translation.
type SectorOrder = chunk.SectorOrder

const (
	OrderPhysical    = chunk.OrderPhysical
	OrderProDOSBlock = chunk.OrderProDOSBlock
	OrderDOSSector   = chunk.OrderDOSSector
)

// NewBlockImage wraps a block-addressed image (ProDOS .po / HFS .img) of
// the given byte length, backed by an io.ReaderAt/io.WriterAt. Pass a nil
// writer to open read-only.
func NewBlockImage(ra io.ReaderAt, wa io.WriterAt, length int64) *chunk.Image {
	return chunk.NewBlockImage(ra, wa, length)
}

// NewSectorImage wraps a track/sector image (DOS 3.3 .dsk) with explicit
// geometry.
func NewSectorImage(ra io.ReaderAt, wa io.WriterAt, tracks, sectorsPerTrack int, order SectorOrder) *chunk.Image {
	return chunk.NewSectorImage(ra, wa, tracks, sectorsPerTrack, order)
}

// BlockSize and SectorSize are the fixed unit sizes spec §3 defines.
const (
	BlockSize  = chunk.BlockSize
	SectorSize = chunk.SectorSize
)

// Format names one of the on-disk filesystem formats this engine
// understands.
type Format = vfs.Format

const (
	HFS    = vfs.HFS
	ProDOS = vfs.ProDOS
	CPM    = vfs.CPM
	Pascal = vfs.Pascal
)

// Part names which fork (or raw device view) a descriptor addresses.
type Part = vfs.Part

const (
	DataFork = vfs.DataFork
	RsrcFork = vfs.RsrcFork
	RawData  = vfs.RawData
)

// OpenMode is the read/write mode a descriptor is opened with.
type OpenMode = vfs.OpenMode

const (
	ReadOnly  = vfs.ReadOnly
	ReadWrite = vfs.ReadWrite
)

// CreateKind selects what CreateFile makes.
type CreateKind = vfs.CreateKind

const (
	KindFile      = vfs.KindFile
	KindDirectory = vfs.KindDirectory
	KindExtended  = vfs.KindExtended
)

// Mode is the filesystem object's place in the Closed/Raw/FileAccess state
// machine (spec §4.8).
type Mode = vfs.Mode

const (
	ModeClosed     = vfs.ModeClosed
	ModeRaw        = vfs.ModeRaw
	ModeFileAccess = vfs.ModeFileAccess
)

// Filesystem is the host-facing handle implementing spec §4.8's state
// machine and operation set over one mounted volume.
type Filesystem = vfs.Filesystem

// Handle is a live reference to a directory entry, invalidated by any
// mode transition that bumps the filesystem's generation (spec §4.8,
// §9's arena/generation design).
type Handle = vfs.Handle

// Entry is one directory entry, uniform across all four drivers.
type Entry = vfs.Entry

// Open wires a raw chunk device to the given format, returning a
// Filesystem in Raw mode. Call PrepareFileAccess to mount it.
func Open(dev Device, format Format) (*Filesystem, error) {
	return vfs.OpenAs(dev, format)
}

// Probe tries each known format's signature check against dev in turn
// (HFS, ProDOS, Pascal, then CP/M — spec §9 Open Question on RDOS/CP/M
// collision: this engine does not implement RDOS, so CP/M is tried last
// rather than being shadowed by an RDOS probe that will never run),
// returning a Filesystem already in FileAccess mode and the format it
// matched. Callers that only want to identify the format should call
// PrepareRawAccess afterward.
func Probe(dev Device) (*Filesystem, Format, error) {
	return vfs.Probe(dev)
}

// FormatVolume lays down a fresh, empty volume of the given format on dev
// and leaves dev in Raw mode, mirroring spec §4.8's format() contract.
func FormatVolume(dev Device, format Format, volName string) error {
	fs, err := vfs.OpenAs(dev, format)
	if err != nil {
		return err
	}
	return fs.Format(volName)
}

// Re-exported error taxonomy (spec §7). Callers match with errors.Is.
var (
	ErrIO              = errs.IOError
	ErrBadBlock        = errs.BadBlock
	ErrDiskFull        = errs.DiskFull
	ErrInvalidName     = errs.InvalidName
	ErrDuplicateName   = errs.DuplicateName
	ErrInvalidArg      = errs.InvalidArg
	ErrWrongMode       = errs.WrongMode
	ErrReadOnly        = errs.ReadOnly
	ErrNotFound        = errs.NotFound
	ErrOpenConflict    = errs.OpenConflict
	ErrDisposed        = errs.Disposed
	ErrStructural      = errs.StructuralError
	ErrDamagedFile     = errs.DamagedFile
	ErrDubiousFile     = errs.DubiousFile
	ErrNotPartOfThisFs = errs.NotPartOfThisFs
)

// Note and Severity describe one entry in a volume's diagnostic log,
// returned by Filesystem.Notes().
type Note = errs.Note
type Severity = errs.Severity

const (
	Info    = errs.Info
	Warning = errs.Warning
	Error   = errs.Error
)
