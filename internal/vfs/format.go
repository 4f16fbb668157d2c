// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package vfs

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/chunk"
)

// Format names one of the on-disk filesystem formats this engine
// understands.
type Format string

const (
	HFS    Format = "hfs"
	ProDOS Format = "prodos"
	CPM    Format = "cpm"
	Pascal Format = "pascal"
)

var openers = map[Format]Opener{
	HFS:    openHFS,
	ProDOS: openProDOS,
	CPM:    openCPM,
	Pascal: openPascal,
}

var formatters = map[Format]Formatter{
	HFS:    formatHFS,
	ProDOS: formatProDOS,
	CPM:    formatCPM,
	Pascal: formatPascal,
}

// OpenAs returns a Filesystem ready to PrepareFileAccess as the given
// format. The device is not touched until PrepareFileAccess is called.
func OpenAs(dev chunk.Device, format Format) (*Filesystem, error) {
	opener, ok := openers[format]
	if !ok {
		return nil, fmt.Errorf("vfs: unknown format %q", format)
	}
	return Open(dev, opener, formatters[format]), nil
}

// Probe tries each known format's Opener in turn against dev, returning
// the first that mounts cleanly along with the format it matched. dev is
// left in FileAccess mode on success; callers that only want to identify
// the format should PrepareRawAccess afterward.
//
// Before giving up, Probe also tries dev as an Apple Partition Map
// (internal/apm): an APM-partitioned image never looks like a bare HFS/
// ProDOS/Pascal/CP/M volume at block 0, so it would otherwise never be
// recognized by the loop below. Every partition apm.Read returns (all but
// "Apple_Free" and the map's own entry, sorted by starting block) is
// tried in that order, same probing logic, recursively (one level — a
// partition containing another partition map is not a format this engine
// mounts).
func Probe(dev chunk.Device) (*Filesystem, Format, error) {
	// Order matters only in that a volume could (in principle) satisfy
	// more than one decoder's sanity checks; try the formats with the
	// strongest self-describing signatures (a fixed-offset magic number)
	// before the weaker, more permissive ones.
	order := []Format{HFS, ProDOS, Pascal, CPM}

	if fs, format, err := probeBareVolume(dev, order); err == nil {
		return fs, format, nil
	}

	lastErr := fmt.Errorf("vfs: no known format recognized this volume")
	if partitions, ok := probeAPM(dev); ok {
		for _, part := range partitions {
			fs, format, err := probeBareVolume(part.Device, order)
			if err != nil {
				lastErr = err
				continue
			}
			return fs, format, nil
		}
	}
	return nil, "", fmt.Errorf("vfs: no known format recognized this volume: %w", lastErr)
}

// probeBareVolume tries each of order's Openers against dev directly, with
// no partition-map slicing.
func probeBareVolume(dev chunk.Device, order []Format) (*Filesystem, Format, error) {
	var lastErr error
	for _, format := range order {
		fs, err := OpenAs(dev, format)
		if err != nil {
			lastErr = err
			continue
		}
		if err := fs.PrepareFileAccess(true); err != nil {
			lastErr = err
			continue
		}
		return fs, format, nil
	}
	return nil, "", fmt.Errorf("vfs: no known format recognized this volume: %w", lastErr)
}
