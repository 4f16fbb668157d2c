package chunk

import (
	"fmt"
	"sync/atomic"
)

// AccessLevel is one of the three levels a Gated device can be set to
// (spec §4.1).
type AccessLevel int32

const (
	Closed AccessLevel = iota
	ReadOnly
	Open
)

func (l AccessLevel) String() string {
	switch l {
	case Closed:
		return "closed"
	case ReadOnly:
		return "read-only"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Gated wraps a Device and fronts every raw block operation with an access
// check. The filesystem object is the sole writer of the level; it is
// stored atomically so a concurrent reader (e.g. a host status call) always
// observes one of the three levels, never a half-applied transition.
type Gated struct {
	Device
	level atomic.Int32
}

// NewGated wraps dev, initially Closed.
func NewGated(dev Device) *Gated {
	g := &Gated{Device: dev}
	g.level.Store(int32(Closed))
	return g
}

// SetLevel changes the access level. The transition is atomic and
// immediately observable; it never blocks on in-flight I/O (spec §4.1
// requires only that the level change itself be atomic, not a drain).
func (g *Gated) SetLevel(l AccessLevel) {
	g.level.Store(int32(l))
}

func (g *Gated) Level() AccessLevel {
	return AccessLevel(g.level.Load())
}

func (g *Gated) checkRead() error {
	if g.Level() == Closed {
		return fmt.Errorf("chunk: read while closed")
	}
	return nil
}

func (g *Gated) checkWrite() error {
	switch g.Level() {
	case Closed:
		return fmt.Errorf("chunk: write while closed")
	case ReadOnly:
		return fmt.Errorf("chunk: write while gated read-only")
	}
	return nil
}

func (g *Gated) ReadBlock(n uint32, dst []byte) error {
	if err := g.checkRead(); err != nil {
		return err
	}
	return g.Device.ReadBlock(n, dst)
}

func (g *Gated) WriteBlock(n uint32, src []byte) error {
	if err := g.checkWrite(); err != nil {
		return err
	}
	return g.Device.WriteBlock(n, src)
}

func (g *Gated) ReadBlocks(start, count uint32, dst []byte) error {
	if err := g.checkRead(); err != nil {
		return err
	}
	return g.Device.ReadBlocks(start, count, dst)
}

func (g *Gated) ReadSector(track, sector uint32, dst []byte, order SectorOrder) error {
	if err := g.checkRead(); err != nil {
		return err
	}
	return g.Device.ReadSector(track, sector, dst, order)
}

func (g *Gated) WriteSector(track, sector uint32, src []byte, order SectorOrder) error {
	if err := g.checkWrite(); err != nil {
		return err
	}
	return g.Device.WriteSector(track, sector, src, order)
}
