// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package usage implements the volume usage map described in spec.md §4.2:
// a flat, single-pass conflict tracker built while a scan walks every
// file's allocation structure.
package usage

// Owner identifies whoever is recorded as using a chunk. NoEntry means
// "claimed by the system" (a superblock, a bitmap page, a B*-tree node)
// rather than by any particular file; the zero value, nil, means unowned.
type Owner any

// NoEntry is the owner used for system structures that are not
// file-entries (spec: "owner is NO_ENTRY (system) or a file-entry
// reference").
var NoEntry Owner = struct{ name string }{"system"}

// Conflict records that two owners both claimed the same chunk. The first
// owner retains ownership in the map (spec: "the first assignment wins and
// retains ownership... conflicts are reported but do not rewrite").
type Conflict struct {
	Chunk        uint32
	FirstOwner   Owner
	SecondOwner  Owner
}

// Dubious is implemented by anything that can be told it participated in
// an allocation conflict, so it can mark itself dubious (spec §4.2:
// "the colliding file-entry gets add_conflict invoked").
type Dubious interface {
	AddConflict(chunk uint32, other Owner)
}

type slot struct {
	marked bool
	owner  Owner
}

// Map is the in-memory volume-usage tracker: one slot per chunk.
type Map struct {
	slots     []slot
	conflicts []Conflict
}

// New creates a Map with numChunks unmarked slots.
func New(numChunks int) *Map {
	return &Map{slots: make([]slot, numChunks)}
}

func (m *Map) NumChunks() int { return len(m.slots) }

// MarkInUse marks a chunk as used without recording an owner (system
// structures that don't implement Dubious, e.g. boot blocks).
func (m *Map) MarkInUse(chunk uint32) {
	m.set(chunk, true, NoEntry)
}

// SetUsage records (or re-asserts) ownership of an already-marked chunk
// without changing its marked state.
func (m *Map) SetUsage(chunk uint32, owner Owner) {
	s := &m.slots[chunk]
	if !s.marked {
		s.owner = owner
		return
	}
	m.claim(chunk, owner)
}

// AllocChunk marks a chunk in use and sets its owner in one call (spec
// §4.2).
func (m *Map) AllocChunk(chunk uint32, owner Owner) {
	m.set(chunk, true, owner)
}

// FreeChunk clears a slot entirely.
func (m *Map) FreeChunk(chunk uint32) {
	m.slots[chunk] = slot{}
}

func (m *Map) set(chunk uint32, marked bool, owner Owner) {
	s := &m.slots[chunk]
	if s.marked {
		m.claim(chunk, owner)
		return
	}
	s.marked = marked
	s.owner = owner
}

// claim is called when a second owner touches an already-marked slot: the
// first owner keeps the map entry, and a Conflict is recorded exactly
// once per colliding touch, with both owners notified if they implement
// Dubious.
func (m *Map) claim(chunk uint32, newOwner Owner) {
	s := &m.slots[chunk]
	if ownersEqual(s.owner, newOwner) {
		return
	}
	m.conflicts = append(m.conflicts, Conflict{
		Chunk:       chunk,
		FirstOwner:  s.owner,
		SecondOwner: newOwner,
	})
	if d, ok := s.owner.(Dubious); ok {
		d.AddConflict(chunk, newOwner)
	}
	if d, ok := newOwner.(Dubious); ok {
		d.AddConflict(chunk, s.owner)
	}
}

func ownersEqual(a, b Owner) bool {
	defer func() { recover() }() // Owner may hold an uncomparable type
	return a == b
}

// Analysis is the four disjoint counts spec §4.2/§8 property 7 requires.
type Analysis struct {
	MarkedUsed    int // marked slots with a non-NoEntry owner
	UnusedMarked  int // marked slots that are NoEntry (system-only)
	NotMarkedUsed int // unmarked slots (free, as far as the scan saw)
	Conflicts     int
}

// Analyze compares the scan-built map against nothing else (the caller is
// expected to separately compare FreeBlocks to a bitmap, spec invariant 6);
// this only reports the map's own internal shape.
func (m *Map) Analyze() Analysis {
	var a Analysis
	for _, s := range m.slots {
		switch {
		case s.marked && !ownersEqual(s.owner, NoEntry):
			a.MarkedUsed++
		case s.marked:
			a.UnusedMarked++
		default:
			a.NotMarkedUsed++
		}
	}
	a.Conflicts = len(m.conflicts)
	return a
}

// Conflicts returns every conflict recorded so far, in the order they were
// detected.
func (m *Map) Conflicts() []Conflict {
	return append([]Conflict(nil), m.conflicts...)
}
