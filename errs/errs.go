// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package errs defines the error taxonomy shared across every filesystem
// and archive package in this module. Callers match against these
// sentinels with errors.Is; internal packages wrap them with
// fmt.Errorf("...: %w", ...) to add the failing path or block number.
package errs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// IOError marks an underlying device failure, not a structural one.
	IOError = errors.New("errs: device I/O error")

	// BadBlock marks a specific unrecoverable sector read; callers may
	// convert this into a dubious volume/entry by scanning adjacent
	// regions rather than aborting outright.
	BadBlock = errors.New("errs: bad block")

	// DiskFull means an allocation could not be satisfied.
	DiskFull = errors.New("errs: disk full")

	// InvalidName means a name violates the filesystem's naming rules.
	InvalidName = errors.New("errs: invalid name")

	// DuplicateName means a create/rename collided with an existing entry.
	DuplicateName = errors.New("errs: duplicate name")

	// InvalidArg marks caller misuse: bad offset, wrong mode, unknown
	// fork, and the like.
	InvalidArg = errors.New("errs: invalid argument")

	// WrongMode means the operation requires file-access (or raw-access)
	// mode and the filesystem is in the other one.
	WrongMode = errors.New("errs: wrong access mode")

	// ReadOnly means a structural modification was attempted on a
	// read-only image or file.
	ReadOnly = errors.New("errs: read-only")

	// NotFound means the entry isn't present in the filesystem.
	NotFound = errors.New("errs: not found")

	// OpenConflict means the open-file table refused the requested
	// access (a writer already holds the fork, or a reader is present
	// and raw access was requested).
	OpenConflict = errors.New("errs: open conflict")

	// Disposed means the object was used after its owning filesystem was
	// torn down.
	Disposed = errors.New("errs: disposed")

	// StructuralError means an on-disk invariant was found broken (a
	// corrupt tree node, an entry pointing past the volume, ...).
	StructuralError = errors.New("errs: structural error")

	// DamagedFile means derived state prevents reading this entry.
	DamagedFile = errors.New("errs: damaged file")

	// DubiousFile means derived state prevents writing this entry (the
	// volume or entry was marked dubious by a scan or a prior error).
	DubiousFile = errors.New("errs: dubious file")

	// NotPartOfThisFs means the entry handle named a different mounted
	// filesystem (spec §4.8's check_file_access).
	NotPartOfThisFs = errors.New("errs: not part of this filesystem")
)

// Note is one entry in a volume or file's diagnostic log (spec §7's
// propagation policy: "recording a human-readable note ... with severity
// {Info, Warning, Error}").
type Note struct {
	Severity Severity
	Message  string
}

// Severity classifies a Note.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Notes is a per-volume append-only diagnostic log (spec §7: "Scans
// downgrade to 'keep what we have' and set IsDubious = true ... recording a
// human-readable note"). It is safe for concurrent readers but, per §5, a
// single filesystem object has exactly one owner goroutine; the lock here
// only guards a host reading the log while the owner is still appending.
type Notes struct {
	mu     sync.Mutex
	log    []Note
	logger *slog.Logger // optional; nil means "don't also emit to slog"
}

// NewNotes returns an empty log, optionally emitting to logger as entries
// are added (pass nil to keep the log purely in-memory).
func NewNotes(logger *slog.Logger) *Notes {
	return &Notes{logger: logger}
}

// SetLogger attaches or replaces the optional structured logger.
func (n *Notes) SetLogger(logger *slog.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger = logger
}

// Add appends a formatted note at the given severity, also emitting it to
// the attached slog.Logger (if any) at the matching level.
func (n *Notes) Add(sev Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	n.mu.Lock()
	n.log = append(n.log, Note{Severity: sev, Message: msg})
	logger := n.logger
	n.mu.Unlock()

	if logger == nil {
		return
	}
	level := slog.LevelInfo
	switch sev {
	case Warning:
		level = slog.LevelWarn
	case Error:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, msg)
}

// All returns a snapshot of the notes recorded so far.
func (n *Notes) All() []Note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Note(nil), n.log...)
}

// HasErrors reports whether any note was recorded at Error severity.
func (n *Notes) HasErrors() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, note := range n.log {
		if note.Severity == Error {
			return true
		}
	}
	return false
}
