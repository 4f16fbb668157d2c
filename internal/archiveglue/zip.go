// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

// Package archiveglue implements the "thin glue" archive formats spec.md
// §1 names as external collaborators rather than CORE concerns: ZIP,
// GZip, AppleSingle/AppleDouble, and (in the binary2 subpackage) Binary
// II. Each wraps a real codec (stdlib archive/zip, stdlib compress/gzip,
// this module's own internal/appledouble) behind the same
// start_transaction/commit_transaction/cancel_transaction discipline
// spec §5 describes for archive mutation.
package archiveglue

import (
	"archive/zip"
	"fmt"
	"io"
)

// OpenZIP lists a ZIP archive's members without decompressing anything,
// delegating the CRC/Deflate primitives spec.md explicitly calls out as
// external collaborators to stdlib archive/zip.
func OpenZIP(ra io.ReaderAt, size int64) (*zip.Reader, error) {
	r, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("archiveglue: opening zip: %w", err)
	}
	return r, nil
}

// ZIPTransaction implements spec §5's "start_transaction -> Add/
// DeletePart/rename -> commit_transaction(output_stream) or
// cancel_transaction" discipline over a ZIP archive. Only one
// transaction may be open on a given archive at a time; the archive's
// existing members (read via OpenZIP) are untouched until Commit.
type ZIPTransaction struct {
	base    *zip.Reader
	out     io.Writer
	deleted map[string]bool
	added   []addedPart
	open    bool
}

type addedPart struct {
	name string
	src  IPartSource
}

// IPartSource supplies one new or replacement archive member's bytes.
// Dispose is always called exactly once: on Commit after the bytes are
// copied, or on Cancel without ever being read (spec §5: "a cancel
// disposes any IPartSource handed in").
type IPartSource interface {
	io.Reader
	Dispose() error
}

// StartTransaction begins a mutation against base, writing the resulting
// archive to out on Commit. Reads against base continue to work (the
// existing archive is not mutated in place) but the caller must not start
// a second transaction on the same logical archive until this one
// resolves.
func StartTransaction(base *zip.Reader, out io.Writer) *ZIPTransaction {
	return &ZIPTransaction{base: base, out: out, deleted: map[string]bool{}, open: true}
}

// Add stages a new or replacement member. src is consumed (and disposed)
// during Commit.
func (t *ZIPTransaction) Add(name string, src IPartSource) error {
	if !t.open {
		return fmt.Errorf("archiveglue: transaction already resolved")
	}
	t.deleted[name] = true // a same-named existing member is shadowed, not duplicated
	t.added = append(t.added, addedPart{name: name, src: src})
	return nil
}

// DeletePart removes an existing member by name.
func (t *ZIPTransaction) DeletePart(name string) error {
	if !t.open {
		return fmt.Errorf("archiveglue: transaction already resolved")
	}
	t.deleted[name] = true
	return nil
}

// Commit writes every unshadowed existing member plus every staged
// addition to the transaction's output stream, then disposes every
// IPartSource.
func (t *ZIPTransaction) Commit() error {
	if !t.open {
		return fmt.Errorf("archiveglue: transaction already resolved")
	}
	t.open = false
	zw := zip.NewWriter(t.out)

	for _, f := range t.base.File {
		if t.deleted[f.Name] {
			continue
		}
		if err := copyZIPEntry(zw, f); err != nil {
			t.disposeAdded()
			return err
		}
	}
	for _, a := range t.added {
		w, err := zw.Create(a.name)
		if err != nil {
			t.disposeAdded()
			return err
		}
		if _, err := io.Copy(w, a.src); err != nil {
			t.disposeAdded()
			return err
		}
		if err := a.src.Dispose(); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Cancel discards all staged changes, disposing every IPartSource without
// reading from it; the archive stream t was built against is unchanged.
func (t *ZIPTransaction) Cancel() error {
	if !t.open {
		return nil
	}
	t.open = false
	t.disposeAdded()
	return nil
}

func (t *ZIPTransaction) disposeAdded() {
	for _, a := range t.added {
		a.src.Dispose()
	}
	t.added = nil
}

func copyZIPEntry(zw *zip.Writer, f *zip.File) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := zw.CreateHeader(&f.FileHeader)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
