// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package archiveglue

import (
	"compress/gzip"
	"fmt"
	"io"
)

// OpenGZip decompresses a single-member gzip stream, delegating the
// DEFLATE/CRC32 work to stdlib compress/gzip exactly as spec.md's archive
// section calls for.
func OpenGZip(r io.Reader) (*gzip.Reader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("archiveglue: opening gzip: %w", err)
	}
	return zr, nil
}

// WriteGZip compresses src (a single logical member, typically a whole
// disk image) to w using gzip's best-compression level, recording name
// in the gzip header.
func WriteGZip(w io.Writer, name string, src io.Reader) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("archiveglue: creating gzip writer: %w", err)
	}
	zw.Name = name
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return fmt.Errorf("archiveglue: writing gzip: %w", err)
	}
	return zw.Close()
}
