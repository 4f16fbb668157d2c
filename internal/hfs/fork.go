package hfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/goldenapple/retroimg/internal/chunk"
)

// errTruncatedRecord flags a catalog/extents record too short to hold the
// fields this engine expects, distinct from a B*-tree structural error
// since it points at the record's contents rather than the node layout.
var errTruncatedRecord = errors.New("hfs: truncated catalog record")

var errWhence = errors.New("hfs: Seek: invalid whence")
var errOffset = errors.New("hfs: Seek: invalid offset")

// deviceByteExtent is an absolute (offset, length) byte range on the
// underlying chunk.Device, the unit multiReaderAt stitches together —
// generalized from the teacher's blockExtents/byteExtents pair in
// internal/hfs/hfs.go into something that reads through a block device
// instead of an io.ReaderAt.
type deviceByteExtent struct {
	offset int64
	length int64
}

func (c extentChain) deviceByteExtents(m *MDB) []deviceByteExtent {
	var out []deviceByteExtent
	for _, r := range c.runs {
		out = append(out, deviceByteExtent{
			offset: int64(m.AllocBlkSt)*512 + int64(r.StartBlock)*int64(m.AllocBlkSize),
			length: int64(r.BlockCount) * int64(m.AllocBlkSize),
		})
	}
	return out
}

// clipToSize trims (or drops) trailing extents so the total length matches
// the fork's logical EOF, matching the teacher's clipExtents.
func clipToSize(extents []deviceByteExtent, size int64) ([]deviceByteExtent, error) {
	sofar := int64(0)
	for i, e := range extents {
		if e.length > size-sofar {
			e.length = size - sofar
		}
		extents[i] = e
		sofar += e.length
		if e.length == 0 {
			return extents[:i], nil
		}
		if sofar == size {
			return extents[:i+1], nil
		}
	}
	if sofar != size {
		return nil, fmt.Errorf("hfs: not enough extents (%d bytes) to satisfy logical size %d", sofar, size)
	}
	return extents, nil
}

// forkReader is a read-only multi-extent view of a fork, reading through
// the volume's chunk.Device rather than an io.ReaderAt, since
// chunk.Device addresses fixed blocks rather than arbitrary byte offsets.
type forkReader struct {
	dev      chunk.Device
	extents  []deviceByteExtent
	size     int64
	seekPos  int64
}

func (v *Volume) newForkReader(extents [3]Extent, fileID uint32, forkKind uint8, logicalSize uint32) (*forkReader, error) {
	chain, err := firstThreeExtents(extents).chaseOverflow(v.extentsTree, fileID, forkKind)
	if err != nil {
		return nil, err
	}
	byteExtents := chain.deviceByteExtents(v.mdb)
	clipped, err := clipToSize(byteExtents, int64(logicalSize))
	if err != nil {
		return nil, err
	}
	return &forkReader{dev: v.dev, extents: clipped, size: int64(logicalSize)}, nil
}

func (r *forkReader) Size() int64 { return r.size }

func (r *forkReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= r.size {
		return 0, io.EOF
	}
	n := 0
	want := len(p)
	pos := int64(0)
	for _, e := range r.extents {
		if pos+e.length <= off {
			pos += e.length
			continue
		}
		// How far into this extent does the read start?
		skip := int64(0)
		if pos < off {
			skip = off - pos
		}
		avail := e.length - skip
		chunkWant := int64(want - n)
		if chunkWant > avail {
			chunkWant = avail
		}
		if chunkWant <= 0 {
			break
		}
		if err := readDeviceBytes(r.dev, e.offset+skip, p[n:n+int(chunkWant)]); err != nil {
			return n, err
		}
		n += int(chunkWant)
		off += chunkWant
		pos += e.length
		if n >= want {
			break
		}
	}
	if n < want {
		return n, io.EOF
	}
	return n, nil
}

func (r *forkReader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.seekPos)
	r.seekPos += int64(n)
	return n, err
}

func (r *forkReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.seekPos
	case io.SeekEnd:
		offset += r.size
	default:
		return 0, errWhence
	}
	if offset < 0 {
		return 0, errOffset
	}
	r.seekPos = offset
	return offset, nil
}

// readDeviceBytes reads an arbitrary byte range from a chunk.Device by
// reading whole blocks and trimming, since Device only exposes
// block-granularity access.
func readDeviceBytes(dev chunk.Device, byteOffset int64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	firstBlock := uint32(byteOffset / 512)
	lastBlock := uint32((byteOffset + int64(len(dst)) - 1) / 512)
	buf := make([]byte, (lastBlock-firstBlock+1)*512)
	if err := dev.ReadBlocks(firstBlock, lastBlock-firstBlock+1, buf); err != nil {
		for i := firstBlock; i <= lastBlock; i++ {
			if err := dev.ReadBlock(i, buf[(i-firstBlock)*512:(i-firstBlock+1)*512]); err != nil {
				return err
			}
		}
	}
	start := byteOffset - int64(firstBlock)*512
	copy(dst, buf[start:start+int64(len(dst))])
	return nil
}

// OpenDataFork returns a read-only random-access view of e's data fork.
func (v *Volume) OpenDataFork(e DirEntry) (io.ReaderAt, int64, error) {
	if e.IsDir {
		return nil, 0, fmt.Errorf("hfs: %s is a directory", e.Name)
	}
	r, err := v.newForkReader(e.DataExtents, e.CNID, ForkData, e.DataLogicalSize)
	if err != nil {
		return nil, 0, err
	}
	return r, r.size, nil
}

// OpenResourceFork returns a read-only random-access view of e's resource fork.
func (v *Volume) OpenResourceFork(e DirEntry) (io.ReaderAt, int64, error) {
	if e.IsDir {
		return nil, 0, fmt.Errorf("hfs: %s is a directory", e.Name)
	}
	r, err := v.newForkReader(e.RsrcExtents, e.CNID, ForkResource, e.RsrcLogicalSize)
	if err != nil {
		return nil, 0, err
	}
	return r, r.size, nil
}
