package hfs

import (
	"fmt"

	"github.com/goldenapple/retroimg/internal/hfsbtree"
)

// fileStorage adapts an HFS fork's extent chain into the fixed 512-byte
// hfsbtree.Storage contract the catalog and extents B*-trees are built on.
// Unlike a regular file's fork, the catalog and extents-overflow files
// grow through the volume's own clump-allocation policy rather than a
// descriptor-level write.
type fileStorage struct {
	vol      *Volume
	fileID   uint32
	forkKind uint8
	chain    extentChain
}

func newCatalogStorage(v *Volume) *fileStorage {
	return &fileStorage{vol: v, fileID: 4, forkKind: ForkData, chain: firstThreeExtents(v.mdb.CatalogExtents)}
}

func newExtentsStorage(v *Volume) *fileStorage {
	return &fileStorage{vol: v, fileID: 3, forkKind: ForkData, chain: firstThreeExtents(v.mdb.ExtentsExtents)}
}

func (s *fileStorage) NodeCount() uint32 {
	return uint32(s.chain.numBlocks()) * uint32(s.vol.mdb.AllocBlkSize) / hfsbtree.NodeSize
}

func (s *fileStorage) blockFor(num uint32) (uint32, error) {
	blocks := s.chain.deviceBlocks(s.vol.mdb)
	perNode := hfsbtree.NodeSize / 512
	idx := int(num) * perNode
	if idx+perNode > len(blocks) {
		return 0, fmt.Errorf("hfs: node %d past end of %s fork (fileID %d)", num, forkName(s.forkKind), s.fileID)
	}
	return blocks[idx], nil
}

func forkName(k uint8) string {
	if k == ForkResource {
		return "resource"
	}
	return "data"
}

func (s *fileStorage) ReadNode(num uint32) ([]byte, error) {
	first, err := s.blockFor(num)
	if err != nil {
		return nil, err
	}
	perNode := hfsbtree.NodeSize / 512
	raw := make([]byte, hfsbtree.NodeSize)
	for i := 0; i < perNode; i++ {
		if err := s.vol.dev.ReadBlock(first+uint32(i), raw[i*512:(i+1)*512]); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func (s *fileStorage) WriteNode(num uint32, raw []byte) error {
	first, err := s.blockFor(num)
	if err != nil {
		return err
	}
	perNode := hfsbtree.NodeSize / 512
	for i := 0; i < perNode; i++ {
		if err := s.vol.dev.WriteBlock(first+uint32(i), raw[i*512:(i+1)*512]); err != nil {
			return err
		}
	}
	return nil
}

// Grow extends the backing fork by one clump so it covers newCount nodes,
// using the volume's allocation bitmap directly (catalog/extents files are
// owned by the filesystem, not user data, so they bypass the descriptor
// layer's clump policy and allocate in MDB.ClumpSize units).
func (s *fileStorage) Grow(newCount uint32) error {
	for s.NodeCount() < newCount {
		clumpBlocks := int(s.vol.mdb.ClumpSize / s.vol.mdb.AllocBlkSize)
		if clumpBlocks < 1 {
			clumpBlocks = 1
		}
		run, err := extendChain(s.vol.bitmap, clumpBlocks, int(s.vol.mdb.AllocPtr), s.fileID)
		if err != nil {
			return err
		}
		if len(s.chain.runs) < 3 {
			s.chain.runs = append(s.chain.runs, run)
		} else {
			key := encodeExtentsKey(ExtentsKey{ForkKind: s.forkKind, FileID: s.fileID, StartBlock: s.chain.numBlocks()})
			if err := s.vol.extentsTree.Insert(key, encodeExtentRecord([3]Extent{run, {}, {}})); err != nil {
				return fmt.Errorf("hfs: recording overflow extent: %w", err)
			}
			s.chain.runs = append(s.chain.runs, run)
		}
		s.syncMDB()
	}
	return nil
}

func (s *fileStorage) syncMDB() {
	var first [3]Extent
	for i := 0; i < 3 && i < len(s.chain.runs); i++ {
		first[i] = s.chain.runs[i]
	}
	sizeBytes := uint32(s.chain.numBlocks()) * s.vol.mdb.AllocBlkSize
	if s.fileID == 4 {
		s.vol.mdb.CatalogExtents = first
		s.vol.mdb.CatalogSize = sizeBytes
	} else {
		s.vol.mdb.ExtentsExtents = first
		s.vol.mdb.ExtentsSize = sizeBytes
	}
}
