package hfs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goldenapple/retroimg/internal/bitmap"
)

// CreateDir adds a new empty subdirectory named name under parentID,
// together with its directory-thread record (spec §4.4 Open Question:
// "every directory requires a thread record, synthesized if missing").
func (v *Volume) CreateDir(parentID uint32, name string) (DirEntry, error) {
	if v.dubious {
		return DirEntry{}, fmt.Errorf("hfs: refusing to modify a dubious volume")
	}
	key := encodeCatalogKey(CatalogKey{ParentID: parentID, Name: name})
	if _, found, _ := v.catalogTree.Search(key); found {
		return DirEntry{}, fmt.Errorf("hfs: %s already exists", name)
	}

	cnid := v.AllocCNID()
	now := time.Now()
	body := make([]byte, 0x56)
	body[0] = recDirectory
	binary.BigEndian.PutUint32(body[0x06:], cnid)
	binary.BigEndian.PutUint32(body[0x0e:], macTimeEncode(now))
	binary.BigEndian.PutUint32(body[0x12:], macTimeEncode(now))

	if err := v.catalogTree.Insert(key, body); err != nil {
		return DirEntry{}, err
	}
	threadKey := encodeCatalogKey(CatalogKey{ParentID: cnid, Name: ""})
	nameBytes := utf8ToMacRoman(name)
	if len(nameBytes) > 31 {
		nameBytes = nameBytes[:31]
	}
	threadBody := make([]byte, 0x0f+31)
	threadBody[0] = recDirectoryThread
	binary.BigEndian.PutUint32(threadBody[0x0a:], parentID)
	threadBody[0x0e] = byte(len(nameBytes))
	copy(threadBody[0x0f:], nameBytes)
	if err := v.catalogTree.Insert(threadKey, threadBody); err != nil {
		return DirEntry{}, err
	}

	v.mdb.NumFiles++
	return DirEntry{CNID: cnid, Name: name, IsDir: true, CreateDate: now, ModifyDate: now}, nil
}

// CreateFile adds a new zero-length file named name under parentID.
func (v *Volume) CreateFile(parentID uint32, name string) (DirEntry, error) {
	if v.dubious {
		return DirEntry{}, fmt.Errorf("hfs: refusing to modify a dubious volume")
	}
	key := encodeCatalogKey(CatalogKey{ParentID: parentID, Name: name})
	if _, found, _ := v.catalogTree.Search(key); found {
		return DirEntry{}, fmt.Errorf("hfs: %s already exists", name)
	}

	cnid := v.AllocCNID()
	now := time.Now()
	body := make([]byte, 0x66)
	body[0] = recFile
	binary.BigEndian.PutUint32(body[0x14:], cnid)
	binary.BigEndian.PutUint32(body[0x2c:], macTimeEncode(now))
	binary.BigEndian.PutUint32(body[0x30:], macTimeEncode(now))

	if err := v.catalogTree.Insert(key, body); err != nil {
		return DirEntry{}, err
	}

	v.mdb.NumFiles++
	return DirEntry{CNID: cnid, Name: name, IsDir: false, CreateDate: now, ModifyDate: now}, nil
}

// Delete removes a catalog entry. Directories must be empty; files release
// their allocated extents back to the bitmap first.
func (v *Volume) Delete(parentID uint32, name string) error {
	if v.dubious {
		return fmt.Errorf("hfs: refusing to modify a dubious volume")
	}
	key := encodeCatalogKey(CatalogKey{ParentID: parentID, Name: name})
	body, found, err := v.catalogTree.Search(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("hfs: %s not found", name)
	}
	entry, err := decodeCatalogEntry(body, name)
	if err != nil {
		return err
	}

	if entry.IsDir {
		children, err := v.ReadDir(entry.CNID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("hfs: directory %s is not empty", name)
		}
		threadKey := encodeCatalogKey(CatalogKey{ParentID: entry.CNID, Name: ""})
		_ = v.catalogTree.Delete(threadKey) // thread may have been synthesized and never stored
	} else {
		v.releaseForkExtents(entry.DataExtents, entry.CNID, ForkData)
		v.releaseForkExtents(entry.RsrcExtents, entry.CNID, ForkResource)
	}

	if err := v.catalogTree.Delete(key); err != nil {
		return err
	}
	v.mdb.NumFiles--
	return nil
}

func (v *Volume) releaseForkExtents(extents [3]Extent, fileID uint32, forkKind uint8) {
	chain, err := firstThreeExtents(extents).chaseOverflow(v.extentsTree, fileID, forkKind)
	if err != nil {
		return // best-effort: a corrupt overflow chain shouldn't block deleting the catalog entry
	}
	for _, blk := range chain.allocationBlocks() {
		v.bitmap.ReleaseBlocks(bitmap.Run{Start: blk, Count: 1})
	}
}
