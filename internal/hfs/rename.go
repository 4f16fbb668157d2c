// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package hfs

import "fmt"

// Rename moves the catalog record for oldName (under parentID) to
// newName within the same parent: delete the old leaf record, reinsert
// its body under the new key, and (for directories) rewrite the
// directory's own thread record to carry the new name.
func (v *Volume) Rename(parentID uint32, oldName, newName string) (DirEntry, error) {
	if v.dubious {
		return DirEntry{}, fmt.Errorf("hfs: refusing to modify a dubious volume")
	}
	oldKey := encodeCatalogKey(CatalogKey{ParentID: parentID, Name: oldName})
	body, found, err := v.catalogTree.Search(oldKey)
	if err != nil {
		return DirEntry{}, err
	}
	if !found {
		return DirEntry{}, fmt.Errorf("hfs: %s not found", oldName)
	}
	newKey := encodeCatalogKey(CatalogKey{ParentID: parentID, Name: newName})
	if _, found, _ := v.catalogTree.Search(newKey); found {
		return DirEntry{}, fmt.Errorf("hfs: %s already exists", newName)
	}
	entry, err := decodeCatalogEntry(body, oldName)
	if err != nil {
		return DirEntry{}, err
	}

	if err := v.catalogTree.Delete(oldKey); err != nil {
		return DirEntry{}, err
	}
	if err := v.catalogTree.Insert(newKey, body); err != nil {
		return DirEntry{}, err
	}

	if entry.IsDir {
		threadKey := encodeCatalogKey(CatalogKey{ParentID: entry.CNID, Name: ""})
		if threadBody, found, _ := v.catalogTree.Search(threadKey); found {
			nameBytes := utf8ToMacRoman(newName)
			if len(nameBytes) > 31 {
				nameBytes = nameBytes[:31]
			}
			newThreadBody := make([]byte, 0x0f+31)
			copy(newThreadBody, threadBody[:0x0e])
			newThreadBody[0x0e] = byte(len(nameBytes))
			copy(newThreadBody[0x0f:], nameBytes)
			if err := v.catalogTree.Delete(threadKey); err == nil {
				_ = v.catalogTree.Insert(threadKey, newThreadBody)
			}
		}
	}

	entry.Name = newName
	return entry, nil
}
