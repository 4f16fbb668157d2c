// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package prodos

import "fmt"

// Rename changes e's name in place, rewriting its dirent at its existing
// block/slot (no storage is moved).
func (v *Volume) Rename(headerBlock uint16, e Entry, newName string) (Entry, error) {
	if v.dubious {
		return Entry{}, fmt.Errorf("prodos: refusing to modify a dubious volume")
	}
	siblings, err := v.ReadDir(headerBlock)
	if err != nil {
		return Entry{}, err
	}
	for _, s := range siblings {
		if s.Name == newName {
			return Entry{}, fmt.Errorf("prodos: %s already exists", newName)
		}
	}
	e.Name = newName
	if err := v.writeEntrySlot(e.HeaderBlock, e.block, e.slot, e.Dirent); err != nil {
		return Entry{}, err
	}
	return e, nil
}
