// Copyright (c) 2026 retroimg authors
// Licensed under the MIT license

package pascal

import "fmt"

// Rename changes a file's catalog name in place; no blocks move.
func (v *Volume) Rename(name, newName string) (Entry, error) {
	if v.dubious {
		return Entry{}, fmt.Errorf("pascal: refusing to modify a dubious volume")
	}
	if len(newName) > 15 {
		return Entry{}, fmt.Errorf("pascal: name %q longer than 15 characters", newName)
	}
	for _, e := range v.files {
		if e.Name == newName {
			return Entry{}, fmt.Errorf("pascal: %s already exists", newName)
		}
	}
	idx := -1
	for i, e := range v.files {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Entry{}, fmt.Errorf("pascal: %s not found", name)
	}
	v.files[idx].Name = newName
	if err := v.persistDirectory(); err != nil {
		return Entry{}, err
	}
	return v.files[idx], nil
}
