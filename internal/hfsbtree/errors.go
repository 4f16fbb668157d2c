package hfsbtree

import "errors"

var (
	errStructural  = errors.New("b-tree structural error")
	ErrDuplicateKey = errors.New("hfsbtree: duplicate key")
	ErrNotFound     = errors.New("hfsbtree: key not found")
)

// IsStructural reports whether err (or something it wraps) is a
// structural-corruption error, so callers can mark the volume dubious per
// spec §4.4's failure semantics ("any read of a corrupted node aborts the
// operation with StructuralError").
func IsStructural(err error) bool {
	return errors.Is(err, errStructural)
}
