package iterator

import "lsmengine/pkg/types"

// Iterator is the forward cursor shared by blocks, tables, sorted runs,
// memtables and merged views. Keys are encoded internal keys.
type Iterator interface {
	// SeekToFirst moves to the smallest key.
	SeekToFirst()
	// Seek moves to the first key >= (userKey, seq).
	Seek(userKey types.Key, seq types.SeqN)
	// Valid reports whether the iterator points to a valid entry.
	Valid() bool
	// Key returns the current encoded internal key.
	Key() []byte
	// Value returns the current value.
	Value() []byte
	// Next advances to the next key.
	Next()
	// Error returns the I/O or corruption error that invalidated the iterator, if any.
	Error() error
}
