package memtable

import (
	"lsmengine/pkg/iterator"
	"lsmengine/pkg/types"
)

// NewIterator returns a cursor over the records present at call time, in
// internal key order. Later writes are not observed.
func (mt *Memtable) NewIterator() iterator.Iterator {
	return iterator.NewSlice(mt.Entries())
}

// Entries returns every record with its encoded internal key, sorted.
func (mt *Memtable) Entries() []iterator.Entry {
	out := make([]iterator.Entry, 0, mt.count.Load())
	mt.data.Range(func(userKey []byte, c *chain) bool {
		for _, v := range c.snapshot() {
			out = append(out, iterator.Entry{
				Key:   types.NewKey(userKey, v.seq, v.typ).Encode(),
				Value: v.value,
			})
		}
		return true
	})
	return out
}
