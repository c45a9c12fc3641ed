package store

import (
	"lsmengine/pkg/batch"
	"lsmengine/pkg/types"
)

var _ batch.WriteBatch = (*Batch)(nil)

type op struct {
	typ   types.RecordType
	key   types.Key
	value types.Value
}

// Batch collects puts and deletes applied by Store.Write as one unit.
// Keys and values are copied on insertion.
type Batch struct {
	ops []op
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key types.Key, value types.Value) {
	b.ops = append(b.ops, op{
		typ:   types.RecordValue,
		key:   append([]byte(nil), key...),
		value: append([]byte{}, value...),
	})
}

func (b *Batch) Delete(key types.Key) {
	b.ops = append(b.ops, op{
		typ: types.RecordDeletion,
		key: append([]byte(nil), key...),
	})
}

func (b *Batch) Clear() {
	b.ops = b.ops[:0]
}

func (b *Batch) Count() int {
	return len(b.ops)
}
