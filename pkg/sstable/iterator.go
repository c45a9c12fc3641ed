package sstable

import (
	"fmt"

	"lsmengine/pkg/block"
	"lsmengine/pkg/types"
)

// Iterator walks a table block by block, reading each block from disk when it is entered.
type Iterator struct {
	t        *Table
	blockIdx int
	blk      *block.Iterator
	err      error
}

func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.enter(0)
	if it.blk != nil {
		it.blk.SeekToFirst()
	}
	it.skipExhausted()
}

// Seek positions at the first record >= (userKey, seq).
func (it *Iterator) Seek(userKey []byte, seq types.SeqN) {
	it.err = nil
	it.enter(it.t.findBlock(types.SeekKey(userKey, seq)))
	if it.blk != nil {
		it.blk.Seek(userKey, seq)
	}
	it.skipExhausted()
}

func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.blk.Next()
	it.skipExhausted()
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.blk != nil && it.blk.Valid()
}

func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.blk.Key()
}

func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.blk.Value()
}

func (it *Iterator) Error() error {
	return it.err
}

// enter loads block i, or clears the cursor when i is past the last block.
func (it *Iterator) enter(i int) {
	it.blockIdx = i
	it.blk = nil
	if i >= len(it.t.index) {
		return
	}
	data, err := it.t.readBlock(i)
	if err != nil {
		it.err = err
		return
	}
	it.blk = block.NewIterator(data, it.t.index[i].Handle)
}

// skipExhausted moves into following blocks while the current one has no record left.
func (it *Iterator) skipExhausted() {
	for it.err == nil && it.blk != nil && !it.blk.Valid() {
		if err := it.blk.Error(); err != nil {
			it.err = fmt.Errorf("sstable %d block %d: %w", it.t.info.ID, it.blockIdx, err)
			return
		}
		it.enter(it.blockIdx + 1)
		if it.blk != nil {
			it.blk.SeekToFirst()
		}
	}
}
