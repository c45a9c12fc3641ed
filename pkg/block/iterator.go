package block

import (
	"encoding/binary"
	"fmt"

	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/types"
)

// Iterator is a forward cursor over one decoded-in-place block.
// Key and Value are views into the block buffer.
type Iterator struct {
	data    []byte
	offsets []byte
	count   uint32
	index   uint32
	key     []byte
	value   []byte
	err     error
}

// NewIterator positions nothing; call SeekToFirst or Seek.
func NewIterator(data []byte, h Handle) *Iterator {
	it := &Iterator{}
	if uint64(len(data)) < uint64(h.Size) {
		it.err = fmt.Errorf("block shorter than handle (%d < %d): %w", len(data), h.Size, dberrors.ErrCorrupted)
		return it
	}
	data = data[:h.Size]

	tail := uint64(h.Count) * OffsetSize
	if tail > uint64(len(data)) {
		it.err = fmt.Errorf("offset array of %d records exceeds block of %d bytes: %w", h.Count, len(data), dberrors.ErrCorrupted)
		return it
	}
	records := len(data) - int(tail)

	it.data = data[:records]
	it.offsets = data[records:]
	it.count = h.Count
	it.index = h.Count
	return it
}

func (it *Iterator) SeekToFirst() {
	it.load(0)
}

// Seek positions at the first record >= (userKey, seq), i.e. the newest version
// of userKey visible at seq when there is one.
func (it *Iterator) Seek(userKey []byte, seq types.SeqN) {
	if it.err != nil {
		return
	}
	target := types.SeekKey(userKey, seq)

	left, right := uint32(0), it.count
	for left < right {
		mid := left + (right-left)/2
		key, ok := it.keyAt(mid)
		if !ok {
			it.index = it.count
			return
		}
		if types.CompareEncoded(key, target) < 0 {
			left = mid + 1
		} else {
			right = mid
		}
	}
	it.load(left)
}

func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.load(it.index + 1)
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.index < it.count
}

// Key is the encoded internal key of the current record.
func (it *Iterator) Key() []byte {
	return it.key
}

func (it *Iterator) Value() []byte {
	return it.value
}

func (it *Iterator) Error() error {
	return it.err
}

func (it *Iterator) load(index uint32) {
	it.index = index
	it.key, it.value = nil, nil
	if it.err != nil || index >= it.count {
		return
	}

	off, ok := it.offsetAt(index)
	if !ok {
		return
	}
	key, next, ok := it.slice(off)
	if !ok {
		return
	}
	value, _, ok := it.slice(next)
	if !ok {
		return
	}
	if len(key) < types.TrailerSize {
		it.corrupt("record %d key shorter than trailer", index)
		return
	}
	it.key, it.value = key, value
}

func (it *Iterator) keyAt(index uint32) ([]byte, bool) {
	off, ok := it.offsetAt(index)
	if !ok {
		return nil, false
	}
	key, _, ok := it.slice(off)
	return key, ok
}

func (it *Iterator) offsetAt(index uint32) (uint64, bool) {
	pos := uint64(index) * OffsetSize
	if pos+OffsetSize > uint64(len(it.offsets)) {
		it.corrupt("offset %d out of range", index)
		return 0, false
	}
	return uint64(binary.NativeEndian.Uint32(it.offsets[pos:])), true
}

// slice reads a u32 length prefix at off and returns the bytes after it and the next offset.
func (it *Iterator) slice(off uint64) ([]byte, uint64, bool) {
	if off+OffsetSize > uint64(len(it.data)) {
		it.corrupt("length prefix at %d out of range", off)
		return nil, 0, false
	}
	n := uint64(binary.NativeEndian.Uint32(it.data[off:]))
	start := off + OffsetSize
	end := start + n
	if end > uint64(len(it.data)) {
		it.corrupt("field [%d, %d) out of range", start, end)
		return nil, 0, false
	}
	return it.data[start:end:end], end, true
}

func (it *Iterator) corrupt(format string, args ...any) {
	it.err = fmt.Errorf("block: "+format+": %w", append(args, dberrors.ErrCorrupted)...)
	it.key, it.value = nil, nil
}
