// Package block implements the data block: length-prefixed records followed
// by a trailing array of record offsets.
//
//	{ key_len u32 | user_key | seq u64 | type u8 | value_len u32 | value } x count
//	{ offset u32 } x count
//
// key_len covers user_key, seq and type, so a record's key is a complete
// encoded internal key.
package block

import (
	"math"

	"lsmengine/pkg/persistence"
	"lsmengine/pkg/types"
)

// OffsetSize is the width of offset_t.
const OffsetSize = 4

// Handle locates a block inside a table file.
type Handle struct {
	Offset uint32
	Size   uint32
	Count  uint32
}

// EntrySize is the number of block bytes a record occupies, including its trailing offset slot.
func EntrySize(key types.ParsedKey, value []byte) uint64 {
	return 3*OffsetSize + uint64(key.EncodedLen()) + uint64(len(value))
}

// Builder appends records of one block straight to the table writer.
type Builder struct {
	blockSize uint64
	size      uint64
	offset    uint32
	offsets   []uint32
	lastKey   []byte
	w         *persistence.FileWriter
}

func NewBuilder(blockSize int, w *persistence.FileWriter) *Builder {
	return &Builder{
		blockSize: uint64(blockSize),
		w:         w,
	}
}

// Append writes the record if it fits and reports whether it did.
// A false return leaves the builder untouched; the caller must start a new block.
func (b *Builder) Append(key types.ParsedKey, value []byte) bool {
	keyLen := key.EncodedLen()
	if uint64(keyLen) > math.MaxUint32 || uint64(len(value)) > math.MaxUint32 {
		return false
	}
	entry := EntrySize(key, value)
	if b.size+entry > b.blockSize {
		return false
	}
	if uint64(b.offset)+entry > math.MaxUint32 {
		return false
	}

	b.w.AppendUint32(uint32(keyLen))
	b.w.Append(key.UserKey)
	b.w.AppendUint64(key.Seq)
	b.w.Append([]byte{byte(key.Type)})
	b.w.AppendUint32(uint32(len(value)))
	b.w.Append(value)

	b.offsets = append(b.offsets, b.offset)
	b.size += entry
	b.offset += uint32(2*OffsetSize + keyLen + len(value))
	b.lastKey = key.AppendEncoded(b.lastKey[:0])

	return true
}

// Finish writes the offset array. It is a no-op for an empty block.
func (b *Builder) Finish() {
	for _, off := range b.offsets {
		b.w.AppendUint32(off)
	}
}

// Size is the block size in bytes including the offset array.
func (b *Builder) Size() uint64 {
	return b.size
}

func (b *Builder) Count() int {
	return len(b.offsets)
}

// LastKey is the encoded key of the last appended record.
func (b *Builder) LastKey() []byte {
	return b.lastKey
}

func (b *Builder) Reset() {
	b.size = 0
	b.offset = 0
	b.offsets = b.offsets[:0]
	b.lastKey = b.lastKey[:0]
}
