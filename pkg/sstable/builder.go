// Package sstable implements the immutable sorted table file.
//
// File layout, all integers in native byte order:
//
//	[block 0] ... [block N-1]
//	[index_count u64] { key_len u64 | key | offset u32 | size u32 | count u32 } x index_count
//	[bloom_len u64][bloom bytes]
//	[smallest_len u64][smallest key]
//	[largest_len u64][largest key]
//
// Index keys and bounds are encoded internal keys. An index entry carries the
// largest key of its block, so the index is binary-searchable.
package sstable

import (
	"bytes"
	"fmt"
	"math"

	"lsmengine/pkg/block"
	"lsmengine/pkg/bloom"
	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/persistence"
	"lsmengine/pkg/types"
)

// Info is the persisted identity of a table (SSTInfo).
type Info = persistence.TableInfo

// IndexValue maps the largest key of a block to its location.
type IndexValue struct {
	Key    []byte
	Handle block.Handle
}

type Options struct {
	BlockSize       int
	BloomBitsPerKey int
	WriteBufferSize int
}

func DefaultOptions() Options {
	return Options{
		BlockSize:       4096,
		BloomBitsPerKey: 10,
		WriteBufferSize: persistence.DefaultWriteBufferSize,
	}
}

// Builder writes one table. It is owned by a single producer.
type Builder struct {
	w     *persistence.FileWriter
	block *block.Builder
	opts  Options

	blockOffset uint64
	index       []IndexValue
	hashes      []uint32
	smallest    []byte
	largest     []byte
	count       uint64

	indexOffset uint64
	bloomOffset uint64
	finished    bool
}

func NewBuilder(w *persistence.FileWriter, opts Options) *Builder {
	return &Builder{
		w:     w,
		block: block.NewBuilder(opts.BlockSize, w),
		opts:  opts,
	}
}

// Create opens path for writing and returns a builder over it.
func Create(path string, opts Options) (*Builder, error) {
	w, err := persistence.CreateFile(path, opts.WriteBufferSize)
	if err != nil {
		return nil, err
	}
	return NewBuilder(w, opts), nil
}

// Append adds a record. Records must arrive in ParsedKey order.
func (b *Builder) Append(key types.ParsedKey, value []byte) error {
	if b.finished {
		return fmt.Errorf("append to finished table %s: %w", b.w.Path(), dberrors.ErrInvalidArgument)
	}

	if !b.block.Append(key, value) {
		if b.block.Count() == 0 {
			return fmt.Errorf("record %s (%d bytes): %w", key, block.EntrySize(key, value), dberrors.ErrRecordTooLarge)
		}
		if err := b.finishBlock(); err != nil {
			return err
		}
		if !b.block.Append(key, value) {
			return fmt.Errorf("record %s (%d bytes): %w", key, block.EntrySize(key, value), dberrors.ErrRecordTooLarge)
		}
	}

	b.hashes = append(b.hashes, bloom.Hash(key.UserKey))
	if len(b.smallest) == 0 || types.CompareEncoded(b.smallest, key) > 0 {
		b.smallest = key.AppendEncoded(b.smallest[:0])
	}
	if len(b.largest) == 0 || types.CompareEncoded(b.largest, key) < 0 {
		b.largest = key.AppendEncoded(b.largest[:0])
	}
	b.count++

	return b.w.Err()
}

func (b *Builder) finishBlock() error {
	b.block.Finish()

	if b.blockOffset > math.MaxUint32 {
		return fmt.Errorf("table %s exceeds offset range: %w", b.w.Path(), dberrors.ErrRecordTooLarge)
	}
	b.index = append(b.index, IndexValue{
		Key: bytes.Clone(b.block.LastKey()),
		Handle: block.Handle{
			Offset: uint32(b.blockOffset),
			Size:   uint32(b.block.Size()),
			Count:  uint32(b.block.Count()),
		},
	})
	b.blockOffset += b.block.Size()
	b.block.Reset()

	return b.w.Err()
}

// Finish writes the trailing block, the index, the bloom filter and the bounds, then flushes.
func (b *Builder) Finish() error {
	if b.finished {
		return nil
	}
	if b.block.Count() > 0 {
		if err := b.finishBlock(); err != nil {
			return err
		}
	}

	b.indexOffset = b.blockOffset
	b.w.AppendUint64(uint64(len(b.index)))
	for _, iv := range b.index {
		b.w.AppendUint64(uint64(len(iv.Key)))
		b.w.Append(iv.Key)
		b.w.AppendUint32(iv.Handle.Offset)
		b.w.AppendUint32(iv.Handle.Size)
		b.w.AppendUint32(iv.Handle.Count)
	}

	b.bloomOffset = b.w.Size()
	filter := bloom.Create(len(b.hashes), b.opts.BloomBitsPerKey)
	for _, h := range b.hashes {
		bloom.Add(h, filter)
	}
	b.w.AppendUint64(uint64(len(filter)))
	b.w.Append(filter)

	b.w.AppendUint64(uint64(len(b.smallest)))
	b.w.Append(b.smallest)
	b.w.AppendUint64(uint64(len(b.largest)))
	b.w.Append(b.largest)

	b.finished = true
	return b.w.Flush()
}

// Close releases the underlying file. Call after Finish.
func (b *Builder) Close() error {
	return b.w.Close()
}

// Size is the number of bytes the table occupies so far, counting the open block's offsets.
func (b *Builder) Size() uint64 {
	if b.finished {
		return b.w.Size()
	}
	return b.blockOffset + b.block.Size()
}

func (b *Builder) Count() uint64 {
	return b.count
}

func (b *Builder) IndexOffset() uint64 {
	return b.indexOffset
}

func (b *Builder) BloomOffset() uint64 {
	return b.bloomOffset
}

// Info describes the finished table.
func (b *Builder) Info(id uint64) Info {
	return Info{
		ID:          id,
		FilePath:    b.w.Path(),
		Count:       b.count,
		IndexOffset: b.indexOffset,
		BloomOffset: b.bloomOffset,
		Size:        b.w.Size(),
	}
}
