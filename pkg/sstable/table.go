package sstable

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"

	"lsmengine/pkg/block"
	"lsmengine/pkg/bloom"
	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/persistence"
	"lsmengine/pkg/types"
)

// Table is an open, immutable SSTable. Index, bloom filter and bounds live in
// memory; record data is read one block at a time.
//
// Tables are reference counted. The creator holds the first reference. The file
// is closed when the count drops to zero, and deleted as well if MarkRemoved
// was called before.
type Table struct {
	info     Info
	file     *persistence.ReadFile
	cache    persistence.BlockCache
	index    []IndexValue
	filter   []byte
	smallest []byte
	largest  []byte

	refs    atomic.Int32
	removed atomic.Bool
}

type Option func(*Table)

// WithBlockCache shares a block cache between tables.
func WithBlockCache(c persistence.BlockCache) Option {
	return func(t *Table) {
		t.cache = c
	}
}

// Open loads the metadata sections of the table described by info.
func Open(info Info, opts ...Option) (*Table, error) {
	file, err := persistence.OpenReadFile(info.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSTable %d: %w", info.ID, err)
	}

	t := &Table{info: info, file: file}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.load(); err != nil {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close sstable file after load error", "path", info.FilePath, "error", cerr)
		}
		return nil, fmt.Errorf("failed to load SSTable %s: %w", info.FilePath, err)
	}
	t.refs.Store(1)

	return t, nil
}

func (t *Table) load() error {
	size := uint64(t.file.Size())
	if t.info.IndexOffset > size {
		return fmt.Errorf("index offset %d beyond file size %d: %w", t.info.IndexOffset, size, dberrors.ErrCorrupted)
	}
	if t.info.Size != 0 && t.info.Size != size {
		return fmt.Errorf("file size %d, recorded %d: %w", size, t.info.Size, dberrors.ErrCorrupted)
	}

	tail := make([]byte, size-t.info.IndexOffset)
	if err := t.file.Read(tail, t.info.IndexOffset); err != nil {
		return err
	}

	d := persistence.NewDecoder(tail)
	n := d.Uint64()
	if n > uint64(len(tail)) {
		return fmt.Errorf("index count %d: %w", n, dberrors.ErrCorrupted)
	}
	t.index = make([]IndexValue, 0, n)
	for i := uint64(0); i < n && d.Err() == nil; i++ {
		iv := IndexValue{Key: d.LengthPrefixed()}
		iv.Handle.Offset = d.Uint32()
		iv.Handle.Size = d.Uint32()
		iv.Handle.Count = d.Uint32()
		if uint64(iv.Handle.Offset)+uint64(iv.Handle.Size) > t.info.IndexOffset {
			return fmt.Errorf("block %d [%d, +%d) overlaps index: %w", i, iv.Handle.Offset, iv.Handle.Size, dberrors.ErrCorrupted)
		}
		t.index = append(t.index, iv)
	}

	if t.info.BloomOffset != 0 && uint64(d.Pos())+t.info.IndexOffset != t.info.BloomOffset {
		return fmt.Errorf("bloom offset %d, index ends at %d: %w",
			t.info.BloomOffset, uint64(d.Pos())+t.info.IndexOffset, dberrors.ErrCorrupted)
	}
	t.filter = d.LengthPrefixed()
	t.smallest = d.LengthPrefixed()
	t.largest = d.LengthPrefixed()

	if err := d.Err(); err != nil {
		return err
	}
	if d.Remaining() != 0 {
		return fmt.Errorf("%d trailing bytes: %w", d.Remaining(), dberrors.ErrCorrupted)
	}
	return nil
}

// Get finds the newest version of userKey with seq at most seq.
// The returned value is a view into a block buffer and must not be modified.
func (t *Table) Get(userKey []byte, seq types.SeqN) (types.GetResult, []byte, error) {
	if !bloom.Find(userKey, t.filter) {
		return types.NotFound, nil, nil
	}

	i := t.findBlock(types.SeekKey(userKey, seq))
	if i == len(t.index) {
		return types.NotFound, nil, nil
	}

	data, err := t.readBlock(i)
	if err != nil {
		return types.NotFound, nil, err
	}
	it := block.NewIterator(data, t.index[i].Handle)
	it.Seek(userKey, seq)
	if err := it.Error(); err != nil {
		return types.NotFound, nil, fmt.Errorf("sstable %d block %d: %w", t.info.ID, i, err)
	}
	if !it.Valid() {
		return types.NotFound, nil, nil
	}

	k := types.ParseKey(it.Key())
	if !bytes.Equal(k.UserKey, userKey) {
		return types.NotFound, nil, nil
	}
	if k.Type == types.RecordDeletion {
		return types.Deleted, nil, nil
	}
	return types.Found, it.Value(), nil
}

// findBlock returns the first block whose largest key is >= target, or len(index).
func (t *Table) findBlock(target types.ParsedKey) int {
	return sort.Search(len(t.index), func(i int) bool {
		return types.CompareEncoded(t.index[i].Key, target) >= 0
	})
}

func (t *Table) readBlock(i int) ([]byte, error) {
	h := t.index[i].Handle
	key := persistence.BlockKey{TableID: t.info.ID, Offset: h.Offset}
	if t.cache != nil {
		if data, ok := t.cache.Get(key); ok {
			return data, nil
		}
	}

	data := make([]byte, h.Size)
	if err := t.file.Read(data, uint64(h.Offset)); err != nil {
		return nil, fmt.Errorf("failed to read block %d of sstable %d: %w", i, t.info.ID, err)
	}
	if t.cache != nil {
		t.cache.Set(key, data)
	}
	return data, nil
}

func (t *Table) NewIterator() *Iterator {
	return &Iterator{t: t, blockIdx: len(t.index)}
}

func (t *Table) Info() Info {
	return t.info
}

func (t *Table) ID() uint64 {
	return t.info.ID
}

func (t *Table) Size() uint64 {
	return t.info.Size
}

func (t *Table) Count() uint64 {
	return t.info.Count
}

// Smallest and Largest are the encoded bounds of the table.
func (t *Table) Smallest() []byte {
	return t.smallest
}

func (t *Table) Largest() []byte {
	return t.largest
}

func (t *Table) BlockCount() int {
	return len(t.index)
}

func (t *Table) Ref() {
	t.refs.Add(1)
}

// Unref drops a reference; the last one closes the file and deletes it if removed.
func (t *Table) Unref() error {
	n := t.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		panic(fmt.Sprintf("sstable %d: negative reference count", t.info.ID))
	}

	var errs []error
	if err := t.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close sstable %d: %w", t.info.ID, err))
	}
	if t.removed.Load() {
		if t.cache != nil {
			t.cache.Evict(t.info.ID)
		}
		if err := os.Remove(t.info.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove sstable %d: %w", t.info.ID, err))
		} else {
			slog.Debug("sstable removed", "id", t.info.ID, "path", t.info.FilePath)
		}
	}
	return errors.Join(errs...)
}

// MarkRemoved tags the table for deletion once the last reference is dropped.
func (t *Table) MarkRemoved() {
	t.removed.Store(true)
}

func (t *Table) Removed() bool {
	return t.removed.Load()
}

func (t *Table) Refs() int32 {
	return t.refs.Load()
}
