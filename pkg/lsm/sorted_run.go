package lsm

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"lsmengine/pkg/sstable"
	"lsmengine/pkg/types"
)

// SortedRun is an ordered list of tables with disjoint key ranges.
type SortedRun struct {
	tables []*sstable.Table
	size   uint64
	refs   atomic.Int32
}

// NewSortedRun takes a reference on each table. Tables must be ordered and
// must not overlap.
func NewSortedRun(tables ...*sstable.Table) *SortedRun {
	r := &SortedRun{tables: tables}
	for _, t := range tables {
		t.Ref()
		r.size += t.Size()
	}
	r.refs.Store(1)
	return r
}

// Get looks up userKey in the single table that may hold it.
func (r *SortedRun) Get(userKey types.Key, seq types.SeqN) (types.GetResult, []byte, error) {
	i := r.find(types.SeekKey(userKey, seq))
	if i == len(r.tables) {
		return types.NotFound, nil, nil
	}
	return r.tables[i].Get(userKey, seq)
}

// find returns the first table whose largest key is >= target.
func (r *SortedRun) find(target types.ParsedKey) int {
	return sort.Search(len(r.tables), func(i int) bool {
		return types.CompareEncoded(r.tables[i].Largest(), target) >= 0
	})
}

func (r *SortedRun) NewIterator() *SortedRunIterator {
	return &SortedRunIterator{run: r, idx: len(r.tables)}
}

func (r *SortedRun) Tables() []*sstable.Table {
	return r.tables
}

func (r *SortedRun) Size() uint64 {
	return r.size
}

func (r *SortedRun) Len() int {
	return len(r.tables)
}

func (r *SortedRun) Ref() {
	r.refs.Add(1)
}

// Unref drops a reference. The last one releases every table.
func (r *SortedRun) Unref() error {
	n := r.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		panic("sorted run: negative reference count")
	}
	var errs []error
	for _, t := range r.tables {
		if err := t.Unref(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *SortedRun) String() string {
	return fmt.Sprintf("run(%d sst, %d bytes)", len(r.tables), r.size)
}

// SortedRunIterator walks a run table after table.
type SortedRunIterator struct {
	run *SortedRun
	idx int
	cur *sstable.Iterator
	err error
}

func (it *SortedRunIterator) SeekToFirst() {
	it.err = nil
	it.enter(0)
	if it.cur != nil {
		it.cur.SeekToFirst()
	}
	it.skipExhausted()
}

func (it *SortedRunIterator) Seek(userKey types.Key, seq types.SeqN) {
	it.err = nil
	it.enter(it.run.find(types.SeekKey(userKey, seq)))
	if it.cur != nil {
		it.cur.Seek(userKey, seq)
	}
	it.skipExhausted()
}

func (it *SortedRunIterator) Valid() bool {
	return it.err == nil && it.cur != nil && it.cur.Valid()
}

func (it *SortedRunIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.cur.Key()
}

func (it *SortedRunIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.cur.Value()
}

func (it *SortedRunIterator) Next() {
	if !it.Valid() {
		return
	}
	it.cur.Next()
	it.skipExhausted()
}

func (it *SortedRunIterator) Error() error {
	return it.err
}

func (it *SortedRunIterator) enter(i int) {
	it.idx = i
	if i >= len(it.run.tables) {
		it.cur = nil
		return
	}
	it.cur = it.run.tables[i].NewIterator()
}

func (it *SortedRunIterator) skipExhausted() {
	for it.cur != nil && !it.cur.Valid() {
		if err := it.cur.Error(); err != nil {
			it.err = err
			return
		}
		it.enter(it.idx + 1)
		if it.cur != nil {
			it.cur.SeekToFirst()
		}
	}
}
