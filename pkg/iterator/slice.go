package iterator

import (
	"sort"

	"lsmengine/pkg/types"
)

// Entry is one encoded record held in memory.
type Entry struct {
	Key   []byte
	Value []byte
}

// Slice iterates over entries already sorted by internal key.
type Slice struct {
	entries []Entry
	pos     int
}

func NewSlice(entries []Entry) *Slice {
	return &Slice{entries: entries, pos: len(entries)}
}

func (s *Slice) SeekToFirst() {
	s.pos = 0
}

func (s *Slice) Seek(userKey types.Key, seq types.SeqN) {
	target := types.SeekKey(userKey, seq)
	s.pos = sort.Search(len(s.entries), func(i int) bool {
		return types.CompareEncoded(s.entries[i].Key, target) >= 0
	})
}

func (s *Slice) Valid() bool {
	return s.pos < len(s.entries)
}

func (s *Slice) Key() []byte {
	if !s.Valid() {
		return nil
	}
	return s.entries[s.pos].Key
}

func (s *Slice) Value() []byte {
	if !s.Valid() {
		return nil
	}
	return s.entries[s.pos].Value
}

func (s *Slice) Next() {
	if s.Valid() {
		s.pos++
	}
}

func (s *Slice) Error() error {
	return nil
}

func (s *Slice) Len() int {
	return len(s.entries)
}
