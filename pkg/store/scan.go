package store

import (
	"bytes"
	"sync"

	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/lsm"
	"lsmengine/pkg/snapshot"
	"lsmengine/pkg/types"
)

// KV is one live key returned by Scan.
type KV struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

var _ snapshot.Snapshot = (*Snapshot)(nil)

// Snapshot pins a read view. Reads through it ignore later writes, and the
// tables it references stay on disk until Close.
type Snapshot struct {
	s    *Store
	sv   *lsm.SuperVersion
	once sync.Once
	err  error
}

func (s *Store) Snapshot() (*Snapshot, error) {
	sv, err := s.superVersion()
	if err != nil {
		return nil, err
	}
	return &Snapshot{s: s, sv: sv}, nil
}

func (sn *Snapshot) Sequence() types.SeqN {
	return sn.sv.Seq()
}

func (sn *Snapshot) Get(key types.Key) (types.Value, bool, error) {
	return sn.s.get(sn.sv, key, sn.sv.Seq())
}

// Scan returns live keys in [start, end) as of the snapshot. A nil end is unbounded
// and limit <= 0 means no limit.
func (sn *Snapshot) Scan(start, end []byte, limit int) ([]KV, error) {
	return scan(sn.sv, start, end, limit)
}

func (sn *Snapshot) Close() error {
	sn.once.Do(func() {
		sn.err = sn.sv.Release()
	})
	return sn.err
}

// Scan returns live keys in [start, end) as of now.
func (s *Store) Scan(start, end []byte, limit int) ([]KV, error) {
	sv, err := s.superVersion()
	if err != nil {
		return nil, err
	}
	defer s.release(sv)
	return scan(sv, start, end, limit)
}

func scan(sv *lsm.SuperVersion, start, end []byte, limit int) ([]KV, error) {
	if end != nil && bytes.Compare(start, end) > 0 {
		return nil, dberrors.ErrInvalidArgument
	}

	seq := sv.Seq()
	it := sv.NewIterator()
	it.Seek(start, seq)

	var (
		out  []KV
		last []byte
		seen bool
	)
	for ; it.Valid(); it.Next() {
		k := types.ParseKey(it.Key())
		if end != nil && bytes.Compare(k.UserKey, end) >= 0 {
			break
		}
		if k.Seq > seq {
			continue
		}
		if seen && bytes.Equal(k.UserKey, last) {
			continue
		}
		last = append(last[:0], k.UserKey...)
		seen = true

		if k.Type == types.RecordDeletion {
			continue
		}
		out = append(out, KV{
			Key:   append([]byte(nil), k.UserKey...),
			Value: append([]byte(nil), it.Value()...),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}
