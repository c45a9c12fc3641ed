package lsm

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmengine/pkg/iterator"
	"lsmengine/pkg/persistence"
	"lsmengine/pkg/sstable"
	"lsmengine/pkg/types"
)

func put(k string, seq types.SeqN, v string) iterator.Entry {
	return iterator.Entry{Key: types.NewKey([]byte(k), seq, types.RecordValue).Encode(), Value: []byte(v)}
}

func del(k string, seq types.SeqN) iterator.Entry {
	return iterator.Entry{Key: types.NewKey([]byte(k), seq, types.RecordDeletion).Encode()}
}

type fixture struct {
	t     *testing.T
	dir   string
	names *persistence.DirFileNames
	opts  sstable.Options
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	opts := sstable.DefaultOptions()
	opts.BlockSize = 512
	return &fixture{t: t, dir: dir, names: persistence.NewDirFileNames(dir, 0), opts: opts}
}

// table writes entries (in any order) to a new table and opens it.
// The caller owns the returned reference.
func (f *fixture) table(entries ...iterator.Entry) *sstable.Table {
	f.t.Helper()
	sorted := append([]iterator.Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return types.CompareInternal(sorted[i].Key, sorted[j].Key) < 0
	})

	path, id := f.names.Generate()
	b, err := sstable.Create(path, f.opts)
	require.NoError(f.t, err)
	for _, e := range sorted {
		require.NoError(f.t, b.Append(types.ParseKey(e.Key), e.Value))
	}
	require.NoError(f.t, b.Finish())
	require.NoError(f.t, b.Close())

	return f.open(b.Info(id))
}

func (f *fixture) open(info sstable.Info) *sstable.Table {
	f.t.Helper()
	tbl, err := sstable.Open(info)
	require.NoError(f.t, err)
	return tbl
}

// run builds a sorted run from one table per entry group and drops the creator references.
func (f *fixture) run(groups ...[]iterator.Entry) *SortedRun {
	f.t.Helper()
	tables := make([]*sstable.Table, 0, len(groups))
	for _, g := range groups {
		tables = append(tables, f.table(g...))
	}
	r := NewSortedRun(tables...)
	for _, tbl := range tables {
		require.NoError(f.t, tbl.Unref())
	}
	return r
}

func group(entries ...iterator.Entry) []iterator.Entry {
	return entries
}

func drain(it iterator.Iterator) []string {
	var out []string
	for ; it.Valid(); it.Next() {
		out = append(out, fmt.Sprintf("%s=%s", types.ParseKey(it.Key()), it.Value()))
	}
	return out
}

func mustGet(t *testing.T, g interface {
	Get(types.Key, types.SeqN) ([]byte, bool, error)
}, key string, seq types.SeqN) (string, bool) {
	t.Helper()
	v, ok, err := g.Get([]byte(key), seq)
	require.NoError(t, err)
	return string(v), ok
}
