package lsm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmengine/pkg/memtable"
	"lsmengine/pkg/types"
)

func TestSortedRunCrossesTables(t *testing.T) {
	f := newFixture(t)
	r := f.run(
		group(put("a", 1, "a1"), put("b", 2, "b2")),
		group(put("d", 3, "d3"), del("e", 4)),
		group(put("g", 5, "g5")),
	)
	defer r.Unref()

	tests := []struct {
		key  string
		want types.GetResult
		val  string
	}{
		{"a", types.Found, "a1"},
		{"b", types.Found, "b2"},
		{"c", types.NotFound, ""},
		{"d", types.Found, "d3"},
		{"e", types.Deleted, ""},
		{"g", types.Found, "g5"},
		{"h", types.NotFound, ""},
	}
	for _, tt := range tests {
		res, v, err := r.Get([]byte(tt.key), types.MaxSeqN)
		require.NoError(t, err)
		require.Equal(t, tt.want, res, tt.key)
		require.Equal(t, tt.val, string(v))
	}

	it := r.NewIterator()
	it.SeekToFirst()
	require.Equal(t, []string{
		`"a"#1,val=a1`, `"b"#2,val=b2`, `"d"#3,val=d3`, `"e"#4,del=`, `"g"#5,val=g5`,
	}, drain(it))

	it.Seek([]byte("c"), types.MaxSeqN)
	require.Equal(t, []string{`"d"#3,val=d3`, `"e"#4,del=`, `"g"#5,val=g5`}, drain(it))

	it.Seek([]byte("b"), 1)
	require.Equal(t, "d", string(types.UserKey(it.Key())))
}

func TestVersionPrefersShallowLevels(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	v.Append(1, f.run(group(put("a", 3, "old"), put("b", 2, "b"), put("c", 1, "c-old"))))
	v.Append(0, f.run(group(put("a", 5, "new"), del("c", 6))))
	defer v.Unref()

	val, ok := mustGet(t, v, "a", types.MaxSeqN)
	require.True(t, ok)
	require.Equal(t, "new", val)

	val, ok = mustGet(t, v, "a", 4)
	require.True(t, ok)
	require.Equal(t, "old", val)

	val, ok = mustGet(t, v, "b", types.MaxSeqN)
	require.True(t, ok)
	require.Equal(t, "b", val)

	_, ok = mustGet(t, v, "c", types.MaxSeqN)
	require.False(t, ok, "deletion in L0 hides L1")

	val, ok = mustGet(t, v, "c", 5)
	require.True(t, ok)
	require.Equal(t, "c-old", val)

	_, ok = mustGet(t, v, "zz", types.MaxSeqN)
	require.False(t, ok)

	require.Equal(t, 2, v.NumLevels())
	require.True(t, strings.HasPrefix(v.String(), "version{L0[run(1 sst"), v.String())
}

func TestLevelNewestRunWins(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	v.Append(0, f.run(group(put("k", 1, "first"))))
	v.Append(0, f.run(group(put("k", 2, "second"))))
	defer v.Unref()

	val, ok := mustGet(t, v, "k", types.MaxSeqN)
	require.True(t, ok)
	require.Equal(t, "second", val)
	require.Equal(t, 2, v.Level(0).NumRuns())
	require.True(t, v.Level(7).Empty())
}

func TestSuperVersionScenario(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	v.Append(1, f.run(group(put("a", 1, "x"), put("b", 1, "b-disk"))))
	defer v.Unref()

	imm := memtable.New(1)
	imm.Put([]byte("a"), 2, types.RecordValue, []byte("y"))
	mem := memtable.New(2)
	mem.Put([]byte("a"), 3, types.RecordDeletion, nil)
	mem.Put([]byte("c"), 4, types.RecordValue, []byte("c-mem"))

	sv := NewSuperVersion(mem, []Memtable{imm}, v, 4)
	defer func() { require.NoError(t, sv.Release()) }()

	tests := []struct {
		key string
		seq types.SeqN
		ok  bool
		val string
	}{
		{"a", 1, true, "x"},
		{"a", 2, true, "y"},
		{"a", 3, false, ""},
		{"b", 3, true, "b-disk"},
		{"c", 3, false, ""},
		{"c", 4, true, "c-mem"},
		{"d", 4, false, ""},
	}
	for _, tt := range tests {
		val, ok := mustGet(t, sv, tt.key, tt.seq)
		require.Equal(t, tt.ok, ok, "%s@%d", tt.key, tt.seq)
		require.Equal(t, tt.val, val)
	}
	require.Equal(t, types.SeqN(4), sv.Seq())
	require.Contains(t, sv.String(), "imm=[")
}

func TestSuperVersionIterator(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	v.Append(1, f.run(group(put("a", 1, "a1"), put("d", 1, "d1"))))
	v.Append(0, f.run(group(put("b", 2, "b2"))))
	defer v.Unref()

	mem := memtable.New(1)
	mem.Put([]byte("a"), 5, types.RecordValue, []byte("a5"))
	mem.Put([]byte("c"), 6, types.RecordDeletion, nil)

	sv := NewSuperVersion(mem, nil, v, 6)
	defer sv.Release()

	it := sv.NewIterator()
	it.SeekToFirst()
	require.Equal(t, []string{
		`"a"#5,val=a5`, `"a"#1,val=a1`, `"b"#2,val=b2`, `"c"#6,del=`, `"d"#1,val=d1`,
	}, drain(it))
	require.NoError(t, it.Error())

	it.Seek([]byte("b"), types.MaxSeqN)
	require.Equal(t, []string{`"b"#2,val=b2`, `"c"#6,del=`, `"d"#1,val=d1`}, drain(it))

	it.Seek([]byte("e"), types.MaxSeqN)
	require.False(t, it.Valid())
}

func TestSuperVersionIteratorPrefersNewestSourceOnEqualKeys(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	v.Append(1, f.run(group(put("a", 3, "l1"))))
	v.Append(0, f.run(group(put("a", 3, "l0-old"))))
	v.Append(0, f.run(group(put("a", 3, "l0-new"))))
	defer v.Unref()

	imm := memtable.New(1)
	imm.Put([]byte("a"), 3, types.RecordValue, []byte("imm"))
	mem := memtable.New(2)
	mem.Put([]byte("a"), 3, types.RecordValue, []byte("mem"))

	sv := NewSuperVersion(mem, []Memtable{imm}, v, 3)
	defer sv.Release()

	it := sv.NewIterator()
	it.SeekToFirst()
	require.Equal(t, []string{
		`"a"#3,val=mem`, `"a"#3,val=imm`, `"a"#3,val=l0-new`, `"a"#3,val=l0-old`, `"a"#3,val=l1`,
	}, drain(it))

	it.Seek([]byte("a"), 3)
	require.True(t, it.Valid())
	require.Equal(t, "mem", string(it.Value()))
}

func TestVersionKeepsTablesAliveUntilReleased(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	r := f.run(group(put("a", 1, "x")))
	tbl := r.Tables()[0]
	v.Append(1, r)

	sv := NewSuperVersion(memtable.New(1), nil, v, 1)
	require.NoError(t, v.Unref())

	tbl.MarkRemoved()
	val, ok := mustGet(t, sv, "a", 1)
	require.True(t, ok)
	require.Equal(t, "x", val)
	require.FileExists(t, tbl.Info().FilePath)

	require.NoError(t, sv.Release())
	require.NoFileExists(t, tbl.Info().FilePath)
}
