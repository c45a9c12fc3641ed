package lsm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/iterator"
	"lsmengine/pkg/sstable"
	"lsmengine/pkg/types"
)

func TestLeveledPickerLevel0Trigger(t *testing.T) {
	f := newFixture(t)
	p := NewLeveledPicker(PickerConfig{Level0Trigger: 2, BaseLevelSize: 1 << 30, Ratio: 10})

	v := NewVersion()
	defer v.Unref()
	v.Append(1, f.run(group(put("m", 1, "m"))))
	v.Append(0, f.run(group(put("a", 2, "a"))))
	v.Append(0, f.run(group(put("b", 3, "b"))))

	c, err := p.Pick(v)
	require.NoError(t, err)
	require.Nil(t, c, "two runs do not exceed a trigger of two")

	v.Append(0, f.run(group(put("c", 4, "c"))))
	c, err = p.Pick(v)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 0, c.SrcLevel)
	require.Equal(t, 1, c.TargetLevel)
	require.Len(t, c.InputRuns, 3)
	require.Same(t, v.Level(1).Runs()[0], c.TargetRun)
	require.False(t, c.LastLevel)
}

func TestLeveledPickerLevelSize(t *testing.T) {
	f := newFixture(t)
	small := f.table(put("a", 1, "x"))
	big := f.table(put("b", 1, string(make([]byte, 400))))
	src := NewSortedRun(small, big)
	require.NoError(t, small.Unref())
	require.NoError(t, big.Unref())

	v := NewVersion()
	defer v.Unref()
	v.Append(1, src)

	p := NewLeveledPicker(PickerConfig{Level0Trigger: 4, BaseLevelSize: 100, Ratio: 2})
	require.Equal(t, uint64(200), p.Capacity(1))

	c, err := p.Pick(v)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 1, c.SrcLevel)
	require.Equal(t, 2, c.TargetLevel)
	require.Equal(t, []*sstable.Table{small}, c.InputSSTs)
	require.Same(t, src, c.SrcRun)
	require.Nil(t, c.TargetRun)
	require.True(t, c.LastLevel)
}

func TestLeveledPickerNotLastWhenDeeperDataExists(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	defer v.Unref()
	v.Append(1, f.run(group(put("a", 1, string(make([]byte, 400))))))
	v.Append(2)
	v.Append(3, f.run(group(put("z", 1, "deep"))))

	c, err := NewLeveledPicker(PickerConfig{Level0Trigger: 4, BaseLevelSize: 10, Ratio: 2}).Pick(v)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 2, c.TargetLevel)
	require.Nil(t, c.TargetRun)
	require.False(t, c.LastLevel)
}

func TestUnsupportedStrategies(t *testing.T) {
	for _, s := range []Strategy{StrategyTiered, StrategyFluid, StrategyLazyLeveling} {
		p, err := NewPicker(s, PickerConfig{})
		require.NoError(t, err)
		_, err = p.Pick(NewVersion())
		require.True(t, errors.Is(err, dberrors.ErrUnsupportedStrategy), "%s: %v", s, err)
	}

	_, err := NewPicker("bogus", PickerConfig{})
	require.True(t, errors.Is(err, dberrors.ErrInvalidArgument))

	p, err := NewPicker(StrategyLeveled, PickerConfig{Level0Trigger: 1})
	require.NoError(t, err)
	require.IsType(t, &LeveledPicker{}, p)
}

func TestCompactionJobKeepsNewestPerKey(t *testing.T) {
	f := newFixture(t)
	older := f.run(group(put("a", 1, "a1"), put("b", 1, "b1"), put("c", 1, "c1")))
	newer := f.run(group(put("a", 4, "a4"), del("b", 5)))
	c := &Compaction{InputRuns: []*SortedRun{older, newer}, TargetLevel: 1}
	defer older.Unref()
	defer newer.Unref()

	job := NewCompactionJob(f.names, JobOptions{Table: f.opts})
	infos, err := job.Run(c.NewInputIterator())
	require.NoError(t, err)
	require.Len(t, infos, 1)

	out := f.open(infos[0])
	defer out.Unref()
	it := out.NewIterator()
	it.SeekToFirst()
	require.Equal(t, []string{`"a"#4,val=a4`, `"b"#5,del=`, `"c"#1,val=c1`}, drain(it))
	require.Equal(t, uint64(5), job.Stats().RecordsIn)
	require.Equal(t, uint64(2), job.Stats().Dropped)
}

func TestCompactionJobDropsTombstonesOnLastLevel(t *testing.T) {
	f := newFixture(t)
	in := iterator.NewSlice([]iterator.Entry{
		put("a", 2, "a2"),
		del("b", 9),
		put("b", 3, "b3"),
		put("c", 1, "c1"),
	})

	infos, err := NewCompactionJob(f.names, JobOptions{Table: f.opts, DropTombstones: true}).Run(in)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	out := f.open(infos[0])
	defer out.Unref()
	it := out.NewIterator()
	it.SeekToFirst()
	require.Equal(t, []string{`"a"#2,val=a2`, `"c"#1,val=c1`}, drain(it))
}

func TestCompactionJobKeepVersions(t *testing.T) {
	f := newFixture(t)
	in := iterator.NewSlice([]iterator.Entry{put("a", 3, "a3"), del("a", 2), put("a", 1, "a1")})

	infos, err := NewCompactionJob(f.names, JobOptions{Table: f.opts, KeepVersions: true}).Run(in)
	require.NoError(t, err)
	require.Equal(t, uint64(3), infos[0].Count)
}

func TestCompactionJobBoundsOutputSize(t *testing.T) {
	f := newFixture(t)
	var entries []iterator.Entry
	for i := 0; i < 400; i++ {
		k := fmt.Sprintf("key%04d", i)
		entries = append(entries, put(k, 2, "new-"+k), put(k, 1, "old-"+k))
	}

	const target = 2048
	job := NewCompactionJob(f.names, JobOptions{Table: f.opts, TargetSize: target})
	infos, err := job.Run(iterator.NewSlice(entries))
	require.NoError(t, err)
	require.Greater(t, len(infos), 3)

	var prevLargest []byte
	var total uint64
	for _, info := range infos {
		require.LessOrEqual(t, info.IndexOffset, uint64(target), "data section of %s", info.FilePath)
		tbl := f.open(info)
		if prevLargest != nil {
			require.Less(t, string(types.UserKey(prevLargest)), string(types.UserKey(tbl.Smallest())),
				"outputs must not overlap")
		}
		prevLargest = append([]byte(nil), tbl.Largest()...)
		total += tbl.Count()
		require.NoError(t, tbl.Unref())
	}
	require.Equal(t, uint64(400), total)
}

func TestCompactionJobEmptyInput(t *testing.T) {
	f := newFixture(t)
	infos, err := NewCompactionJob(f.names, JobOptions{Table: f.opts}).Run(iterator.NewSlice(nil))
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestApplyCompactionReplacesInputs(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	v.Append(1, f.run(group(put("a", 1, "a1"), put("d", 1, "d1"))))
	v.Append(0, f.run(group(put("a", 5, "a5"))))
	v.Append(0, f.run(group(del("d", 6), put("e", 7, "e7"))))

	p := NewLeveledPicker(PickerConfig{Level0Trigger: 1, BaseLevelSize: 1 << 30, Ratio: 10})
	c, err := p.Pick(v)
	require.NoError(t, err)
	require.NotNil(t, c)

	var inputs []string
	for _, r := range append(append([]*SortedRun(nil), c.InputRuns...), c.TargetRun) {
		for _, tbl := range r.Tables() {
			inputs = append(inputs, tbl.Info().FilePath)
		}
	}

	infos, err := NewCompactionJob(f.names, JobOptions{Table: f.opts, DropTombstones: c.LastLevel}).Run(c.NewInputIterator())
	require.NoError(t, err)
	outputs := make([]*sstable.Table, 0, len(infos))
	for _, info := range infos {
		outputs = append(outputs, f.open(info))
	}

	next := ApplyCompaction(v, c, outputs)
	for _, tbl := range outputs {
		require.NoError(t, tbl.Unref())
	}
	c.Retire()
	require.NoError(t, v.Unref())
	defer next.Unref()

	for _, p := range inputs {
		require.NoFileExists(t, p)
	}
	require.True(t, next.Level(0).Empty())
	require.Equal(t, 1, next.Level(1).NumRuns())

	val, ok := mustGet(t, next, "a", types.MaxSeqN)
	require.True(t, ok)
	require.Equal(t, "a5", val)
	_, ok = mustGet(t, next, "d", types.MaxSeqN)
	require.False(t, ok)
	val, ok = mustGet(t, next, "e", types.MaxSeqN)
	require.True(t, ok)
	require.Equal(t, "e7", val)
}

func TestApplyCompactionKeepsRestOfSourceRun(t *testing.T) {
	f := newFixture(t)
	small := f.table(put("a", 1, "a"))
	big := f.table(put("m", 1, string(make([]byte, 400))))
	src := NewSortedRun(small, big)
	require.NoError(t, small.Unref())
	require.NoError(t, big.Unref())

	v := NewVersion()
	v.Append(1, src)
	v.Append(2, f.run(group(put("b", 1, "b"))))

	c, err := NewLeveledPicker(PickerConfig{Level0Trigger: 4, BaseLevelSize: 100, Ratio: 2}).Pick(v)
	require.NoError(t, err)
	require.Equal(t, []*sstable.Table{small}, c.InputSSTs)
	require.NotNil(t, c.TargetRun)

	infos, err := NewCompactionJob(f.names, JobOptions{Table: f.opts}).Run(c.NewInputIterator())
	require.NoError(t, err)
	out := f.open(infos[0])

	next := ApplyCompaction(v, c, []*sstable.Table{out})
	require.NoError(t, out.Unref())
	c.Retire()
	require.NoError(t, v.Unref())
	defer next.Unref()

	require.NoFileExists(t, small.Info().FilePath)
	require.FileExists(t, big.Info().FilePath)
	require.Equal(t, []*sstable.Table{big}, next.Level(1).Runs()[0].Tables())
	require.Equal(t, uint64(2), next.Level(2).Runs()[0].Tables()[0].Count())

	for _, k := range []string{"a", "b", "m"} {
		_, ok := mustGet(t, next, k, types.MaxSeqN)
		require.True(t, ok, k)
	}
}

func TestLevel0CompactionPrefersNewerRunOnEqualKeys(t *testing.T) {
	f := newFixture(t)
	v := NewVersion()
	defer v.Unref()
	v.Append(1, f.run(group(put("a", 5, "target"), put("c", 5, "c-target"))))
	v.Append(0, f.run(group(put("a", 5, "old"), put("b", 2, "b-old"))))
	v.Append(0, f.run(group(put("a", 5, "new"), put("b", 2, "b-new"), put("c", 5, "c-new"))))

	c := Level0Compaction(v)
	require.NotNil(t, c)
	require.Len(t, c.InputRuns, 2)
	require.NotNil(t, c.TargetRun)

	job := NewCompactionJob(f.names, JobOptions{Table: f.opts})
	infos, err := job.Run(c.NewInputIterator())
	require.NoError(t, err)
	require.Len(t, infos, 1)

	out := f.open(infos[0])
	defer out.Unref()
	it := out.NewIterator()
	it.SeekToFirst()
	require.Equal(t, []string{`"a"#5,val=new`, `"b"#2,val=b-new`, `"c"#5,val=c-new`}, drain(it))
	require.Equal(t, uint64(4), job.Stats().Dropped)
}

func TestCompactionInputOrderSourceBeforeTarget(t *testing.T) {
	f := newFixture(t)
	src := f.table(put("k", 7, "src"))
	target := f.run(group(put("k", 7, "target")))
	defer src.Unref()
	defer target.Unref()

	c := &Compaction{InputSSTs: []*sstable.Table{src}, SrcLevel: 1, TargetLevel: 2, TargetRun: target}
	it := c.NewInputIterator()
	it.SeekToFirst()
	require.Equal(t, []string{`"k"#7,val=src`, `"k"#7,val=target`}, drain(it))
}
