package block

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/persistence"
	"lsmengine/pkg/types"
)

type record struct {
	key   types.ParsedKey
	value string
}

// buildBlock writes records into a single block and returns its bytes and handle.
func buildBlock(t *testing.T, blockSize int, recs []record) ([]byte, Handle, int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "block")
	w, err := persistence.CreateFile(path, 0)
	require.NoError(t, err)

	b := NewBuilder(blockSize, w)
	appended := 0
	for _, r := range recs {
		if !b.Append(r.key, []byte(r.value)) {
			break
		}
		appended++
	}
	b.Finish()
	h := Handle{Offset: 0, Size: uint32(b.Size()), Count: uint32(b.Count())}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	require.Equal(t, uint64(h.Size), w.Size())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data, h, appended
}

func sampleRecords(n int) []record {
	recs := make([]record, 0, n*2)
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key%03d", i))
		recs = append(recs,
			record{types.NewKey(k, 20, types.RecordValue), fmt.Sprintf("new%d", i)},
			record{types.NewKey(k, 10, types.RecordValue), fmt.Sprintf("old%d", i)},
		)
	}
	return recs
}

func TestBuilderRejectsWhenFull(t *testing.T) {
	w, err := persistence.CreateFile(filepath.Join(t.TempDir(), "b"), 0)
	require.NoError(t, err)
	defer w.Close()

	k := types.NewKey([]byte("k"), 1, types.RecordValue)
	entry := EntrySize(k, []byte("v"))
	b := NewBuilder(int(entry*2), w)

	require.True(t, b.Append(k, []byte("v")))
	require.True(t, b.Append(types.NewKey([]byte("l"), 1, types.RecordValue), []byte("v")))
	before := w.Size()
	require.False(t, b.Append(types.NewKey([]byte("m"), 1, types.RecordValue), []byte("v")))
	require.Equal(t, before, w.Size(), "rejected append must not write")
	require.Equal(t, 2, b.Count())
	require.Equal(t, entry*2, b.Size())
	require.Equal(t, 0, types.CompareInternal(b.LastKey(), types.NewKey([]byte("l"), 1, types.RecordValue).Encode()))

	b.Reset()
	require.Zero(t, b.Count())
	require.Zero(t, b.Size())
}

func TestIteratorWalksInOrder(t *testing.T) {
	recs := sampleRecords(20)
	data, h, n := buildBlock(t, 1<<16, recs)
	require.Equal(t, len(recs), n)

	it := NewIterator(data, h)
	it.SeekToFirst()
	var prev []byte
	i := 0
	for ; it.Valid(); it.Next() {
		if prev != nil {
			require.Negative(t, types.CompareInternal(prev, it.Key()))
		}
		require.Equal(t, recs[i].value, string(it.Value()))
		prev = append(prev[:0], it.Key()...)
		i++
	}
	require.NoError(t, it.Error())
	require.Equal(t, len(recs), i)
}

func TestIteratorSeek(t *testing.T) {
	data, h, _ := buildBlock(t, 1<<16, sampleRecords(10))
	it := NewIterator(data, h)

	tests := []struct {
		name  string
		key   string
		seq   types.SeqN
		valid bool
		want  string
	}{
		{"newest visible", "key005", 25, true, "new5"},
		{"exact seq", "key005", 20, true, "new5"},
		{"older snapshot", "key005", 15, true, "old5"},
		{"before all versions", "key005", 5, true, "new6"},
		{"missing key lands on next", "key0055", 100, true, "new6"},
		{"before first", "a", 1, true, "new0"},
		{"past end", "z", 1, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it.Seek([]byte(tt.key), tt.seq)
			require.Equal(t, tt.valid, it.Valid())
			if tt.valid {
				require.Equal(t, tt.want, string(it.Value()))
			}
		})
	}
}

func TestEmptyBlock(t *testing.T) {
	data, h, _ := buildBlock(t, 1<<10, nil)
	require.Zero(t, h.Size)

	it := NewIterator(data, h)
	it.SeekToFirst()
	require.False(t, it.Valid())
	it.Seek([]byte("a"), 1)
	require.False(t, it.Valid())
	require.NoError(t, it.Error())
}

func TestCorruptBlockReportsError(t *testing.T) {
	data, h, _ := buildBlock(t, 1<<10, sampleRecords(2))

	it := NewIterator(data[:h.Size-1], h)
	require.False(t, it.Valid())
	require.True(t, errors.Is(it.Error(), dberrors.ErrCorrupted))

	bad := append([]byte(nil), data...)
	// point the first offset far outside the record region
	bad[len(bad)-4*int(h.Count)] = 0xff
	bad[len(bad)-4*int(h.Count)+1] = 0xff
	it = NewIterator(bad, h)
	it.SeekToFirst()
	require.False(t, it.Valid())
	require.True(t, errors.Is(it.Error(), dberrors.ErrCorrupted))
}
