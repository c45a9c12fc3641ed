package types

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareOrdersNewestFirst(t *testing.T) {
	keys := []ParsedKey{
		NewKey([]byte("b"), 1, RecordValue),
		NewKey([]byte("a"), 1, RecordValue),
		NewKey([]byte("a"), 3, RecordDeletion),
		NewKey([]byte("a"), 2, RecordValue),
		NewKey([]byte("ab"), 9, RecordValue),
	}
	sort.Slice(keys, func(i, j int) bool { return Less(keys[i], keys[j]) })

	want := []string{`"a"#3,del`, `"a"#2,val`, `"a"#1,val`, `"ab"#9,val`, `"b"#1,val`}
	for i, k := range keys {
		require.Equal(t, want[i], k.String())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	k := NewKey([]byte("user"), 42, RecordDeletion)
	enc := k.Encode()
	require.Len(t, enc, k.EncodedLen())

	got, ok := DecodeKey(enc)
	require.True(t, ok)
	require.Equal(t, 0, Compare(k, got))
	require.Equal(t, []byte("user"), UserKey(enc))
}

func TestDecodeKeyRejectsShortInput(t *testing.T) {
	_, ok := DecodeKey([]byte{1, 2, 3})
	require.False(t, ok)
	require.Nil(t, UserKey([]byte{1}))
}

func TestSeekKeySortsBeforeVisibleVersions(t *testing.T) {
	target := SeekKey([]byte("a"), 5)
	require.True(t, Less(target, NewKey([]byte("a"), 5, RecordDeletion)))
	require.True(t, Less(target, NewKey([]byte("a"), 4, RecordValue)))
	require.True(t, Less(NewKey([]byte("a"), 6, RecordValue), target))
	require.Equal(t, 0, CompareInternal(target.Encode(), NewKey([]byte("a"), 5, RecordValue).Encode()))
}
