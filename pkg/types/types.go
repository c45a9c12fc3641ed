package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqN represents a monotonically increasing sequence used for MVCC ordering and snapshot visibility.
type SeqN = uint64

// MaxSeqN sees every record.
const MaxSeqN SeqN = ^SeqN(0)

// RecordType tells a value apart from a tombstone.
type RecordType uint8

const (
	RecordDeletion RecordType = iota
	RecordValue
)

func (t RecordType) String() string {
	switch t {
	case RecordDeletion:
		return "del"
	case RecordValue:
		return "val"
	default:
		return "unknown"
	}
}

// GetResult is the three-way answer of a point lookup.
type GetResult uint8

const (
	NotFound GetResult = iota
	Found
	Deleted
)

func (r GetResult) String() string {
	switch r {
	case Found:
		return "found"
	case Deleted:
		return "deleted"
	default:
		return "not found"
	}
}
