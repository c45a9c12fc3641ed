package snapshot

import "lsmengine/pkg/types"

// Snapshot provides a consistent view of the database at a given sequence.
type Snapshot interface {
	// Sequence returns the read sequence number.
	Sequence() types.SeqN
	// Get reads key as of the snapshot.
	Get(key types.Key) (types.Value, bool, error)
	// Close releases the snapshot.
	Close() error
}
