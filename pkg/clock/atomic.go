package clock

import (
	"sync/atomic"

	"lsmengine/pkg/types"
)

// AtomicClock hands out sequence numbers and file ids.
type AtomicClock struct {
	atomic.Uint64
}

func NewAtomic(init types.SeqN) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

// Val returns the last value handed out.
func (ac *AtomicClock) Val() types.SeqN {
	return ac.Load()
}

func (ac *AtomicClock) Next() types.SeqN {
	return ac.Add(1)
}

// Reserve hands out n consecutive values and returns the first one.
func (ac *AtomicClock) Reserve(n uint64) types.SeqN {
	return ac.Add(n) - n + 1
}

// Set moves the clock forward only; it never goes back.
func (ac *AtomicClock) Set(t types.SeqN) {
	for {
		cur := ac.Load()
		if t <= cur || ac.CompareAndSwap(cur, t) {
			return
		}
	}
}
