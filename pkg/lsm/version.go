package lsm

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"lsmengine/pkg/persistence"
	"lsmengine/pkg/sstable"
	"lsmengine/pkg/types"
)

// Version is an immutable snapshot of the on-disk tree. It is only mutated
// through Append before it is published.
type Version struct {
	levels []*Level
	refs   atomic.Int32
}

func NewVersion() *Version {
	v := &Version{}
	v.refs.Store(1)
	return v
}

// Append adds runs as the newest runs of levelID, creating missing levels.
// The version takes over the caller's references to runs.
func (v *Version) Append(levelID int, runs ...*SortedRun) {
	for len(v.levels) <= levelID {
		v.levels = append(v.levels, newLevel(len(v.levels)))
	}
	v.levels[levelID].Append(runs...)
}

// Get searches levels from shallow to deep. A deletion is a definite miss.
func (v *Version) Get(userKey types.Key, seq types.SeqN) ([]byte, bool, error) {
	res, val, err := v.get(userKey, seq)
	if err != nil || res != types.Found {
		return nil, false, err
	}
	return val, true, nil
}

func (v *Version) get(userKey types.Key, seq types.SeqN) (types.GetResult, []byte, error) {
	for _, l := range v.levels {
		res, val, err := l.Get(userKey, seq)
		if err != nil {
			return types.NotFound, nil, err
		}
		if res != types.NotFound {
			return res, val, nil
		}
	}
	return types.NotFound, nil, nil
}

// Levels returns the levels shallow to deep. Trailing levels may be empty.
func (v *Version) Levels() []*Level {
	return v.levels
}

func (v *Version) Level(id int) *Level {
	if id < len(v.levels) {
		return v.levels[id]
	}
	return newLevel(id)
}

func (v *Version) NumLevels() int {
	return len(v.levels)
}

// Size is the total size of every table in the version.
func (v *Version) Size() uint64 {
	var s uint64
	for _, l := range v.levels {
		s += l.Size()
	}
	return s
}

// emptyBelow reports whether every level deeper than id is empty.
func (v *Version) emptyBelow(id int) bool {
	for _, l := range v.levels[min(id+1, len(v.levels)):] {
		if !l.Empty() {
			return false
		}
	}
	return true
}

// Layout returns the shape recorded in the manifest.
func (v *Version) Layout() [][]persistence.RunInfo {
	out := make([][]persistence.RunInfo, len(v.levels))
	for i, l := range v.levels {
		out[i] = make([]persistence.RunInfo, 0, l.NumRuns())
		for _, r := range l.Runs() {
			ri := persistence.RunInfo{Tables: make([]sstable.Info, 0, r.Len())}
			for _, t := range r.Tables() {
				ri.Tables = append(ri.Tables, t.Info())
			}
			out[i] = append(out[i], ri)
		}
	}
	return out
}

// WithRun returns a successor of v sharing all of its runs, with r appended as
// the newest run of levelID. The successor takes over the caller's reference to r.
func (v *Version) WithRun(levelID int, r *SortedRun) *Version {
	next := NewVersion()
	for _, l := range v.levels {
		next.Append(l.id)
		for _, x := range l.runs {
			x.Ref()
			next.Append(l.id, x)
		}
	}
	next.Append(levelID, r)
	return next
}

func (v *Version) Ref() {
	v.refs.Add(1)
}

// Unref drops a reference. The last one releases every run.
func (v *Version) Unref() error {
	n := v.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		panic("version: negative reference count")
	}
	var errs []error
	for _, l := range v.levels {
		for _, r := range l.runs {
			if err := r.Unref(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (v *Version) String() string {
	parts := make([]string, 0, len(v.levels))
	for _, l := range v.levels {
		parts = append(parts, l.String())
	}
	return fmt.Sprintf("version{%s}", strings.Join(parts, " "))
}
