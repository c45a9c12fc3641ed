package lsm

import (
	"fmt"
	"strings"

	"lsmengine/pkg/types"
)

// Level is a list of sorted runs, oldest first. Runs may overlap each other.
type Level struct {
	id   int
	runs []*SortedRun
	size uint64
}

func newLevel(id int) *Level {
	return &Level{id: id}
}

// Get consults runs from newest to oldest and stops at the first run that knows the key.
func (l *Level) Get(userKey types.Key, seq types.SeqN) (types.GetResult, []byte, error) {
	for i := len(l.runs) - 1; i >= 0; i-- {
		res, v, err := l.runs[i].Get(userKey, seq)
		if err != nil {
			return types.NotFound, nil, fmt.Errorf("level %d: %w", l.id, err)
		}
		if res != types.NotFound {
			return res, v, nil
		}
	}
	return types.NotFound, nil, nil
}

// Append adds runs as the newest of the level. The level takes over the caller's references.
func (l *Level) Append(runs ...*SortedRun) {
	for _, r := range runs {
		l.runs = append(l.runs, r)
		l.size += r.Size()
	}
}

func (l *Level) ID() int {
	return l.id
}

// Runs returns the runs oldest first.
func (l *Level) Runs() []*SortedRun {
	return l.runs
}

func (l *Level) NumRuns() int {
	return len(l.runs)
}

func (l *Level) Size() uint64 {
	return l.size
}

func (l *Level) Empty() bool {
	return len(l.runs) == 0
}

func (l *Level) String() string {
	parts := make([]string, 0, len(l.runs))
	for _, r := range l.runs {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("L%d[%s]", l.id, strings.Join(parts, " "))
}
