package lsm

import (
	"fmt"

	"lsmengine/pkg/iterator"
	"lsmengine/pkg/sstable"
)

// Compaction describes one merge chosen by a Picker.
//
// InputRuns are consumed whole. InputSSTs are single tables taken out of
// SrcRun, which keeps its other tables. The merged output replaces TargetRun
// in TargetLevel, or becomes a new run there when TargetRun is nil.
type Compaction struct {
	InputSSTs   []*sstable.Table
	InputRuns   []*SortedRun
	SrcRun      *SortedRun
	SrcLevel    int
	TargetLevel int
	TargetRun   *SortedRun
	// LastLevel is set when nothing older than the output exists, so tombstones can go.
	LastLevel bool
}

// NewInputIterator merges every input. Sources are registered newest first:
// input runs newest to oldest, then the source tables, then the target run.
func (c *Compaction) NewInputIterator() *iterator.Heap[iterator.Iterator] {
	h := iterator.NewHeap[iterator.Iterator]()
	for i := len(c.InputRuns) - 1; i >= 0; i-- {
		h.Push(c.InputRuns[i].NewIterator())
	}
	for _, t := range c.InputSSTs {
		h.Push(t.NewIterator())
	}
	if c.TargetRun != nil {
		h.Push(c.TargetRun.NewIterator())
	}
	return h
}

// Retire tags every consumed table for deletion once it is no longer referenced.
func (c *Compaction) Retire() {
	for _, r := range c.InputRuns {
		for _, t := range r.Tables() {
			t.MarkRemoved()
		}
	}
	for _, t := range c.InputSSTs {
		t.MarkRemoved()
	}
	if c.TargetRun != nil {
		for _, t := range c.TargetRun.Tables() {
			t.MarkRemoved()
		}
	}
}

// InputSize is the total size of the tables read by the compaction.
func (c *Compaction) InputSize() uint64 {
	var s uint64
	for _, r := range c.InputRuns {
		s += r.Size()
	}
	for _, t := range c.InputSSTs {
		s += t.Size()
	}
	if c.TargetRun != nil {
		s += c.TargetRun.Size()
	}
	return s
}

func (c *Compaction) String() string {
	target := 0
	if c.TargetRun != nil {
		target = c.TargetRun.Len()
	}
	return fmt.Sprintf("L%d->L%d runs=%d ssts=%d target=%d last=%t",
		c.SrcLevel, c.TargetLevel, len(c.InputRuns), len(c.InputSSTs), target, c.LastLevel)
}

// ApplyCompaction builds the successor of v with the compaction inputs
// replaced by outputs. The new version takes its own references to outputs.
func ApplyCompaction(v *Version, c *Compaction, outputs []*sstable.Table) *Version {
	consumed := make(map[*SortedRun]bool, len(c.InputRuns)+2)
	for _, r := range c.InputRuns {
		consumed[r] = true
	}
	if c.SrcRun != nil && len(c.InputSSTs) > 0 {
		consumed[c.SrcRun] = true
	}
	if c.TargetRun != nil {
		consumed[c.TargetRun] = true
	}

	next := NewVersion()
	for _, l := range v.Levels() {
		next.Append(l.ID())
		for _, r := range l.Runs() {
			switch {
			case r == c.TargetRun:
				if len(outputs) > 0 {
					next.Append(l.ID(), NewSortedRun(outputs...))
				}
			case r == c.SrcRun && consumed[r]:
				if rest := remaining(r, c.InputSSTs); len(rest) > 0 {
					next.Append(l.ID(), NewSortedRun(rest...))
				}
			case consumed[r]:
			default:
				r.Ref()
				next.Append(l.ID(), r)
			}
		}
	}
	if c.TargetRun == nil && len(outputs) > 0 {
		next.Append(c.TargetLevel, NewSortedRun(outputs...))
	}
	return next
}

func remaining(r *SortedRun, drop []*sstable.Table) []*sstable.Table {
	out := make([]*sstable.Table, 0, r.Len())
outer:
	for _, t := range r.Tables() {
		for _, d := range drop {
			if t == d {
				continue outer
			}
		}
		out = append(out, t)
	}
	return out
}
