package lsm

import (
	"fmt"
	"strings"

	"lsmengine/pkg/iterator"
	"lsmengine/pkg/types"
)

// Memtable is the in-memory side of a read view.
type Memtable interface {
	Get(userKey types.Key, seq types.SeqN) (types.GetResult, types.Value)
	ApproximateSize() uint64
	NewIterator() iterator.Iterator
}

// SuperVersion is the read view of a snapshot: the live memtable, the
// immutable memtables waiting for flush (newest last) and one Version.
type SuperVersion struct {
	mem     Memtable
	imms    []Memtable
	version *Version
	seq     types.SeqN
}

// NewSuperVersion takes a reference on v. Release drops it.
func NewSuperVersion(mem Memtable, imms []Memtable, v *Version, seq types.SeqN) *SuperVersion {
	v.Ref()
	return &SuperVersion{
		mem:     mem,
		imms:    append([]Memtable(nil), imms...),
		version: v,
		seq:     seq,
	}
}

// Get returns the newest version of userKey visible at seq.
func (sv *SuperVersion) Get(userKey types.Key, seq types.SeqN) ([]byte, bool, error) {
	for _, m := range sv.memtables() {
		switch res, v := m.Get(userKey, seq); res {
		case types.Found:
			return v, true, nil
		case types.Deleted:
			return nil, false, nil
		}
	}
	return sv.version.Get(userKey, seq)
}

// memtables lists the live memtable then immutable ones newest to oldest.
func (sv *SuperVersion) memtables() []Memtable {
	out := make([]Memtable, 0, len(sv.imms)+1)
	if sv.mem != nil {
		out = append(out, sv.mem)
	}
	for i := len(sv.imms) - 1; i >= 0; i-- {
		out = append(out, sv.imms[i])
	}
	return out
}

// NewIterator merges every memtable and every sorted run of the version.
// Sources are registered newest first so equal keys resolve to the newest one.
// The iterator is unpositioned and must not outlive the SuperVersion.
func (sv *SuperVersion) NewIterator() *iterator.Heap[iterator.Iterator] {
	h := iterator.NewHeap[iterator.Iterator]()
	for _, m := range sv.memtables() {
		h.Push(m.NewIterator())
	}
	for _, l := range sv.version.Levels() {
		for i := len(l.runs) - 1; i >= 0; i-- {
			h.Push(l.runs[i].NewIterator())
		}
	}
	return h
}

func (sv *SuperVersion) Seq() types.SeqN {
	return sv.seq
}

func (sv *SuperVersion) Version() *Version {
	return sv.version
}

// Release drops the Version reference. The SuperVersion must not be used afterwards.
func (sv *SuperVersion) Release() error {
	return sv.version.Unref()
}

func (sv *SuperVersion) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "superversion{seq=%d", sv.seq)
	if sv.mem != nil {
		fmt.Fprintf(&b, " mem=%dB", sv.mem.ApproximateSize())
	}
	if len(sv.imms) > 0 {
		sizes := make([]string, 0, len(sv.imms))
		for _, m := range sv.imms {
			sizes = append(sizes, fmt.Sprintf("%dB", m.ApproximateSize()))
		}
		fmt.Fprintf(&b, " imm=[%s]", strings.Join(sizes, " "))
	}
	fmt.Fprintf(&b, " %s}", sv.version)
	return b.String()
}
