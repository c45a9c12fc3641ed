package memtable

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"lsmengine/pkg/types"
)

// recordOverhead approximates the per-record cost once flushed: seq, type and two length prefixes.
const recordOverhead = 8 + 1 + 4 + 4

type version struct {
	seq   types.SeqN
	typ   types.RecordType
	value []byte
}

// chain holds every version of one user key, newest first.
type chain struct {
	mu       sync.RWMutex
	versions []version
}

func (c *chain) insert(v version) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := len(c.versions)
	for i > 0 && c.versions[i-1].seq < v.seq {
		i--
	}
	if i < len(c.versions) && c.versions[i].seq == v.seq {
		c.versions[i] = v
		return
	}
	c.versions = append(c.versions, version{})
	copy(c.versions[i+1:], c.versions[i:])
	c.versions[i] = v
}

func (c *chain) find(seq types.SeqN) (version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, v := range c.versions {
		if v.seq <= seq {
			return v, true
		}
	}
	return version{}, false
}

func (c *chain) snapshot() []version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]version(nil), c.versions...)
}

type orderedMap = skipmap.FuncMap[[]byte, *chain]

// Memtable is the in-memory write buffer. It is safe for concurrent use.
// Keys and values passed to Put are retained and must not be modified afterwards.
type Memtable struct {
	id      uint64
	data    *orderedMap
	size    atomic.Uint64
	count   atomic.Uint64
	lastSeq atomic.Uint64
}

func New(id uint64) *Memtable {
	return &Memtable{
		id: id,
		data: skipmap.NewFunc[[]byte, *chain](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

func (mt *Memtable) ID() uint64 {
	return mt.id
}

// Put records one version of userKey. A second Put with the same seq replaces the first.
func (mt *Memtable) Put(userKey types.Key, seq types.SeqN, typ types.RecordType, value types.Value) {
	if typ == types.RecordDeletion {
		value = nil
	}
	c, _ := mt.data.LoadOrStoreLazy(userKey, func() *chain { return &chain{} })
	c.insert(version{seq: seq, typ: typ, value: value})

	mt.size.Add(uint64(len(userKey) + len(value) + recordOverhead))
	mt.count.Add(1)
	for {
		last := mt.lastSeq.Load()
		if seq <= last || mt.lastSeq.CompareAndSwap(last, seq) {
			break
		}
	}
}

// Get returns the newest version of userKey visible at seq.
func (mt *Memtable) Get(userKey types.Key, seq types.SeqN) (types.GetResult, types.Value) {
	c, ok := mt.data.Load(userKey)
	if !ok {
		return types.NotFound, nil
	}
	v, ok := c.find(seq)
	switch {
	case !ok:
		return types.NotFound, nil
	case v.typ == types.RecordDeletion:
		return types.Deleted, nil
	default:
		return types.Found, v.value
	}
}

// ApproximateSize is the number of bytes the records would occupy in an SSTable, ignoring the index.
func (mt *Memtable) ApproximateSize() uint64 {
	return mt.size.Load()
}

// Count is the number of records, including overwritten versions.
func (mt *Memtable) Count() uint64 {
	return mt.count.Load()
}

func (mt *Memtable) Empty() bool {
	return mt.count.Load() == 0
}

// LastSeq is the highest sequence number written so far.
func (mt *Memtable) LastSeq() types.SeqN {
	return mt.lastSeq.Load()
}
