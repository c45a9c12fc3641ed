package persistence

import (
	"sync"
	"sync/atomic"
)

// BlockKey addresses one block of one table.
type BlockKey struct {
	TableID uint64
	Offset  uint32
}

// BlockCache holds raw block buffers shared by all open tables.
type BlockCache interface {
	Get(key BlockKey) ([]byte, bool)
	Set(key BlockKey, block []byte)
	Evict(tableID uint64)
}

// LRUBlockCache implements a simple LRU block cache bounded by entry count.
type LRUBlockCache struct {
	mu       sync.Mutex
	capacity int
	items    map[BlockKey]*cacheItem
	head     *cacheItem
	tail     *cacheItem

	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheItem struct {
	key   BlockKey
	value []byte
	prev  *cacheItem
	next  *cacheItem
}

func NewBlockCache(capacity int) *LRUBlockCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUBlockCache{
		capacity: capacity,
		items:    make(map[BlockKey]*cacheItem),
	}
}

func (bc *LRUBlockCache) Get(key BlockKey) ([]byte, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	item, found := bc.items[key]
	if !found {
		bc.misses.Add(1)
		return nil, false
	}
	bc.hits.Add(1)
	bc.moveToHead(item)

	return item.value, true
}

func (bc *LRUBlockCache) Set(key BlockKey, block []byte) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if item, found := bc.items[key]; found {
		item.value = block
		bc.moveToHead(item)
		return
	}

	item := &cacheItem{key: key, value: block}
	bc.addToHead(item)
	bc.items[key] = item

	if len(bc.items) > bc.capacity {
		bc.remove(bc.tail)
	}
}

// Evict drops every block of a table, called once the table file is gone.
func (bc *LRUBlockCache) Evict(tableID uint64) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for key, item := range bc.items {
		if key.TableID == tableID {
			bc.remove(item)
		}
	}
}

func (bc *LRUBlockCache) Len() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.items)
}

// Stats returns hit and miss counters.
func (bc *LRUBlockCache) Stats() (hits, misses uint64) {
	return bc.hits.Load(), bc.misses.Load()
}

func (bc *LRUBlockCache) moveToHead(item *cacheItem) {
	if item == bc.head {
		return
	}
	bc.unlink(item)
	bc.addToHead(item)
}

func (bc *LRUBlockCache) addToHead(item *cacheItem) {
	item.prev = nil
	item.next = bc.head

	if bc.head != nil {
		bc.head.prev = item
	}
	bc.head = item

	if bc.tail == nil {
		bc.tail = item
	}
}

func (bc *LRUBlockCache) unlink(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		bc.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		bc.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (bc *LRUBlockCache) remove(item *cacheItem) {
	if item == nil {
		return
	}
	bc.unlink(item)
	delete(bc.items, item.key)
}
