package semantic

import (
	"container/list"
	"hash/fnv"
	"sync"
)

// embeddingCache memoizes query embeddings keyed by a 32-bit FNV hash of the
// text. Bounded LRU; eviction happens on insert.
type embeddingCache struct {
	mu      sync.Mutex
	cap     int
	order   *list.List
	entries map[uint32]*list.Element
}

type cacheEntry struct {
	key    uint32
	vector []float64
}

func newEmbeddingCache(capacity int) *embeddingCache {
	return &embeddingCache{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[uint32]*list.Element, capacity),
	}
}

func hashText(text string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	return h.Sum32()
}

func (c *embeddingCache) get(text string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[hashText(text)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).vector, true
}

func (c *embeddingCache) put(text string, vector []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := hashText(text)
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).vector = vector
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vector: vector})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *embeddingCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
