package imagecache

import (
	"sync"
	"time"
)

// Entry is one cached image response.
type Entry struct {
	Body        []byte
	ContentType string
	StoredAt    time.Time
}

// Bucket is a mutex-guarded store that remembers insertion order.
type Bucket struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
}

func newBucket() *Bucket {
	return &Bucket{entries: make(map[string]Entry)}
}

// Get returns the entry for key.
func (b *Bucket) Get(key string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	return entry, ok
}

// PutBounded stores entry under key. When key is new and the bucket already holds limit
// entries, the oldest inserted entry is evicted first. A replaced key keeps its position.
func (b *Bucket) PutBounded(key string, entry Entry, limit int) (evicted string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[key]; !exists && limit > 0 && len(b.order) >= limit {
		evicted = b.order[0]
		b.order = b.order[1:]
		delete(b.entries, evicted)
		ok = true
	}
	b.put(key, entry)
	return evicted, ok
}

func (b *Bucket) put(key string, entry Entry) {
	if _, exists := b.entries[key]; !exists {
		b.order = append(b.order, key)
	}
	b.entries[key] = entry
}

// Keys returns the keys in insertion order.
func (b *Bucket) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// Len returns the number of entries.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Clear removes every entry.
func (b *Bucket) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]Entry)
	b.order = nil
}
