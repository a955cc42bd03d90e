// Package evictbuf implements the reentrancy-safe eviction hand-off
// described by the original's CacheRemovedItemsHandler: items evicted
// while a cache mutex is held are buffered instead of flushed
// immediately, so the flush callback — which may itself call back into
// the owning cache — never runs while that cache's lock is held.
//
// The original uses a stack-allocated buffer plus a swap-in/swap-out
// RAII sentinel so a deletion callback fired deep inside a locked LRU
// operation can find "the current buffer" without threading it through
// every call site. Go has no destructors, so the sequencing that RAII
// gave for free (unlock, then flush, in that order, even on early
// return or panic) is reproduced with an explicit Buffer value the
// caller drains after unlocking:
//
//	buf := evictbuf.New(mergeFn)
//	cache.mu.Lock()
//	cache.lru.OnEvicted = func(k string, v any) { buf.Add(v.(*entry).flushRequest()) }
//	... mutate ...
//	cache.mu.Unlock()
//	buf.Flush(flushCallback)
package evictbuf

// MergeFunc reports whether newItem can be folded into the current tail
// of the buffer, mutating *lastItem in place if so. A nil MergeFunc (or
// one that always returns false) disables compaction.
type MergeFunc func(newItem any, lastItem *any) bool

// Buffer collects items evicted during a single lock-held cache
// operation. It must be created before the lock is acquired and drained
// (via Flush) only after the lock has been released.
type Buffer struct {
	merge MergeFunc
	items []any
}

// New creates a Buffer. merge may be nil to disable compaction.
func New(merge MergeFunc) *Buffer {
	return &Buffer{merge: merge}
}

// Add appends item to the buffer, first offering it to merge against the
// current tail. Called from inside the cache's deletion callback, while
// the cache lock is held.
func (b *Buffer) Add(item any) {
	if len(b.items) > 0 && b.merge != nil {
		last := &b.items[len(b.items)-1]
		if b.merge(item, last) {
			return
		}
	}
	b.items = append(b.items, item)
}

// Flush invokes emit once per buffered item, in the order they were
// added, apart from tail-merges. Must be called after the cache lock
// that guarded Add has been released.
func (b *Buffer) Flush(emit func(item any)) {
	for _, item := range b.items {
		emit(item)
	}
	b.items = nil
}

// Len reports how many items are currently buffered.
func (b *Buffer) Len() int { return len(b.items) }
