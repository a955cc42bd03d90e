// Package checkcache implements the admission-decision cache:
// fingerprint → (cached response, last-refresh timestamp, pending
// aggregated request). It implements refresh-while-serve and negative
// (denial) caching, and materializes an outbound CheckRequest carrying
// accumulated token usage whenever a pending entry is evicted.
package checkcache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/quotacore/aggregation"
	"github.com/Mindburn-Labs/quotacore/fingerprint"
	"github.com/Mindburn-Labs/quotacore/internal/evictbuf"
	"github.com/Mindburn-Labs/quotacore/internal/lru"
	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/status"
)

// Options configures a Cache. NumEntries <= 0 disables the cache
// entirely (every Check reports NotFound and CacheResponse is a no-op).
// Expiration is clamped up to FlushInterval+1ms if configured lower,
// mirroring the original constructor's clamp of expiration_ms against
// flush_interval_ms+1.
type Options struct {
	NumEntries    int
	FlushInterval time.Duration
	Expiration    time.Duration
}

// normalize applies the FlushInterval/Expiration clamp.
func (o Options) normalize() Options {
	min := o.FlushInterval + time.Millisecond
	if o.Expiration < min {
		o.Expiration = min
	}
	return o
}

// entry is the mutable per-fingerprint cache record.
type entry struct {
	request      quotapb.CheckRequest
	response     quotapb.CheckResponse
	lastRefresh  time.Time
	isRefreshing bool
	pending      *aggregation.OperationAggregator
}

// Cache is the admission-decision cache described by §4.6.
type Cache struct {
	serviceName string
	opts        Options
	metricKinds map[string]quotapb.MetricKind
	logger      *slog.Logger

	mu    sync.Mutex
	lru   *lru.Cache
	clock func() time.Time

	callbackMu sync.Mutex
	onFlush    func(quotapb.CheckRequest)
}

// New creates a Cache. A non-positive opts.NumEntries disables caching
// outright: Check always returns NotFound.
func New(serviceName string, opts Options, metricKinds map[string]quotapb.MetricKind, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.normalize()
	c := &Cache{
		serviceName: serviceName,
		opts:        opts,
		metricKinds: metricKinds,
		logger:      logger,
		clock:       time.Now,
	}
	if c.enabled() {
		c.lru = lru.New(opts.NumEntries)
		c.lru.MaxIdle = opts.Expiration
	}
	return c
}

func (c *Cache) enabled() bool { return c.opts.NumEntries > 0 }

// SetClock overrides the cache's time source for deterministic tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.clock = now
	if c.lru != nil {
		c.lru.SetClock(now)
	}
}

// SetFlushCallback installs (or, with nil, disconnects) the callback
// invoked for requests evicted from the cache. Guarded by its own mutex,
// independent of the cache's LRU mutex, so shutdown can swap it to nil
// without racing an in-flight eviction emission.
func (c *Cache) SetFlushCallback(cb func(quotapb.CheckRequest)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onFlush = cb
}

func (c *Cache) invokeFlush(req quotapb.CheckRequest) {
	c.callbackMu.Lock()
	cb := c.onFlush
	c.callbackMu.Unlock()
	if cb != nil {
		cb(req)
	}
}

// mergeNever is the EvictionBuffer compaction predicate for the
// check cache: it never merges (§4.5 — "the Check cache declines to
// merge").
func mergeNever(any, *any) bool { return false }

// Check looks up req's fingerprint. A hit with a fresh denial returns
// the cached denial; a hit with a stale denial triggers a refresh
// window and reports NotFound; a hit with a fresh pass aggregates req's
// operation into the entry's pending request and returns the cached
// pass; a hit with a stale pass does the same but also reports NotFound
// to trigger a background refresh. A miss, a disabled cache, or a
// HIGH-importance operation all report NotFound.
func (c *Cache) Check(req quotapb.CheckRequest) (quotapb.CheckResponse, error) {
	if req.ServiceName != c.serviceName {
		return quotapb.CheckResponse{}, status.InvalidArgument("service name mismatch: got %q, want %q", req.ServiceName, c.serviceName)
	}
	if req.Operation.OperationName == "" && req.Operation.ConsumerID == "" {
		return quotapb.CheckResponse{}, status.InvalidArgument("check request has no operation")
	}
	if !c.enabled() || req.Operation.Importance == quotapb.High {
		return quotapb.CheckResponse{}, status.NotFound("not cached")
	}

	key := string(fingerprint.CheckRequest(req))

	c.mu.Lock()
	v, ok := c.lru.Get(key)
	if !ok {
		c.mu.Unlock()
		return quotapb.CheckResponse{}, status.NotFound("not cached")
	}
	e := v.(*entry)
	age := c.clock().Sub(e.lastRefresh)

	if e.response.IsDenied() {
		if age < c.opts.FlushInterval {
			resp := e.response
			c.mu.Unlock()
			return resp, nil
		}
		e.lastRefresh = c.clock()
		c.mu.Unlock()
		return quotapb.CheckResponse{}, status.NotFound("cached denial stale, refreshing")
	}

	// Pass response: aggregate the incoming operation's tokens.
	if e.pending == nil {
		e.pending = aggregation.New(req.Operation, c.metricKinds, c.logger)
	} else {
		e.pending.MergeOperation(req.Operation)
	}

	if age < c.opts.FlushInterval {
		resp := e.response
		c.mu.Unlock()
		return resp, nil
	}
	e.isRefreshing = true
	e.lastRefresh = c.clock()
	c.mu.Unlock()
	return quotapb.CheckResponse{}, status.NotFound("cached pass stale, refreshing")
}

// CacheResponse records the outcome of a remote Check call: it updates
// an existing entry's response (resetting last_refresh and
// is_refreshing) or inserts a fresh entry. Insertion may evict another
// entry, whose accumulated pending request (if any) is materialized and
// emitted to the flush callback after the cache lock is released.
func (c *Cache) CacheResponse(req quotapb.CheckRequest, resp quotapb.CheckResponse) {
	if !c.enabled() {
		return
	}
	key := string(fingerprint.CheckRequest(req))
	buf := evictbuf.New(mergeNever)

	c.mu.Lock()
	c.lru.OnEvicted = func(_ string, v any) {
		if flushReq, ok := c.materializeFlush(v.(*entry)); ok {
			buf.Add(flushReq)
		}
	}
	if v, ok := c.lru.Peek(key); ok {
		e := v.(*entry)
		e.request = req
		e.response = resp
		e.lastRefresh = c.clock()
		e.isRefreshing = false
		if resp.IsDenied() {
			e.pending = nil
		}
		c.lru.Get(key) // promote to MRU
	} else {
		e := &entry{request: req, response: resp, lastRefresh: c.clock()}
		if resp.IsDenied() {
			e.pending = nil
		}
		c.lru.Insert(key, e)
	}
	c.mu.Unlock()

	buf.Flush(func(item any) { c.invokeFlush(item.(quotapb.CheckRequest)) })
}

// materializeFlush builds the outbound CheckRequest for an evicted
// entry that has accumulated pending tokens. Entries with no pending
// aggregator (denials, or passes never re-Checked) produce nothing.
func (c *Cache) materializeFlush(e *entry) (quotapb.CheckRequest, bool) {
	if e.pending == nil {
		return quotapb.CheckRequest{}, false
	}
	return quotapb.CheckRequest{
		ServiceName: c.serviceName,
		Operation:   e.pending.ToOperation(),
	}, true
}

// Flush removes entries idle longer than the configured expiration
// window, emitting their materialized requests to the flush callback.
func (c *Cache) Flush() {
	if !c.enabled() {
		return
	}
	buf := evictbuf.New(mergeNever)

	c.mu.Lock()
	c.lru.OnEvicted = func(_ string, v any) {
		if flushReq, ok := c.materializeFlush(v.(*entry)); ok {
			buf.Add(flushReq)
		}
	}
	c.lru.RemoveExpiredEntries()
	c.mu.Unlock()

	buf.Flush(func(item any) { c.invokeFlush(item.(quotapb.CheckRequest)) })
}

// FlushAll removes every entry, emitting materialized requests to the
// flush callback for each one that has pending tokens.
func (c *Cache) FlushAll() {
	if !c.enabled() {
		return
	}
	buf := evictbuf.New(mergeNever)

	c.mu.Lock()
	c.lru.OnEvicted = func(_ string, v any) {
		if flushReq, ok := c.materializeFlush(v.(*entry)); ok {
			buf.Add(flushReq)
		}
	}
	c.lru.RemoveAll()
	c.mu.Unlock()

	buf.Flush(func(item any) { c.invokeFlush(item.(quotapb.CheckRequest)) })
}

// GetNextFlushInterval returns the configured expiration window, or
// false if the cache is disabled ("never" in the original's terms).
func (c *Cache) GetNextFlushInterval() (time.Duration, bool) {
	if !c.enabled() {
		return 0, false
	}
	return c.opts.Expiration, true
}
