// Package reportcache implements the telemetry aggregation cache:
// fingerprint → OperationAggregator, merged on every Report sharing that
// fingerprint and emitted as a merged ReportRequest on eviction or age.
package reportcache

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

// maxOperationsPerRequest bounds how many operations a single merged
// outbound ReportRequest may carry.
const maxOperationsPerRequest = 100

// Options configures a Cache. NumEntries <= 0 disables the cache.
type Options struct {
	NumEntries    int
	FlushInterval time.Duration
}

// Cache is the telemetry aggregation cache described by §4.7.
type Cache struct {
	serviceName string
	opts        Options
	metricKinds map[string]quotapb.MetricKind
	logger      *slog.Logger

	mu    sync.Mutex
	lru   *lru.Cache
	clock func() time.Time

	callbackMu sync.Mutex
	onFlush    func(quotapb.ReportRequest)
}

// New creates a Cache. NumEntries <= 0 disables caching: Report always
// returns NotFound and the caller must dispatch to transport directly.
func New(serviceName string, opts Options, metricKinds map[string]quotapb.MetricKind, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		serviceName: serviceName,
		opts:        opts,
		metricKinds: metricKinds,
		logger:      logger,
		clock:       time.Now,
	}
	if c.enabled() {
		c.lru = lru.New(opts.NumEntries)
		// The report cache ages entries from first insertion, not last
		// access, so bursts of merges never postpone a flush — §4.4's
		// "does NOT refresh an entry on access for aging purposes".
		c.lru.AgeBasedEviction = opts.FlushInterval
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
// invoked with each merged outbound ReportRequest.
func (c *Cache) SetFlushCallback(cb func(quotapb.ReportRequest)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onFlush = cb
}

func (c *Cache) invokeFlush(req quotapb.ReportRequest) {
	c.callbackMu.Lock()
	cb := c.onFlush
	c.callbackMu.Unlock()
	if cb != nil {
		cb(req)
	}
}

// mergeReportRequests is the EvictionBuffer compaction predicate: two
// evicted ReportRequests fold into one outbound request when their
// service names match and the combined operation count stays at or
// below maxOperationsPerRequest.
func mergeReportRequests(newItem any, lastItem *any) bool {
	nr := newItem.(quotapb.ReportRequest)
	last := (*lastItem).(quotapb.ReportRequest)
	if last.ServiceName != nr.ServiceName {
		return false
	}
	if len(last.Operations)+len(nr.Operations) > maxOperationsPerRequest {
		return false
	}
	last.Operations = append(last.Operations, nr.Operations...)
	*lastItem = last
	return true
}

// Report validates req and, for every LOW-importance operation, merges
// it into (or creates) the aggregator cached under that operation's
// fingerprint. Any operation of non-LOW importance, or a disabled
// cache, causes the whole request to be reported NotFound so the caller
// dispatches it to transport unaggregated.
func (c *Cache) Report(req quotapb.ReportRequest) error {
	if req.ServiceName != c.serviceName {
		return status.InvalidArgument("service name mismatch: got %q, want %q", req.ServiceName, c.serviceName)
	}
	if !c.enabled() {
		return status.NotFound("not cached")
	}
	for _, op := range req.Operations {
		if op.Importance != quotapb.Low {
			return status.NotFound("high importance operation, dispatch directly")
		}
	}

	buf := evictbuf.New(mergeReportRequests)

	c.mu.Lock()
	c.lru.OnEvicted = func(_ string, v any) {
		buf.Add(c.materializeFlush(v.(*aggregation.OperationAggregator)))
	}
	for _, op := range req.Operations {
		key := string(fingerprint.ReportOperation(op))
		if v, ok := c.lru.Get(key); ok {
			v.(*aggregation.OperationAggregator).MergeOperation(op)
		} else {
			c.lru.Insert(key, aggregation.New(op, c.metricKinds, c.logger))
		}
	}
	c.mu.Unlock()

	buf.Flush(func(item any) { c.invokeFlush(item.(quotapb.ReportRequest)) })
	return nil
}

func (c *Cache) materializeFlush(agg *aggregation.OperationAggregator) quotapb.ReportRequest {
	return quotapb.ReportRequest{
		ServiceName: c.serviceName,
		Operations:  []quotapb.Operation{agg.ToOperation()},
	}
}

// Flush sweeps entries whose age since first insertion exceeds the
// configured flush interval, emitting merged requests for them.
func (c *Cache) Flush() {
	if !c.enabled() {
		return
	}
	buf := evictbuf.New(mergeReportRequests)

	c.mu.Lock()
	c.lru.OnEvicted = func(_ string, v any) {
		buf.Add(c.materializeFlush(v.(*aggregation.OperationAggregator)))
	}
	c.lru.RemoveExpiredEntries()
	c.mu.Unlock()

	buf.Flush(func(item any) { c.invokeFlush(item.(quotapb.ReportRequest)) })
}

// FlushAll evicts every entry, emitting merged requests for all of them.
func (c *Cache) FlushAll() {
	if !c.enabled() {
		return
	}
	buf := evictbuf.New(mergeReportRequests)

	c.mu.Lock()
	c.lru.OnEvicted = func(_ string, v any) {
		buf.Add(c.materializeFlush(v.(*aggregation.OperationAggregator)))
	}
	c.lru.RemoveAll()
	c.mu.Unlock()

	buf.Flush(func(item any) { c.invokeFlush(item.(quotapb.ReportRequest)) })
}

// GetNextFlushInterval returns the configured flush interval, or false
// if the cache is disabled.
func (c *Cache) GetNextFlushInterval() (time.Duration, bool) {
	if !c.enabled() {
		return 0, false
	}
	return c.opts.FlushInterval, true
}
