package checkcache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/quotacore/checkcache"
	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/status"
)

func reqFor(consumer string, tokens int64) quotapb.CheckRequest {
	return quotapb.CheckRequest{
		ServiceName: "svc",
		Operation: quotapb.Operation{
			OperationName: "read",
			ConsumerID:    consumer,
			Importance:    quotapb.Low,
			MetricValueSets: []quotapb.MetricValueSet{
				{MetricName: "tokens", MetricValues: []quotapb.MetricValue{{Kind: quotapb.Int64Value, Int64: tokens}}},
			},
		},
	}
}

// S1: capacity=1, flush=100ms, expire=200ms. A cached pass is served
// for repeated Checks without hitting transport, and FlushAll emits
// exactly one evicted request with every token value aggregated.
func TestScenario1_RepeatedChecksServeFromCacheAndAggregate(t *testing.T) {
	c := checkcache.New("svc", checkcache.Options{NumEntries: 1, FlushInterval: 100 * time.Millisecond, Expiration: 200 * time.Millisecond}, nil, nil)

	var flushed []quotapb.CheckRequest
	c.SetFlushCallback(func(r quotapb.CheckRequest) { flushed = append(flushed, r) })

	req1 := reqFor("c1", 1)
	_, err := c.Check(req1)
	require.True(t, status.IsNotFound(err))

	c.CacheResponse(req1, quotapb.CheckResponse{})

	for i := 0; i < 10; i++ {
		resp, err := c.Check(reqFor("c1", 1))
		require.NoError(t, err)
		assert.False(t, resp.IsDenied())
	}

	c.FlushAll()
	require.Len(t, flushed, 1)
	var total int64
	for _, mv := range flushed[0].Operation.MetricValueSets[0].MetricValues {
		total += mv.Int64
	}
	// CacheResponse never seeds the pending aggregator; only the 10
	// repeated Check calls contribute tokens (mirrors CacheElem::Aggregate,
	// which is invoked from Check, never from CacheResponse).
	assert.EqualValues(t, 10, total)
}

// S2: a stale pass hit reports NotFound to trigger a refresh and itself
// restarts the freshness window, so the next Check (with the refresh
// still outstanding) is served from cache; the eventual flush carries
// the aggregated tokens from both Check calls.
func TestScenario2_StaleHitTriggersRefreshThenAggregates(t *testing.T) {
	now := time.Now()
	c := checkcache.New("svc", checkcache.Options{NumEntries: 1, FlushInterval: 100 * time.Millisecond, Expiration: 200 * time.Millisecond}, nil, nil)
	c.SetClock(func() time.Time { return now })

	var flushed []quotapb.CheckRequest
	c.SetFlushCallback(func(r quotapb.CheckRequest) { flushed = append(flushed, r) })

	req1 := reqFor("c1", 1)
	c.CacheResponse(req1, quotapb.CheckResponse{})

	now = now.Add(120 * time.Millisecond) // older than flush interval
	_, err := c.Check(reqFor("c1", 1))
	require.True(t, status.IsNotFound(err), "stale pass hit should signal refresh")

	resp, err := c.Check(reqFor("c1", 1))
	require.NoError(t, err, "second check within the same window should still hit cache")
	assert.False(t, resp.IsDenied())

	c.FlushAll()
	require.Len(t, flushed, 1)
	var total int64
	for _, mv := range flushed[0].Operation.MetricValueSets[0].MetricValues {
		total += mv.Int64
	}
	assert.EqualValues(t, 2, total) // only the 2 Check calls contribute; CacheResponse never seeds pending
}

// S3: capacity=1. Caching req1, re-Checking it to seed a pending
// aggregator, then caching req2 (distinct fingerprint) evicts req1; the
// eviction callback fires with req1's accumulated request. An entry
// that was only ever CacheResponse'd (no pending aggregator) produces
// no flush on eviction, since its pending aggregator is nil.
func TestScenario3_CapacityEvictionFiresCallback(t *testing.T) {
	c := checkcache.New("svc", checkcache.Options{NumEntries: 1, FlushInterval: time.Second, Expiration: 2 * time.Second}, nil, nil)

	var flushed []quotapb.CheckRequest
	c.SetFlushCallback(func(r quotapb.CheckRequest) { flushed = append(flushed, r) })

	req1 := reqFor("c1", 1)
	req2 := reqFor("c2", 1)

	c.CacheResponse(req1, quotapb.CheckResponse{})
	_, err := c.Check(req1) // seed a pending aggregator so eviction has something to flush
	require.NoError(t, err)
	c.CacheResponse(req2, quotapb.CheckResponse{})

	require.Len(t, flushed, 1)
	assert.Equal(t, "c1", flushed[0].Operation.ConsumerID)
}

func TestCheck_DeniedResponseIsSticky(t *testing.T) {
	c := checkcache.New("svc", checkcache.Options{NumEntries: 1, FlushInterval: time.Second, Expiration: 2 * time.Second}, nil, nil)
	req := reqFor("c1", 1)
	c.CacheResponse(req, quotapb.CheckResponse{CheckErrors: []quotapb.CheckError{{Code: "DENIED"}}})

	resp, err := c.Check(req)
	require.NoError(t, err)
	assert.True(t, resp.IsDenied())
}

func TestCheck_ServiceNameMismatch(t *testing.T) {
	c := checkcache.New("svc", checkcache.Options{NumEntries: 1, FlushInterval: time.Second, Expiration: 2 * time.Second}, nil, nil)
	req := reqFor("c1", 1)
	req.ServiceName = "other"
	_, err := c.Check(req)
	require.Error(t, err)
	assert.False(t, status.IsNotFound(err))
}

func TestCheck_HighImportanceBypassesCache(t *testing.T) {
	c := checkcache.New("svc", checkcache.Options{NumEntries: 1, FlushInterval: time.Second, Expiration: 2 * time.Second}, nil, nil)
	req := reqFor("c1", 1)
	req.Operation.Importance = quotapb.High

	c.CacheResponse(req, quotapb.CheckResponse{})
	_, err := c.Check(req)
	assert.True(t, status.IsNotFound(err))
}

func TestCheck_DisabledCacheAlwaysMisses(t *testing.T) {
	c := checkcache.New("svc", checkcache.Options{NumEntries: 0}, nil, nil)
	req := reqFor("c1", 1)
	c.CacheResponse(req, quotapb.CheckResponse{}) // no-op

	_, err := c.Check(req)
	assert.True(t, status.IsNotFound(err))
}
