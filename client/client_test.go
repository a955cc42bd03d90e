package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/Mindburn-Labs/quotacore/checkcache"
	"github.com/Mindburn-Labs/quotacore/client"
	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/reportcache"
	"github.com/Mindburn-Labs/quotacore/transport"
)

func checkReq(consumer string) quotapb.CheckRequest {
	return quotapb.CheckRequest{
		ServiceName: "svc",
		Operation: quotapb.Operation{
			OperationName: "read",
			ConsumerID:    consumer,
			Importance:    quotapb.Low,
			MetricValueSets: []quotapb.MetricValueSet{
				{MetricName: "tokens", MetricValues: []quotapb.MetricValue{{Kind: quotapb.Int64Value, Int64: 1}}},
			},
		},
	}
}

// fakeTimer records the interval it was started with and never ticks on
// its own; tests call its tick function directly when they want to
// exercise a periodic flush.
type fakeTimer struct {
	interval time.Duration
	tick     func()
	stopped  bool
}

func newFakeTimerFactory(rec *fakeTimer) client.PeriodicTimerFactory {
	return func(interval time.Duration, tick func()) client.StoppableTimer {
		rec.interval = interval
		rec.tick = tick
		return rec
	}
}

func (f *fakeTimer) Stop() { f.stopped = true }

func TestCheckSync_MissDispatchesToTransportAndCounts(t *testing.T) {
	mem := transport.NewInMemory()
	c, err := client.New("svc",
		client.WithCheckOptions(checkcache.Options{NumEntries: 10, FlushInterval: time.Second, Expiration: 2 * time.Second}),
		client.WithCheckTransport(mem.Check),
		client.WithPeriodicTimer(nil),
	)
	require.NoError(t, err)

	var resp quotapb.CheckResponse
	require.NoError(t, c.CheckSync(context.Background(), checkReq("c1"), &resp))

	stats := c.GetStatistics()
	assert.EqualValues(t, 1, stats.TotalCalledChecks)
	assert.EqualValues(t, 1, stats.SendChecksInFlight)
	assert.Len(t, mem.CheckRequests(), 1)
}

func TestCheckSync_HitServesFromCacheWithoutTransport(t *testing.T) {
	mem := transport.NewInMemory()
	c, err := client.New("svc",
		client.WithCheckOptions(checkcache.Options{NumEntries: 10, FlushInterval: time.Second, Expiration: 2 * time.Second}),
		client.WithCheckTransport(mem.Check),
		client.WithPeriodicTimer(nil),
	)
	require.NoError(t, err)

	var resp quotapb.CheckResponse
	require.NoError(t, c.CheckSync(context.Background(), checkReq("c1"), &resp))
	require.NoError(t, c.CheckSync(context.Background(), checkReq("c1"), &resp))

	assert.Len(t, mem.CheckRequests(), 1, "second call should be served from cache")
	assert.EqualValues(t, 2, c.GetStatistics().TotalCalledChecks)
}

func TestCheckSync_NilTransportIsInvalidArgument(t *testing.T) {
	c, err := client.New("svc", client.WithPeriodicTimer(nil))
	require.NoError(t, err)

	var resp quotapb.CheckResponse
	err = c.CheckSync(context.Background(), checkReq("c1"), &resp)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))
}

// S5 via the facade: a HIGH-importance report bypasses the report cache
// and dispatches straight to transport.
func TestReportSync_HighImportanceDispatchesDirectly(t *testing.T) {
	mem := transport.NewInMemory()
	c, err := client.New("svc",
		client.WithReportOptions(reportcache.Options{NumEntries: 10, FlushInterval: time.Second}),
		client.WithReportTransport(mem.Report),
		client.WithPeriodicTimer(nil),
	)
	require.NoError(t, err)

	req := quotapb.ReportRequest{
		ServiceName: "svc",
		Operations: []quotapb.Operation{{
			OperationName: "write",
			ConsumerID:    "c1",
			Importance:    quotapb.High,
		}},
	}
	var resp quotapb.ReportResponse
	require.NoError(t, c.ReportSync(context.Background(), req, &resp))
	assert.Len(t, mem.ReportRequests(), 1)
	assert.EqualValues(t, 1, c.GetStatistics().SendReportsInFlight)
}

// Close disconnects both flush callbacks before FlushAll, so entries
// still holding pending tokens at shutdown never reach transport.
func TestClose_SuppressesFinalFlushEmissions(t *testing.T) {
	mem := transport.NewInMemory()
	c, err := client.New("svc",
		client.WithCheckOptions(checkcache.Options{NumEntries: 10, FlushInterval: time.Hour, Expiration: 2 * time.Hour}),
		client.WithCheckTransport(mem.Check),
		client.WithPeriodicTimer(nil),
	)
	require.NoError(t, err)

	var resp quotapb.CheckResponse
	require.NoError(t, c.CheckSync(context.Background(), checkReq("c1"), &resp)) // miss, hits transport once
	require.NoError(t, c.CheckSync(context.Background(), checkReq("c1"), &resp)) // hit, seeds pending aggregator

	require.Len(t, mem.CheckRequests(), 1)
	c.Close()
	// Close's internal FlushAll would otherwise emit the pending entry's
	// accumulated request; since the callback was disconnected first, it
	// never reaches transport.
	assert.Len(t, mem.CheckRequests(), 1)
}

// S6: the periodic timer starts at the minimum of the two caches' flush
// intervals; a disabled check cache is treated as "never" rather than 0.
func TestNew_PeriodicTimerUsesMinimumOfBothIntervals(t *testing.T) {
	rec := &fakeTimer{}
	_, err := client.New("svc",
		client.WithCheckOptions(checkcache.Options{NumEntries: 1, FlushInterval: 10 * time.Millisecond, Expiration: 20 * time.Millisecond}),
		client.WithReportOptions(reportcache.Options{NumEntries: 1, FlushInterval: 50 * time.Millisecond}),
		client.WithPeriodicTimer(newFakeTimerFactory(rec)),
	)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, rec.interval)
}

func TestNew_DisabledCheckCacheTreatedAsNeverForTimerInterval(t *testing.T) {
	rec := &fakeTimer{}
	_, err := client.New("svc",
		client.WithReportOptions(reportcache.Options{NumEntries: 1, FlushInterval: 50 * time.Millisecond}),
		client.WithPeriodicTimer(newFakeTimerFactory(rec)),
	)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, rec.interval)
}

func TestNew_NoFiniteIntervalStartsNoTimer(t *testing.T) {
	rec := &fakeTimer{}
	_, err := client.New("svc", client.WithPeriodicTimer(newFakeTimerFactory(rec)))
	require.NoError(t, err)
	assert.Zero(t, rec.interval)
	assert.Nil(t, rec.tick, "timer factory should never be invoked with no finite interval")
}

// A flush rate limiter throttles flush-triggered dispatch but must not
// block or drop the eviction that seeded it — a generously bursty
// limiter still delivers the request to transport.
func TestFlush_RateLimiterStillDeliversRequest(t *testing.T) {
	mem := transport.NewInMemory()
	c, err := client.New("svc",
		client.WithCheckOptions(checkcache.Options{NumEntries: 10, FlushInterval: time.Second, Expiration: 2 * time.Second}),
		client.WithCheckTransport(mem.Check),
		client.WithFlushRateLimiter(rate.NewLimiter(rate.Inf, 1)),
		client.WithPeriodicTimer(nil),
	)
	require.NoError(t, err)

	var resp quotapb.CheckResponse
	require.NoError(t, c.CheckSync(context.Background(), checkReq("c1"), &resp)) // miss, hits transport once
	assert.Len(t, mem.CheckRequests(), 1)
	require.NoError(t, c.CheckSync(context.Background(), checkReq("c1"), &resp)) // hit, seeds pending aggregator

	c.FlushAll()
	assert.Len(t, mem.CheckRequests(), 2, "flush-triggered request should reach transport")
	assert.EqualValues(t, 1, c.GetStatistics().SendChecksByFlush)
}

func TestNew_RejectsMalformedMinAgentVersion(t *testing.T) {
	_, err := client.New("svc", client.WithMinAgentVersion("not-a-semver"), client.WithPeriodicTimer(nil))
	require.Error(t, err)
}

// CheckSync must not deadlock when the supplied transport completes
// inline, on the same goroutine, before Check itself returns.
func TestCheckSync_ToleratesInlineTransportCompletion(t *testing.T) {
	inline := func(_ context.Context, _, resp any, done func(error)) {
		*(resp.(*quotapb.CheckResponse)) = quotapb.CheckResponse{}
		done(nil)
	}
	c, err := client.New("svc",
		client.WithCheckOptions(checkcache.Options{NumEntries: 10, FlushInterval: time.Second, Expiration: 2 * time.Second}),
		client.WithCheckTransport(inline),
		client.WithPeriodicTimer(nil),
	)
	require.NoError(t, err)

	var resp quotapb.CheckResponse
	done := make(chan error, 1)
	go func() {
		done <- c.CheckSync(context.Background(), checkReq("c1"), &resp)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("CheckSync deadlocked on inline transport completion")
	}
}
