// Package client implements the ClientFacade: the public entry points
// Check and Report (in both synchronous and asynchronous form),
// transport binding, statistics counters, timer-driven periodic flush,
// and shutdown ordering, orchestrating the check and report caches.
package client

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/quotacore/checkcache"
	"github.com/Mindburn-Labs/quotacore/internal/latch"
	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/reportcache"
	"github.com/Mindburn-Labs/quotacore/status"
)

// Statistics is a point-in-time snapshot of the client's seven atomic
// counters.
type Statistics struct {
	TotalCalledChecks    int64
	SendChecksByFlush    int64
	SendChecksInFlight   int64
	TotalCalledReports   int64
	SendReportsByFlush   int64
	SendReportsInFlight  int64
	SendReportOperations int64
}

// DoneFunc is the async completion callback shared by Check and Report.
type DoneFunc func(error)

type otelInstruments struct {
	checksTotal      otelmetric.Int64Counter
	checksByFlush    otelmetric.Int64Counter
	checksInFlight   otelmetric.Int64Counter
	reportsTotal     otelmetric.Int64Counter
	reportsByFlush   otelmetric.Int64Counter
	reportsInFlight  otelmetric.Int64Counter
	reportOperations otelmetric.Int64Counter
}

// Client is the public facade in front of the check and report caches.
type Client struct {
	serviceName     string
	checkCache      *checkcache.Cache
	reportCache     *reportcache.Cache
	checkTransport  Transport
	reportTransport Transport
	logger          *slog.Logger
	timer           StoppableTimer
	otel            *otelInstruments
	flushLimiter    *rate.Limiter

	totalCalledChecks    int64
	sendChecksByFlush    int64
	sendChecksInFlight   int64
	totalCalledReports   int64
	sendReportsByFlush   int64
	sendReportsInFlight  int64
	sendReportOperations int64
}

// New builds a Client wired per opts: it constructs both caches,
// connects their flush callbacks to the configured transports, and — if
// a timer factory is available and at least one cache has a finite
// flush interval — starts a periodic timer at the minimum of the two
// intervals driving Flush on both caches.
func New(serviceName string, opts ...Option) (*Client, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		serviceName:     serviceName,
		checkCache:      checkcache.New(serviceName, o.CheckOptions, o.MetricKinds, o.Logger),
		reportCache:     reportcache.New(serviceName, o.ReportOptions, o.MetricKinds, o.Logger),
		checkTransport:  o.CheckTransport,
		reportTransport: o.ReportTransport,
		logger:          o.Logger,
		flushLimiter:    o.FlushRateLimiter,
	}
	if o.Meter != nil {
		if inst, err := buildOtelInstruments(o.Meter); err == nil {
			c.otel = inst
		} else {
			c.logger.Warn("failed to create otel instruments", "error", err)
		}
	}

	c.checkCache.SetFlushCallback(c.checkFlushCallback)
	c.reportCache.SetFlushCallback(c.reportFlushCallback)

	if o.Timer != nil {
		if interval, ok := c.nextFlushInterval(); ok {
			c.timer = o.Timer(interval, func() {
				c.checkCache.Flush()
				c.reportCache.Flush()
			})
		}
	}

	return c, nil
}

func buildOtelInstruments(m otelmetric.Meter) (*otelInstruments, error) {
	inst := &otelInstruments{}
	var err error
	if inst.checksTotal, err = m.Int64Counter("quotacore.checks.total"); err != nil {
		return nil, err
	}
	if inst.checksByFlush, err = m.Int64Counter("quotacore.checks.by_flush"); err != nil {
		return nil, err
	}
	if inst.checksInFlight, err = m.Int64Counter("quotacore.checks.in_flight"); err != nil {
		return nil, err
	}
	if inst.reportsTotal, err = m.Int64Counter("quotacore.reports.total"); err != nil {
		return nil, err
	}
	if inst.reportsByFlush, err = m.Int64Counter("quotacore.reports.by_flush"); err != nil {
		return nil, err
	}
	if inst.reportsInFlight, err = m.Int64Counter("quotacore.reports.in_flight"); err != nil {
		return nil, err
	}
	if inst.reportOperations, err = m.Int64Counter("quotacore.report_operations"); err != nil {
		return nil, err
	}
	return inst, nil
}

// nextFlushInterval returns min(check_interval, report_interval),
// treating a disabled cache's "never" as absent rather than zero.
func (c *Client) nextFlushInterval() (time.Duration, bool) {
	checkInterval, checkOK := c.checkCache.GetNextFlushInterval()
	reportInterval, reportOK := c.reportCache.GetNextFlushInterval()
	switch {
	case !checkOK && !reportOK:
		return 0, false
	case !checkOK:
		return reportInterval, true
	case !reportOK:
		return checkInterval, true
	case checkInterval < reportInterval:
		return checkInterval, true
	default:
		return reportInterval, true
	}
}

func (c *Client) checkFlushCallback(req quotapb.CheckRequest) {
	if c.flushLimiter != nil {
		_ = c.flushLimiter.Wait(context.Background())
	}
	resp := &quotapb.CheckResponse{}
	c.checkTransport(context.Background(), req, resp, func(err error) {
		if !status.Ok(err) {
			c.logger.Error("check flush transport failed", "error", err)
		}
	})
	atomic.AddInt64(&c.sendChecksByFlush, 1)
	if c.otel != nil {
		c.otel.checksByFlush.Add(context.Background(), 1)
	}
}

func (c *Client) reportFlushCallback(req quotapb.ReportRequest) {
	if c.flushLimiter != nil {
		_ = c.flushLimiter.Wait(context.Background())
	}
	resp := &quotapb.ReportResponse{}
	c.reportTransport(context.Background(), req, resp, func(err error) {
		if !status.Ok(err) {
			c.logger.Error("report flush transport failed", "error", err)
		}
	})
	atomic.AddInt64(&c.sendReportsByFlush, 1)
	atomic.AddInt64(&c.sendReportOperations, int64(len(req.Operations)))
	if c.otel != nil {
		c.otel.reportsByFlush.Add(context.Background(), 1)
		c.otel.reportOperations.Add(context.Background(), int64(len(req.Operations)))
	}
}

// Check dispatches an admission check, writing the authoritative
// response into resp before onDone is invoked. If transport is omitted,
// the client's default check transport is used. onDone completes
// immediately with InvalidArgument if no transport is available at all,
// immediately (with resp set to the cached response) on a cache hit, or
// on transport completion for a cache miss.
func (c *Client) Check(ctx context.Context, req quotapb.CheckRequest, resp *quotapb.CheckResponse, onDone DoneFunc, transport ...Transport) {
	atomic.AddInt64(&c.totalCalledChecks, 1)
	if c.otel != nil {
		c.otel.checksTotal.Add(ctx, 1)
	}

	t := c.checkTransport
	if len(transport) > 0 {
		t = transport[0]
	}
	if t == nil {
		onDone(status.InvalidArgument("transport is nil"))
		return
	}

	cached, err := c.checkCache.Check(req)
	if !status.IsNotFound(err) {
		if err == nil {
			*resp = cached
		}
		onDone(err)
		return
	}

	atomic.AddInt64(&c.sendChecksInFlight, 1)
	if c.otel != nil {
		c.otel.checksInFlight.Add(ctx, 1)
	}
	t(ctx, req, resp, func(transportErr error) {
		if status.Ok(transportErr) {
			c.checkCache.CacheResponse(req, *resp)
		} else {
			c.logger.Error("check transport failed", "error", transportErr)
		}
		onDone(transportErr)
	})
}

// CheckSync is the synchronous form of Check: it blocks on a one-shot
// latch set from the async completion, tolerating inline completion
// from the same goroutine that called CheckSync.
func (c *Client) CheckSync(ctx context.Context, req quotapb.CheckRequest, resp *quotapb.CheckResponse, transport ...Transport) error {
	l := latch.New()
	c.Check(ctx, req, resp, l.Set, transport...)
	return l.Wait()
}

// Report submits telemetry for one or more operations. If every
// operation is LOW importance and the report cache accepts it, Report
// completes immediately without a transport call; otherwise the request
// is dispatched to transport.
func (c *Client) Report(ctx context.Context, req quotapb.ReportRequest, resp *quotapb.ReportResponse, onDone DoneFunc, transport ...Transport) {
	atomic.AddInt64(&c.totalCalledReports, 1)
	if c.otel != nil {
		c.otel.reportsTotal.Add(ctx, 1)
	}

	t := c.reportTransport
	if len(transport) > 0 {
		t = transport[0]
	}
	if t == nil {
		onDone(status.InvalidArgument("transport is nil"))
		return
	}

	err := c.reportCache.Report(req)
	if !status.IsNotFound(err) {
		onDone(err)
		return
	}

	atomic.AddInt64(&c.sendReportsInFlight, 1)
	atomic.AddInt64(&c.sendReportOperations, int64(len(req.Operations)))
	if c.otel != nil {
		c.otel.reportsInFlight.Add(ctx, 1)
		c.otel.reportOperations.Add(ctx, int64(len(req.Operations)))
	}
	t(ctx, req, resp, onDone)
}

// ReportSync is the synchronous form of Report.
func (c *Client) ReportSync(ctx context.Context, req quotapb.ReportRequest, resp *quotapb.ReportResponse, transport ...Transport) error {
	l := latch.New()
	c.Report(ctx, req, resp, l.Set, transport...)
	return l.Wait()
}

// GetStatistics returns a snapshot of the seven atomic counters.
func (c *Client) GetStatistics() Statistics {
	return Statistics{
		TotalCalledChecks:    atomic.LoadInt64(&c.totalCalledChecks),
		SendChecksByFlush:    atomic.LoadInt64(&c.sendChecksByFlush),
		SendChecksInFlight:   atomic.LoadInt64(&c.sendChecksInFlight),
		TotalCalledReports:   atomic.LoadInt64(&c.totalCalledReports),
		SendReportsByFlush:   atomic.LoadInt64(&c.sendReportsByFlush),
		SendReportsInFlight:  atomic.LoadInt64(&c.sendReportsInFlight),
		SendReportOperations: atomic.LoadInt64(&c.sendReportOperations),
	}
}

// Flush removes expired entries from both caches, emitting any
// accumulated flush requests.
func (c *Client) Flush() {
	c.checkCache.Flush()
	c.reportCache.Flush()
}

// FlushAll evicts every entry from both caches, emitting flush requests
// for those that have accumulated pending data.
func (c *Client) FlushAll() {
	c.checkCache.FlushAll()
	c.reportCache.FlushAll()
}

// Close shuts the client down following the hard-contract ordering:
// disconnect both flush callbacks first, stop the periodic timer, then
// FlushAll both caches. Because the callbacks are disconnected before
// FlushAll runs, the final evictions produced by Close do not reach the
// transport — see DESIGN.md for why this repo keeps that behavior
// rather than the literal original destructor's FlushAll-before-
// disconnect order.
func (c *Client) Close() {
	c.checkCache.SetFlushCallback(nil)
	c.reportCache.SetFlushCallback(nil)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.checkCache.FlushAll()
	c.reportCache.FlushAll()
}
