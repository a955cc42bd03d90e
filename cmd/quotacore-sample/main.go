// Command quotacore-sample wires a client.Client to an in-memory
// transport and exercises Check and Report end to end. It stands in for
// the original project's own sample binary (sample/transport/http_sample.cc)
// as a runnable demonstration of the library — process hosting,
// environment-based configuration, and logging setup are deliberately
// kept out of the core packages and live here instead.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Mindburn-Labs/quotacore/checkcache"
	"github.com/Mindburn-Labs/quotacore/client"
	"github.com/Mindburn-Labs/quotacore/observability"
	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/reportcache"
	"github.com/Mindburn-Labs/quotacore/transport"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	opts := []client.Option{
		client.WithCheckOptions(checkcache.Options{NumEntries: 1000, FlushInterval: 500 * time.Millisecond, Expiration: time.Second}),
		client.WithReportOptions(reportcache.Options{NumEntries: 1000, FlushInterval: time.Second}),
		client.WithLogger(logger),
	}

	// An OTLP endpoint is optional: without one the sample runs with the
	// client's atomic statistics only, no export pipeline.
	var obs *observability.Provider
	if endpoint := os.Getenv("QUOTACORE_OTLP_ENDPOINT"); endpoint != "" {
		var err error
		obs, err = observability.New(ctx, observability.Config{
			ServiceName:  "quotacore-sample",
			OTLPEndpoint: endpoint,
			Insecure:     true,
		})
		if err != nil {
			logger.Error("failed to init observability", "error", err)
			os.Exit(1)
		}
		defer obs.Shutdown(ctx)
		opts = append(opts, client.WithMeter(obs.Meter()))
	}

	mem := transport.NewInMemory()
	mem.CheckResponse = quotapb.CheckResponse{}
	opts = append(opts, client.WithCheckTransport(mem.Check), client.WithReportTransport(mem.Report))

	c, err := client.New("example.googleapis.com", opts...)
	if err != nil {
		logger.Error("failed to construct client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	req := quotapb.CheckRequest{
		ServiceName: "example.googleapis.com",
		Operation: quotapb.Operation{
			OperationName: "read",
			ConsumerID:    "project:demo",
			Importance:    quotapb.Low,
			MetricValueSets: []quotapb.MetricValueSet{
				{MetricName: "read_count", MetricValues: []quotapb.MetricValue{{Kind: quotapb.Int64Value, Int64: 1}}},
			},
		},
	}

	checkCtx := context.Background()
	if obs != nil {
		var span func()
		checkCtx, span = startCheckSpan(checkCtx, obs)
		defer span()
	}

	var resp quotapb.CheckResponse
	if err := c.CheckSync(checkCtx, req, &resp); err != nil {
		logger.Error("check failed", "error", err)
	}

	// Repeating the same request within the flush interval hits the
	// cache and aggregates tokens instead of calling the transport.
	for i := 0; i < 5; i++ {
		_ = c.CheckSync(context.Background(), req, &resp)
	}

	report := quotapb.ReportRequest{
		ServiceName: "example.googleapis.com",
		Operations: []quotapb.Operation{
			{
				OperationName: "read",
				ConsumerID:    "project:demo",
				Importance:    quotapb.Low,
				MetricValueSets: []quotapb.MetricValueSet{
					{MetricName: "read_count", MetricValues: []quotapb.MetricValue{{Kind: quotapb.Int64Value, Int64: 1}}},
				},
			},
		},
	}
	var reportResp quotapb.ReportResponse
	if err := c.ReportSync(context.Background(), report, &reportResp); err != nil {
		logger.Error("report failed", "error", err)
	}

	stats := c.GetStatistics()
	fmt.Printf("statistics: %+v\n", stats)
}

// startCheckSpan opens a span around the sample's first Check call and
// returns a closer to end it, demonstrating how an embedding process
// correlates its own tracing with the client's exported metrics.
func startCheckSpan(ctx context.Context, obs *observability.Provider) (context.Context, func()) {
	ctx, span := obs.StartSpan(ctx, "quotacore.sample.check")
	return ctx, func() { span.End() }
}
