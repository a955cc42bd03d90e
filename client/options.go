package client

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/quotacore/checkcache"
	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/reportcache"
)

// Transport dispatches req and populates resp asynchronously, invoking
// done with the completion status. Completion may happen synchronously
// (inline, before Transport returns), on a goroutine it owns, or later
// on any other goroutine — the client tolerates all three.
type Transport func(ctx context.Context, req, resp any, done func(error))

// StoppableTimer is returned by a PeriodicTimerFactory and stops the
// periodic tick when no longer needed.
type StoppableTimer interface {
	Stop()
}

// PeriodicTimerFactory creates a recurring timer that calls tick every
// interval, until Stop is called on the returned handle.
type PeriodicTimerFactory func(interval time.Duration, tick func()) StoppableTimer

// tickerTimer adapts time.Ticker to StoppableTimer; this is the default
// factory used when the caller does not supply their own.
type tickerTimer struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// NewTickerFactory returns a PeriodicTimerFactory backed by
// time.NewTicker and a background goroutine, in the idiom the teacher
// codebase uses for its idempotency-store cleanup loop: a ticker driving
// a goroutine that selects on the ticker channel and a stop channel.
func NewTickerFactory() PeriodicTimerFactory {
	return func(interval time.Duration, tick func()) StoppableTimer {
		t := &tickerTimer{ticker: time.NewTicker(interval), stop: make(chan struct{})}
		go func() {
			for {
				select {
				case <-t.ticker.C:
					tick()
				case <-t.stop:
					return
				}
			}
		}()
		return t
	}
}

func (t *tickerTimer) Stop() {
	t.ticker.Stop()
	close(t.stop)
}

// Options configures a Client. Zero-value CheckOptions/ReportOptions
// (NumEntries == 0) disable the respective cache.
type Options struct {
	CheckOptions    checkcache.Options
	ReportOptions   reportcache.Options
	MetricKinds     map[string]quotapb.MetricKind
	CheckTransport  Transport
	ReportTransport Transport
	Timer           PeriodicTimerFactory
	Logger          *slog.Logger

	// Meter, when non-nil, additionally publishes the atomic statistics
	// counters as OpenTelemetry instruments. The atomics remain the
	// source of truth for GetStatistics; this is a strictly additive
	// side channel for services that already run an OTel MeterProvider.
	Meter otelmetric.Meter

	// MinAgentVersion, when set, is validated with a strict semver
	// parse at client construction time — a malformed version string
	// fails fast rather than surfacing as a confusing runtime error the
	// first time it would have been compared against a server-reported
	// minimum.
	MinAgentVersion string

	// FlushRateLimiter, when set, throttles outbound flush-triggered
	// transport dispatch (both caches share it) so a burst of
	// simultaneous cache evictions cannot flood the remote control
	// service with concurrent RPCs. It does not throttle cache-miss
	// Check/Report calls, which must complete promptly for the caller.
	FlushRateLimiter *rate.Limiter
}

// Option mutates an Options value being built up by New.
type Option func(*Options)

// WithCheckOptions sets the admission-decision cache configuration.
func WithCheckOptions(o checkcache.Options) Option {
	return func(opts *Options) { opts.CheckOptions = o }
}

// WithReportOptions sets the telemetry cache configuration.
func WithReportOptions(o reportcache.Options) Option {
	return func(opts *Options) { opts.ReportOptions = o }
}

// WithMetricKinds sets the per-metric-name kind table shared read-only
// by both caches.
func WithMetricKinds(kinds map[string]quotapb.MetricKind) Option {
	return func(opts *Options) { opts.MetricKinds = kinds }
}

// WithCheckTransport sets the default transport used for cache-miss
// admission checks and check-cache flushes.
func WithCheckTransport(t Transport) Option {
	return func(opts *Options) { opts.CheckTransport = t }
}

// WithReportTransport sets the default transport used for
// cache-bypassed reports and report-cache flushes.
func WithReportTransport(t Transport) Option {
	return func(opts *Options) { opts.ReportTransport = t }
}

// WithPeriodicTimer overrides the periodic flush timer factory. Passing
// nil disables periodic flushing; the caller is then responsible for
// calling Flush explicitly.
func WithPeriodicTimer(f PeriodicTimerFactory) Option {
	return func(opts *Options) { opts.Timer = f }
}

// WithLogger sets the structured logger used for merge warnings and
// flush-transport errors.
func WithLogger(l *slog.Logger) Option {
	return func(opts *Options) { opts.Logger = l }
}

// WithMeter attaches an OpenTelemetry meter that mirrors the client's
// atomic statistics counters as instruments.
func WithMeter(m otelmetric.Meter) Option {
	return func(opts *Options) { opts.Meter = m }
}

// WithMinAgentVersion records a minimum supported agent version string,
// parsed with Masterminds/semver at construction time.
func WithMinAgentVersion(v string) Option {
	return func(opts *Options) { opts.MinAgentVersion = v }
}

// WithFlushRateLimiter throttles outbound flush-triggered transport
// dispatch to at most l's configured rate, shared across both caches.
func WithFlushRateLimiter(l *rate.Limiter) Option {
	return func(opts *Options) { opts.FlushRateLimiter = l }
}

func buildOptions(opts []Option) (Options, error) {
	o := Options{Timer: NewTickerFactory()}
	for _, apply := range opts {
		apply(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MinAgentVersion != "" {
		if _, err := semver.NewVersion(o.MinAgentVersion); err != nil {
			return o, err
		}
	}
	return o, nil
}

// yamlOptions is the on-disk shape LoadOptionsFromYAML reads, mirroring
// the plain-struct env/file configuration convention used elsewhere in
// this codebase (see client.LoadOptionsFromYAML doc comment) rather than
// the env-var Load() pattern, since this is a library with no ambient
// process environment to read defaults from.
type yamlOptions struct {
	Check struct {
		NumEntries      int `yaml:"num_entries"`
		FlushIntervalMS int `yaml:"flush_interval_ms"`
		ExpirationMS    int `yaml:"expiration_ms"`
	} `yaml:"check"`
	Report struct {
		NumEntries      int `yaml:"num_entries"`
		FlushIntervalMS int `yaml:"flush_interval_ms"`
	} `yaml:"report"`
	MinAgentVersion string `yaml:"min_agent_version"`
}

// LoadOptionsFromYAML reads cache sizing/timing configuration from a
// YAML file at path and returns the corresponding functional Options.
// Transports, the timer factory, and the logger are not
// file-configurable and must still be supplied via With* options.
func LoadOptionsFromYAML(path string) ([]Option, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var y yamlOptions
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, err
	}
	var opts []Option
	opts = append(opts, WithCheckOptions(checkcache.Options{
		NumEntries:    y.Check.NumEntries,
		FlushInterval: time.Duration(y.Check.FlushIntervalMS) * time.Millisecond,
		Expiration:    time.Duration(y.Check.ExpirationMS) * time.Millisecond,
	}))
	opts = append(opts, WithReportOptions(reportcache.Options{
		NumEntries:    y.Report.NumEntries,
		FlushInterval: time.Duration(y.Report.FlushIntervalMS) * time.Millisecond,
	}))
	if y.MinAgentVersion != "" {
		opts = append(opts, WithMinAgentVersion(y.MinAgentVersion))
	}
	return opts, nil
}
