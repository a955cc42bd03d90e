package aggregation

import (
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/quotacore/distrib"
	"github.com/Mindburn-Labs/quotacore/fingerprint"
	"github.com/Mindburn-Labs/quotacore/quotapb"
)

// metricValues accumulates, for one metric name, the accumulated
// MetricValue keyed by metric-value fingerprint. Only one accumulated
// value exists per (metric name, metric-value fingerprint) pair.
type metricValues map[string]quotapb.MetricValue

// OperationAggregator accumulates a single logical operation: it owns a
// base Operation stripped of its metric value sets, plus a mapping from
// metric name to accumulated metric values. Construction ingests the
// initial operation's metric value sets the same way MergeOperation
// ingests every subsequent one.
type OperationAggregator struct {
	base        quotapb.Operation
	metricSets  map[string]metricValues
	metricKinds map[string]quotapb.MetricKind
	logger      *slog.Logger
}

// New creates an OperationAggregator seeded with op. metricKinds maps
// metric name to its configured kind; a nil map (or an absent entry)
// defaults every metric to DELTA. logger may be nil, in which case
// slog.Default() is used for merge-incompatibility warnings.
func New(op quotapb.Operation, metricKinds map[string]quotapb.MetricKind, logger *slog.Logger) *OperationAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &OperationAggregator{
		base:        op.Clone(),
		metricSets:  make(map[string]metricValues),
		metricKinds: metricKinds,
		logger:      logger,
	}
	a.mergeMetricValueSets(op)
	a.base.MetricValueSets = nil
	return a
}

func (a *OperationAggregator) metricKind(name string) quotapb.MetricKind {
	if a.metricKinds == nil {
		return quotapb.Delta
	}
	if k, ok := a.metricKinds[name]; ok {
		return k
	}
	return quotapb.Delta
}

func timestampBefore(a, b time.Time) bool { return a.Before(b) }

// MergeOperation folds op into the aggregator: widens start/end time,
// merges metric value sets per metric kind, and appends log entries.
func (a *OperationAggregator) MergeOperation(op quotapb.Operation) {
	if op.HasStartTime() {
		if !a.base.HasStartTime() || timestampBefore(op.StartTime, a.base.StartTime) {
			a.base.StartTime = op.StartTime
		}
	}
	if op.HasEndTime() {
		if !a.base.HasEndTime() || timestampBefore(a.base.EndTime, op.EndTime) {
			a.base.EndTime = op.EndTime
		}
	}
	a.mergeMetricValueSets(op)
	a.base.LogEntries = append(a.base.LogEntries, op.LogEntries...)
}

func (a *OperationAggregator) mergeMetricValueSets(op quotapb.Operation) {
	for _, set := range op.MetricValueSets {
		values, ok := a.metricSets[set.MetricName]
		if !ok {
			values = make(metricValues)
			a.metricSets[set.MetricName] = values
		}
		kind := a.metricKind(set.MetricName)
		for _, mv := range set.MetricValues {
			sig := string(fingerprint.MetricValue(mv))
			existing, ok := values[sig]
			if !ok {
				values[sig] = mv.Clone()
				continue
			}
			a.mergeMetricValue(kind, mv, &existing)
			values[sig] = existing
		}
	}
}

// mergeMetricValue merges from into to according to kind.
func (a *OperationAggregator) mergeMetricValue(kind quotapb.MetricKind, from quotapb.MetricValue, to *quotapb.MetricValue) {
	if kind != quotapb.Delta {
		// CUMULATIVE/GAUGE: the value with the latest end-time wins.
		if timestampBefore(from.EndTime, to.EndTime) {
			return
		}
		*to = from.Clone()
		return
	}
	a.mergeDeltaMetricValue(from, to)
}

func (a *OperationAggregator) mergeDeltaMetricValue(from quotapb.MetricValue, to *quotapb.MetricValue) {
	if to.Kind != from.Kind {
		a.logger.Warn("metric values are not compatible", "to_kind", to.Kind, "from_kind", from.Kind)
		return
	}

	if from.HasStartTime() {
		if !to.HasStartTime() || timestampBefore(from.StartTime, to.StartTime) {
			to.StartTime = from.StartTime
		}
	}
	if from.HasEndTime() {
		if !to.HasEndTime() || timestampBefore(to.EndTime, from.EndTime) {
			to.EndTime = from.EndTime
		}
	}

	switch to.Kind {
	case quotapb.Int64Value:
		to.Int64 += from.Int64
	case quotapb.DoubleValue:
		to.Double += from.Double
	case quotapb.MoneyValue:
		if err := AddMoney(&to.MoneyVal, from.MoneyVal); err != nil {
			a.logger.Warn("money merge issue", "error", err)
		}
	case quotapb.DistributionValue:
		if err := distrib.Merge(&from.Distribution, &to.Distribution); err != nil {
			a.logger.Warn("distribution merge incompatible, accumulator left unchanged", "error", err)
		}
	default:
		a.logger.Warn("unknown metric value kind", "kind", to.Kind)
	}
}

// ToOperation reconstructs a wire Operation: a clone of the base plus
// one MetricValueSet per metric name holding the accumulated values, in
// map-iteration order.
func (a *OperationAggregator) ToOperation() quotapb.Operation {
	op := a.base.Clone()
	for name, values := range a.metricSets {
		set := quotapb.MetricValueSet{MetricName: name}
		for _, v := range values {
			set.MetricValues = append(set.MetricValues, v.Clone())
		}
		op.MetricValueSets = append(op.MetricValueSets, set)
	}
	return op
}
