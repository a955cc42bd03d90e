// Package quotapb defines the wire-shape value types exchanged with the
// remote quota/telemetry control service. These stand in for generated
// protobuf messages: plain structs, field-addressable, with no behavior
// beyond what the aggregation core needs to read and copy them.
package quotapb

import "time"

// Importance controls whether an operation may be cached or aggregated.
type Importance int

const (
	Low Importance = iota
	High
)

// MetricKind governs how two values sharing the same identity are combined.
type MetricKind int

const (
	Delta MetricKind = iota
	Cumulative
	Gauge
)

// BucketScheme identifies which distribution bucketing scheme is in use.
type BucketScheme int

const (
	NoBuckets BucketScheme = iota
	Exponential
	Linear
	Explicit
)

// ExponentialBuckets parameterizes an exponential bucket scheme.
type ExponentialBuckets struct {
	NumFiniteBuckets int
	GrowthFactor     float64
	Scale            float64
}

// LinearBuckets parameterizes a linear bucket scheme.
type LinearBuckets struct {
	NumFiniteBuckets int
	Width            float64
	Offset           float64
}

// ExplicitBuckets parameterizes an explicit bucket scheme.
type ExplicitBuckets struct {
	Bounds []float64
}

// Distribution is a bucketed histogram plus the running statistics
// Welford's algorithm needs to keep mean/variance without revisiting
// samples.
type Distribution struct {
	Scheme      BucketScheme
	Exponential ExponentialBuckets
	Linear      LinearBuckets
	Explicit    ExplicitBuckets

	Count          int64
	Mean           float64
	Minimum        float64
	Maximum        float64
	SumOfSqDeviation float64

	// BucketCounts has len == NumFiniteBuckets+2: index 0 is underflow,
	// the last index is overflow.
	BucketCounts []int64
}

// Money mirrors google.type.Money: a currency amount split into whole
// units and fractional nanos, both carrying the same sign.
type Money struct {
	CurrencyCode string
	Units        int64
	Nanos        int32
}

// MetricValueKind tags which field of MetricValue is populated.
type MetricValueKind int

const (
	Int64Value MetricValueKind = iota
	DoubleValue
	MoneyValue
	DistributionValue
)

// MetricValue is a tagged union standing in for the original's
// oneof-field proto message: exactly one of the typed fields is
// meaningful, selected by Kind.
type MetricValue struct {
	Kind MetricValueKind

	Int64        int64
	Double       float64
	MoneyVal     Money
	Distribution Distribution

	Labels    map[string]string
	StartTime time.Time
	EndTime   time.Time
}

// HasStartTime and HasEndTime mirror the proto "has_field" pattern used
// throughout the original: a zero time.Time means "unset".
func (m MetricValue) HasStartTime() bool { return !m.StartTime.IsZero() }
func (m MetricValue) HasEndTime() bool   { return !m.EndTime.IsZero() }

// Clone returns a deep copy safe to store independently of m.
func (m MetricValue) Clone() MetricValue {
	c := m
	if m.Labels != nil {
		c.Labels = make(map[string]string, len(m.Labels))
		for k, v := range m.Labels {
			c.Labels[k] = v
		}
	}
	if m.Distribution.BucketCounts != nil {
		c.Distribution.BucketCounts = append([]int64(nil), m.Distribution.BucketCounts...)
	}
	if m.Distribution.Explicit.Bounds != nil {
		c.Distribution.Explicit.Bounds = append([]float64(nil), m.Distribution.Explicit.Bounds...)
	}
	return c
}

// MetricValueSet is a named collection of metric values for one metric.
type MetricValueSet struct {
	MetricName   string
	MetricValues []MetricValue
}

// LogEntry is an opaque, order-preserved log record attached to an
// operation. The core never inspects its contents.
type LogEntry struct {
	Name      string
	Timestamp time.Time
	Fields    map[string]string
}

// Operation is the unit the caller reports usage against and the unit
// an admission check authorizes.
type Operation struct {
	OperationName   string
	ConsumerID      string
	Labels          map[string]string
	StartTime       time.Time
	EndTime         time.Time
	MetricValueSets []MetricValueSet
	LogEntries      []LogEntry
	Importance      Importance
}

func (o Operation) HasStartTime() bool { return !o.StartTime.IsZero() }
func (o Operation) HasEndTime() bool   { return !o.EndTime.IsZero() }

// Clone returns a deep copy of o.
func (o Operation) Clone() Operation {
	c := o
	if o.Labels != nil {
		c.Labels = make(map[string]string, len(o.Labels))
		for k, v := range o.Labels {
			c.Labels[k] = v
		}
	}
	if o.MetricValueSets != nil {
		c.MetricValueSets = make([]MetricValueSet, len(o.MetricValueSets))
		for i, set := range o.MetricValueSets {
			nv := make([]MetricValue, len(set.MetricValues))
			for j, v := range set.MetricValues {
				nv[j] = v.Clone()
			}
			c.MetricValueSets[i] = MetricValueSet{MetricName: set.MetricName, MetricValues: nv}
		}
	}
	if o.LogEntries != nil {
		c.LogEntries = append([]LogEntry(nil), o.LogEntries...)
	}
	return c
}

// CheckError is a denial reason attached to a CheckResponse. A response
// with a non-empty CheckErrors slice is a denial.
type CheckError struct {
	Code    string
	Message string
}

// CheckRequest is the admission-check request shape.
type CheckRequest struct {
	ServiceName string
	Operation   Operation
}

// CheckResponse is the admission-check response shape.
type CheckResponse struct {
	CheckErrors []CheckError
	QuotaScale  int64
}

// IsDenied reports whether resp represents a denial.
func (r CheckResponse) IsDenied() bool { return len(r.CheckErrors) > 0 }

// ReportRequest carries one or more operations to record usage for.
type ReportRequest struct {
	ServiceName string
	Operations  []Operation
}

// ReportResponse is the (empty, in the original) telemetry response shape.
type ReportResponse struct{}
