// Package distrib implements value arithmetic for bucketed distribution
// metrics: initialization by bucket scheme, sample insertion via
// Welford's online algorithm, and merge of two compatible distributions
// using the parallel-variance combination formula. It is a pure,
// allocation-light value package: every function takes the distribution
// it mutates by pointer and never retains state across calls.
package distrib

import (
	"math"

	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/status"
)

// relativeTolerance is the tolerance used when comparing bucket scheme
// parameters for approximate equality during merge.
const relativeTolerance = 1e-5

// InitExponential sets d to a fresh exponential-bucket distribution.
func InitExponential(d *quotapb.Distribution, numFiniteBuckets int, growthFactor, scale float64) error {
	if numFiniteBuckets <= 0 {
		return status.InvalidArgument("num_finite_buckets must be > 0, got %d", numFiniteBuckets)
	}
	if growthFactor <= 1.0 {
		return status.InvalidArgument("growth_factor must be > 1.0, got %v", growthFactor)
	}
	if scale <= 0 {
		return status.InvalidArgument("scale must be > 0, got %v", scale)
	}
	*d = quotapb.Distribution{
		Scheme:       quotapb.Exponential,
		Exponential:  quotapb.ExponentialBuckets{NumFiniteBuckets: numFiniteBuckets, GrowthFactor: growthFactor, Scale: scale},
		BucketCounts: make([]int64, numFiniteBuckets+2),
	}
	return nil
}

// InitLinear sets d to a fresh linear-bucket distribution.
func InitLinear(d *quotapb.Distribution, numFiniteBuckets int, width, offset float64) error {
	if numFiniteBuckets <= 0 {
		return status.InvalidArgument("num_finite_buckets must be > 0, got %d", numFiniteBuckets)
	}
	if width <= 0 {
		return status.InvalidArgument("width must be > 0, got %v", width)
	}
	*d = quotapb.Distribution{
		Scheme:       quotapb.Linear,
		Linear:       quotapb.LinearBuckets{NumFiniteBuckets: numFiniteBuckets, Width: width, Offset: offset},
		BucketCounts: make([]int64, numFiniteBuckets+2),
	}
	return nil
}

// InitExplicit sets d to a fresh explicit-bucket distribution. bounds
// must be strictly ascending with no duplicates.
func InitExplicit(d *quotapb.Distribution, bounds []float64) error {
	if len(bounds) == 0 {
		return status.InvalidArgument("bounds must be non-empty")
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return status.InvalidArgument("bounds must be strictly ascending, got %v", bounds)
		}
	}
	b := append([]float64(nil), bounds...)
	*d = quotapb.Distribution{
		Scheme:       quotapb.Explicit,
		Explicit:     quotapb.ExplicitBuckets{Bounds: b},
		BucketCounts: make([]int64, len(b)+1),
	}
	return nil
}

// bucketIndex computes which bucket v falls into for d's scheme.
func bucketIndex(d *quotapb.Distribution, v float64) int {
	switch d.Scheme {
	case quotapb.Exponential:
		e := d.Exponential
		if v < e.Scale {
			return 0
		}
		idx := 1 + int(math.Floor(math.Log(v/e.Scale)/math.Log(e.GrowthFactor)))
		if idx > e.NumFiniteBuckets+1 {
			idx = e.NumFiniteBuckets + 1
		}
		return idx
	case quotapb.Linear:
		l := d.Linear
		if math.IsNaN(v) || v < l.Offset {
			return 0
		}
		last := l.Offset + float64(l.NumFiniteBuckets)*l.Width
		if v >= last {
			return l.NumFiniteBuckets + 1
		}
		return 1 + int(math.Floor((v-l.Offset)/l.Width))
	case quotapb.Explicit:
		bounds := d.Explicit.Bounds
		if v < bounds[0] {
			return 0
		}
		idx := 0
		for _, b := range bounds {
			if v >= b {
				idx++
			}
		}
		return idx
	default:
		return 0
	}
}

// AddSample records one observation: updates count/mean/min/max/variance
// via Welford's online algorithm and increments the containing bucket.
func AddSample(d *quotapb.Distribution, value float64) {
	d.Count++
	if d.Count == 1 {
		d.Mean = value
		d.Minimum = value
		d.Maximum = value
		d.SumOfSqDeviation = 0
	} else {
		oldMean := d.Mean
		d.Mean += (value - oldMean) / float64(d.Count)
		d.SumOfSqDeviation += (value - oldMean) * (value - d.Mean)
		if value < d.Minimum {
			d.Minimum = value
		}
		if value > d.Maximum {
			d.Maximum = value
		}
	}

	if len(d.BucketCounts) > 0 {
		idx := bucketIndex(d, value)
		if idx < 0 {
			idx = 0
		}
		if idx >= len(d.BucketCounts) {
			idx = len(d.BucketCounts) - 1
		}
		d.BucketCounts[idx]++
	}
}

// closeEnough reports whether a and b agree within relativeTolerance.
func closeEnough(a, b float64) bool {
	if a == b {
		return true
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return true
	}
	return math.Abs(a-b)/denom <= relativeTolerance
}

// schemesCompatible reports whether from and to share an approximately
// equal bucket scheme and identical bucket-count length.
func schemesCompatible(from, to *quotapb.Distribution) bool {
	if from.Scheme != to.Scheme {
		return false
	}
	if len(from.BucketCounts) != len(to.BucketCounts) {
		return false
	}
	switch from.Scheme {
	case quotapb.Exponential:
		a, b := from.Exponential, to.Exponential
		return a.NumFiniteBuckets == b.NumFiniteBuckets &&
			closeEnough(a.GrowthFactor, b.GrowthFactor) &&
			closeEnough(a.Scale, b.Scale)
	case quotapb.Linear:
		a, b := from.Linear, to.Linear
		return a.NumFiniteBuckets == b.NumFiniteBuckets &&
			closeEnough(a.Width, b.Width) &&
			closeEnough(a.Offset, b.Offset)
	case quotapb.Explicit:
		a, b := from.Explicit.Bounds, to.Explicit.Bounds
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !closeEnough(a[i], b[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Merge combines from into to using the parallel-variance formula.
// Requires approximately-equal bucket schemes and identical bucket-count
// length; otherwise to is left unchanged and InvalidArgument is
// returned. A zero-count from is a no-op; a zero-count to is replaced by
// a copy of from.
func Merge(from *quotapb.Distribution, to *quotapb.Distribution) error {
	if from.Count == 0 {
		return nil
	}
	if to.Count == 0 {
		*to = cloneDistribution(from)
		return nil
	}
	if !schemesCompatible(from, to) {
		return status.InvalidArgument("incompatible bucket schemes in distribution merge")
	}

	na, nb := float64(to.Count), float64(from.Count)
	n := na + nb
	delta := from.Mean - to.Mean
	mean := to.Mean + delta*nb/n
	m2 := to.SumOfSqDeviation + from.SumOfSqDeviation + delta*delta*na*nb/n

	to.Count += from.Count
	to.Mean = mean
	to.SumOfSqDeviation = m2
	if from.Minimum < to.Minimum {
		to.Minimum = from.Minimum
	}
	if from.Maximum > to.Maximum {
		to.Maximum = from.Maximum
	}
	for i := range to.BucketCounts {
		to.BucketCounts[i] += from.BucketCounts[i]
	}
	return nil
}

func cloneDistribution(d *quotapb.Distribution) quotapb.Distribution {
	c := *d
	c.BucketCounts = append([]int64(nil), d.BucketCounts...)
	if d.Explicit.Bounds != nil {
		c.Explicit.Bounds = append([]float64(nil), d.Explicit.Bounds...)
	}
	return c
}
