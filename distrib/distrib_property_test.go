//go:build property
// +build property

package distrib_test

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/quotacore/distrib"
	"github.com/Mindburn-Labs/quotacore/quotapb"
)

// P5: splitting a sample sequence across two distributions and merging
// them yields the same count, mean, and per-bucket counts as inserting
// every sample into a single distribution directly.
func TestMergeMatchesDirectInsertion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("merge is equivalent to direct insertion, regardless of split point", prop.ForAll(
		func(samples []float64, split int) bool {
			if len(samples) == 0 {
				return true
			}
			if split < 0 {
				split = -split
			}
			split = split % (len(samples) + 1)

			direct := newDist(t)
			for _, s := range samples {
				distrib.AddSample(&direct, s)
			}

			a, b := newDist(t), newDist(t)
			for _, s := range samples[:split] {
				distrib.AddSample(&a, s)
			}
			for _, s := range samples[split:] {
				distrib.AddSample(&b, s)
			}
			if err := distrib.Merge(&b, &a); err != nil {
				return false
			}

			if a.Count != direct.Count {
				return false
			}
			if !closeEnough(a.Mean, direct.Mean) {
				return false
			}
			for i := range direct.BucketCounts {
				if a.BucketCounts[i] != direct.BucketCounts[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-1000, 1000)),
		gen.Int(),
	))

	properties.TestingRun(t)
}

func newDist(t *testing.T) quotapb.Distribution {
	var d quotapb.Distribution
	if err := distrib.InitLinear(&d, 20, 1.0, -1000); err != nil {
		t.Fatalf("InitLinear: %v", err)
	}
	return d
}

func closeEnough(a, b float64) bool {
	if a == b {
		return true
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return true
	}
	return math.Abs(a-b)/denom <= 1e-6
}
