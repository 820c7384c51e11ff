package viewport

import (
	"slices"
)

// DefaultSampleCap bounds the feature list handed to the UI.
const DefaultSampleCap = 100

// unrankedPriority places missing or unknown priorities after Low.
const unrankedPriority = 4

var priorityRank = map[string]int{
	"High":   1,
	"Medium": 2,
	"Low":    3,
}

// Rank maps a priority level to its sort rank (1 sorts first).
func Rank(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return unrankedPriority
}

// Result is the derived view of one recomputation.
type Result struct {
	Layer  Layer     `json:"layer" doc:"Active layer the features were read from"`
	Zoom   float64   `json:"zoom" doc:"Zoom level at recomputation"`
	Count  int       `json:"count" doc:"Represented parcel count, clusters expanded"`
	Sample []Feature `json:"sample" doc:"Priority-ordered, capped feature list"`
}

// Count returns the number of parcels the features represent: a cluster
// contributes its point_count, anything else contributes 1.
func Count(features []Feature) int {
	total := 0
	for _, f := range features {
		if f.Clustered() {
			total += f.PointCount()
		} else {
			total++
		}
	}
	return total
}

// Order returns a copy of features stably sorted by priority rank.
func Order(features []Feature) []Feature {
	sorted := slices.Clone(features)
	slices.SortStableFunc(sorted, func(a, b Feature) int {
		return Rank(a.Priority()) - Rank(b.Priority())
	})
	return sorted
}

// Truncate returns at most the first n features.
func Truncate(features []Feature, n int) []Feature {
	if n <= 0 {
		return []Feature{}
	}
	if len(features) <= n {
		return features
	}
	return features[:n]
}

// Aggregator turns a rendered feature set into a Result. It holds no state
// between calls.
type Aggregator struct {
	sampleCap int
}

// NewAggregator creates an aggregator; a non-positive cap uses DefaultSampleCap.
func NewAggregator(sampleCap int) *Aggregator {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	return &Aggregator{sampleCap: sampleCap}
}

// SampleCap returns the configured sample size.
func (a *Aggregator) SampleCap() int {
	return a.sampleCap
}

// Aggregate counts, orders and truncates features. The input is not modified.
func (a *Aggregator) Aggregate(features []Feature) Result {
	sample := Truncate(Order(features), a.sampleCap)
	if sample == nil {
		sample = []Feature{}
	}
	return Result{
		Count:  Count(features),
		Sample: sample,
	}
}
