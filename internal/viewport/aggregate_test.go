package viewport

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feature(id string, props map[string]any) Feature {
	return Feature{ID: id, Layer: LayerPoints, Properties: props}
}

func ids(features []Feature) []string {
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = f.ID
	}
	return out
}

func TestCount_ExpandsClusters(t *testing.T) {
	features := []Feature{
		feature("a", map[string]any{"clustered": false}),
		feature("b", map[string]any{"clustered": true, "point_count": 5}),
		feature("c", map[string]any{"clustered": true}),
	}
	assert.Equal(t, 6, Count(features))
}

func TestCount_PointCountTypes(t *testing.T) {
	tests := []struct {
		name  string
		count any
		want  int
	}{
		{"int", 3, 3},
		{"int64", int64(4), 4},
		{"uint64", uint64(7), 7},
		{"float64", float64(12), 12},
		{"string", "9", 0},
		{"nan", math.NaN(), 0},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := feature("x", map[string]any{"clustered": true, "point_count": tt.count})
			assert.Equal(t, tt.want, Count([]Feature{f}))
		})
	}
}

func TestCount_TruthyClusterFlag(t *testing.T) {
	f := feature("x", map[string]any{"clustered": 1, "point_count": 8})
	assert.Equal(t, 8, Count([]Feature{f}))

	f = feature("y", map[string]any{"clustered": "", "point_count": 8})
	assert.Equal(t, 1, Count([]Feature{f}))
}

func TestOrder_StableByPriority(t *testing.T) {
	features := []Feature{
		feature("low", map[string]any{"priority_level": "Low"}),
		feature("high-1", map[string]any{"priority_level": "High"}),
		feature("medium", map[string]any{"priority_level": "Medium"}),
		feature("high-2", map[string]any{"priority_level": "High"}),
	}
	got := Order(features)
	assert.Equal(t, []string{"high-1", "high-2", "medium", "low"}, ids(got))
	assert.Equal(t, "low", features[0].ID, "input must not be reordered")
}

func TestOrder_UnknownPrioritySortsLast(t *testing.T) {
	features := []Feature{
		feature("missing", map[string]any{}),
		feature("low", map[string]any{"priority_level": "Low"}),
		feature("bogus", map[string]any{"priority_level": "Urgent"}),
		feature("number", map[string]any{"priority_level": 1}),
		feature("high", map[string]any{"priority_level": "High"}),
	}
	got := Order(features)
	assert.Equal(t, []string{"high", "low", "missing", "bogus", "number"}, ids(got))
}

func TestTruncate(t *testing.T) {
	many := make([]Feature, 150)
	for i := range many {
		many[i] = feature(fmt.Sprint(i), map[string]any{})
	}
	assert.Len(t, Truncate(many, 100), 100)
	assert.Len(t, Truncate(many[:40], 100), 40)
	assert.Empty(t, Truncate(many, 0))
}

func TestAggregate(t *testing.T) {
	agg := NewAggregator(DefaultSampleCap)

	features := make([]Feature, 0, 150)
	priorities := []string{"Low", "Medium", "High"}
	for i := range 150 {
		features = append(features, feature(fmt.Sprint(i), map[string]any{
			"priority_level": priorities[i%3],
		}))
	}

	res := agg.Aggregate(features)
	assert.Equal(t, 150, res.Count)
	require.Len(t, res.Sample, 100)
	assert.Equal(t, "High", res.Sample[0].Priority())
	assert.Equal(t, "2", res.Sample[0].ID)
	assert.Equal(t, "Medium", res.Sample[50].Priority())
	assert.Equal(t, "Medium", res.Sample[99].Priority())

	again := agg.Aggregate(features)
	assert.Equal(t, res, again)
}

func TestAggregate_FewerThanCap(t *testing.T) {
	agg := NewAggregator(100)
	features := make([]Feature, 40)
	for i := range features {
		p := "Low"
		if i%2 == 0 {
			p = "High"
		}
		features[i] = feature(fmt.Sprint(i), map[string]any{"priority_level": p})
	}
	res := agg.Aggregate(features)
	assert.Equal(t, 40, res.Count)
	assert.Equal(t, ids(Order(features)), ids(res.Sample))
}

func TestAggregate_Empty(t *testing.T) {
	res := NewAggregator(0).Aggregate(nil)
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Sample)
	assert.Empty(t, res.Sample)
}

func TestNewAggregator_DefaultCap(t *testing.T) {
	assert.Equal(t, DefaultSampleCap, NewAggregator(-1).SampleCap())
	assert.Equal(t, 10, NewAggregator(10).SampleCap())
}
