package render

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/parcel"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		expr any
		want string
	}{
		{"empty all", filter.Expression{"all"}, "true"},
		{"empty any", []any{"any"}, "false"},
		{"match none", filter.Expression{"boolean", false}, "false"},
		{"bare bool", false, "false"},
		{
			"membership",
			filter.Expression{"all", []any{"in", []any{"get", "priority_level"}, []any{"literal", []any{"High", "Low"}}}},
			`(type(priority_level) == "string" && (priority_level in ["High", "Low"]))`,
		},
		{"equality", []any{"==", []any{"get", "llc_owner"}, "Yes"}, `llc_owner == "Yes"`},
		{"negation", []any{"!", []any{"boolean", true}}, "!(true)"},
		{
			"mixed literal list",
			[]any{"in", []any{"get", "units"}, []any{"literal", []any{"1", 2.0}}},
			`units in ["1", 2]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := translate(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalFilter(t *testing.T) {
	state := filter.State{
		"priority_level": filter.NewSelection("High"),
		"llc_owner":      filter.NewSelection("Yes", "No"),
	}
	pred := filter.Compile(state)
	src, err := translate(pred.Expression())
	require.NoError(t, err)
	prog, err := compileFilter(src)
	require.NoError(t, err)

	cases := []map[string]any{
		{"priority_level": "High", "llc_owner": "No"},
		{"priority_level": "Low", "llc_owner": "No"},
		{"priority_level": "High"},
		{"priority_level": 1, "llc_owner": "Yes"},
		{"priority_level": 3.0, "llc_owner": "Yes"},
		{"priority_level": true, "llc_owner": "No"},
		{"priority_level": "High", "llc_owner": []any{"Yes"}},
		{"priority_level": nil, "llc_owner": "Yes"},
		nil,
	}
	for _, props := range cases {
		got, err := evalFilter(prog, props)
		require.NoError(t, err)
		assert.Equal(t, pred.Matches(props), got, "props %v", props)
	}
}

func TestSetFilter_MixedAttributeTypes(t *testing.T) {
	parcels := []parcel.Parcel{
		{ID: "s", Geometry: square(-75.16, 39.99, 0.00002), Properties: map[string]any{"priority_level": "High", "parcel_type": "Land"}},
		{ID: "n", Geometry: square(-75.1601, 39.9901, 0.00002), Properties: map[string]any{"priority_level": 3.0, "parcel_type": "Land"}},
		{ID: "b", Geometry: square(-75.1602, 39.9902, 0.00002), Properties: map[string]any{"priority_level": true, "parcel_type": 1.0}},
		{ID: "x", Geometry: square(-75.1603, 39.9903, 0.00002), Properties: map[string]any{"parcel_type": "Land"}},
	}
	src := NewSource(parcels)
	m := NewMap(src, Options{LayerThreshold: 13, MinZoom: 10, MaxZoom: 20, Center: orb.Point{-75.16, 39.99}, Zoom: 15})

	states := []filter.State{
		filter.DefaultCatalog.FullState(),
		{"priority_level": filter.NewSelection("High")},
		{"priority_level": filter.NewSelection("High", "Medium", "Low"), "parcel_type": filter.NewSelection("Land")},
	}
	for _, state := range states {
		pred := filter.Compile(state)
		require.NoError(t, m.SetFilter(string(viewport.LayerPolygons), pred.Expression()))

		got, err := m.QueryRenderedFeatures(nil, []string{string(viewport.LayerPolygons)})
		require.NoError(t, err)

		var want []string
		for _, p := range parcels {
			if pred.Matches(p.Properties) {
				want = append(want, p.ID)
			}
		}
		assert.ElementsMatch(t, want, featureIDs(got), "state %v", state.Values())
	}
}
