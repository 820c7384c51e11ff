package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_EmptySelectionMatchesNothing(t *testing.T) {
	state := DefaultCatalog.FullState()
	state["llc_owner"] = NewSelection()

	p := Compile(state)
	require.True(t, p.MatchesNone())
	assert.Equal(t, Expression{"boolean", false}, p.Expression())

	features := []map[string]any{
		{"priority_level": "High", "llc_owner": "Yes"},
		{"priority_level": "Low", "llc_owner": "No"},
		{},
	}
	for _, props := range features {
		assert.False(t, p.Matches(props), "props=%v", props)
	}
}

func TestCompile_EmptySelectionTakesPrecedence(t *testing.T) {
	state := State{
		"priority_level": NewSelection("High", "Medium", "Low"),
		"parcel_type":    NewSelection(),
	}
	p := Compile(state)
	assert.True(t, p.MatchesNone())
	assert.False(t, p.Matches(map[string]any{"priority_level": "High", "parcel_type": "Land"}))
}

func TestCompile_EmptyStateMatchesEverything(t *testing.T) {
	p := Compile(State{})
	assert.False(t, p.MatchesNone())
	assert.Equal(t, Expression{"all"}, p.Expression())
	assert.True(t, p.Matches(map[string]any{}))
	assert.True(t, p.Matches(map[string]any{"priority_level": "Anything"}))
}

func TestCompile_Membership(t *testing.T) {
	state := State{
		"priority_level": NewSelection("High", "Medium"),
		"parcel_type":    NewSelection("Land"),
	}
	p := Compile(state)

	tests := []struct {
		name  string
		props map[string]any
		want  bool
	}{
		{"all match", map[string]any{"priority_level": "High", "parcel_type": "Land"}, true},
		{"second value", map[string]any{"priority_level": "Medium", "parcel_type": "Land"}, true},
		{"priority excluded", map[string]any{"priority_level": "Low", "parcel_type": "Land"}, false},
		{"type excluded", map[string]any{"priority_level": "High", "parcel_type": "Building"}, false},
		{"missing attribute", map[string]any{"priority_level": "High"}, false},
		{"non-string value", map[string]any{"priority_level": "High", "parcel_type": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Matches(tt.props))
		})
	}
}

func TestCompile_FullDomainStillEmitsTest(t *testing.T) {
	p := Compile(State{"tactical_urbanism": NewSelection("Yes", "No")})
	require.Len(t, p.Terms(), 1)
	assert.Equal(t, Membership{Attribute: "tactical_urbanism", Values: []string{"No", "Yes"}}, p.Terms()[0])
	assert.False(t, p.Matches(map[string]any{}))
}

func TestCompile_Expression(t *testing.T) {
	p := Compile(State{
		"priority_level": NewSelection("Low", "High"),
		"llc_owner":      NewSelection("No"),
	})
	want := Expression{
		"all",
		[]any{"in", []any{"get", "llc_owner"}, []any{"literal", []any{"No"}}},
		[]any{"in", []any{"get", "priority_level"}, []any{"literal", []any{"High", "Low"}}},
	}
	assert.Equal(t, want, p.Expression())
	assert.JSONEq(t,
		`["all",["in",["get","llc_owner"],["literal",["No"]]],["in",["get","priority_level"],["literal",["High","Low"]]]]`,
		p.Expression().String())
}

func TestCompile_Deterministic(t *testing.T) {
	state := DefaultCatalog.FullState()
	state["priority_level"] = NewSelection("High")

	a := Compile(state)
	b := Compile(state.Clone())
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Expression().String(), b.Expression().String())

	assert.True(t, MatchNone().Equal(Compile(State{"x": NewSelection()})))
	assert.False(t, MatchNone().Equal(a))
}
