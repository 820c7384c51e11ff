package filter

import (
	"encoding/json"
	"slices"
)

// Expression is a MapLibre-style filter expression tree. It serializes to
// the JSON a style layer "filter" accepts.
type Expression []any

// String returns the JSON form of the expression.
func (e Expression) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Membership is a single "feature[Attribute] in Values" test.
type Membership struct {
	Attribute string   `json:"attribute"`
	Values    []string `json:"values"`
}

// Predicate is the compiled inclusion predicate for a filter state.
// The zero value matches every feature.
type Predicate struct {
	none  bool
	terms []Membership
}

// Compile turns a filter state into a predicate.
//
// Any empty selection makes the predicate match nothing, regardless of the
// other attributes. Otherwise every attribute contributes one membership
// test and the tests are conjoined. An empty state matches everything.
// Terms are ordered by attribute and values are sorted, so equal states
// compile to identical predicates.
func Compile(state State) Predicate {
	attrs := make([]string, 0, len(state))
	for attr, sel := range state {
		if len(sel) == 0 {
			return Predicate{none: true}
		}
		attrs = append(attrs, attr)
	}
	slices.Sort(attrs)

	terms := make([]Membership, len(attrs))
	for i, attr := range attrs {
		terms[i] = Membership{Attribute: attr, Values: state[attr].Values()}
	}
	return Predicate{terms: terms}
}

// MatchNone returns a predicate that excludes every feature.
func MatchNone() Predicate {
	return Predicate{none: true}
}

// MatchesNone reports whether the predicate excludes every feature.
func (p Predicate) MatchesNone() bool {
	return p.none
}

// Terms returns the membership tests in evaluation order.
func (p Predicate) Terms() []Membership {
	return slices.Clone(p.terms)
}

// Matches evaluates the predicate against a feature's properties.
// Only string property values can satisfy a membership test.
func (p Predicate) Matches(props map[string]any) bool {
	if p.none {
		return false
	}
	for _, t := range p.terms {
		v, ok := props[t.Attribute].(string)
		if !ok {
			return false
		}
		if _, found := slices.BinarySearch(t.Values, v); !found {
			return false
		}
	}
	return true
}

// Expression renders the predicate in the layer filter format:
//
//	match nothing: ["boolean", false]
//	otherwise:     ["all", ["in", ["get", attr], ["literal", [v...]]], ...]
//
// ["all"] with no tests is always true.
func (p Predicate) Expression() Expression {
	if p.none {
		return Expression{"boolean", false}
	}
	expr := make(Expression, 0, len(p.terms)+1)
	expr = append(expr, "all")
	for _, t := range p.terms {
		values := make([]any, len(t.Values))
		for i, v := range t.Values {
			values[i] = v
		}
		expr = append(expr, []any{"in", []any{"get", t.Attribute}, []any{"literal", values}})
	}
	return expr
}

// Equal reports whether two predicates select the same features by
// construction.
func (p Predicate) Equal(o Predicate) bool {
	if p.none || o.none {
		return p.none == o.none
	}
	return slices.EqualFunc(p.terms, o.terms, func(a, b Membership) bool {
		return a.Attribute == b.Attribute && slices.Equal(a.Values, b.Values)
	})
}
