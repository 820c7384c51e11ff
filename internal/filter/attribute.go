// Package filter holds the parcel attribute catalog, the per-session filter
// store and the compiler that turns filter state into a layer predicate.
package filter

// Attribute is a filterable parcel property with a fixed option domain.
type Attribute struct {
	ID      string   `json:"id" doc:"Attribute identifier" example:"priority_level"`
	Label   string   `json:"label" doc:"Display label" example:"Priority Level"`
	Options []string `json:"options" doc:"Allowed option values"`
	Help    string   `json:"help,omitempty" doc:"Help text shown next to the filter"`
}

// Catalog is the static list of filterable attributes.
type Catalog []Attribute

// PriorityAttribute is the attribute the feature list is ordered by.
const PriorityAttribute = "priority_level"

// DefaultCatalog enumerates the parcel attributes exposed to the filter UI.
var DefaultCatalog = Catalog{
	{
		ID:      PriorityAttribute,
		Label:   "Priority Level",
		Options: []string{"Low", "Medium", "High"},
		Help:    "For information on how this is calculated, see the About page",
	},
	{
		ID:      "parcel_type",
		Label:   "Parcel Type",
		Options: []string{"Land", "Building"},
		Help:    "Parcel type from City of Philadelphia data",
	},
	{
		ID:      "access_process",
		Label:   "Access Process",
		Options: []string{"Buy Property", "Land Bank", "Private Land Use Agreement"},
		Help:    "For information on what these mean, see the Get Access page",
	},
	{
		ID:      "tactical_urbanism",
		Label:   "Tactical Urbanism",
		Options: []string{"Yes", "No"},
		Help:    "For an explanation of this, see the Get Access page",
	},
	{
		ID:      "conservatorship",
		Label:   "Conservatorship Eligible",
		Options: []string{"Yes", "No"},
		Help:    "For an explanation of this, see the Get Access page",
	},
	{
		ID:      "side_yard_eligible",
		Label:   "Side Yard Eligible",
		Options: []string{"Yes", "No"},
		Help:    "For an explanation of this, see the Get Access page",
	},
	{
		ID:      "llc_owner",
		Label:   "LLC Owner",
		Options: []string{"Yes", "No"},
		Help:    "For an explanation of this, see the Get Access page",
	},
}

// Lookup returns the attribute with the given ID.
func (c Catalog) Lookup(id string) (Attribute, bool) {
	for _, a := range c {
		if a.ID == id {
			return a, true
		}
	}
	return Attribute{}, false
}

// IDs returns the attribute identifiers in catalog order.
func (c Catalog) IDs() []string {
	ids := make([]string, len(c))
	for i, a := range c {
		ids[i] = a.ID
	}
	return ids
}

// FullState returns a state with every attribute selecting its whole domain.
func (c Catalog) FullState() State {
	state := make(State, len(c))
	for _, a := range c {
		state[a.ID] = NewSelection(a.Options...)
	}
	return state
}
