package filter

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownAttribute is returned when a selection targets an attribute
// that is not part of the store's catalog.
var ErrUnknownAttribute = errors.New("unknown filter attribute")

// ErrRejected is returned when a listener could not apply a new state.
var ErrRejected = errors.New("filter change rejected")

// Selection is the set of allowed values for one attribute.
// An empty selection excludes every feature.
type Selection map[string]struct{}

// NewSelection builds a selection from values, dropping duplicates.
func NewSelection(values ...string) Selection {
	s := make(Selection, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Contains reports whether v is selected.
func (s Selection) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Values returns the selected values in sorted order.
func (s Selection) Values() []string {
	values := make([]string, 0, len(s))
	for v := range s {
		values = append(values, v)
	}
	slices.Sort(values)
	return values
}

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	c := make(Selection, len(s))
	for v := range s {
		c[v] = struct{}{}
	}
	return c
}

// State maps attribute IDs to their current selection.
type State map[string]Selection

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	c := make(State, len(s))
	for k, sel := range s {
		c[k] = sel.Clone()
	}
	return c
}

// Values returns the state as attribute -> sorted values, for JSON output.
func (s State) Values() map[string][]string {
	out := make(map[string][]string, len(s))
	for k, sel := range s {
		out[k] = sel.Values()
	}
	return out
}

// Listener is notified with a snapshot of the state after every mutation.
// A listener error rejects the mutation.
type Listener func(State) error

// Store owns the filter state of one map session.
//
// Listeners run synchronously inside SetSelection, after the new state is
// visible to readers and before SetSelection returns. Mutations are
// serialized so listeners observe states in write order. A listener must
// not call SetSelection or Reset on the same store.
type Store struct {
	catalog Catalog

	write     sync.Mutex
	mu        sync.RWMutex
	state     State
	listeners []Listener
}

// NewStore creates a store with every catalog attribute fully selected.
func NewStore(catalog Catalog) *Store {
	return &Store{
		catalog: catalog,
		state:   catalog.FullState(),
	}
}

// Catalog returns the attributes this store accepts.
func (s *Store) Catalog() Catalog {
	return s.catalog
}

// State returns a copy of the current filter state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Selection returns a copy of one attribute's selection.
func (s *Store) Selection(attribute string) (Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.state[attribute]
	if !ok {
		return nil, false
	}
	return sel.Clone(), true
}

// OnChange registers a listener for state mutations.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// SetSelection replaces the selection of one attribute wholesale.
// Values are not checked against the attribute's option domain. If a
// listener rejects the new state, the previous state is restored, the
// listeners are notified of it again and the error is returned.
func (s *Store) SetSelection(attribute string, values []string) error {
	if _, ok := s.catalog.Lookup(attribute); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attribute)
	}
	return s.mutate(func(state State) State {
		state[attribute] = NewSelection(values...)
		return state
	})
}

// Reset restores the full-domain selection for every attribute.
func (s *Store) Reset() error {
	return s.mutate(func(State) State {
		return s.catalog.FullState()
	})
}

func (s *Store) mutate(apply func(State) State) error {
	s.write.Lock()
	defer s.write.Unlock()

	s.mu.Lock()
	prev := s.state.Clone()
	s.state = apply(s.state.Clone())
	snapshot := s.state.Clone()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	err := notify(listeners, snapshot)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	s.state = prev
	s.mu.Unlock()
	_ = notify(listeners, prev.Clone())
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

func notify(listeners []Listener, state State) error {
	var errs []error
	for _, l := range listeners {
		if err := l(state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
