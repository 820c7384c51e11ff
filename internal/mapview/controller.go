package mapview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/logging"
	"github.com/joeblew999/plat-parcels/internal/metrics"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

// Placement attaches a control at a position.
type Placement struct {
	Control  Control
	Position Position
}

// Options configures a Controller.
type Options struct {
	LayerThreshold float64
	SampleCap      int
	GeocodeZoom    float64
	Controls       []Placement
	Logger         *logging.Logger
	Metrics        *metrics.View
}

// Snapshot is the published state of a session after an event.
type Snapshot struct {
	SessionID string              `json:"sessionId" doc:"Session identifier"`
	Loading   bool                `json:"loading" doc:"True while the view is being re-derived"`
	Result    viewport.Result     `json:"result" doc:"Visible count and ordered sample"`
	Filters   map[string][]string `json:"filters" doc:"Selected values per attribute"`
	Filter    filter.Expression   `json:"filter" doc:"Layer filter expression currently applied"`
	Selected  *viewport.Feature   `json:"selected,omitempty" doc:"Parcel picked by the last click"`
	Center    orb.Point           `json:"center" doc:"Camera center (lon, lat)"`
	Zoom      float64             `json:"zoom" doc:"Camera zoom"`
}

type lifecycle int

const (
	created lifecycle = iota
	opened
	closed
)

// Controller owns one Map and its controls and keeps the derived view in
// step with the filter store and the camera. Event handling is serialized.
type Controller struct {
	id    string
	m     Map
	store *filter.Store
	agg   *viewport.Aggregator
	opts  Options
	log   *logging.Logger
	ctx   context.Context

	mu        sync.Mutex
	state     lifecycle
	attached  []Placement
	predicate filter.Predicate
	result    viewport.Result
	selected  *viewport.Feature
	loading   bool
	listeners []listener
	nextSub   int
}

type listener struct {
	id int
	fn func(Snapshot)
}

// NewController creates a controller for session id. The store's changes
// are forwarded as FilterChanged events once the controller is open.
func NewController(id string, m Map, store *filter.Store, opts Options) *Controller {
	if opts.LayerThreshold == 0 {
		opts.LayerThreshold = viewport.DefaultLayerThreshold
	}
	if opts.GeocodeZoom == 0 {
		opts.GeocodeZoom = 16
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	c := &Controller{
		id:    id,
		m:     m,
		store: store,
		agg:   viewport.NewAggregator(opts.SampleCap),
		opts:  opts,
		log:   log.Named("mapview"),
		ctx:   logging.WithSession(context.Background(), id),
		result: viewport.Result{
			Sample: []viewport.Feature{},
		},
	}
	store.OnChange(func(s filter.State) error {
		err := c.Handle(c.ctx, FilterChanged{State: s})
		if errors.Is(err, ErrNotOpen) || errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			c.log.Warn(c.ctx, "applying filter change failed", zap.Error(err))
		}
		return err
	})
	return c
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// Map returns the owned map.
func (c *Controller) Map() Map { return c.m }

// Store returns the session's filter store.
func (c *Controller) Store() *filter.Store { return c.store }

// Control returns the attached control with the given ID.
func (c *Controller) Control(id string) (Control, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.attached {
		if p.Control.ID() == id {
			return p.Control, true
		}
	}
	return nil, false
}

// Subscribe registers fn to receive a snapshot after every state change
// and returns a function that removes it. fn runs with the controller lock
// held and must not call back into it.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(l listener) bool { return l.id == id })
	}
}

// Open attaches the controls, applies the current filter and derives the
// initial view.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case opened:
		return nil
	case closed:
		return ErrClosed
	}

	for _, p := range c.opts.Controls {
		if err := c.m.AddControl(p.Control, p.Position); err != nil {
			c.detachLocked(ctx)
			return fmt.Errorf("attaching %s: %w", p.Control.ID(), err)
		}
		c.attached = append(c.attached, p)
	}
	c.state = opened

	if err := c.applyFilterLocked(c.store.State()); err != nil {
		return err
	}
	c.recomputeLocked(ctx, string(CauseDataLoad))
	c.log.Info(ctx, "map session opened", zap.Float64("zoom", c.m.Zoom()))
	return nil
}

// Close detaches the controls in reverse order. It is safe to call more
// than once.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == closed {
		return nil
	}
	c.state = closed
	c.detachLocked(ctx)
	c.log.Info(ctx, "map session closed")
	return nil
}

func (c *Controller) detachLocked(ctx context.Context) {
	for i := len(c.attached) - 1; i >= 0; i-- {
		ctrl := c.attached[i].Control
		if err := c.m.RemoveControl(ctrl); err != nil {
			c.log.Warn(ctx, "removing control failed", zap.String("control", ctrl.ID()), zap.Error(err))
		}
	}
	c.attached = nil
}

// SetSelection updates one attribute's filter. The view is re-derived
// before it returns. If the map rejects the filter, the store keeps its
// previous selection and the error wraps filter.ErrRejected.
func (c *Controller) SetSelection(attribute string, values []string) error {
	return c.store.SetSelection(attribute, values)
}

// Handle applies one event and re-derives the view.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case created:
		return ErrNotOpen
	case closed:
		return ErrClosed
	}
	ctx = logging.WithTrigger(logging.WithSession(ctx, c.id), ev.Trigger())

	switch e := ev.(type) {
	case FilterChanged:
		if err := c.applyFilterLocked(e.State); err != nil {
			return err
		}
	case ViewportChanged:
		center := c.m.Center()
		if e.Center != nil {
			center = *e.Center
		}
		if e.Center != nil || !math.IsNaN(e.Zoom) {
			c.m.JumpTo(center, e.Zoom)
		}
	case Clicked:
		c.selectAtLocked(ctx, e.Point)
	case GeocodeSelected:
		c.m.JumpTo(e.Result.Center, c.opts.GeocodeZoom)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	c.recomputeLocked(ctx, ev.Trigger())
	return nil
}

// applyFilterLocked compiles state and applies it to every layer.
func (c *Controller) applyFilterLocked(state filter.State) error {
	pred := filter.Compile(state)
	expr := pred.Expression()
	for _, l := range viewport.Layers() {
		if err := c.m.SetFilter(string(l), expr); err != nil {
			return fmt.Errorf("setting filter on %s: %w", l, err)
		}
	}
	c.predicate = pred
	return nil
}

// selectAtLocked picks the first feature under p, polygons before points,
// and eases the camera to p. A miss only clears the selection.
func (c *Controller) selectAtLocked(ctx context.Context, p orb.Point) {
	region := orb.Bound{Min: p, Max: p}
	layers := []string{string(viewport.LayerPolygons), string(viewport.LayerPoints)}
	features, err := c.m.QueryRenderedFeatures(&region, layers)
	if err != nil {
		c.queryFailed(ctx, err)
		features = nil
	}
	if len(features) == 0 {
		c.selected = nil
		return
	}
	f := features[0]
	c.selected = &f
	c.m.JumpTo(p, c.m.Zoom())
}

// recomputeLocked selects the active layer for the current zoom, queries
// it and replaces the result.
func (c *Controller) recomputeLocked(ctx context.Context, trigger string) {
	start := time.Now()
	c.loading = true
	c.publishLocked()

	zoom := c.m.Zoom()
	layer := viewport.SelectLayer(zoom, c.opts.LayerThreshold)
	features, err := c.m.QueryRenderedFeatures(nil, []string{string(layer)})
	if err != nil {
		c.queryFailed(ctx, err)
		features = nil
	}

	res := c.agg.Aggregate(features)
	res.Layer = layer
	res.Zoom = zoom
	c.result = res
	c.loading = false

	if c.opts.Metrics != nil {
		c.opts.Metrics.Recompute(trigger, string(layer), time.Since(start), res.Count)
	}
	c.log.Debug(ctx, "view recomputed",
		zap.String("layer", string(layer)),
		zap.Float64("zoom", zoom),
		zap.Int("count", res.Count),
		zap.Int("sample", len(res.Sample)),
	)
	c.publishLocked()
}

func (c *Controller) queryFailed(ctx context.Context, err error) {
	c.log.Warn(ctx, "rendered feature query failed", zap.Error(err))
	if c.opts.Metrics != nil {
		c.opts.Metrics.QueryFailed()
	}
}

func (c *Controller) publishLocked() {
	if len(c.listeners) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, l := range c.listeners {
		l.fn(snap)
	}
}

// Snapshot returns the current derived state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Result returns the current count and sample.
func (c *Controller) Result() viewport.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Predicate returns the predicate currently applied to the layers.
func (c *Controller) Predicate() filter.Predicate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predicate
}

func (c *Controller) snapshotLocked() Snapshot {
	var selected *viewport.Feature
	if c.selected != nil {
		f := *c.selected
		selected = &f
	}
	return Snapshot{
		SessionID: c.id,
		Loading:   c.loading,
		Result:    c.result,
		Filters:   c.store.State().Values(),
		Filter:    c.predicate.Expression(),
		Selected:  selected,
		Center:    c.m.Center(),
		Zoom:      c.m.Zoom(),
	}
}
