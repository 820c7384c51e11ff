package mapview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/logging"
	"github.com/joeblew999/plat-parcels/internal/metrics"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

type harness struct {
	m        *fakeMap
	store    *filter.Store
	ctrl     *Controller
	legend   *LegendControl
	geocoder *GeocoderControl
}

func newHarness(t *testing.T, zoom float64, opts Options) *harness {
	t.Helper()
	h := &harness{
		m:        newFakeMap(zoom),
		store:    filter.NewStore(filter.DefaultCatalog),
		legend:   NewLegendControl([]LegendItem{{Label: "High", Color: "#FF4500"}}),
		geocoder: NewGeocoderControl(&fakeGeocoder{}, 0),
	}
	opts.Controls = []Placement{
		{Control: h.legend, Position: TopLeft},
		{Control: h.geocoder, Position: TopRight},
	}
	h.ctrl = NewController("s-1", h.m, h.store, opts)
	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Open(context.Background()))
	h.m.reset()
}

func TestController_Lifecycle(t *testing.T) {
	h := newHarness(t, 12, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.Handle(ctx, Clicked{}), ErrNotOpen)

	require.NoError(t, h.ctrl.Open(ctx))
	assert.True(t, h.legend.Attached())
	assert.Equal(t, []string{"legend", "geocoder"}, h.m.controls)
	got, ok := h.ctrl.Control("geocoder")
	require.True(t, ok)
	assert.Same(t, h.geocoder, got)

	h.m.reset()
	require.NoError(t, h.ctrl.Close(ctx))
	assert.Equal(t, []string{"remove:geocoder", "remove:legend"}, h.m.callLog())
	assert.False(t, h.legend.Attached())
	_, ok = h.ctrl.Control("geocoder")
	assert.False(t, ok)

	require.NoError(t, h.ctrl.Close(ctx), "close is idempotent")
	assert.Equal(t, []string{"remove:geocoder", "remove:legend"}, h.m.callLog())
	assert.ErrorIs(t, h.ctrl.Handle(ctx, ViewportChanged{Zoom: 12}), ErrClosed)
	assert.ErrorIs(t, h.ctrl.Open(ctx), ErrClosed)
}

func TestController_OpenAppliesFullFilter(t *testing.T) {
	h := newHarness(t, 12, Options{})
	require.NoError(t, h.ctrl.Open(context.Background()))

	want := filter.Compile(filter.DefaultCatalog.FullState()).Expression()
	for _, l := range viewport.Layers() {
		assert.Equal(t, want, h.m.filterFor(l))
	}
	assert.True(t, h.ctrl.Predicate().Equal(filter.Compile(filter.DefaultCatalog.FullState())))
}

func TestController_FilterChangeAppliesToBothLayersThenAggregates(t *testing.T) {
	h := newHarness(t, 12, Options{})
	h.m.features[viewport.LayerPoints] = []viewport.Feature{pf("a", "High")}
	h.open(t)

	require.NoError(t, h.ctrl.SetSelection("priority_level", []string{}))

	assert.Equal(t, []string{
		"filter:" + string(viewport.LayerPolygons),
		"filter:" + string(viewport.LayerPoints),
		"query:" + string(viewport.LayerPoints),
	}, h.m.callLog())
	assert.Equal(t, filter.Expression{"boolean", false}, h.m.filterFor(viewport.LayerPoints))
	assert.Equal(t, filter.Expression{"boolean", false}, h.m.filterFor(viewport.LayerPolygons))
	assert.True(t, h.ctrl.Predicate().MatchesNone())
}

func TestController_RejectedFilterKeepsState(t *testing.T) {
	h := newHarness(t, 14, Options{})
	h.m.features[viewport.LayerPolygons] = []viewport.Feature{pf("a", "High")}
	h.open(t)
	before := h.ctrl.Snapshot()

	h.m.setErr = errors.New("style not loaded")
	err := h.ctrl.SetSelection("priority_level", []string{"Low"})
	require.ErrorIs(t, err, filter.ErrRejected)
	assert.ErrorContains(t, err, "style not loaded")

	sel, ok := h.ctrl.Store().Selection("priority_level")
	require.True(t, ok)
	assert.Equal(t, []string{"High", "Low", "Medium"}, sel.Values())
	assert.True(t, h.ctrl.Predicate().Equal(filter.Compile(h.ctrl.Store().State())))
	assert.Equal(t, before.Filter, h.ctrl.Snapshot().Filter)
	assert.NotContains(t, h.m.callLog(), "query:"+string(viewport.LayerPolygons), "no recompute after a rejected filter")

	h.m.setErr = nil
	require.NoError(t, h.ctrl.SetSelection("priority_level", []string{"Low"}))
	assert.Equal(t, []string{"Low"}, h.ctrl.Snapshot().Filters["priority_level"])
}

func TestController_ViewportSelectsLayer(t *testing.T) {
	h := newHarness(t, 10, Options{})
	h.m.features[viewport.LayerPoints] = []viewport.Feature{pf("p", "Low")}
	h.m.features[viewport.LayerPolygons] = []viewport.Feature{pf("x", "High"), pf("y", "Low")}
	h.open(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Handle(ctx, ViewportChanged{Cause: CauseMoveEnd, Zoom: 12.999}))
	res := h.ctrl.Result()
	assert.Equal(t, viewport.LayerPoints, res.Layer)
	assert.Equal(t, 1, res.Count)

	require.NoError(t, h.ctrl.Handle(ctx, ViewportChanged{Cause: CauseMoveEnd, Zoom: 13}))
	res = h.ctrl.Result()
	assert.Equal(t, viewport.LayerPolygons, res.Layer)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 13.0, res.Zoom)
}

func TestController_ViewportKeepsCameraWhenUnspecified(t *testing.T) {
	h := newHarness(t, 14, Options{})
	h.open(t)

	require.NoError(t, h.ctrl.Handle(context.Background(), ViewportChanged{Cause: CauseDataLoad, Zoom: math.NaN()}))
	assert.Equal(t, 14.0, h.m.Zoom())
	assert.Equal(t, viewport.LayerPolygons, h.ctrl.Result().Layer)

	center := orb.Point{-75.2, 40.0}
	require.NoError(t, h.ctrl.Handle(context.Background(), ViewportChanged{Cause: CauseMoveEnd, Center: &center, Zoom: math.NaN()}))
	assert.Equal(t, center, h.m.Center())
	assert.Equal(t, 14.0, h.m.Zoom())
}

func TestController_ClustersCountedAndSampleCapped(t *testing.T) {
	h := newHarness(t, 11, Options{SampleCap: 3})
	h.m.features[viewport.LayerPoints] = []viewport.Feature{
		pf("low", "Low"),
		{ID: "cluster", Properties: map[string]any{"clustered": true, "point_count": 40, "priority_level": "Medium"}},
		pf("high", "High"),
		pf("none", ""),
		pf("high-2", "High"),
	}
	require.NoError(t, h.ctrl.Open(context.Background()))

	res := h.ctrl.Result()
	assert.Equal(t, 44, res.Count)
	require.Len(t, res.Sample, 3)
	assert.Equal(t, "high", res.Sample[0].ID)
	assert.Equal(t, "high-2", res.Sample[1].ID)
	assert.Equal(t, "cluster", res.Sample[2].ID)
}

func TestController_QueryFailureYieldsEmptyResult(t *testing.T) {
	log, logs := logging.NewTestLogger()
	view := metrics.NewView(prometheus.NewRegistry())
	h := newHarness(t, 12, Options{Logger: log, Metrics: view})
	h.m.features[viewport.LayerPoints] = []viewport.Feature{pf("a", "High")}
	h.open(t)
	require.Equal(t, 1, h.ctrl.Result().Count)

	h.m.queryErr = errors.New("style not loaded")
	require.NoError(t, h.ctrl.Handle(context.Background(), ViewportChanged{Cause: CauseMoveEnd, Zoom: 12}))

	res := h.ctrl.Result()
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Sample)
	assert.Empty(t, res.Sample)

	warns := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("rendered feature query failed")
	require.Equal(t, 1, warns.Len())
	assert.Equal(t, "s-1", warns.All()[0].ContextMap()["session_id"])
	assert.Equal(t, "moveend", warns.All()[0].ContextMap()["trigger"])
}

func TestController_QueryFailureMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	view := metrics.NewView(reg)
	h := newHarness(t, 12, Options{Metrics: view})
	h.m.queryErr = errors.New("boom")
	require.NoError(t, h.ctrl.Open(context.Background()))

	expected := `
# HELP parcels_view_query_failures_total Rendered feature queries that failed and were treated as empty
# TYPE parcels_view_query_failures_total counter
parcels_view_query_failures_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "parcels_view_query_failures_total"))
	n, err := testutil.GatherAndCount(reg, "parcels_view_recomputes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestController_Click(t *testing.T) {
	h := newHarness(t, 15, Options{})
	h.open(t)
	ctx := context.Background()

	h.m.hits = []viewport.Feature{pf("hit", "High"), pf("other", "Low")}
	p := orb.Point{-75.17, 39.98}
	require.NoError(t, h.ctrl.Handle(ctx, Clicked{Point: p}))

	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "hit", snap.Selected.ID)
	assert.Equal(t, p, snap.Center)
	assert.Equal(t, 15.0, snap.Zoom)
	assert.Equal(t, []string{string(viewport.LayerPolygons), string(viewport.LayerPoints)}, h.m.hitOrder)

	h.m.hits = nil
	require.NoError(t, h.ctrl.Handle(ctx, Clicked{Point: orb.Point{-75.3, 40.1}}))
	snap = h.ctrl.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.Equal(t, p, snap.Center, "a miss leaves the camera alone")
	assert.Equal(t, 15.0, snap.Zoom)
}

func TestController_GeocodeMovesCamera(t *testing.T) {
	h := newHarness(t, 11, Options{GeocodeZoom: 16})
	h.m.features[viewport.LayerPolygons] = []viewport.Feature{pf("a", "High")}
	h.open(t)

	target := orb.Point{-75.15, 39.95}
	require.NoError(t, h.ctrl.Handle(context.Background(), GeocodeSelected{Result: GeocodeResult{Center: target}}))
	assert.Equal(t, target, h.m.Center())
	assert.Equal(t, 16.0, h.m.Zoom())
	assert.Equal(t, viewport.LayerPolygons, h.ctrl.Result().Layer)
}

func TestController_SubscribeSeesLoadingTransitions(t *testing.T) {
	h := newHarness(t, 12, Options{})
	var loading []bool
	cancel := h.ctrl.Subscribe(func(s Snapshot) {
		loading = append(loading, s.Loading)
		assert.Equal(t, "s-1", s.SessionID)
	})
	require.NoError(t, h.ctrl.Open(context.Background()))
	assert.Equal(t, []bool{true, false}, loading)

	cancel()
	require.NoError(t, h.ctrl.Handle(context.Background(), ViewportChanged{Zoom: 14}))
	assert.Len(t, loading, 2, "cancelled listeners see nothing")
}

func TestController_FilterChangesBeforeOpenAreDeferred(t *testing.T) {
	h := newHarness(t, 12, Options{})
	require.NoError(t, h.ctrl.SetSelection("llc_owner", []string{"No"}))
	assert.Empty(t, h.m.callLog())

	require.NoError(t, h.ctrl.Open(context.Background()))
	got := h.m.filterFor(viewport.LayerPoints)
	assert.Contains(t, got.String(), `["get","llc_owner"],["literal",["No"]]`)
}

func TestController_LastWriteWins(t *testing.T) {
	h := newHarness(t, 12, Options{})
	h.open(t)

	done := make(chan struct{})
	for i := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = h.ctrl.SetSelection("parcel_type", []string{fmt.Sprint(i)})
		}()
	}
	for range 8 {
		<-done
	}
	sel, ok := h.store.Selection("parcel_type")
	require.True(t, ok)
	want := fmt.Sprintf(`["get","parcel_type"],["literal",[%q]]`, sel.Values()[0])
	assert.Contains(t, h.ctrl.Snapshot().Filter.String(), want)
}
