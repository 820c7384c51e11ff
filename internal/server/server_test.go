package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/mapview"
)

func writeSource(t *testing.T, dataDir string) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	add := func(id, address, priority string, lon, lat float64) {
		d := 0.00002
		f := geojson.NewFeature(orb.Polygon{orb.Ring{
			{lon - d, lat - d}, {lon + d, lat - d}, {lon + d, lat + d}, {lon - d, lat + d}, {lon - d, lat - d},
		}})
		f.ID = id
		for _, a := range filter.DefaultCatalog {
			f.Properties[a.ID] = a.Options[0]
		}
		f.Properties[filter.PriorityAttribute] = priority
		f.Properties["address"] = address
		fc.Append(f)
	}
	add("p-1", "2837 Kensington Ave", "High", -75.1597, 39.9910)
	add("p-2", "1400 W Lehigh Ave", "Low", -75.1580, 39.9920)

	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	dir := filepath.Join(dataDir, "sources")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultSource), data, 0644))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dataDir := t.TempDir()
	writeSource(t, dataDir)

	srv, err := New(context.Background(), Config{
		Host:    "localhost",
		Port:    "8087",
		DataDir: dataDir,
		WebDir:  filepath.Join("..", "..", "web"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(context.Background()) })
	return srv
}

func do(srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestServer_Routes(t *testing.T) {
	srv := newTestServer(t)
	require.Len(t, srv.Parcels(), 2)

	resp := do(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/sessions>; rel="sessions"`)

	resp = do(srv, http.MethodGet, "/api/v1/info", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"parcels":2`)

	resp = do(srv, http.MethodGet, "/viewer", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "datastar")

	resp = do(srv, http.MethodOptions, "/tiles/parcels.pmtiles", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Range", resp.Header().Get("Access-Control-Allow-Headers"))

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/nope", "").Code)
}

func TestServer_SessionGeocode(t *testing.T) {
	srv := newTestServer(t)

	resp := do(srv, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))

	resp = do(srv, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/geocode?q=kensington", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var results []mapview.GeocodeResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "p-1", results[0].ID)

	resp = do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "parcels_view_recomputes_total")
}

func TestServer_MissingSource(t *testing.T) {
	srv, err := New(context.Background(), Config{DataDir: t.TempDir(), Source: "missing.geojson"})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(context.Background()) })

	assert.Empty(t, srv.Parcels())
	resp := do(srv, http.MethodPost, "/api/v1/tiles", "{}")
	assert.Equal(t, http.StatusConflict, resp.Code)
}
