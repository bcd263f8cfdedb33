package arcgis

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocha-dap/hdx-scraper-unep/internal/retrieve"
)

func newClientForHandler(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	retriever, err := retrieve.New(retrieve.Config{}, nil, slog.Default())
	require.NoError(t, err)

	return NewClient(server.URL, retriever, slog.Default()), server
}

func TestServiceInfo(t *testing.T) {
	client, _ := newClientForHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("f"))
		_, _ = w.Write([]byte(`{
			"layers": [
				{"id": 0, "name": "points", "type": "Feature Layer", "geometryType": "esriGeometryPoint"},
				{"id": 1, "name": "polygons", "type": "Feature Layer", "geometryType": "esriGeometryPolygon"},
				{"id": 2, "name": "annotations", "type": "Group Layer"}
			]
		}`))
	}))

	info, err := client.ServiceInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, info.Layers, 3)
	assert.Equal(t, "esriGeometryPoint", info.Layers[0].GeometryType)
	assert.Equal(t, "Group Layer", info.Layers[2].Type)
}

func TestDistinctISO3(t *testing.T) {
	client, _ := newClientForHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/query", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("returnDistinctValues"))
		assert.Equal(t, "ISO3", q.Get("outFields"))
		assert.Equal(t, "ISO3 LIKE '___'", q.Get("where"))

		// The live service reports the requested field back in lowercase.
		_, _ = w.Write([]byte(`{"features": [
			{"attributes": {"iso3": "BOL"}},
			{"attributes": {"iso3": "afg"}},
			{"attributes": {"other": 1}}
		]}`))
	}))

	codes, err := client.DistinctISO3(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOL", "AFG"}, codes)
}

func TestYearRange(t *testing.T) {
	client, _ := newClientForHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "STATUS_YR > 0 AND ISO3='BOL'", q.Get("where"))
		assert.Equal(t, "false", q.Get("returnGeometry"))

		var stats []map[string]string
		require.NoError(t, json.Unmarshal([]byte(q.Get("outStatistics")), &stats))
		require.Len(t, stats, 2)
		assert.Equal(t, "min", stats[0]["statisticType"])
		assert.Equal(t, "STATUS_YR", stats[0]["onStatisticField"])

		_, _ = w.Write([]byte(`{"features": [{"attributes": {"start_year": 1939, "end_year": 2013}}]}`))
	}))

	start, end, err := client.YearRange(context.Background(), 1, "BOL")
	require.NoError(t, err)
	assert.Equal(t, 1939, start)
	assert.Equal(t, 2013, end)
}

func TestYearRangeEmpty(t *testing.T) {
	client, _ := newClientForHandler(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features": []}`))
	}))

	start, end, err := client.YearRange(context.Background(), 1, "ATA")
	require.NoError(t, err)
	assert.Zero(t, start)
	assert.Zero(t, end)
}

func TestYearRangeRejectsBadISO3(t *testing.T) {
	client, _ := newClientForHandler(t, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for invalid ISO3")
	}))

	_, _, err := client.YearRange(context.Background(), 1, "BOL' OR 1=1 --")
	require.Error(t, err)
}

func TestCountryFeaturesPaging(t *testing.T) {
	client, _ := newClientForHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "OBJECTID", q.Get("orderByFields"))
		assert.Equal(t, "ISO3='BOL'", q.Get("where"))

		if q.Get("resultOffset") == "" {
			_, _ = w.Write([]byte(`{
				"fields": [{"name": "OBJECTID", "type": "esriFieldTypeOID"}],
				"geometryType": "esriGeometryPoint",
				"spatialReference": {"wkid": 4326},
				"features": [
					{"attributes": {"OBJECTID": 1}, "geometry": {"x": -68.1, "y": -16.5}},
					{"attributes": {"OBJECTID": 2}, "geometry": {"x": -67.9, "y": -16.3}}
				],
				"exceededTransferLimit": true
			}`))
			return
		}

		assert.Equal(t, "2", q.Get("resultOffset"))
		_, _ = w.Write([]byte(`{
			"features": [{"attributes": {"OBJECTID": 3}, "geometry": {"x": -66.0, "y": -17.0}}],
			"exceededTransferLimit": false
		}`))
	}))

	fs, err := client.CountryFeatures(context.Background(), 0, "BOL")
	require.NoError(t, err)
	require.Len(t, fs.Features, 3)
	assert.Equal(t, "esriGeometryPoint", fs.GeometryType)
	assert.Equal(t, 4326, fs.SpatialReference.WKID)
	assert.Equal(t, float64(3), fs.Features[2].Attributes["OBJECTID"])
}

func TestLayerURL(t *testing.T) {
	retriever, err := retrieve.New(retrieve.Config{}, nil, slog.Default())
	require.NoError(t, err)

	client := NewClient("https://gis.example.org/FeatureServer/", retriever, slog.Default())
	assert.Equal(t, "https://gis.example.org/FeatureServer/7", client.LayerURL(7))
}
