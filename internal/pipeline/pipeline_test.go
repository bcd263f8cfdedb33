package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocha-dap/hdx-scraper-unep/internal/arcgis"
	"github.com/ocha-dap/hdx-scraper-unep/internal/retrieve"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/domain"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/storage"
)

// newTestService serves a two-layer FeatureServer covering BOL (data in both
// layers) and ATA (present in the country list but without dated features).
func newTestService(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeTestJSON(t, w, map[string]any{
			"layers": []map[string]any{
				{"id": 0, "name": "WDPCA_points", "type": "Feature Layer", "geometryType": "esriGeometryPoint"},
				{"id": 1, "name": "WDPCA_polygons", "type": "Feature Layer", "geometryType": "esriGeometryPolygon"},
				{"id": 2, "name": "Annotations", "type": "Group Layer"},
			},
		})
	})
	mux.HandleFunc("/0/query", layerHandler(t, 0))
	mux.HandleFunc("/1/query", layerHandler(t, 1))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func layerHandler(t *testing.T, layerID int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("returnDistinctValues") == "true":
			// Lowercase attribute key, as the live service reports it.
			writeTestJSON(t, w, map[string]any{
				"features": []map[string]any{
					{"attributes": map[string]any{"iso3": "bol"}},
					{"attributes": map[string]any{"iso3": "ata"}},
				},
			})
		case query.Get("outStatistics") != "":
			if !strings.Contains(query.Get("where"), "ISO3='BOL'") {
				writeTestJSON(t, w, map[string]any{"features": []any{}})
				return
			}
			start, end := 1966, 2013
			if layerID == 1 {
				start, end = 1939, 1997
			}
			writeTestJSON(t, w, map[string]any{
				"features": []map[string]any{
					{"attributes": map[string]any{"start_year": start, "end_year": end}},
				},
			})
		default:
			if layerID == 0 {
				writeTestJSON(t, w, pointFeatureSet())
			} else {
				writeTestJSON(t, w, polygonFeatureSet())
			}
		}
	}
}

func writeTestJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func testFields() []map[string]any {
	return []map[string]any{
		{"name": "OBJECTID", "type": "esriFieldTypeOID"},
		{"name": "NAME", "type": "esriFieldTypeString"},
		{"name": "ISO3", "type": "esriFieldTypeString"},
		{"name": "STATUS_YR", "type": "esriFieldTypeInteger"},
		{"name": "REP_AREA", "type": "esriFieldTypeDouble"},
	}
}

func pointFeatureSet() map[string]any {
	return map[string]any{
		"fields":       testFields(),
		"geometryType": "esriGeometryPoint",
		"features": []map[string]any{
			{
				"attributes": map[string]any{
					"OBJECTID": 1, "NAME": "Eduardo Avaroa", "ISO3": "BOL",
					"STATUS_YR": 1973, "REP_AREA": 7147.45,
				},
				"geometry": map[string]any{"x": -67.18, "y": -22.23},
			},
			{
				"attributes": map[string]any{
					"OBJECTID": 2, "NAME": "Tunari", "ISO3": "BOL",
					"STATUS_YR": 1962, "REP_AREA": 3090.0,
				},
				"geometry": map[string]any{"x": -66.2, "y": -17.3},
			},
		},
	}
}

func polygonFeatureSet() map[string]any {
	return map[string]any{
		"fields":       testFields(),
		"geometryType": "esriGeometryPolygon",
		"features": []map[string]any{
			{
				"attributes": map[string]any{
					"OBJECTID": 1, "NAME": "Madidi", "ISO3": "BOL",
					"STATUS_YR": 1995, "REP_AREA": 18957.5,
				},
				"geometry": map[string]any{
					// Clockwise exterior ring.
					"rings": [][][]float64{
						{{-68, -14}, {-68, -13}, {-67, -13}, {-67, -14}, {-68, -14}},
					},
				},
			},
		},
	}
}

func newTestPipeline(t *testing.T, serverURL string) *Pipeline {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	retriever, err := retrieve.New(retrieve.Config{
		RateLimit: retrieve.RateLimiterConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}, nil, logger)
	require.NoError(t, err)

	client := arcgis.NewClient(serverURL, retriever, logger)
	return New(client, Config{
		BaseFilename: "protected_conserved_areas_WDPCA",
		Tags:         []string{"environment", "geodata"},
		StagingDir:   t.TempDir(),
	}, nil, logger)
}

func TestLayersInfo(t *testing.T) {
	server := newTestService(t)
	p := newTestPipeline(t, server.URL)

	info, err := p.LayersInfo(context.Background())
	require.NoError(t, err)

	require.Len(t, info.Layers, 2)
	assert.Equal(t, domain.LayerPoints, info.Layers[0].Type)
	assert.Equal(t, domain.LayerPolygons, info.Layers[1].Type)
	assert.Equal(t, []string{"ATA", "BOL"}, info.Countries)
}

func TestGenerateDataset(t *testing.T) {
	server := newTestService(t)
	p := newTestPipeline(t, server.URL)

	info, err := p.LayersInfo(context.Background())
	require.NoError(t, err)

	dataset, err := p.GenerateDataset(context.Background(), info.Layers, "BOL")
	require.NoError(t, err)

	assert.Equal(t, "unep_wdpca_bol", dataset.Name)
	assert.Contains(t, dataset.Title, "Protected and Conserved Areas (WDPCA) in Bolivia")
	require.Len(t, dataset.Groups, 1)
	assert.Equal(t, "bol", dataset.Groups[0].Name)
	assert.Equal(t, "[1939-01-01T00:00:00 TO 2013-12-31T23:59:59]", dataset.TimePeriod)

	require.Len(t, dataset.Resources, 7)
	names := make([]string, len(dataset.Resources))
	for i, resource := range dataset.Resources {
		names[i] = resource.Name
	}
	assert.Equal(t, []string{
		"protected_conserved_areas_WDPCA.gpkg",
		"protected_conserved_areas_WDPCA_points.geojson",
		"protected_conserved_areas_WDPCA_points.csv",
		"points GeoService",
		"protected_conserved_areas_WDPCA_polygons.geojson",
		"protected_conserved_areas_WDPCA_polygons.csv",
		"polygons GeoService",
	}, names)

	// Preview lands on the last GeoJSON resource, the polygon layer.
	assert.Equal(t, "resource_id", dataset.Preview)
	assert.False(t, dataset.Resources[1].PreviewEnabled)
	assert.True(t, dataset.Resources[4].PreviewEnabled)

	require.Len(t, dataset.Tags, 2)
	assert.Equal(t, "environment", dataset.Tags[0].Name)

	assert.Equal(t, server.URL+"/0", dataset.Resources[3].URL)
	assert.Equal(t, server.URL+"/1", dataset.Resources[6].URL)

	for _, resource := range dataset.Resources {
		if resource.FilePath == "" {
			continue
		}
		stat, err := os.Stat(resource.FilePath)
		require.NoError(t, err, "staged file for %s", resource.Name)
		assert.Positive(t, stat.Size())
	}
}

func TestGenerateDatasetUnknownCountry(t *testing.T) {
	server := newTestService(t)
	p := newTestPipeline(t, server.URL)

	info, err := p.LayersInfo(context.Background())
	require.NoError(t, err)

	_, err = p.GenerateDataset(context.Background(), info.Layers, "XYZ")
	require.ErrorIs(t, err, domain.ErrCountryNotFound)
}

func TestGenerateDatasetNoData(t *testing.T) {
	server := newTestService(t)
	p := newTestPipeline(t, server.URL)

	info, err := p.LayersInfo(context.Background())
	require.NoError(t, err)

	_, err = p.GenerateDataset(context.Background(), info.Layers, "ATA")
	require.ErrorIs(t, err, domain.ErrNoData)

	// No dated features means no stale GeoPackage left on disk.
	_, statErr := os.Stat(filepath.Join(p.cfg.StagingDir, "ata", "protected_conserved_areas_WDPCA.gpkg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunnerRun(t *testing.T) {
	server := newTestService(t)
	p := newTestPipeline(t, server.URL)
	store := storage.NewMemoryDatasetStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runner := NewRunner(p, store, nil, logger, WithConcurrency(2))
	result, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{"BOL"}, result.Generated)
	assert.Equal(t, map[string]string{"ATA": "no data"}, result.Skipped)
	assert.Empty(t, result.Failed)

	stored, err := store.GetDataset(context.Background(), "BOL")
	require.NoError(t, err)
	assert.Equal(t, "unep_wdpca_bol", stored.Name)

	docPath := filepath.Join(p.cfg.StagingDir, "bol", "unep_wdpca_bol.json")
	data, err := os.ReadFile(docPath)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "unep_wdpca_bol", doc["name"])
	assert.Equal(t, "resource_id", doc["dataset_preview"])
}

func TestRunnerRunEmptyService(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(t, w, map[string]any{"layers": []any{}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	p := newTestPipeline(t, server.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A service without feature layers produces an empty run, not an error.
	runner := NewRunner(p, nil, nil, logger)
	result, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Generated)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.Failed)
}

func TestRunnerWrapsHardFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(t, w, map[string]any{
			"layers": []map[string]any{
				{"id": 0, "name": "WDPCA_points", "type": "Feature Layer", "geometryType": "esriGeometryPoint"},
			},
		})
	})
	mux.HandleFunc("/0/query", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("returnDistinctValues") == "true":
			writeTestJSON(t, w, map[string]any{
				"features": []map[string]any{
					{"attributes": map[string]any{"iso3": "bol"}},
				},
			})
		case query.Get("outStatistics") != "":
			writeTestJSON(t, w, map[string]any{
				"features": []map[string]any{
					{"attributes": map[string]any{"start_year": 1990, "end_year": 2000}},
				},
			})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	p := newTestPipeline(t, server.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runner := NewRunner(p, nil, nil, logger)
	result, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Contains(t, result.Failed, "BOL")
	var perr *domain.PipelineError
	require.ErrorAs(t, result.Failed["BOL"], &perr)
	assert.Equal(t, "country_failed", perr.Code)
	assert.Equal(t, "BOL", perr.Details["iso3"])
	assert.Equal(t, result.RunID, perr.Details["run_id"])
}

func TestRunnerCountriesFilter(t *testing.T) {
	server := newTestService(t)
	p := newTestPipeline(t, server.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runner := NewRunner(p, nil, nil, logger)
	result, err := runner.Run(context.Background(), []string{"bol", "xyz"})
	require.NoError(t, err)

	assert.Equal(t, []string{"BOL"}, result.Generated)
	assert.Equal(t, map[string]string{"XYZ": "country not found"}, result.Skipped)
}
