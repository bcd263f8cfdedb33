package geo

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocha-dap/hdx-scraper-unep/internal/arcgis"
)

func sampleTable() *Table {
	fs := &arcgis.FeatureSet{
		Fields: []arcgis.Field{
			{Name: "OBJECTID", Type: "esriFieldTypeOID"},
			{Name: "NAME", Type: "esriFieldTypeString"},
			{Name: "REP_AREA", Type: "esriFieldTypeDouble"},
			{Name: "SHAPE", Type: "esriFieldTypeGeometry"},
		},
		GeometryType: "esriGeometryPoint",
		Features: []arcgis.Feature{
			{
				Attributes: map[string]any{"OBJECTID": float64(1), "NAME": "Madidi", "REP_AREA": 18957.5},
				Geometry:   &arcgis.Geometry{X: ptr(-68.9), Y: ptr(-14.6)},
			},
			{
				Attributes: map[string]any{"OBJECTID": float64(2), "NAME": "Sajama", "REP_AREA": nil},
				Geometry:   &arcgis.Geometry{X: ptr(-68.9), Y: ptr(-18.1)},
			},
		},
	}
	table, err := FromFeatureSet(fs)
	if err != nil {
		panic(err)
	}
	return table
}

func TestWriteGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.geojson")
	require.NoError(t, WriteGeoJSON(path, sampleTable()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string         `json:"type"`
			Geometry map[string]any `json:"geometry"`
			Props    map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))

	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "Point", fc.Features[0].Geometry["type"])
	assert.Equal(t, "Madidi", fc.Features[0].Props["NAME"])
}

func TestWriteGeoJSONSkipsMissingGeometry(t *testing.T) {
	table := sampleTable()
	table.Features[1].Geometry = nil

	path := filepath.Join(t.TempDir(), "points.geojson")
	require.NoError(t, WriteGeoJSON(path, table))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Len(t, fc.Features, 1)
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	require.NoError(t, WriteCSV(path, sampleTable()))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Geometry pseudo-column is dropped, field order preserved.
	assert.Equal(t, []string{"OBJECTID", "NAME", "REP_AREA"}, rows[0])
	assert.Equal(t, []string{"1", "Madidi", "18957.5"}, rows[1])
	assert.Equal(t, []string{"2", "Sajama", ""}, rows[2])
}
