package hdx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocha-dap/hdx-scraper-unep/pkg/domain"
)

func TestCountryName(t *testing.T) {
	name, err := CountryName("BOL")
	require.NoError(t, err)
	assert.Contains(t, name, "Bolivia")

	name, err = CountryName("afg")
	require.NoError(t, err)
	assert.Contains(t, name, "Afghanistan")

	_, err = CountryName("XXX")
	require.ErrorIs(t, err, domain.ErrCountryNotFound)
}

func TestDatasetName(t *testing.T) {
	assert.Equal(t, "unep_wdpca_bol", DatasetName("BOL"))
}

func TestSetTimePeriodYearRange(t *testing.T) {
	d := NewDataset("unep_wdpca_bol", "Protected and Conserved Areas (WDPCA) in Bolivia")
	d.SetTimePeriodYearRange(1939, 2013)
	assert.Equal(t, "[1939-01-01T00:00:00 TO 2013-12-31T23:59:59]", d.TimePeriod)
}

func TestAddTags(t *testing.T) {
	d := NewDataset("n", "t")
	d.AddTags([]string{"environment", "geodata"})
	require.Len(t, d.Tags, 2)
	assert.Equal(t, "environment", d.Tags[0].Name)
	assert.Equal(t, VocabularyID, d.Tags[0].VocabularyID)
}

func TestEnablePreview(t *testing.T) {
	d := NewDataset("n", "t")
	r := &Resource{Name: "x.geojson", Format: "geojson"}
	d.EnablePreview(r)
	assert.True(t, r.PreviewEnabled)
	assert.Equal(t, "resource_id", d.Preview)
}

func TestUpdateFromYAMLMerge(t *testing.T) {
	staticContent := `
license_id: cc-by-igo
maintainer: 196196be-6037-4488-8b71-d786adf4c081
owner_org: ca802a27-cc96-4c7b-aab2-a494a0fa64c9
package_creator: HDX Data Systems Team
private: false
data_update_frequency: 30
methodology: Other
dataset_source: UNEP
title: should never win
`
	path := filepath.Join(t.TempDir(), "hdx_dataset_static.yaml")
	require.NoError(t, os.WriteFile(path, []byte(staticContent), 0644))

	d := NewDataset("unep_wdpca_bol", "Protected and Conserved Areas (WDPCA) in Bolivia (Plurinational State of)")
	d.AddGroup("BOL")
	d.SetTimePeriodYearRange(1939, 2013)
	require.NoError(t, d.UpdateFromYAML(path))

	doc := d.ToMap()
	assert.Equal(t, "cc-by-igo", doc["license_id"])
	assert.Equal(t, 30, doc["data_update_frequency"])
	assert.Equal(t, false, doc["private"])
	assert.Equal(t, "UNEP", doc["dataset_source"])

	// Generated fields win over the static file.
	assert.Equal(t, "Protected and Conserved Areas (WDPCA) in Bolivia (Plurinational State of)", doc["title"])
	assert.Equal(t, "unep_wdpca_bol", doc["name"])
	assert.Equal(t, "[1939-01-01T00:00:00 TO 2013-12-31T23:59:59]", doc["dataset_date"])
	assert.Equal(t, []Group{{Name: "bol"}}, doc["groups"])
}

func TestWriteJSON(t *testing.T) {
	d := NewDataset("unep_wdpca_bol", "title")
	d.AddUpdateResources([]*Resource{
		{Name: "areas.gpkg", Description: "GPKG of point and polygon data", Format: "gpkg", FilePath: "/tmp/areas.gpkg"},
		{Name: "points GeoService", Description: "link", Format: "GeoService", URL: "https://gis.example.org/0"},
	})

	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, d.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"unep_wdpca_bol"`)
	assert.Contains(t, string(data), `"areas.gpkg"`)
	// Local staging paths stay out of the metadata document.
	assert.NotContains(t, string(data), "/tmp/areas.gpkg")
}
