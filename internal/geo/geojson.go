package geo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
)

// WriteGeoJSON writes a table as a GeoJSON feature collection. Features with
// no geometry are skipped; their attributes still appear in the CSV output.
func WriteGeoJSON(path string, table *Table) error {
	fc := geojson.NewFeatureCollection()
	for _, feature := range table.Features {
		if feature.Geometry == nil {
			continue
		}
		f := geojson.NewFeature(feature.Geometry)
		f.Properties = geojson.Properties(feature.Attributes)
		fc.Append(f)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson %s: %w", path, err)
	}
	return nil
}
