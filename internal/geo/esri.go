package geo

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/ocha-dap/hdx-scraper-unep/internal/arcgis"
)

// Feature couples attribute values with a decoded geometry.
type Feature struct {
	Attributes map[string]any
	Geometry   orb.Geometry
}

// Table is the decoded content of one layer query: the attribute schema in
// field order plus the features themselves.
type Table struct {
	Fields       []arcgis.Field
	GeometryType string // esriGeometryPoint, esriGeometryPolygon, ...
	Features     []Feature
}

// FromFeatureSet decodes an ESRI JSON feature set into a Table.
func FromFeatureSet(fs *arcgis.FeatureSet) (*Table, error) {
	table := &Table{
		Fields:       fs.Fields,
		GeometryType: fs.GeometryType,
		Features:     make([]Feature, 0, len(fs.Features)),
	}

	for i, feature := range fs.Features {
		geom, err := convertGeometry(fs.GeometryType, feature.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		table.Features = append(table.Features, Feature{
			Attributes: feature.Attributes,
			Geometry:   geom,
		})
	}

	return table, nil
}

func convertGeometry(geometryType string, g *arcgis.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}

	switch {
	case strings.EqualFold(geometryType, "esriGeometryPoint"):
		if g.X == nil || g.Y == nil {
			return nil, nil
		}
		return orb.Point{*g.X, *g.Y}, nil

	case strings.EqualFold(geometryType, "esriGeometryPolyline"):
		return convertPaths(g.Paths), nil

	case strings.EqualFold(geometryType, "esriGeometryPolygon"):
		return convertRings(g.Rings)
	}

	return nil, fmt.Errorf("unsupported geometry type %q", geometryType)
}

func convertPaths(paths [][][]float64) orb.Geometry {
	if len(paths) == 0 {
		return nil
	}
	mls := make(orb.MultiLineString, 0, len(paths))
	for _, path := range paths {
		ls := make(orb.LineString, 0, len(path))
		for _, coord := range path {
			if len(coord) < 2 {
				continue
			}
			ls = append(ls, orb.Point{coord[0], coord[1]})
		}
		if len(ls) >= 2 {
			mls = append(mls, ls)
		}
	}
	if len(mls) == 0 {
		return nil
	}
	return mls
}

// convertRings assembles ESRI rings into a multipolygon. ESRI JSON encodes
// exterior rings clockwise and holes counter-clockwise; each hole belongs to
// the most recent exterior ring, so a single ordered pass suffices (the
// upstream data is exported without polygon reorganization).
func convertRings(rings [][][]float64) (orb.Geometry, error) {
	if len(rings) == 0 {
		return nil, nil
	}

	var mp orb.MultiPolygon
	for _, rawRing := range rings {
		ring := make(orb.Ring, 0, len(rawRing)+1)
		for _, coord := range rawRing {
			if len(coord) < 2 {
				continue
			}
			ring = append(ring, orb.Point{coord[0], coord[1]})
		}
		if len(ring) < 3 {
			continue
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}

		if ring.Orientation() == orb.CW || len(mp) == 0 {
			// Exterior ring starts a new polygon. A leading hole with no
			// exterior is promoted rather than dropped.
			mp = append(mp, orb.Polygon{ring})
		} else {
			mp[len(mp)-1] = append(mp[len(mp)-1], ring)
		}
	}

	if len(mp) == 0 {
		return nil, nil
	}
	return mp, nil
}

// GeometryTypeName maps an esriGeometryType to the GeoPackage geometry type
// produced by the converter.
func GeometryTypeName(geometryType string) string {
	switch {
	case strings.EqualFold(geometryType, "esriGeometryPoint"):
		return "POINT"
	case strings.EqualFold(geometryType, "esriGeometryPolyline"):
		return "MULTILINESTRING"
	default:
		return "MULTIPOLYGON"
	}
}
