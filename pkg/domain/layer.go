package domain

import "strings"

// LayerType classifies a feature layer by the shape of its geometries.
// The WDPCA feature service publishes one point layer and one polygon layer;
// anything that is not point-like is treated as polygons.
type LayerType string

const (
	// LayerPoints marks layers whose geometry type contains "Point".
	LayerPoints LayerType = "points"
	// LayerPolygons marks every other feature layer.
	LayerPolygons LayerType = "polygons"
)

// Layer describes a feature layer of the upstream ArcGIS service.
type Layer struct {
	ID           int
	Name         string
	GeometryType string // esriGeometryPoint, esriGeometryPolygon, ...
	Type         LayerType
}

// ClassifyGeometry maps an esriGeometryType value to a LayerType.
func ClassifyGeometry(geometryType string) LayerType {
	if strings.Contains(strings.ToLower(geometryType), "point") {
		return LayerPoints
	}
	return LayerPolygons
}

// LayersInfo is the result of service discovery: the feature layers to scrape
// and the union of ISO3 codes they cover, sorted ascending.
type LayersInfo struct {
	Layers    []Layer
	Countries []string
}

// YearRange is the inclusive span of STATUS_YR values for a country within a
// single layer. A zero Start means the layer holds no dated features for the
// country.
type YearRange struct {
	Start int
	End   int
}

// Empty reports whether the range carries no dated features.
func (r YearRange) Empty() bool {
	return r.Start == 0
}

// Merge widens the range to cover both r and other, ignoring empty ranges.
func (r YearRange) Merge(other YearRange) YearRange {
	if r.Empty() {
		return other
	}
	if other.Empty() {
		return r
	}
	merged := r
	if other.Start < merged.Start {
		merged.Start = other.Start
	}
	if other.End > merged.End {
		merged.End = other.End
	}
	return merged
}
