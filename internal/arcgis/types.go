package arcgis

// LayerInfo describes a layer as reported by the service metadata endpoint.
type LayerInfo struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"` // "Feature Layer", "Group Layer", ...
	GeometryType string `json:"geometryType"`
}

// ServiceInfo is the `?f=json` response of a FeatureServer.
type ServiceInfo struct {
	Layers []LayerInfo `json:"layers"`
}

// Field describes a column of a feature layer.
type Field struct {
	Name   string `json:"name"`
	Type   string `json:"type"` // esriFieldTypeOID, esriFieldTypeString, ...
	Alias  string `json:"alias,omitempty"`
	Length int    `json:"length,omitempty"`
}

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// Geometry is an ESRI JSON geometry. Exactly one of the point coordinates,
// Rings, or Paths is populated depending on the layer's geometry type.
// Coordinates are x,y pairs; the WDPCA service publishes no z or m values.
type Geometry struct {
	X     *float64      `json:"x,omitempty"`
	Y     *float64      `json:"y,omitempty"`
	Rings [][][]float64 `json:"rings,omitempty"`
	Paths [][][]float64 `json:"paths,omitempty"`
}

// Feature pairs attribute values with an optional geometry.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
}

// FeatureSet is a layer query response.
type FeatureSet struct {
	Fields                []Field          `json:"fields"`
	GeometryType          string           `json:"geometryType"`
	SpatialReference      SpatialReference `json:"spatialReference"`
	Features              []Feature        `json:"features"`
	ExceededTransferLimit bool             `json:"exceededTransferLimit"`
}

// statistic is the outStatistics request element for aggregate queries.
type statistic struct {
	StatisticType         string `json:"statisticType"`
	OnStatisticField      string `json:"onStatisticField"`
	OutStatisticFieldName string `json:"outStatisticFieldName"`
}
