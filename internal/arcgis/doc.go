// Package arcgis implements a read-only client for ArcGIS FeatureServer REST
// endpoints: service discovery, distinct-value queries, statistics queries,
// and paged feature downloads in ESRI JSON.
//
// Only the subset of the API that the WDPCA service exposes is modelled.
package arcgis
