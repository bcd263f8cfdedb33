// Package geo converts ESRI JSON feature sets into geometries and writes the
// per-country output files: GeoJSON, CSV attribute summaries, and GeoPackage.
//
// Geometries are represented with paulmach/orb; the GeoPackage writer encodes
// them as GeoPackage binary (GP header + WKB) into a SQLite file so the output
// opens in QGIS and ogr2ogr without post-processing.
package geo
