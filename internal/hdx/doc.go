// Package hdx builds Humanitarian Data Exchange dataset metadata for the
// scraper's outputs: dataset and resource descriptors, tag vocabulary wiring,
// time-period formatting, and the static metadata merge.
//
// The package produces the metadata documents; pushing them to a CKAN
// instance is the operator's deployment concern.
package hdx
