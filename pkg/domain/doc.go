// Package domain holds the core types shared across the UNEP WDPCA scraper:
// feature-layer descriptors, country identifiers, and the error taxonomy used
// by the ArcGIS client, the pipeline, and the stores.
//
// The package has no dependencies on the transport or storage layers so that
// every other package can import it without cycles.
package domain
