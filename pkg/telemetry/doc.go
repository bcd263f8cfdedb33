// Package telemetry wires OpenTelemetry exporters and Prometheus collectors
// for the UNEP WDPCA scraper.
//
// It centralises trace provider setup, applies scraper-specific resource
// attributes, and exposes the counters operators watch during a run: upstream
// request behaviour, replay cache hits, and per-country outcomes.
package telemetry
