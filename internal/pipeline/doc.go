// Package pipeline orchestrates the WDPCA scrape.
//
// Architecture:
//
// pipeline.go - per-country dataset generation (layer discovery, year ranges,
// feature downloads, output files, HDX metadata)
// runner.go   - run orchestration (country fan-out with bounded concurrency,
// failure isolation, result collection)
//
// The pipeline is deterministic for a fixed upstream: countries are processed
// from a sorted list and resources are emitted in layer id order.
package pipeline
