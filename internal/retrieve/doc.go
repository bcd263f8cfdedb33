// Package retrieve coordinates HTTP access to the upstream feature service:
// rate limiting, retries with backoff, circuit breaking, and record/replay of
// response bodies for offline runs and tests.
//
// The pipeline never talks to the network directly; every request goes through
// a Retriever so that replay mode can serve the whole scrape from disk.
package retrieve
