// Package model defines the core data structures used throughout torcrawl.
//
// This package contains the following main types:
//   - Task: One URL to fetch plus the file its body is written to
//   - TransferResult: The terminal outcome of one task
//   - CrawlSummary: Aggregated accounting for a whole crawl run
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The reactor, the orchestrator, the results database and the
// report writers all exchange these types, so centralizing them prevents
// import cycles.
//
// The models are designed to be serializable to JSON for report output and
// database storage.
package model
