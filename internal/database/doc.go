// Package database provides SQLite-based storage for torcrawl results.
//
// The CrawlDB stores:
//   - one row per crawl run with its final counters
//   - one row per finished transfer (outcome, backend, status, digest or
//     error kind and message)
//
// `torcrawl results` reads it back, and `--failed-urls` turns the failed
// transfers of a run into a URL list for an operator retry pass.
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. WAL mode keeps `torcrawl results` readable while a crawl writes
package database
