// Package capture implements the sequential capture-and-archive pipeline: it fetches
// each URL in order, frames every exchange as WARC records in one container, and
// commits that container to a local or object-store sink exactly once.
package capture
