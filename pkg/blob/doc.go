// Package blob implements a seekable reader over a blob id (spec.md
// §4.9): a cache-reference fast path that opens the materialized file
// directly, and a tree-walking fallback over Leaf/Branch objects for
// blobs that have not been checked out to a cache entry.
//
// Grounded on pkg/store's CacheReference shape (the fast path) and
// pkg/object's Branch/BranchChild encoding (the walk path). Reader
// does no buffering of its own and has no buffered variant.
package blob
