// Package checkout implements tangram's checkout engine (spec.md
// §4.7): materializing an artifact subgraph onto disk at a
// caller-provided destination, sharing dependency artifacts under a
// lazily created .tangram/artifacts directory, and emitting a
// path-to-id lockfile on completion.
//
// Applies a local-driver idiom (MkdirAll, path validation, mount-path
// bookkeeping) to artifact materialization, and a driver-selection
// pattern to the directory/file/symlink per-kind dispatch that drives
// the walk.
package checkout
