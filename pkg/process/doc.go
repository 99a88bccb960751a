// Package process implements the process engine (spec.md §4.6): the
// spawn algorithm (exact-cache-hit lookup, checksum-mismatch reuse,
// create-with-permit-or-enqueue), child-edge insertion with cycle
// detection, lifecycle transitions (start/finish/cancel/wait), and
// heartbeat monitoring.
//
// The package owns the full operational "processes" table — command,
// checksums, status, exit, error, timestamps, depth, token_count —
// distinct from pkg/index's lightweight shadow of the same id used
// for the object/process graph and eviction queue. Creating a process
// (a fresh create or a checksum-mismatch reuse) publishes a PutProcess
// message to the indexer; start, finish, cancel, heartbeat and
// child-edge insertion publish no indexer message, and no TouchProcess
// message is published from this package.
package process
