package checkout

import "sync/atomic"

// Arg is the input to Checkout, per spec.md §4.7.
type Arg struct {
	Artifact     string
	Path         string
	Dependencies bool
	Force        bool
}

// Output is Checkout's result: the absolute path the artifact was
// materialized at.
type Output struct {
	Path string
}

// Progress reports the two counters spec.md §4.7 names: objects
// (incremented per node) and bytes (incremented by written byte
// count per file; a reflinked file reports its on-disk size).
type Progress struct {
	Objects atomic.Int64
	Bytes   atomic.Int64
}
