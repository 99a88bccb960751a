package solver

// Reference is one dependency edge: a package name and the version
// constraint the requesting package declared against it. PathID is
// set for a path dependency the caller's analysis already resolved
// (spec.md §4.10's "may include path dependencies (already
// resolved)"); when set, the solver accepts it without consulting the
// registry or descending into it again.
type Reference struct {
	Name       string
	Constraint string
	PathID     string
}

// Registry resolves a package name to its published versions and a
// chosen version to its declared dependency references and final id.
// Only the tests in this package implement it; nothing outside this
// package constructs a Solver.
type Registry interface {
	Versions(name string) ([]string, error)
	Dependencies(name, version string) ([]Reference, error)
	Resolve(name, version string) (string, error)
}

// mark is a package's DFS visitation state, used to detect cycles the
// way a classic white/gray/black traversal does: temporary means "on
// the current path, not yet fully explored"; encountering a temporary
// mark again while descending means the graph has a cycle back to it.
type mark int

const (
	markNone mark = iota
	markTemporary
	markPermanent
)

// result is a package name's outcome once permanently decided: either
// a resolved version and id, or a terminal error (conflict or cycle)
// that every future edge to this package name will also see.
type result struct {
	Version string
	ID      string
	Err     error
}

// solution is the backtracking DFS's working state (spec.md §4.10):
// permanent holds each package name's final outcome once decided;
// partial holds the in-progress temporary/permanent mark used for
// cycle detection while a name is still being explored.
type solution struct {
	permanent map[string]result
	partial   map[string]mark
}

func newSolution() *solution {
	return &solution{permanent: map[string]result{}, partial: map[string]mark{}}
}

// snapshot copies the mutable maps so a failed version attempt can be
// rolled back to exactly the state before that attempt began (spec.md
// §4.10: "snapshot the frame for backtracking").
func (s *solution) snapshot() *solution {
	perm := make(map[string]result, len(s.permanent))
	for k, v := range s.permanent {
		perm[k] = v
	}
	part := make(map[string]mark, len(s.partial))
	for k, v := range s.partial {
		part[k] = v
	}
	return &solution{permanent: perm, partial: part}
}

func (s *solution) restore(snap *solution) {
	s.permanent = snap.permanent
	s.partial = snap.partial
}

// edge is one (dependant, reference) pair encountered during the
// solve, recorded in traversal order so the final Lock can report an
// outcome for every edge, not just one per unique package name.
type edge struct {
	dependant string
	ref       Reference
}

// Lock is the solver's output: every dependency edge visited, mapped
// to its resolved package id or the error that made it unresolvable,
// per spec.md §4.10 ("a mapping from each (package, dependency
// reference) to either a resolved package id or an error").
type Lock struct {
	Entries []LockEntry
}

// LockEntry is one row of a Lock: dependant is "" for a root edge.
type LockEntry struct {
	Dependant  string
	Reference  Reference
	ResolvedID string
	Err        error
}
