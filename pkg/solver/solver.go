// Package solver implements the backtracking dependency resolver of
// spec.md §4.10: a depth-first search over package version choices
// that marks each package name temporary while exploring its
// dependencies and permanent once a choice's full subtree resolves.
// When a later edge conflicts with a package's permanent choice, the
// version attempt that reached that edge fails and each enclosing
// frame tries its own next candidate version; a permanent choice is
// never reopened, so a conflict that an older version of an
// already-decided package would avoid is still reported as a
// conflict. A cycle error is raised whenever a temporary mark is
// encountered again while still on the path that set it. Package
// version ordering and constraint matching use golang.org/x/mod/semver
// (constraint.go), the same module the Go toolchain itself uses for
// module version comparison.
package solver

import (
	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// Solver resolves a root set of dependency references into a Lock.
type Solver struct {
	registry Registry
	logger   zerolog.Logger
}

// New constructs a Solver over registry.
func New(registry Registry) *Solver {
	return &Solver{registry: registry, logger: log.WithComponent("solver")}
}

// Solve resolves every reference in roots (a package's declared
// dependencies) and returns a Lock covering every edge visited during
// the search. A PackageVersionConflict or PackageCycleExists error
// from a root edge does not abort the solve: it is recorded on that
// edge's Lock entry and the remaining roots are still resolved. Any
// other error aborts the solve. Edges visited under a version attempt
// that failed are dropped from the Lock.
func (s *Solver) Solve(roots []Reference) (*Lock, error) {
	sol := newSolution()
	var edges []edge

	for _, ref := range roots {
		if err := s.resolveEdge(sol, "", ref, nil, &edges); err != nil {
			code := tgerror.CodeOf(err)
			if code != tgerror.CodePackageVersionConflict && code != tgerror.CodePackageCycle {
				return nil, err
			}
			s.logger.Warn().Err(err).Str("package", ref.Name).Msg("dependency edge did not resolve")
			// Conflicts/cycles are recorded per-edge in the Lock below
			// rather than aborting Solve outright; spec.md §4.10 frames
			// the solve's result as "a mapping ... to either a resolved
			// package id or an error" for every edge, not a single
			// pass/fail verdict.
		}
	}

	return s.buildLock(sol, edges), nil
}

func (s *Solver) buildLock(sol *solution, edges []edge) *Lock {
	lock := &Lock{Entries: make([]LockEntry, 0, len(edges))}
	for _, e := range edges {
		entry := LockEntry{Dependant: e.dependant, Reference: e.ref}
		if e.ref.PathID != "" {
			entry.ResolvedID = e.ref.PathID
		} else if res, ok := sol.permanent[e.ref.Name]; ok {
			entry.ResolvedID = res.ID
			entry.Err = res.Err
		} else {
			entry.Err = tgerror.New(tgerror.CodeOther, "package %s was never resolved", e.ref.Name)
		}
		lock.Entries = append(lock.Entries, entry)
	}
	return lock
}

// resolveEdge resolves one dependency reference against sol,
// mutating sol's permanent/partial maps in place. dependant is the
// name of the package that declared ref ("" for a root reference);
// dependants is the chain of package names on the current DFS path,
// used only for PackageCycleExists's diagnostic. Every edge visited is
// appended to edges, in traversal order, so the final Lock can report
// an outcome for each one rather than one per unique package name.
func (s *Solver) resolveEdge(sol *solution, dependant string, ref Reference, dependants []string, edges *[]edge) error {
	*edges = append(*edges, edge{dependant: dependant, ref: ref})
	name := ref.Name

	if ref.PathID != "" {
		// A path dependency is already resolved by the caller's
		// analysis; accept it without consulting the registry or
		// descending into its own dependencies again.
		sol.permanent[name] = result{ID: ref.PathID}
		sol.partial[name] = markPermanent
		return nil
	}

	if res, ok := sol.permanent[name]; ok {
		if res.Err != nil {
			return res.Err
		}
		if matches(res.Version, ref.Constraint) {
			return nil
		}
		return conflictError(name)
	}

	if sol.partial[name] == markTemporary {
		return cycleError(name)
	}

	versions, err := s.registry.Versions(name)
	if err != nil {
		conflict := tgerror.Wrap(tgerror.CodePackageVersionConflict, err, "list versions of %s", name)
		conflict.Values = map[string]string{"package": name}
		sol.permanent[name] = result{Err: conflict}
		sol.partial[name] = markPermanent
		return conflict
	}

	remaining := candidateVersions(versions, ref.Constraint)
	childDependants := append(append([]string{}, dependants...), name)

	var lastErr error
	for _, version := range remaining {
		snap := sol.snapshot()
		edgeMark := len(*edges)
		sol.partial[name] = markTemporary

		children, err := s.registry.Dependencies(name, version)
		if err != nil {
			lastErr = err
			sol.restore(snap)
			*edges = (*edges)[:edgeMark]
			continue
		}

		ok := true
		for _, child := range children {
			if err := s.resolveEdge(sol, name, child, childDependants, edges); err != nil {
				if tgerror.CodeOf(err) == tgerror.CodePackageCycle {
					// A live cycle means this package cannot be decided
					// on the current path at all; every frame on the
					// path back to the cycle's root marks itself
					// permanently failed as the error unwinds, rather
					// than retrying other versions that would just
					// re-enter the same cycle.
					sol.permanent[name] = result{Err: err}
					sol.partial[name] = markPermanent
					return err
				}
				// Any other failure (a version conflict anywhere in
				// this version's subtree, or a registry error) means
				// this version choice doesn't work; try the next
				// candidate version of name instead of propagating.
				// A package that is already permanently decided is
				// not reopened here, so a solution that needs an
				// older version of such a package is not found.
				lastErr = err
				ok = false
				break
			}
		}

		if !ok {
			sol.restore(snap)
			*edges = (*edges)[:edgeMark]
			continue
		}

		id, err := s.registry.Resolve(name, version)
		if err != nil {
			lastErr = err
			sol.restore(snap)
			*edges = (*edges)[:edgeMark]
			continue
		}

		sol.permanent[name] = result{Version: version, ID: id}
		sol.partial[name] = markPermanent
		return nil
	}

	conflict := conflictErrorWithCause(name, lastErr)
	sol.permanent[name] = result{Err: conflict}
	sol.partial[name] = markPermanent
	return conflict
}

func conflictError(name string) *tgerror.Error {
	e := tgerror.New(tgerror.CodePackageVersionConflict, "no version of %s satisfies every constraint on it", name)
	e.Values = map[string]string{"package": name}
	return e
}

func conflictErrorWithCause(name string, cause error) *tgerror.Error {
	if cause == nil {
		return conflictError(name)
	}
	e := tgerror.Wrap(tgerror.CodePackageVersionConflict, cause, "no version of %s satisfies every constraint on it", name)
	e.Values = map[string]string{"package": name}
	return e
}

func cycleError(dependant string) *tgerror.Error {
	e := tgerror.New(tgerror.CodePackageCycle, "dependency cycle back to %s", dependant)
	e.Values = map[string]string{"dependant": dependant}
	return e
}
