package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// fakeRegistry is an in-memory Registry: deps maps "name@version" to
// its declared dependency references.
type fakeRegistry struct {
	versions map[string][]string
	deps     map[string][]Reference
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{versions: map[string][]string{}, deps: map[string][]Reference{}}
}

func (r *fakeRegistry) Versions(name string) ([]string, error) {
	return r.versions[name], nil
}

func (r *fakeRegistry) Dependencies(name, version string) ([]Reference, error) {
	return r.deps[name+"@"+version], nil
}

func (r *fakeRegistry) Resolve(name, version string) (string, error) {
	return "pkg_" + name + "_" + version, nil
}

func TestSolveResolvesSimpleDependency(t *testing.T) {
	reg := newFakeRegistry()
	reg.versions["leftpad"] = []string{"1.0.0", "1.1.0"}

	s := New(reg)
	lock, err := s.Solve([]Reference{{Name: "leftpad", Constraint: "^1.0.0"}})
	require.NoError(t, err)
	require.Len(t, lock.Entries, 1)
	assert.Equal(t, "pkg_leftpad_1.1.0", lock.Entries[0].ResolvedID)
	assert.NoError(t, lock.Entries[0].Err)
}

func TestSolveSharesDiamondDependencyAcrossEdges(t *testing.T) {
	reg := newFakeRegistry()
	reg.versions["base"] = []string{"1.0.0"}
	reg.versions["a"] = []string{"1.0.0"}
	reg.versions["b"] = []string{"1.0.0"}
	reg.deps["a@1.0.0"] = []Reference{{Name: "base", Constraint: "^1.0.0"}}
	reg.deps["b@1.0.0"] = []Reference{{Name: "base", Constraint: "^1.0.0"}}

	s := New(reg)
	lock, err := s.Solve([]Reference{
		{Name: "a", Constraint: "^1.0.0"},
		{Name: "b", Constraint: "^1.0.0"},
	})
	require.NoError(t, err)

	var baseResolutions int
	for _, e := range lock.Entries {
		if e.Reference.Name == "base" {
			baseResolutions++
			assert.Equal(t, "pkg_base_1.0.0", e.ResolvedID)
		}
	}
	assert.Equal(t, 2, baseResolutions)
}

func TestSolveReportsConflictWhenNoVersionFits(t *testing.T) {
	reg := newFakeRegistry()
	// a@1.0.0 wants base ^2.0.0, but a@1.0.0 is itself the only
	// version satisfying root's constraint on a, and root also
	// requires base ^1.0.0 directly. The only way both are satisfied
	// is for base to resolve to a version matching ^1.0.0, which
	// a@1.0.0's own requirement conflicts with -- so a has no
	// satisfiable version and the whole solve reports a conflict on a.
	reg.versions["base"] = []string{"1.0.0"}
	reg.versions["a"] = []string{"1.0.0"}
	reg.deps["a@1.0.0"] = []Reference{{Name: "base", Constraint: "^2.0.0"}}

	s := New(reg)
	lock, err := s.Solve([]Reference{
		{Name: "base", Constraint: "^1.0.0"},
		{Name: "a", Constraint: "^1.0.0"},
	})
	require.NoError(t, err)

	var baseErr, aErr error
	for _, e := range lock.Entries {
		switch e.Reference.Name {
		case "base":
			baseErr = e.Err
		case "a":
			aErr = e.Err
		}
	}
	assert.NoError(t, baseErr)
	require.Error(t, aErr)
	assert.Equal(t, tgerror.CodePackageVersionConflict, tgerror.CodeOf(aErr))
}

func TestSolveReportsCycle(t *testing.T) {
	reg := newFakeRegistry()
	reg.versions["a"] = []string{"1.0.0"}
	reg.versions["b"] = []string{"1.0.0"}
	reg.deps["a@1.0.0"] = []Reference{{Name: "b", Constraint: "^1.0.0"}}
	reg.deps["b@1.0.0"] = []Reference{{Name: "a", Constraint: "^1.0.0"}}

	s := New(reg)
	lock, err := s.Solve([]Reference{{Name: "a", Constraint: "^1.0.0"}})
	require.NoError(t, err)
	require.NotEmpty(t, lock.Entries)
	require.Error(t, lock.Entries[0].Err)
	assert.Equal(t, tgerror.CodePackageCycle, tgerror.CodeOf(lock.Entries[0].Err))
}

func TestSolveAcceptsPathDependencyWithoutRegistryLookup(t *testing.T) {
	reg := newFakeRegistry()
	s := New(reg)
	lock, err := s.Solve([]Reference{{Name: "local", PathID: "dir_abc123"}})
	require.NoError(t, err)
	require.Len(t, lock.Entries, 1)
	assert.Equal(t, "dir_abc123", lock.Entries[0].ResolvedID)
	assert.NoError(t, lock.Entries[0].Err)
}
