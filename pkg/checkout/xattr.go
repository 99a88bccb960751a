package checkout

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/pkg/object"
	"golang.org/x/sys/unix"
)

// Extended attribute names on checked-out files, per spec.md §6.4.
// Linux requires unprivileged xattr names on regular files to carry a
// namespace prefix, so each is set in the "user." namespace.
const (
	dependenciesXattr = "user.tangram.dependencies"
	lockXattr         = "user.tangram.lock"
	referentXattr     = "user.tangram.xattr"
)

// writeDependenciesXattr records the JSON array of dependency
// references a file's contents refer to, per spec.md §6.4
// ("tangram.dependencies — JSON array of dependency references").
func writeDependenciesXattr(path string, dependencies map[string]object.Dependency) error {
	ids := dependencyIDs(dependencies)
	if len(ids) == 0 {
		return nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	return unix.Setxattr(path, dependenciesXattr, data, 0)
}

// writeReferentXattr records the file-level referent map — reference
// name to artifact id, or to the graph's id for a graph reference —
// for a non-graph file, per spec.md
// §6.4 ("tangram.xattr — serialized file-level referent map for
// non-graph files").
func writeReferentXattr(path string, dependencies map[string]object.Dependency) error {
	referents := make(map[string]string, len(dependencies))
	for name, dep := range dependencies {
		switch {
		case dep.Artifact != nil:
			referents[name] = dep.Artifact.String()
		case dep.Reference != nil && dep.Reference.Graph != nil:
			referents[name] = dep.Reference.Graph.String()
		}
	}
	if len(referents) == 0 {
		return nil
	}
	data, err := json.Marshal(referents)
	if err != nil {
		return fmt.Errorf("marshal referent map: %w", err)
	}
	return unix.Setxattr(path, referentXattr, data, 0)
}

// writeLockMarkerXattr marks path as owning its own lock, used for a
// checkout root that is a bare file or symlink artifact and therefore
// has no .tangram directory to hold a lockfile, per spec.md §6.4
// ("tangram.lock — marker that the file owns its lock").
func writeLockMarkerXattr(path string) error {
	return unix.Setxattr(path, lockXattr, []byte("1"), 0)
}

func dependencyIDs(dependencies map[string]object.Dependency) []string {
	seen := map[string]bool{}
	ids := make([]string, 0, len(dependencies))
	for _, dep := range dependencies {
		var id string
		switch {
		case dep.Artifact != nil:
			id = dep.Artifact.String()
		case dep.Reference != nil && dep.Reference.Graph != nil:
			id = dep.Reference.Graph.String()
		default:
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
