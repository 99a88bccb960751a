package solver

import (
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// canonical prefixes a bare "1.2.3" version with "v" so it parses
// under golang.org/x/mod/semver, which only recognizes the "vMAJOR..."
// form; Tangram package versions are stored without the prefix.
func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// matches reports whether version satisfies constraint. "" and "*"
// match anything. A leading "^" pins the major version, "~" pins
// major.minor, ">=", ">", "<=", "<" compare directly, and a bare
// version requires an exact match — the small constraint grammar
// spec.md §4.10 leaves unspecified (see DESIGN.md's Open Question
// decision for this package).
func matches(version, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" {
		return true
	}
	v := canonical(version)

	switch {
	case strings.HasPrefix(constraint, "^"):
		want := canonical(strings.TrimPrefix(constraint, "^"))
		return semver.Compare(v, want) >= 0 && semver.Major(v) == semver.Major(want)
	case strings.HasPrefix(constraint, "~"):
		want := canonical(strings.TrimPrefix(constraint, "~"))
		return semver.Compare(v, want) >= 0 && semver.MajorMinor(v) == semver.MajorMinor(want)
	case strings.HasPrefix(constraint, ">="):
		return semver.Compare(v, canonical(strings.TrimPrefix(constraint, ">="))) >= 0
	case strings.HasPrefix(constraint, "<="):
		return semver.Compare(v, canonical(strings.TrimPrefix(constraint, "<="))) <= 0
	case strings.HasPrefix(constraint, ">"):
		return semver.Compare(v, canonical(strings.TrimPrefix(constraint, ">"))) > 0
	case strings.HasPrefix(constraint, "<"):
		return semver.Compare(v, canonical(strings.TrimPrefix(constraint, "<"))) < 0
	default:
		return semver.Compare(v, canonical(constraint)) == 0
	}
}

// candidateVersions filters versions to those satisfying constraint
// and orders them newest-first, so the DFS tries the most recent
// compatible version before backtracking to older ones.
func candidateVersions(versions []string, constraint string) []string {
	var candidates []string
	for _, v := range versions {
		if semver.IsValid(canonical(v)) && matches(v, constraint) {
			candidates = append(candidates, v)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return semver.Compare(canonical(candidates[i]), canonical(candidates[j])) > 0
	})
	return candidates
}
