package checkout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Lockfile records, for a checked-out directory, the artifact id
// materialized at the checkout root and at each shared dependency
// under .tangram/artifacts (spec.md §4.7 step 7), keyed by path
// relative to the root ("." for the root itself). Entries below the
// root are not recorded.
type Lockfile struct {
	Paths map[string]string `json:"paths"`
}

// writeLockfile serializes lock to .tangram/lock.json under path. A
// non-directory checkout root (a bare file or symlink artifact) has no
// .tangram directory to hold it, so it is instead marked via the
// tangram.lock extended attribute (spec.md §6.4).
func writeLockfile(path string, lock Lockfile) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("stat checkout root %s: %w", path, err)
	}
	if !info.IsDir() {
		return writeLockMarkerXattr(path)
	}

	dir := filepath.Join(path, ".tangram")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lockfile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lock.json"), data, 0o644); err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	return nil
}
