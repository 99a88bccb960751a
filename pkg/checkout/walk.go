package checkout

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/tangramdotdev/tangram/pkg/blob"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// walker holds the state shared across one Checkout call: the graphs
// it has loaded, the artifact ids it has already materialized under
// .tangram/artifacts, and the path-to-id pairs destined for the
// lockfile. Grounded on original_source/packages/server/src/checkout.rs's
// per-checkout State.
type walker struct {
	engine        *Engine
	arg           Arg
	artifactsPath string
	artifactsMade bool

	visited     map[string]bool
	graphs      map[string]*object.Graph
	progress    *Progress
	lockEntries map[string]string

	rootArtifact string
}

// node is one resolved artifact-graph member, direct or by reference:
// exactly one of dir, file, sym is set per kind.
type node struct {
	key  string // dependency-sharing / artifacts-dir key
	kind object.Kind
	dir  *object.Directory
	file *object.File
	sym  *object.Symlink
	size uint64 // serialized byte length; 0 for graph-resident nodes
}

func (w *walker) getObject(ctx context.Context, id object.ID) (object.Object, []byte, error) {
	data, ok, err := w.engine.store.Get(ctx, id.String())
	if err != nil {
		return object.Object{}, nil, fmt.Errorf("get object %s: %w", id, err)
	}
	if !ok {
		return object.Object{}, nil, tgerror.New(tgerror.CodeNotFound, "object %s not found in store", id)
	}
	if !object.VerifyID(id, id.Kind, data) {
		return object.Object{}, nil, tgerror.New(tgerror.CodeInvalidKind, "object %s failed hash verification", id)
	}
	obj, err := object.Deserialize(id.Kind, data)
	if err != nil {
		return object.Object{}, nil, err
	}
	return obj, data, nil
}

func (w *walker) loadGraph(ctx context.Context, id object.ID) (*object.Graph, error) {
	if g, ok := w.graphs[id.String()]; ok {
		return g, nil
	}
	obj, _, err := w.getObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if obj.Kind != object.KindGraph || obj.Graph == nil {
		return nil, tgerror.New(tgerror.CodeInvalidGraph, "object %s is not a graph", id)
	}
	w.graphs[id.String()] = obj.Graph
	return obj.Graph, nil
}

// resolveNode resolves an edge — either a direct artifact id or a
// graph reference, falling back to parentGraph when the reference
// omits its own graph (spec.md §4.7 step 4, checkout_get_node) — into
// the node to materialize, plus the graph it belongs to (nil for a
// direct object), for propagation to the node's own children.
func (w *walker) resolveNode(ctx context.Context, id *object.ID, ref *object.GraphReference, parentGraph *object.ID) (*node, *object.ID, error) {
	if ref != nil {
		g := ref.Graph
		if g == nil {
			g = parentGraph
		}
		if g == nil {
			return nil, nil, tgerror.New(tgerror.CodeInvalidGraph, "graph reference is missing its graph")
		}
		graph, err := w.loadGraph(ctx, *g)
		if err != nil {
			return nil, nil, err
		}
		if ref.Index < 0 || ref.Index >= len(graph.Nodes) {
			return nil, nil, tgerror.New(tgerror.CodeInvalidGraph, "graph %s has no node %d", g, ref.Index)
		}
		gn := graph.Nodes[ref.Index]
		key := g.String() + "#" + strconv.Itoa(ref.Index)
		return &node{key: key, kind: gn.Kind, dir: gn.Directory, file: gn.File, sym: gn.Symlink}, g, nil
	}
	if id == nil {
		return nil, nil, tgerror.New(tgerror.CodeInvalidGraph, "edge has neither an id nor a graph reference")
	}
	obj, data, err := w.getObject(ctx, *id)
	if err != nil {
		return nil, nil, err
	}
	n := &node{key: id.String(), kind: obj.Kind, size: uint64(len(data))}
	switch obj.Kind {
	case object.KindDirectory:
		n.dir = obj.Directory
	case object.KindFile:
		n.file = obj.File
	case object.KindSymlink:
		n.sym = obj.Symlink
	default:
		return nil, nil, tgerror.New(tgerror.CodeInvalidKind, "object %s is not an artifact", id)
	}
	return n, nil, nil
}

// checkoutArtifact materializes the top-level artifact id at path.
func (w *walker) checkoutArtifact(ctx context.Context, path string, id object.ID) error {
	w.rootArtifact = id.String()
	n, graph, err := w.resolveNode(ctx, &id, nil, nil)
	if err != nil {
		return err
	}
	return w.checkoutNode(ctx, path, n, graph)
}

// checkoutNode dispatches on kind: a Checker (Check/Type) and
// driver-name style dispatch, applied here to directory/file/symlink
// emission.
func (w *walker) checkoutNode(ctx context.Context, path string, n *node, graph *object.ID) error {
	w.progress.Objects.Add(1)
	switch n.kind {
	case object.KindDirectory:
		return w.checkoutDirectory(ctx, path, n.dir, graph)
	case object.KindFile:
		return w.checkoutFile(ctx, path, n.file, graph)
	case object.KindSymlink:
		return w.checkoutSymlink(ctx, path, n.sym, graph)
	default:
		return tgerror.New(tgerror.CodeInvalidKind, "cannot check out node of kind %q", n.kind)
	}
}

func (w *walker) checkoutDirectory(ctx context.Context, path string, dir *object.Directory, graph *object.ID) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	for _, entry := range dir.Entries {
		childPath := filepath.Join(path, entry.Name)
		n, childGraph, err := w.resolveNode(ctx, entry.Artifact, entry.Reference, graph)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", childPath, err)
		}
		if err := w.checkoutNode(ctx, childPath, n, childGraph); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) checkoutFile(ctx context.Context, path string, file *object.File, graph *object.ID) error {
	if w.arg.Dependencies {
		if err := w.checkoutFileDependencies(ctx, file, graph); err != nil {
			return err
		}
	}

	if file.Contents == nil {
		return tgerror.New(tgerror.CodeInvalidKind, "file at %s has no contents", path)
	}

	release, err := w.engine.fdLimit.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire file descriptor slot: %w", err)
	}
	defer release()

	reflinked := false
	src := filepath.Join(w.engine.cachePath, file.Contents.String())
	if err := reflinkFile(src, path); err == nil {
		reflinked = true
		metrics.CheckoutReflinksTotal.Inc()
		if info, statErr := os.Lstat(path); statErr == nil {
			w.progress.Bytes.Add(info.Size())
		}
	}

	if !reflinked {
		if err := w.copyBlob(ctx, *file.Contents, path); err != nil {
			return fmt.Errorf("copy contents for %s: %w", path, err)
		}
	}

	if file.Executable {
		if err := os.Chmod(path, 0o755); err != nil {
			return fmt.Errorf("set executable bit on %s: %w", path, err)
		}
	}

	if len(file.Dependencies) > 0 {
		if err := writeDependenciesXattr(path, file.Dependencies); err != nil {
			return fmt.Errorf("write dependencies xattr on %s: %w", path, err)
		}
		if err := writeReferentXattr(path, file.Dependencies); err != nil {
			return fmt.Errorf("write referent xattr on %s: %w", path, err)
		}
	}

	return nil
}

func (w *walker) copyBlob(ctx context.Context, id object.ID, dst string) error {
	r, err := blob.NewReader(ctx, w.engine.store, id)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return err
	}
	w.progress.Bytes.Add(n)
	return nil
}

// checkoutFileDependencies materializes every artifact a file's
// contents depend on under .tangram/artifacts before the file itself
// is written, per spec.md §4.7 step 5 (checkout_dependency): each
// dependency is shared across the whole checkout via the visited set,
// keyed by its resolved node key, and checked out at most once.
func (w *walker) checkoutFileDependencies(ctx context.Context, file *object.File, graph *object.ID) error {
	keys := make([]string, 0, len(file.Dependencies))
	for k := range file.Dependencies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		dep := file.Dependencies[k]
		if dep.Artifact == nil && dep.Reference == nil {
			continue
		}
		n, depGraph, err := w.resolveNode(ctx, dep.Artifact, dep.Reference, graph)
		if err != nil {
			return fmt.Errorf("resolve dependency %q: %w", k, err)
		}
		if n.key == w.rootArtifact {
			continue
		}
		if err := w.checkoutDependency(ctx, n, depGraph); err != nil {
			return err
		}
	}
	return nil
}

// checkoutDependency materializes n under
// .tangram/artifacts/{key}, creating the artifacts directory lazily
// on first use, and records the resulting path in the lockfile. A
// dependency already materialized this checkout is skipped.
func (w *walker) checkoutDependency(ctx context.Context, n *node, graph *object.ID) error {
	if w.visited[n.key] {
		return nil
	}
	w.visited[n.key] = true

	if w.artifactsPath == "" {
		return tgerror.New(tgerror.CodeOther, "cannot check out dependencies without a directory root")
	}
	if !w.artifactsMade {
		if err := os.MkdirAll(w.artifactsPath, 0o755); err != nil {
			return fmt.Errorf("create artifacts directory: %w", err)
		}
		w.artifactsMade = true
	}

	depPath := filepath.Join(w.artifactsPath, n.key)
	if _, err := os.Lstat(depPath); err == nil {
		return nil
	}

	if err := w.checkoutNode(ctx, depPath, n, graph); err != nil {
		return err
	}
	rel, err := filepath.Rel(filepath.Dir(filepath.Dir(w.artifactsPath)), depPath)
	if err != nil {
		rel = depPath
	}
	w.lockEntries[rel] = n.key
	return nil
}

// checkoutSymlink renders a symlink's target. A literal Target is
// used verbatim; an Artifact/Reference edge is rendered relative to
// path's parent directory, first materializing the dependency (under
// .tangram/artifacts, sharing with other dependents) when it is not
// the checkout's own root.
func (w *walker) checkoutSymlink(ctx context.Context, path string, sym *object.Symlink, graph *object.ID) error {
	if sym.Artifact == nil && sym.Reference == nil {
		target := sym.Target
		if sym.Subpath != "" {
			target = filepath.Join(target, sym.Subpath)
		}
		return os.Symlink(target, path)
	}

	n, depGraph, err := w.resolveNode(ctx, sym.Artifact, sym.Reference, graph)
	if err != nil {
		return fmt.Errorf("resolve symlink target: %w", err)
	}

	var targetPath string
	if n.key == w.rootArtifact {
		// The symlink refers back to the artifact currently being
		// checked out: point at path itself rather than allocating a
		// second copy under .tangram/artifacts.
		targetPath = path
	} else {
		if err := w.checkoutDependency(ctx, n, depGraph); err != nil {
			return err
		}
		targetPath = filepath.Join(w.artifactsPath, n.key)
	}
	if sym.Subpath != "" {
		targetPath = filepath.Join(targetPath, sym.Subpath)
	}

	rel, err := filepath.Rel(filepath.Dir(path), targetPath)
	if err != nil {
		return fmt.Errorf("relativize symlink target: %w", err)
	}
	return os.Symlink(rel, path)
}
