package checkout

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// IndexDrainer runs one non-blocking application cycle over pending
// index messages. *index.Indexer satisfies this via DrainOnce.
type IndexDrainer interface {
	DrainOnce(ctx context.Context) error
}

// Puller attempts to pull id (and its closure) from the default
// remote. pkg/transfer's Puller satisfies this and pkg/server wires
// one for the first configured remote; a nil Puller means "no remote configured", and the
// completeness gate simply fails if the artifact is still incomplete
// after an index drain.
type Puller interface {
	Pull(ctx context.Context, id string) error
}

// Engine materializes artifact subgraphs onto disk, per spec.md §4.7.
type Engine struct {
	db        database.Database
	store     store.Store
	fdLimit   *store.FDLimit
	cachePath string
	logger    zerolog.Logger

	Indexer IndexDrainer
	Puller  Puller
}

// New constructs a checkout Engine. cachePath is the directory
// holding prepared artifacts at cache/{id} (spec.md §6.3), the
// reflink source for File emission.
func New(db database.Database, st store.Store, fdLimit *store.FDLimit, cachePath string) *Engine {
	return &Engine{
		db:        db,
		store:     st,
		fdLimit:   fdLimit,
		cachePath: cachePath,
		logger:    log.WithComponent("checkout"),
	}
}

// Checkout materializes arg.Artifact under arg.Path, per spec.md
// §4.7's seven-step algorithm.
func (e *Engine) Checkout(ctx context.Context, arg Arg) (*Output, *Progress, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckoutDuration)

	id, err := object.ParseID(arg.Artifact)
	if err != nil {
		return nil, nil, err
	}

	if err := e.ensureComplete(ctx, arg.Artifact); err != nil {
		return nil, nil, err
	}

	path, err := canonicalizeParent(arg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("canonicalize destination parent: %w", err)
	}

	if _, statErr := os.Lstat(path); statErr == nil {
		if !arg.Force {
			return nil, nil, tgerror.New(tgerror.CodeOther, "destination %s already exists", path)
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, nil, fmt.Errorf("remove existing destination: %w", err)
		}
	}

	var artifactsPath string
	if id.Kind == object.KindDirectory {
		artifactsPath = filepath.Join(path, ".tangram", "artifacts")
	}

	progress := &Progress{}
	w := &walker{
		engine:        e,
		arg:           arg,
		artifactsPath: artifactsPath,
		visited:       map[string]bool{},
		graphs:        map[string]*object.Graph{},
		progress:      progress,
		lockEntries:   map[string]string{},
	}

	if err := w.checkoutArtifact(ctx, path, id); err != nil {
		os.RemoveAll(path)
		return nil, nil, err
	}

	lock := Lockfile{Paths: map[string]string{".": id.String()}}
	for p, refID := range w.lockEntries {
		lock.Paths[p] = refID
	}
	if err := writeLockfile(path, lock); err != nil {
		os.RemoveAll(path)
		return nil, nil, err
	}

	return &Output{Path: path}, progress, nil
}

// ensureComplete implements spec.md §4.7 step 1: if the top-level
// object is not marked complete, run the indexer once, then attempt a
// pull from the default remote, then fail if still incomplete.
// Grounded on original_source/packages/server/src/checkout.rs's
// checkout_ensure_complete.
func (e *Engine) ensureComplete(ctx context.Context, id string) error {
	complete, err := e.isComplete(ctx, id)
	if err != nil {
		return err
	}
	if complete {
		return nil
	}

	if e.Indexer != nil {
		if err := e.Indexer.DrainOnce(ctx); err != nil {
			e.logger.Warn().Err(err).Str("artifact", id).Msg("index drain before checkout failed")
		}
	}

	complete, err = e.isComplete(ctx, id)
	if err != nil {
		return err
	}
	if complete {
		return nil
	}

	if e.Puller != nil {
		if err := e.Puller.Pull(ctx, id); err != nil {
			e.logger.Warn().Err(err).Str("artifact", id).Msg("pull before checkout failed")
		}
	}

	complete, err = e.isComplete(ctx, id)
	if err != nil {
		return err
	}
	if !complete {
		return tgerror.New(tgerror.CodeNotFound, "artifact %s is not complete", id)
	}
	return nil
}

func (e *Engine) isComplete(ctx context.Context, id string) (bool, error) {
	conn, err := e.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	if err != nil {
		return false, fmt.Errorf("acquire completeness connection: %w", err)
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return false, fmt.Errorf("begin completeness transaction: %w", err)
	}
	defer tx.Rollback()
	row, ok, err := tx.QueryOptional(ctx, `SELECT complete FROM objects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("query completeness of %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	switch v := row["complete"].(type) {
	case int64:
		return v != 0, nil
	case bool:
		return v, nil
	default:
		return false, nil
	}
}

// canonicalizeParent resolves path's parent directory to an absolute,
// symlink-free form and rejoins path's final component, so a relative
// or symlinked parent does not let a checkout escape outside the
// intended destination tree.
func canonicalizeParent(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", tgerror.New(tgerror.CodeOther, "checkout path %s must be absolute", path)
	}
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create destination parent %s: %w", parent, err)
	}
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("resolve destination parent %s: %w", parent, err)
	}
	return filepath.Join(realParent, filepath.Base(path)), nil
}
