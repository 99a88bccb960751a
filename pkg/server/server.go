// Package server is the composition root: it owns the on-disk
// directory layout of spec.md §6.3 (cache/, logs/, database/, store/,
// tmps/), constructs every collaborator pkg/api.Server needs, and
// wires a pkg/client.Client plus its two adapters per configured
// remote. Grounded on cuemby-warren/pkg/manager.NewManager's shape: a
// Config struct, a single constructor that builds collaborators in
// dependency order and returns one assembled value, no partial
// construction exposed to the caller.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tangramdotdev/tangram/pkg/api"
	"github.com/tangramdotdev/tangram/pkg/checkout"
	"github.com/tangramdotdev/tangram/pkg/clean"
	"github.com/tangramdotdev/tangram/pkg/client"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/messenger"
	"github.com/tangramdotdev/tangram/pkg/process"
	"github.com/tangramdotdev/tangram/pkg/runtime"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/transfer"
)

// RemoteConfig names a peer node pkg/client dials for pull/push and
// process forwarding.
type RemoteConfig struct {
	Name   string
	URL    string
	APIKey string
}

// Config collects every knob the composition root needs. Only
// DataDir is required; everything else has a workable zero-node
// default, the same "works out of the box, tune later" posture
// cuemby-warren/pkg/manager.Config takes with its own three fields.
type Config struct {
	// DataDir is the root of the layout spec.md §6.3 describes:
	// DataDir/cache, DataDir/logs, DataDir/store, DataDir/tmps, plus
	// DataDir/database/tangram.db when DatabaseDSN is empty.
	DataDir string

	// DatabaseDSN, if set, is a postgres connection string opened via
	// database.OpenPostgres. Empty selects an embedded SQLite database
	// under DataDir/database, the default single-node backend.
	DatabaseDSN string

	// StoreBackend selects the object byte store: "bolt" (default,
	// single-process, DataDir/store/store.db) or "memory" (tests and
	// ephemeral nodes only; nothing survives a restart).
	StoreBackend string

	// SQLiteReaders bounds the read-connection pool OpenSQLite keeps;
	// zero selects OpenSQLite's own default.
	SQLiteReaders int

	// MaxConcurrentProcesses bounds process.Manager's admission
	// semaphore; zero selects a permissive default.
	MaxConcurrentProcesses int64

	// CleanWatermark is pkg/api.Config's same-named field, forwarded
	// unchanged.
	CleanWatermark time.Duration

	// APIKey, forwarded to pkg/api.Config, gates every request but
	// /health.
	APIKey string

	// Remotes are the peers this node can pull from and push to,
	// keyed by the name TransferArg.Remote and RemoteHandle use.
	Remotes []RemoteConfig
}

// Server owns every background loop and collaborator behind
// pkg/api.Server, plus the directory layout and database/store
// connections that outlive it. Close shuts down in reverse
// construction order.
type Server struct {
	db        database.Database
	store     store.Store
	messenger messenger.Messenger

	indexer   *index.Indexer
	cleaner   *clean.Cleaner
	heartbeat *process.HeartbeatMonitor

	remotes []*client.Client

	api *api.Server
}

// New builds every collaborator and assembles the chi-routed API over
// them. The returned Server is not yet accepting background work;
// call Start to begin the indexer/cleaner/heartbeat loops.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("server: DataDir is required")
	}
	for _, dir := range []string{"cache", "logs", "store", "tmps", "database"} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("server: create %s: %w", dir, err)
		}
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: acquire schema connection: %w", err)
	}
	err = process.EnsureSchema(ctx, conn)
	if err == nil {
		err = index.EnsureSchema(ctx, conn)
	}
	conn.Close()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: ensure schema: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := messenger.NewMemoryMessenger()

	ix, err := index.New(ctx, m, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: construct indexer: %w", err)
	}

	cleaner := clean.New(db, st)

	maxConcurrent := cfg.MaxConcurrentProcesses
	if maxConcurrent == 0 {
		maxConcurrent = 64
	}
	processes, err := process.New(db, st, m, filepath.Join(cfg.DataDir, "logs"), maxConcurrent)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: construct process manager: %w", err)
	}
	processes.Runner = runtime.NewLocalRunner()

	fdLimit := store.NewFDLimit(256)
	checkoutEngine := checkout.New(db, st, fdLimit, filepath.Join(cfg.DataDir, "cache"))
	checkoutEngine.Indexer = ix

	exporter := transfer.NewExporter(st, nil)
	importer := transfer.NewImporter(st, m, nil)

	remoteClients := make([]*client.Client, 0, len(cfg.Remotes))
	remotes := make([]process.Remote, 0, len(cfg.Remotes))
	pullers := make(map[string]*transfer.Puller, len(cfg.Remotes))
	pushers := make(map[string]api.Pusher, len(cfg.Remotes))
	for _, rc := range cfg.Remotes {
		c := client.NewClientWithAPIKey(rc.URL, rc.APIKey)
		remoteClients = append(remoteClients, c)
		remotes = append(remotes, client.NewProcessRemote(c))
		pullers[rc.Name] = transfer.NewPuller(c, importer)
		pushers[rc.Name] = client.NewPushRemote(c)
	}
	processes.Remotes = func() []process.Remote { return remotes }
	if len(remotes) > 0 {
		checkoutEngine.Puller = pullers[cfg.Remotes[0].Name]
	}

	apiServer := api.NewServer(api.Config{
		DB:             db,
		Store:          st,
		Messenger:      m,
		Processes:      processes,
		Indexer:        ix,
		Cleaner:        cleaner,
		Checkout:       checkoutEngine,
		Exporter:       exporter,
		Importer:       importer,
		Pullers:        pullers,
		Pushers:        pushers,
		CleanWatermark: cfg.CleanWatermark,
		APIKey:         cfg.APIKey,
	})
	for _, rc := range cfg.Remotes {
		if err := apiServer.PutRemote(ctx, rc.Name, rc.URL); err != nil {
			log.WithComponent("server").Warn().Err(err).Str("remote", rc.Name).Msg("failed to register remote")
		}
	}

	return &Server{
		db:        db,
		store:     st,
		messenger: m,
		indexer:   ix,
		cleaner:   cleaner,
		heartbeat: process.NewHeartbeatMonitor(processes),
		remotes:   remoteClients,
		api:       apiServer,
	}, nil
}

func openDatabase(ctx context.Context, cfg Config) (database.Database, error) {
	if cfg.DatabaseDSN != "" {
		db, err := database.OpenPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("server: open postgres: %w", err)
		}
		return db, nil
	}
	path := filepath.Join(cfg.DataDir, "database", "tangram.db")
	db, err := database.OpenSQLite(ctx, path, cfg.SQLiteReaders)
	if err != nil {
		return nil, fmt.Errorf("server: open sqlite: %w", err)
	}
	return db, nil
}

func openStore(cfg Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "", "bolt":
		st, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "store"))
		if err != nil {
			return nil, fmt.Errorf("server: open store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("server: unknown store backend %q", cfg.StoreBackend)
	}
}

// Start begins the indexer, cleaner, and heartbeat monitor background
// loops. Call once, after New and before serving traffic.
func (s *Server) Start(ctx context.Context) {
	s.indexer.Start(ctx)
	s.cleaner.Start()
	s.heartbeat.Start()
}

// Handler returns the assembled chi router for net/http.Server to
// serve.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Close stops every background loop, then closes the store (via
// s.api.Close, which owns that collaborator), the messenger, and the
// database. Remote clients are closed after the background loops and
// the API server, before the messenger and the database, since the
// indexer/cleaner never touch them directly but an in-flight
// pull/push might.
func (s *Server) Close(ctx context.Context) error {
	s.heartbeat.Stop()
	s.cleaner.Stop()
	s.indexer.Stop()
	if err := s.api.Close(ctx); err != nil {
		return err
	}
	for _, c := range s.remotes {
		c.Close()
	}
	if err := s.messenger.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
