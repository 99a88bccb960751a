package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tangramdotdev/tangram/pkg/checkout"
	"github.com/tangramdotdev/tangram/pkg/clean"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/messenger"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/process"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/transfer"
)

// Server implements Handle over the local node's collaborators and
// exposes it as a chi-routed HTTP API, grounded on the chi/cors/
// middleware wiring the pack's ternarybob-iter repo uses for its own
// REST server (internal/api/router.go): one middleware chain, one
// route group per noun, a Handler() accessor the composition root
// hands to net/http.Server.
type Server struct {
	db        database.Database
	store     store.Store
	messenger messenger.Messenger

	processes *process.Manager
	indexer   *index.Indexer
	cleaner   *clean.Cleaner
	checkout  *checkout.Engine
	exporter  *transfer.Exporter
	importer  *transfer.Importer

	pullers map[string]*transfer.Puller
	pushers map[string]Pusher

	pipes *pipeRegistry
	ptys  *ptyRegistry

	cleanWatermark time.Duration

	router chi.Router
}

// Config collects Server's collaborators. pullers/pushers are keyed
// by remote name, the same names stored in the remotes table and
// exposed through RemoteHandle.
type Config struct {
	DB        database.Database
	Store     store.Store
	Messenger messenger.Messenger
	Processes *process.Manager
	Indexer   *index.Indexer
	Cleaner   *clean.Cleaner
	Checkout  *checkout.Engine
	Exporter  *transfer.Exporter
	// Importer backs /transfer/import, the receiving side of a peer's
	// Push; nil disables the route (e.g. a node that only pulls).
	Importer *transfer.Importer
	Pullers  map[string]*transfer.Puller
	Pushers  map[string]Pusher

	// CleanWatermark is how far back of "touched_at" a sweep
	// considers eligible for deletion, per spec.md §4.5.
	CleanWatermark time.Duration

	// APIKey, when set, is required via the X-API-Key header or
	// api_key query parameter on every request but /health and
	// /metrics.
	APIKey string
}

// NewServer constructs a Server and assembles its chi router.
func NewServer(cfg Config) *Server {
	watermark := cfg.CleanWatermark
	if watermark == 0 {
		watermark = time.Hour
	}
	s := &Server{
		db:             cfg.DB,
		store:          cfg.Store,
		messenger:      cfg.Messenger,
		processes:      cfg.Processes,
		indexer:        cfg.Indexer,
		cleaner:        cfg.Cleaner,
		checkout:       cfg.Checkout,
		exporter:       cfg.Exporter,
		importer:       cfg.Importer,
		pullers:        cfg.Pullers,
		pushers:        cfg.Pushers,
		pipes:          newPipeRegistry(),
		ptys:           newPtyRegistry(),
		cleanWatermark: watermark,
	}
	if s.pullers == nil {
		s.pullers = map[string]*transfer.Puller{}
	}
	if s.pushers == nil {
		s.pushers = map[string]Pusher{}
	}
	s.setupRouter(cfg.APIKey)
	return s
}

func (s *Server) setupRouter(apiKey string) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if apiKey != "" {
		r.Use(apiKeyAuth(apiKey))
	}

	r.Handle("/metrics", metrics.Handler())

	s.mountObjectRoutes(r)
	s.mountProcessRoutes(r)
	s.mountPipeRoutes(r)
	s.mountPtyRoutes(r)
	s.mountTagRoutes(r)
	s.mountRemoteRoutes(r)
	s.mountSessionRoutes(r)

	s.router = r
}

// apiKeyAuth requires a matching X-API-Key header or api_key query
// parameter on every route but /health and /metrics.
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got != key {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

var _ Handle = (*Server)(nil)

// Close closes the server's store; a nil store (a test-only Server
// built with a partial Config) is skipped. No other collaborator is
// closed here.
func (s *Server) Close(ctx context.Context) error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
