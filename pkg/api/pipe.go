package api

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// pipeRegistry is an in-memory byte-stream registry for spec.md §6.1's
// pipe noun. The real attachment of a pipe to a running process's
// stdio is the out-of-scope pkg/runtime collaborator's job; this is
// plumbing only, keyed by a generated id the caller reads/writes
// through like any other pipe.
type pipeRegistry struct {
	mu    sync.Mutex
	pipes map[string]*memoryPipe
}

type memoryPipe struct {
	mu     sync.Mutex
	reader chan []byte
	closed bool
}

func newPipeRegistry() *pipeRegistry {
	return &pipeRegistry{pipes: make(map[string]*memoryPipe)}
}

func (r *pipeRegistry) create() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.pipes[id] = &memoryPipe{reader: make(chan []byte, 64)}
	r.mu.Unlock()
	return id
}

func (r *pipeRegistry) get(id string) (*memoryPipe, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipes[id]
	return p, ok
}

func (r *pipeRegistry) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipes, id)
}

func (s *Server) CreatePipe(ctx context.Context) (string, error) {
	return s.pipes.create(), nil
}

func (s *Server) ClosePipe(ctx context.Context, id string) error {
	p, ok := s.pipes.get(id)
	if !ok {
		return tgerror.New(tgerror.CodeNotFound, "pipe %s not found", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.reader)
	}
	return nil
}

func (s *Server) DeletePipe(ctx context.Context, id string) error {
	s.pipes.delete(id)
	return nil
}

func (s *Server) TryReadPipe(ctx context.Context, id string) (<-chan []byte, bool, error) {
	p, ok := s.pipes.get(id)
	if !ok {
		return nil, false, nil
	}
	return p.reader, true, nil
}

func (s *Server) WritePipe(ctx context.Context, id string, data []byte) error {
	p, ok := s.pipes.get(id)
	if !ok {
		return tgerror.New(tgerror.CodeNotFound, "pipe %s not found", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return tgerror.New(tgerror.CodeOther, "pipe %s is closed", id)
	}
	p.reader <- data
	return nil
}

func (s *Server) mountPipeRoutes(r chi.Router) {
	r.Route("/pipes", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			id, err := s.CreatePipe(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, idResponse{ID: id})
		})
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				ch, ok, err := s.TryReadPipe(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.Header().Set("Content-Type", "application/octet-stream")
				for chunk := range ch {
					_, _ = w.Write(chunk)
				}
			})
			r.Put("/", func(w http.ResponseWriter, r *http.Request) {
				data, err := io.ReadAll(r.Body)
				if err != nil {
					writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "read pipe body"))
					return
				}
				if err := s.WritePipe(r.Context(), chi.URLParam(r, "id"), data); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Post("/close", func(w http.ResponseWriter, r *http.Request) {
				if err := s.ClosePipe(r.Context(), chi.URLParam(r, "id")); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				if err := s.DeletePipe(r.Context(), chi.URLParam(r, "id")); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})
}
