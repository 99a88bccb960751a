package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// ptyRegistry mirrors pipeRegistry but additionally tracks a terminal
// size per id, since spec.md's pty noun adds get_size to the plain
// pipe surface. Like pipes, no real terminal is attached here; that is
// pkg/runtime's job when a process actually requests one.
type ptyRegistry struct {
	mu   sync.Mutex
	ptys map[string]*memoryPty
}

type memoryPty struct {
	mu     sync.Mutex
	size   PtySize
	reader chan []byte
	closed bool
}

func newPtyRegistry() *ptyRegistry {
	return &ptyRegistry{ptys: make(map[string]*memoryPty)}
}

func (r *ptyRegistry) create(size PtySize) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.ptys[id] = &memoryPty{size: size, reader: make(chan []byte, 64)}
	r.mu.Unlock()
	return id
}

func (r *ptyRegistry) get(id string) (*memoryPty, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ptys[id]
	return p, ok
}

func (r *ptyRegistry) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ptys, id)
}

func (s *Server) CreatePty(ctx context.Context, size PtySize) (string, error) {
	return s.ptys.create(size), nil
}

func (s *Server) ClosePty(ctx context.Context, id string) error {
	p, ok := s.ptys.get(id)
	if !ok {
		return tgerror.New(tgerror.CodeNotFound, "pty %s not found", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.reader)
	}
	return nil
}

func (s *Server) DeletePty(ctx context.Context, id string) error {
	s.ptys.delete(id)
	return nil
}

func (s *Server) GetPtySize(ctx context.Context, id string) (*PtySize, bool, error) {
	p, ok := s.ptys.get(id)
	if !ok {
		return nil, false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	size := p.size
	return &size, true, nil
}

func (s *Server) TryReadPty(ctx context.Context, id string) (<-chan []byte, bool, error) {
	p, ok := s.ptys.get(id)
	if !ok {
		return nil, false, nil
	}
	return p.reader, true, nil
}

func (s *Server) WritePty(ctx context.Context, id string, data []byte) error {
	p, ok := s.ptys.get(id)
	if !ok {
		return tgerror.New(tgerror.CodeNotFound, "pty %s not found", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return tgerror.New(tgerror.CodeOther, "pty %s is closed", id)
	}
	p.reader <- data
	return nil
}

func (s *Server) mountPtyRoutes(r chi.Router) {
	r.Route("/ptys", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			rows, cols := 24, 80
			if v, err := strconv.Atoi(r.URL.Query().Get("rows")); err == nil {
				rows = v
			}
			if v, err := strconv.Atoi(r.URL.Query().Get("cols")); err == nil {
				cols = v
			}
			id, err := s.CreatePty(r.Context(), PtySize{Rows: uint16(rows), Cols: uint16(cols)})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, idResponse{ID: id})
		})
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/size", func(w http.ResponseWriter, r *http.Request) {
				size, ok, err := s.GetPtySize(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, size)
			})
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				ch, ok, err := s.TryReadPty(r.Context(), chi.URLParam(r, "id"))
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
					writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "read pty body"))
					return
				}
				if err := s.WritePty(r.Context(), chi.URLParam(r, "id"), data); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Post("/close", func(w http.ResponseWriter, r *http.Request) {
				if err := s.ClosePty(r.Context(), chi.URLParam(r, "id")); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				if err := s.DeletePty(r.Context(), chi.URLParam(r, "id")); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})
}
