package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// Remotes are plain rows in the remotes table; unlike tags/objects,
// they do not flow through the indexer's message bus since they are
// configuration, not content-addressed state the cleaner needs to
// track.
func (s *Server) ListRemotes(ctx context.Context) ([]RemoteEntry, error) {
	conn, err := s.db.Connection(ctx, database.KindRead, database.PriorityLow)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	rows, err := tx.QueryAll(ctx, `SELECT name, url FROM remotes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	out := make([]RemoteEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, RemoteEntry{Name: asString(row["name"]), URL: asString(row["url"])})
	}
	return out, nil
}

func (s *Server) TryGetRemote(ctx context.Context, name string) (*RemoteEntry, bool, error) {
	conn, err := s.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()
	row, ok, err := tx.QueryOptional(ctx, `SELECT name, url FROM remotes WHERE name = ?`, name)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &RemoteEntry{Name: asString(row["name"]), URL: asString(row["url"])}, true, nil
}

func (s *Server) PutRemote(ctx context.Context, name, url string) error {
	conn, err := s.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		return err
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Execute(ctx, `INSERT INTO remotes (name, url) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET url = excluded.url`, name, url); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Server) DeleteRemote(ctx context.Context, name string) error {
	conn, err := s.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		return err
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Execute(ctx, `DELETE FROM remotes WHERE name = ?`, name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Server) mountRemoteRoutes(r chi.Router) {
	r.Route("/remotes", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			out, err := s.ListRemotes(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				entry, ok, err := s.TryGetRemote(r.Context(), chi.URLParam(r, "name"))
				if err != nil {
					writeError(w, err)
					return
				}
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, entry)
			})
			r.Put("/", func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					URL string `json:"url"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "decode remote put"))
					return
				}
				if err := s.PutRemote(r.Context(), chi.URLParam(r, "name"), body.URL); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				if err := s.DeleteRemote(r.Context(), chi.URLParam(r, "name")); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})
}
