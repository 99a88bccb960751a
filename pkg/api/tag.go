package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// ListTags reads every tag whose name has pattern as a prefix,
// ordered by tag name, with a direct SQL LIKE query.
func (s *Server) ListTags(ctx context.Context, pattern string) ([]TagEntry, error) {
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
	rows, err := tx.QueryAll(ctx, `SELECT tag, item FROM tags WHERE tag LIKE ? ORDER BY tag`, pattern+"%")
	if err != nil {
		return nil, err
	}
	out := make([]TagEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, TagEntry{Tag: asString(row["tag"]), Item: asString(row["item"])})
	}
	return out, nil
}

func (s *Server) TryGetTag(ctx context.Context, pattern string) (*TagEntry, bool, error) {
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
	row, ok, err := tx.QueryOptional(ctx, `SELECT tag, item FROM tags WHERE tag = ?`, pattern)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &TagEntry{Tag: asString(row["tag"]), Item: asString(row["item"])}, true, nil
}

func (s *Server) PutTag(ctx context.Context, tag, item string) error {
	if s.messenger == nil {
		return nil
	}
	msg := index.Message{PutTag: &index.PutTag{Tag: tag, Item: item}}
	data, err := index.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.messenger.Publish(ctx, "index", data)
}

func (s *Server) PostTagBatch(ctx context.Context, entries []TagEntry) error {
	for _, e := range entries {
		if err := s.PutTag(ctx, e.Tag, e.Item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) DeleteTag(ctx context.Context, tag string) error {
	if s.messenger == nil {
		return nil
	}
	msg := index.Message{DeleteTag: &index.DeleteTag{Tag: tag}}
	data, err := index.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.messenger.Publish(ctx, "index", data)
}

func (s *Server) mountTagRoutes(r chi.Router) {
	r.Route("/tags", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			pattern := strings.TrimSuffix(r.URL.Query().Get("pattern"), "*")
			out, err := s.ListTags(r.Context(), pattern)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})
		r.Post("/batch", func(w http.ResponseWriter, r *http.Request) {
			var entries []TagEntry
			if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
				writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "decode tag batch"))
				return
			}
			if err := s.PostTagBatch(r.Context(), entries); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Route("/{tag}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				entry, ok, err := s.TryGetTag(r.Context(), chi.URLParam(r, "tag"))
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
					Item string `json:"item"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "decode tag put"))
					return
				}
				if err := s.PutTag(r.Context(), chi.URLParam(r, "tag"), body.Item); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				if err := s.DeleteTag(r.Context(), chi.URLParam(r, "tag")); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
