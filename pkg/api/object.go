package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// TryGetObjectMetadata reads the indexer's subtree summary for id
// from the objects table (spec.md §4.4's subtree_count/depth/size
// columns): one route per noun operation, each reading a single row.
func (s *Server) TryGetObjectMetadata(ctx context.Context, id string) (*ObjectMetadata, bool, error) {
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

	row, ok, err := tx.QueryOptional(ctx, `SELECT subtree_count, subtree_depth, subtree_size, complete FROM objects WHERE id = ?`, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	md := &ObjectMetadata{Complete: asBool(row["complete"])}
	md.Count = asOptInt64(row["subtree_count"])
	md.Depth = asOptInt64(row["subtree_depth"])
	md.Weight = asOptInt64(row["subtree_size"])
	return md, true, nil
}

// TryGetObject fetches id's serialized bytes from the store directly;
// object metadata/completeness comes from the indexer instead.
func (s *Server) TryGetObject(ctx context.Context, id string) ([]byte, bool, error) {
	return s.store.Get(ctx, id)
}

// PutObject hash-verifies bytes against id before storing it and
// publishing a PutObject message to the indexer, the same
// verify-then-store-then-publish sequence pkg/transfer.Importer
// performs for a received export Item.
func (s *Server) PutObject(ctx context.Context, id string, bytes []byte) error {
	parsed, err := object.ParseID(id)
	if err != nil {
		return err
	}
	if !object.VerifyID(parsed, parsed.Kind, bytes) {
		return tgerror.New(tgerror.CodeChecksumMismatch, "object %s does not hash to its claimed id", id)
	}
	if err := s.store.Put(ctx, store.PutArg{ID: id, Bytes: bytes, TouchedAt: time.Now()}); err != nil {
		return err
	}
	return s.publishPutObject(ctx, id, bytes)
}

// PostObjectBatch puts every item in one store round trip, then
// publishes one PutObject message per item.
func (s *Server) PostObjectBatch(ctx context.Context, items []ObjectBatchItem) error {
	args := make([]store.PutArg, 0, len(items))
	now := time.Now()
	for _, item := range items {
		parsed, err := object.ParseID(item.ID)
		if err != nil {
			return err
		}
		if !object.VerifyID(parsed, parsed.Kind, item.Bytes) {
			return tgerror.New(tgerror.CodeChecksumMismatch, "object %s does not hash to its claimed id", item.ID)
		}
		args = append(args, store.PutArg{ID: item.ID, Bytes: item.Bytes, TouchedAt: now})
	}
	if err := s.store.PutBatch(ctx, args); err != nil {
		return err
	}
	for _, item := range items {
		if err := s.publishPutObject(ctx, item.ID, item.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// TouchObject publishes a TouchObject message, refreshing the
// indexer's touched_at without rewriting the object's bytes.
func (s *Server) TouchObject(ctx context.Context, id string) error {
	if s.messenger == nil {
		return nil
	}
	msg := index.Message{TouchObject: &index.TouchObject{ID: id, TouchedAt: time.Now()}}
	data, err := index.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.messenger.Publish(ctx, "index", data)
}

func (s *Server) publishPutObject(ctx context.Context, id string, bytes []byte) error {
	if s.messenger == nil {
		return nil
	}
	parsed, err := object.ParseID(id)
	if err != nil {
		return err
	}
	obj, err := object.Deserialize(parsed.Kind, bytes)
	if err != nil {
		return err
	}
	children := object.Children(obj)
	childIDs := make([]string, len(children))
	for i, c := range children {
		childIDs[i] = c.String()
	}
	msg := index.Message{PutObject: &index.PutObject{
		ID:        id,
		BytesLen:  int64(len(bytes)),
		Children:  childIDs,
		TouchedAt: time.Now(),
	}}
	data, err := index.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.messenger.Publish(ctx, "index", data)
}

func (s *Server) mountObjectRoutes(r chi.Router) {
	r.Route("/objects/{id}", func(r chi.Router) {
		r.Head("/", func(w http.ResponseWriter, r *http.Request) {
			md, ok, err := s.TryGetObjectMetadata(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, md)
		})
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			data, ok, err := s.TryGetObject(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(data)
		})
		r.Put("/", func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "read request body"))
				return
			}
			if err := s.PutObject(r.Context(), chi.URLParam(r, "id"), data); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusCreated)
		})
		r.Post("/touch", func(w http.ResponseWriter, r *http.Request) {
			if err := s.TouchObject(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func asOptInt64(v any) *int64 {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case int64:
		return &t
	case int:
		n := int64(t)
		return &n
	default:
		return nil
	}
}
