package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tangramdotdev/tangram/pkg/blob"
	"github.com/tangramdotdev/tangram/pkg/checkout"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
	"github.com/tangramdotdev/tangram/pkg/transfer"
)

// version is the server's reported build version. A release pipeline
// could stamp this in via a linker-injected variable; nothing in this
// tree does that yet, so it is a constant for now.
const version = "0.1.0"

func (s *Server) Health(ctx context.Context) (*HealthOutput, error) {
	return &HealthOutput{Version: version, Now: time.Now()}, nil
}

// Index drains the indexer's message queue once and reports whatever
// progress DrainOnce observed as a single terminal frame; the indexer
// itself has no notion of "percent done" since its queue is unbounded.
func (s *Server) Index(ctx context.Context) (<-chan ProgressEvent, error) {
	ch := make(chan ProgressEvent, 1)
	go func() {
		defer close(ch)
		err := s.indexer.DrainOnce(ctx)
		ch <- ProgressEvent{Done: true, Err: err}
	}()
	return ch, nil
}

// Clean sweeps every partition once, per spec.md §4.5's incremental
// low-watermark design — one Clean call advances each partition by
// one sweep rather than blocking until the whole store is cold.
func (s *Server) Clean(ctx context.Context) (<-chan ProgressEvent, error) {
	ch := make(chan ProgressEvent, 1)
	go func() {
		defer close(ch)
		watermark := time.Now().Add(-s.cleanWatermark)
		var deleted int64
		for partition := 0; partition < index.PartitionCount; partition++ {
			result, err := s.cleaner.SweepPartition(ctx, partition, watermark)
			if err != nil {
				ch <- ProgressEvent{Err: err, Done: true}
				return
			}
			deleted += int64(len(result.Objects) + len(result.Processes) + len(result.CacheEntries))
			ch <- ProgressEvent{Current: deleted, Message: "sweeping"}
		}
		ch <- ProgressEvent{Current: deleted, Done: true}
	}()
	return ch, nil
}

func (s *Server) Checkout(ctx context.Context, arg CheckoutArg) (<-chan ProgressEvent, error) {
	ch := make(chan ProgressEvent, 1)
	out, progress, err := s.checkout.Checkout(ctx, checkout.Arg{
		Artifact:     arg.Artifact,
		Path:         arg.Path,
		Dependencies: arg.Dependencies,
		Force:        arg.Force,
	})
	if err != nil {
		ch <- ProgressEvent{Err: err, Done: true}
		close(ch)
		return ch, nil
	}
	go func() {
		defer close(ch)
		ch <- ProgressEvent{
			Current: progress.Objects.Load(),
			Total:   progress.Bytes.Load(),
			Output:  out,
			Done:    true,
		}
	}()
	return ch, nil
}

// Pull fetches arg.Remote's closure for the given objects/processes
// through the named remote's transfer.Puller, the same engine
// pkg/checkout's completeness gate uses to backfill an incomplete
// artifact.
func (s *Server) Pull(ctx context.Context, arg TransferArg) (<-chan ProgressEvent, error) {
	puller, ok := s.pullers[arg.Remote]
	if !ok {
		return nil, tgerror.New(tgerror.CodeNotFound, "remote %s not configured", arg.Remote)
	}
	ch := make(chan ProgressEvent, 1)
	go func() {
		defer close(ch)
		ids := append(append([]string{}, arg.Objects...), arg.Processes...)
		for _, id := range ids {
			if err := puller.Pull(ctx, id); err != nil {
				ch <- ProgressEvent{Err: err, Done: true}
				return
			}
			ch <- ProgressEvent{Message: id}
		}
		ch <- ProgressEvent{Done: true}
	}()
	return ch, nil
}

// Pusher is the collaborator Push hands a local export to; the
// composition root wires it to pkg/client's HTTP implementation of
// the peer's import endpoint, the same way Pull's transfer.Puller
// wraps a Remote for the opposite direction.
type Pusher interface {
	Push(ctx context.Context, events <-chan transfer.Event) (*transfer.Progress, error)
}

// Push exports the given objects/processes locally and hands the
// resulting event stream to the named remote's Pusher, the mirror of
// Pull's Export-then-Import sequence run in the opposite direction.
// No acks flow back (Pusher has no channel for it), so a push always
// walks the full closure rather than pruning already-present subtrees.
func (s *Server) Push(ctx context.Context, arg TransferArg) (<-chan ProgressEvent, error) {
	pusher, ok := s.pushers[arg.Remote]
	if !ok {
		return nil, tgerror.New(tgerror.CodeNotFound, "remote %s not configured", arg.Remote)
	}
	ch := make(chan ProgressEvent, 1)
	go func() {
		defer close(ch)
		exportArg := transfer.DefaultExportArg(arg.Processes, arg.Objects)
		events := s.exporter.Export(ctx, exportArg, nil)
		progress, err := pusher.Push(ctx, events)
		if err != nil {
			ch <- ProgressEvent{Err: err, Done: true}
			return
		}
		ch <- ProgressEvent{Current: progress.Objects.Load(), Done: true}
	}()
	return ch, nil
}

func (s *Server) TryReadBlobStream(ctx context.Context, id string, position, length int64) (<-chan []byte, bool, error) {
	parsed, err := object.ParseID(id)
	if err != nil {
		return nil, false, err
	}
	r, err := blob.NewReader(ctx, s.store, parsed)
	if err != nil {
		return nil, false, nil
	}
	defer r.Close()
	if length <= 0 {
		length = r.Size() - position
	}
	if _, err := r.Seek(position, io.SeekStart); err != nil {
		return nil, true, err
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, true, err
	}
	ch := make(chan []byte, 1)
	ch <- buf[:n]
	close(ch)
	return ch, true, nil
}

// Write stores raw bytes as a leaf object and returns its id, per
// spec.md §4.8's plain leaf-blob write path (no children, no
// dependencies).
func (s *Server) Write(ctx context.Context, data []byte) (string, error) {
	bytes, err := object.Serialize(object.Object{Kind: object.KindLeaf, Leaf: &object.Leaf{Bytes: data}})
	if err != nil {
		return "", err
	}
	id := object.NewID(object.KindLeaf, bytes)
	if err := s.store.Put(ctx, store.PutArg{ID: id.String(), Bytes: bytes, TouchedAt: time.Now()}); err != nil {
		return "", err
	}
	if err := s.publishPutObject(ctx, id.String(), bytes); err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *Server) ResolveModule(ctx context.Context) error { return errNotImplemented }
func (s *Server) LoadModule(ctx context.Context) error    { return errNotImplemented }
func (s *Server) Checkin(ctx context.Context) error       { return errNotImplemented }
func (s *Server) Check(ctx context.Context) error         { return errNotImplemented }
func (s *Server) Document(ctx context.Context) error      { return errNotImplemented }
func (s *Server) Format(ctx context.Context) error        { return errNotImplemented }
func (s *Server) LSP(ctx context.Context) error           { return errNotImplemented }
func (s *Server) Sync(ctx context.Context) error          { return errNotImplemented }

func (s *Server) mountSessionRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		out, err := s.Health(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Post("/index", func(w http.ResponseWriter, r *http.Request) {
		events, err := s.Index(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		ev := <-events
		if ev.Err != nil {
			writeError(w, ev.Err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/clean", func(w http.ResponseWriter, r *http.Request) {
		events, err := s.Clean(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		var last ProgressEvent
		for ev := range events {
			last = ev
		}
		if last.Err != nil {
			writeError(w, last.Err)
			return
		}
		writeJSON(w, http.StatusOK, last)
	})
	r.Post("/checkout", func(w http.ResponseWriter, r *http.Request) {
		var arg CheckoutArg
		if err := json.NewDecoder(r.Body).Decode(&arg); err != nil {
			writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "decode checkout request"))
			return
		}
		events, err := s.Checkout(r.Context(), arg)
		if err != nil {
			writeError(w, err)
			return
		}
		ev := <-events
		if ev.Err != nil {
			writeError(w, ev.Err)
			return
		}
		writeJSON(w, http.StatusOK, ev.Output)
	})
	r.Post("/pull", func(w http.ResponseWriter, r *http.Request) {
		var arg TransferArg
		if err := json.NewDecoder(r.Body).Decode(&arg); err != nil {
			writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "decode pull request"))
			return
		}
		events, err := s.Pull(r.Context(), arg)
		if err != nil {
			writeError(w, err)
			return
		}
		for ev := range events {
			if ev.Err != nil {
				writeError(w, ev.Err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/push", func(w http.ResponseWriter, r *http.Request) {
		var arg TransferArg
		if err := json.NewDecoder(r.Body).Decode(&arg); err != nil {
			writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "decode push request"))
			return
		}
		events, err := s.Push(r.Context(), arg)
		if err != nil {
			writeError(w, err)
			return
		}
		for ev := range events {
			if ev.Err != nil {
				writeError(w, ev.Err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/blobs", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, tgerror.Wrap(tgerror.CodeIO, err, "read blob body"))
			return
		}
		id, err := s.Write(r.Context(), data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, idResponse{ID: id})
	})
	r.Get("/blobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		var position, length int64
		if v, err := strconv.ParseInt(r.URL.Query().Get("position"), 10, 64); err == nil {
			position = v
		}
		if v, err := strconv.ParseInt(r.URL.Query().Get("length"), 10, 64); err == nil {
			length = v
		}
		ch, ok, err := s.TryReadBlobStream(r.Context(), chi.URLParam(r, "id"), position, length)
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
	// /transfer/export is the peer-facing side of pkg/transfer.Remote:
	// a remote's pkg/client.Client.Export calls this to stream this
	// server's export of the requested roots as newline-delimited JSON
	// transfer.Event frames.
	r.Get("/transfer/export", func(w http.ResponseWriter, r *http.Request) {
		arg := transfer.DefaultExportArg(r.URL.Query()["process"], r.URL.Query()["object"])
		events := s.exporter.Export(r.Context(), arg, nil)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	// /transfer/import is the peer-facing side of Push's Pusher
	// collaborator: pkg/client decodes a local export into the same
	// newline-delimited transfer.Event frames /transfer/export emits
	// and streams them here, so pushing to a remote reuses exactly the
	// wire format pulling from one already established.
	r.Post("/transfer/import", func(w http.ResponseWriter, r *http.Request) {
		if s.importer == nil {
			writeError(w, tgerror.New(tgerror.CodeNotFound, "import not configured on this node"))
			return
		}
		events := make(chan transfer.Event, 16)
		ctx := r.Context()
		go func() {
			defer close(events)
			dec := json.NewDecoder(r.Body)
			for dec.More() {
				var ev transfer.Event
				if err := dec.Decode(&ev); err != nil {
					return
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		progress, err := s.importer.Import(ctx, events, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	})
}
