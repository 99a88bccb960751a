package transfer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
	"golang.org/x/sync/semaphore"
)

// ProcessSource resolves a process's exportable fields and its
// immediate children for Exporter. Left nil, an Exporter only walks
// object roots. No type in this module implements it; pkg/server
// passes nil.
type ProcessSource interface {
	Export(ctx context.Context, id string) (data map[string]any, children []string, err error)
}

// Exporter streams a process/object closure to a peer, per spec.md
// §4.8: a buffered output channel, a dedicated distribution goroutine,
// and sends that block until the consumer reads or ctx is done.
type Exporter struct {
	store     store.Store
	processes ProcessSource
	logger    zerolog.Logger
}

// NewExporter constructs an Exporter. processes may be nil if only
// object roots will ever be exported.
func NewExporter(st store.Store, processes ProcessSource) *Exporter {
	return &Exporter{store: st, processes: processes, logger: log.WithComponent("transfer")}
}

// exportState is the completion graph (spec.md §4.8): ids already
// acknowledged complete are not descended into again, and an id is
// enqueued for a walk at most once.
type exportState struct {
	mu       sync.Mutex
	complete map[string]bool
	queued   map[string]bool
}

func newExportState() *exportState {
	return &exportState{complete: map[string]bool{}, queued: map[string]bool{}}
}

func (s *exportState) markComplete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete[id] = true
}

func (s *exportState) tryEnqueue(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete[id] || s.queued[id] {
		return false
	}
	s.queued[id] = true
	return true
}

func (s *exportState) isComplete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete[id]
}

// Export streams arg's roots and their closures over the returned
// channel, which is closed after an EventEnd frame. acks carries the
// peer's Complete acknowledgements back to the exporter, pruning
// further descent into an acked id's subtree; it may be nil if the
// peer sends no acks (the export then walks the entire closure).
func (e *Exporter) Export(ctx context.Context, arg ExportArg, acks <-chan Complete) <-chan Event {
	out := make(chan Event, arg.ObjectBatchSize+arg.ProcessBatchSize+1)
	go e.run(ctx, arg, acks, out)
	return out
}

func (e *Exporter) run(ctx context.Context, arg ExportArg, acks <-chan Complete, out chan<- Event) {
	defer close(out)

	objState := newExportState()
	procState := newExportState()

	if acks != nil {
		go func() {
			for c := range acks {
				switch c.Kind {
				case ItemProcess:
					procState.markComplete(c.ID)
				default:
					objState.markComplete(c.ID)
				}
			}
		}()
	}

	objSem := semaphore.NewWeighted(maxInt64(arg.ObjectConcurrency, 1))
	var wg sync.WaitGroup
	for _, root := range arg.Objects {
		wg.Add(1)
		go e.walkObject(ctx, root, objState, objSem, out, &wg)
	}

	if e.processes != nil {
		procSem := semaphore.NewWeighted(maxInt64(arg.ProcessConcurrency, 1))
		for _, root := range arg.Processes {
			wg.Add(1)
			go e.walkProcess(ctx, root, procState, procSem, out, &wg)
		}
	}

	wg.Wait()
	select {
	case out <- Event{Kind: EventEnd}:
	case <-ctx.Done():
	}
}

func (e *Exporter) walkObject(ctx context.Context, id string, state *exportState, sem *semaphore.Weighted, out chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	if !state.tryEnqueue(id) {
		return
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	data, ok, err := e.store.Get(ctx, id)
	sem.Release(1)
	if err != nil || !ok {
		if err != nil {
			e.logger.Warn().Err(err).Str("object", id).Msg("export read failed")
		}
		return
	}

	select {
	case out <- Event{Kind: EventItem, Item: &Item{Kind: ItemObject, ID: id, ObjectBytes: data}}:
	case <-ctx.Done():
		return
	}

	if state.isComplete(id) {
		return
	}

	parsed, err := object.ParseID(id)
	if err != nil {
		return
	}
	obj, err := object.Deserialize(parsed.Kind, data)
	if err != nil {
		return
	}
	for _, child := range object.Children(obj) {
		wg.Add(1)
		go e.walkObject(ctx, child.String(), state, sem, out, wg)
	}
}

func (e *Exporter) walkProcess(ctx context.Context, id string, state *exportState, sem *semaphore.Weighted, out chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	if !state.tryEnqueue(id) {
		return
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	data, children, err := e.processes.Export(ctx, id)
	sem.Release(1)
	if err != nil {
		e.logger.Warn().Err(err).Str("process", id).Msg("export process read failed")
		return
	}

	select {
	case out <- Event{Kind: EventItem, Item: &Item{Kind: ItemProcess, ID: id, ProcessData: data}}:
	case <-ctx.Done():
		return
	}

	if state.isComplete(id) {
		return
	}
	for _, child := range children {
		wg.Add(1)
		go e.walkProcess(ctx, child, state, sem, out, wg)
	}
}

func maxInt64(v, min int64) int64 {
	if v < min {
		return min
	}
	return v
}
