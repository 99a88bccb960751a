package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// ProcessSink accepts a process item's exportable data during an
// import, persisting it however the local process store requires.
// No type in this module implements it; pkg/server passes nil, so
// process items are counted but not persisted.
type ProcessSink interface {
	Import(ctx context.Context, id string, data map[string]any) error
}

// Importer receives an export session's Event stream, writes object
// items into the store, and acknowledges each one back to the
// exporter so it can prune redundant re-sends on a later resume.
type Importer struct {
	store     store.Store
	publisher messenger
	processes ProcessSink
	logger    zerolog.Logger
}

// messenger is the minimal publish surface Importer needs to notify
// the indexer of newly stored objects; messenger.Messenger satisfies
// it directly.
type messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NewImporter constructs an Importer. publisher may be nil to skip
// index notification (e.g. a dry-run verification import); processes
// may be nil if the session carries no process items.
func NewImporter(st store.Store, publisher messenger, processes ProcessSink) *Importer {
	return &Importer{store: st, publisher: publisher, processes: processes, logger: log.WithComponent("transfer")}
}

// Import drains events, persisting each Item and forwarding a
// Complete acknowledgement for it on acks (if non-nil) once it is
// stored. It returns the session's aggregate
// Progress once an EventEnd frame is received or events closes.
func (im *Importer) Import(ctx context.Context, events <-chan Event, acks chan<- Complete) (*Progress, error) {
	progress := &Progress{}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return progress, nil
			}
			switch ev.Kind {
			case EventItem:
				if err := im.importItem(ctx, ev.Item, progress, acks); err != nil {
					return progress, err
				}
			case EventEnd:
				return progress, nil
			case EventComplete:
				// Completions flow from importer to exporter (see
				// Import's own acks param); a Complete frame arriving
				// on the events channel itself has no effect here.
			}
		case <-ctx.Done():
			return progress, ctx.Err()
		}
	}
}

func (im *Importer) importItem(ctx context.Context, item *Item, progress *Progress, acks chan<- Complete) error {
	if item == nil {
		return tgerror.New(tgerror.CodeOther, "item event is missing its item")
	}
	switch item.Kind {
	case ItemObject:
		return im.importObject(ctx, item, progress, acks)
	case ItemProcess:
		return im.importProcess(ctx, item, progress, acks)
	default:
		return tgerror.New(tgerror.CodeOther, "unknown item kind %q", item.Kind)
	}
}

func (im *Importer) importObject(ctx context.Context, item *Item, progress *Progress, acks chan<- Complete) error {
	id, err := object.ParseID(item.ID)
	if err != nil {
		return err
	}
	if !object.VerifyID(id, id.Kind, item.ObjectBytes) {
		return tgerror.New(tgerror.CodeChecksumMismatch, "object %s failed verification on import", item.ID)
	}
	if err := im.store.Put(ctx, store.PutArg{ID: item.ID, Bytes: item.ObjectBytes, TouchedAt: time.Now()}); err != nil {
		return fmt.Errorf("store imported object %s: %w", item.ID, err)
	}
	progress.Objects.Add(1)
	progress.Bytes.Add(int64(len(item.ObjectBytes)))

	if im.publisher != nil {
		obj, err := object.Deserialize(id.Kind, item.ObjectBytes)
		if err != nil {
			return err
		}
		children := object.Children(obj)
		childIDs := make([]string, len(children))
		for i, c := range children {
			childIDs[i] = c.String()
		}
		msg := index.Message{PutObject: &index.PutObject{
			ID: item.ID, BytesLen: int64(len(item.ObjectBytes)), Children: childIDs,
			Complete: len(childIDs) == 0, TouchedAt: time.Now(),
		}}
		data, err := index.EncodeMessage(msg)
		if err != nil {
			return err
		}
		if err := im.publisher.Publish(ctx, "index", data); err != nil {
			im.logger.Warn().Err(err).Str("object", item.ID).Msg("failed to publish index message for imported object")
		}
	}

	if acks != nil {
		select {
		case acks <- Complete{Kind: ItemObject, ID: item.ID}:
		case <-ctx.Done():
		}
	}
	return nil
}

func (im *Importer) importProcess(ctx context.Context, item *Item, progress *Progress, acks chan<- Complete) error {
	if im.processes != nil {
		if err := im.processes.Import(ctx, item.ID, item.ProcessData); err != nil {
			return fmt.Errorf("import process %s: %w", item.ID, err)
		}
	}
	progress.Processes.Add(1)
	if acks != nil {
		select {
		case acks <- Complete{Kind: ItemProcess, ID: item.ID}:
		case <-ctx.Done():
		}
	}
	return nil
}
