// Package index implements the message-driven indexer (spec.md §4.4):
// it subscribes to a messenger's "index" subject, batches the
// messages it receives, and applies each batch transactionally
// against a database — upserting object/process/cache-entry rows,
// their edges, subtree metadata, process depth, and the eviction
// queue.
package index

import "time"

// Message is the sum type of everything the indexer accepts. Exactly
// one of the typed fields is set, mirroring the seven message shapes
// spec.md §4.4 names.
type Message struct {
	PutObject     *PutObject
	TouchObject   *TouchObject
	PutProcess    *PutProcess
	TouchProcess  *TouchProcess
	PutCacheEntry *PutCacheEntry
	PutTag        *PutTag
	DeleteTag     *DeleteTag
}

// key returns the dedup key of the entity this message concerns: its
// id prefixed with the entity kind.
// Tag messages are keyed by tag name instead, since they don't share
// the id namespace with objects/processes/cache entries.
func (m Message) key() string {
	switch {
	case m.PutObject != nil:
		return "object:" + m.PutObject.ID
	case m.TouchObject != nil:
		return "object:" + m.TouchObject.ID
	case m.PutProcess != nil:
		return "process:" + m.PutProcess.ID
	case m.TouchProcess != nil:
		return "process:" + m.TouchProcess.ID
	case m.PutCacheEntry != nil:
		return "cache_entry:" + m.PutCacheEntry.ID
	case m.PutTag != nil:
		return "tag:" + m.PutTag.Tag
	case m.DeleteTag != nil:
		return "tag:" + m.DeleteTag.Tag
	default:
		return ""
	}
}

func (m Message) touchedAt() time.Time {
	switch {
	case m.PutObject != nil:
		return m.PutObject.TouchedAt
	case m.TouchObject != nil:
		return m.TouchObject.TouchedAt
	case m.PutProcess != nil:
		return m.PutProcess.TouchedAt
	case m.TouchProcess != nil:
		return m.TouchProcess.TouchedAt
	case m.PutCacheEntry != nil:
		return m.PutCacheEntry.TouchedAt
	default:
		return time.Time{}
	}
}

// children returns the ids this message's entity directly depends on,
// for the topological children-before-parents ordering within a
// batch. Tag messages have no children of their own.
func (m Message) children() []string {
	switch {
	case m.PutObject != nil:
		return m.PutObject.Children
	case m.PutProcess != nil:
		return m.PutProcess.Children
	default:
		return nil
	}
}

// approxBytes estimates the message's contribution to a batch's byte
// budget, used by the drain loop's bounded-by-bytes cutoff.
func (m Message) approxBytes() int {
	switch {
	case m.PutObject != nil:
		return int(m.PutObject.BytesLen) + len(m.PutObject.ID)
	case m.PutProcess != nil:
		return len(m.PutProcess.ID) + len(m.PutProcess.Children)*32
	default:
		return 64
	}
}

// PutObject records a newly stored object: its id, the length of its
// serialized bytes, its direct children, an optional cache entry it
// materializes under, free-form metadata, and the stored-completeness
// flags the indexer maintains on the row.
type PutObject struct {
	ID         string
	BytesLen   int64
	Children   []string
	CacheEntry string
	Metadata   map[string]string
	Complete   bool
	TouchedAt  time.Time
}

// TouchObject updates an existing object row's touched_at.
type TouchObject struct {
	ID        string
	TouchedAt time.Time
}

// ObjectRef names one object a process directly touches, tagged with
// the role it plays (e.g. "command", "output", "log").
type ObjectRef struct {
	ID   string
	Kind string
}

// PutProcess records a newly stored process: its id, its child
// processes, the objects it references, metadata, completeness flags.
type PutProcess struct {
	ID        string
	Children  []string
	Objects   []ObjectRef
	Metadata  map[string]string
	Complete  bool
	TouchedAt time.Time
}

// TouchProcess updates an existing process row's touched_at.
type TouchProcess struct {
	ID        string
	TouchedAt time.Time
}

// PutCacheEntry records a materialized cache entry's touched_at.
type PutCacheEntry struct {
	ID        string
	TouchedAt time.Time
}

// PutTag upserts a named pointer to an object or process id.
type PutTag struct {
	Tag  string
	Item string
}

// DeleteTag removes a named pointer.
type DeleteTag struct {
	Tag string
}
