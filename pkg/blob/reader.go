package blob

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// span is one leaf-bearing range of a blob's flattened byte space.
// bytes is nil until the leaf's content has actually been read.
type span struct {
	id     object.ID
	offset uint64
	size   uint64
	bytes  []byte
}

// Reader is a seekable io.ReadSeeker over a blob id's content. It
// either reads directly out of a cache-materialized file (when the
// store can produce a CacheReference for id) or walks the id's
// Leaf/Branch tree, fetching each leaf's bytes from the store only
// when a Read actually reaches it.
type Reader struct {
	ctx   context.Context
	store store.Store
	size  int64
	pos   int64

	file     *os.File
	cacheRef *store.CacheReference

	spans   []span
	curSpan int
}

// NewReader opens a Reader over id's content.
func NewReader(ctx context.Context, st store.Store, id object.ID) (*Reader, error) {
	ref, ok, err := st.TryGetCacheReference(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("look up cache reference for %s: %w", id, err)
	}
	if ok {
		f, err := os.Open(ref.Path)
		if err != nil {
			return nil, fmt.Errorf("open cache entry %s: %w", ref.Path, err)
		}
		if _, err := f.Seek(int64(ref.Position), io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek cache entry %s: %w", ref.Path, err)
		}
		return &Reader{ctx: ctx, store: st, size: int64(ref.Length), file: f, cacheRef: &ref}, nil
	}

	spans, size, err := flatten(ctx, st, id, 0)
	if err != nil {
		return nil, err
	}
	return &Reader{ctx: ctx, store: st, size: int64(size), spans: spans, curSpan: -1}, nil
}

// flatten expands id's blob tree into an ordered list of leaf spans,
// fetching only Branch objects along the way: a BranchChild's Size is
// trusted for offset bookkeeping, and its Blob.Kind tells us whether
// to recurse (Branch) or stop (Leaf) without fetching the child.
func flatten(ctx context.Context, st store.Store, id object.ID, base uint64) ([]span, uint64, error) {
	data, ok, err := st.Get(ctx, id.String())
	if err != nil {
		return nil, 0, fmt.Errorf("get blob %s: %w", id, err)
	}
	if !ok {
		return nil, 0, tgerror.New(tgerror.CodeNotFound, "blob %s not found in store", id)
	}
	if !object.VerifyID(id, id.Kind, data) {
		return nil, 0, tgerror.New(tgerror.CodeInvalidKind, "blob %s failed hash verification", id)
	}
	obj, err := object.Deserialize(id.Kind, data)
	if err != nil {
		return nil, 0, fmt.Errorf("deserialize blob %s: %w", id, err)
	}

	switch obj.Kind {
	case object.KindLeaf:
		size := uint64(len(obj.Leaf.Bytes))
		return []span{{id: id, offset: base, size: size, bytes: obj.Leaf.Bytes}}, size, nil
	case object.KindBranch:
		var spans []span
		offset := base
		for _, child := range obj.Branch.Children {
			if child.Blob.Kind == object.KindBranch {
				childSpans, _, err := flatten(ctx, st, child.Blob, offset)
				if err != nil {
					return nil, 0, err
				}
				spans = append(spans, childSpans...)
			} else {
				spans = append(spans, span{id: child.Blob, offset: offset, size: child.Size})
			}
			offset += child.Size
		}
		return spans, offset - base, nil
	default:
		return nil, 0, tgerror.New(tgerror.CodeInvalidKind, "object %s is not a blob", id)
	}
}

// Size returns the total byte length of the blob.
func (r *Reader) Size() int64 {
	return r.size
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.file != nil {
		return r.readCacheFile(p)
	}
	return r.readSpans(p)
}

func (r *Reader) readCacheFile(p []byte) (int, error) {
	remaining := r.size - r.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.file.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *Reader) readSpans(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	idx := r.spanIndexForPos()
	if idx < 0 {
		return 0, io.EOF
	}
	sp := &r.spans[idx]
	if sp.bytes == nil {
		data, ok, err := r.store.Get(r.ctx, sp.id.String())
		if err != nil {
			return 0, fmt.Errorf("read leaf %s: %w", sp.id, err)
		}
		if !ok {
			return 0, tgerror.New(tgerror.CodeNotFound, "leaf %s not found in store", sp.id)
		}
		obj, err := object.Deserialize(sp.id.Kind, data)
		if err != nil {
			return 0, err
		}
		if obj.Leaf == nil {
			return 0, tgerror.New(tgerror.CodeInvalidKind, "object %s is not a leaf", sp.id)
		}
		sp.bytes = obj.Leaf.Bytes
	}
	off := uint64(r.pos) - sp.offset
	n := copy(p, sp.bytes[off:])
	r.pos += int64(n)
	return n, nil
}

// spanIndexForPos returns the span covering r.pos, scanning forward
// from the last span read (reads are overwhelmingly sequential).
func (r *Reader) spanIndexForPos() int {
	pos := uint64(r.pos)
	if r.curSpan >= 0 {
		sp := r.spans[r.curSpan]
		if pos >= sp.offset && pos < sp.offset+sp.size {
			return r.curSpan
		}
	}
	for i, sp := range r.spans {
		if pos >= sp.offset && pos < sp.offset+sp.size {
			r.curSpan = i
			return i
		}
	}
	return -1
}

// Seek implements io.Seeker. Offsets are resolved against the blob's
// own [0, size) range, as os.File.Seek does: a resulting position
// below 0 is an error, and a position past size is accepted as is.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, tgerror.New(tgerror.CodeOther, "invalid whence %d", whence)
	}
	if target < 0 {
		return 0, tgerror.New(tgerror.CodeOther, "negative seek position")
	}
	if r.file != nil {
		if _, err := r.file.Seek(int64(r.cacheRef.Position)+target, io.SeekStart); err != nil {
			return 0, err
		}
	}
	r.pos = target
	return r.pos, nil
}

// Close releases the underlying cache file handle, if any.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
