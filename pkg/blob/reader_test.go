package blob

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
)

func putLeaf(t *testing.T, st store.Store, data []byte) object.ID {
	t.Helper()
	obj := object.Object{Kind: object.KindLeaf, Leaf: &object.Leaf{Bytes: data}}
	bytes, err := object.Serialize(obj)
	require.NoError(t, err)
	id := object.NewID(object.KindLeaf, bytes)
	require.NoError(t, st.Put(context.Background(), store.PutArg{ID: id.String(), Bytes: bytes, TouchedAt: time.Now()}))
	return id
}

func putBranch(t *testing.T, st store.Store, children []object.BranchChild) object.ID {
	t.Helper()
	obj := object.Object{Kind: object.KindBranch, Branch: &object.Branch{Children: children}}
	bytes, err := object.Serialize(obj)
	require.NoError(t, err)
	id := object.NewID(object.KindBranch, bytes)
	require.NoError(t, st.Put(context.Background(), store.PutArg{ID: id.String(), Bytes: bytes, TouchedAt: time.Now()}))
	return id
}

func TestReaderReadsSingleLeaf(t *testing.T) {
	st := store.NewMemoryStore()
	id := putLeaf(t, st, []byte("hello world"))

	r, err := NewReader(context.Background(), st, id)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.Equal(t, int64(11), r.Size())
}

func TestReaderWalksBranchTree(t *testing.T) {
	st := store.NewMemoryStore()
	leaf1 := putLeaf(t, st, []byte("abc"))
	leaf2 := putLeaf(t, st, []byte("defgh"))
	inner := putBranch(t, st, []object.BranchChild{{Blob: leaf2, Size: 5}})
	root := putBranch(t, st, []object.BranchChild{
		{Blob: leaf1, Size: 3},
		{Blob: inner, Size: 5},
	})

	r, err := NewReader(context.Background(), st, root)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "abcdefgh", string(data))
}

func TestReaderSeek(t *testing.T) {
	st := store.NewMemoryStore()
	leaf1 := putLeaf(t, st, []byte("abc"))
	leaf2 := putLeaf(t, st, []byte("defgh"))
	root := putBranch(t, st, []object.BranchChild{
		{Blob: leaf1, Size: 3},
		{Blob: leaf2, Size: 5},
	})

	r, err := NewReader(context.Background(), st, root)
	require.NoError(t, err)
	defer r.Close()

	pos, err := r.Seek(4, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(4), pos)

	buf := make([]byte, 2)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "ef", string(buf))
}
