package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
)

func putObj(t *testing.T, st store.Store, obj object.Object) object.ID {
	t.Helper()
	data, err := object.Serialize(obj)
	require.NoError(t, err)
	id := object.NewID(obj.Kind, data)
	require.NoError(t, st.Put(context.Background(), store.PutArg{ID: id.String(), Bytes: data, TouchedAt: time.Now()}))
	return id
}

func TestExportImportRoundTripsObjectClosure(t *testing.T) {
	src := store.NewMemoryStore()
	leaf := putObj(t, src, object.Object{Kind: object.KindLeaf, Leaf: &object.Leaf{Bytes: []byte("payload")}})
	file := putObj(t, src, object.Object{Kind: object.KindFile, File: &object.File{Contents: &leaf}})
	dir := putObj(t, src, object.Object{Kind: object.KindDirectory, Directory: &object.Directory{
		Entries: []object.DirectoryEntry{{Name: "f", Artifact: &file}},
	}})

	exporter := NewExporter(src, nil)
	events := exporter.Export(context.Background(), DefaultExportArg(nil, []string{dir.String()}), nil)

	dst := store.NewMemoryStore()
	importer := NewImporter(dst, nil, nil)
	progress, err := importer.Import(context.Background(), events, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), progress.Objects.Load())

	data, ok, err := dst.Get(context.Background(), leaf.String())
	require.NoError(t, err)
	require.True(t, ok)
	obj, err := object.Deserialize(object.KindLeaf, data)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(obj.Leaf.Bytes))
}

func TestImportRejectsCorruptObject(t *testing.T) {
	dst := store.NewMemoryStore()
	importer := NewImporter(dst, nil, nil)

	events := make(chan Event, 2)
	events <- Event{Kind: EventItem, Item: &Item{Kind: ItemObject, ID: "lef_bogus", ObjectBytes: []byte("not the real bytes")}}
	close(events)

	_, err := importer.Import(context.Background(), events, nil)
	assert.Error(t, err)
}

type fakeRemote struct {
	exporter *Exporter
	arg      ExportArg
}

func (f *fakeRemote) Export(ctx context.Context, arg ExportArg) (<-chan Event, error) {
	return f.exporter.Export(ctx, arg, nil), nil
}

func TestPullerImportsFromRemote(t *testing.T) {
	src := store.NewMemoryStore()
	leaf := putObj(t, src, object.Object{Kind: object.KindLeaf, Leaf: &object.Leaf{Bytes: []byte("x")}})

	remote := &fakeRemote{exporter: NewExporter(src, nil)}
	dst := store.NewMemoryStore()
	importer := NewImporter(dst, nil, nil)
	puller := NewPuller(remote, importer)

	require.NoError(t, puller.Pull(context.Background(), leaf.String()))

	_, ok, err := dst.Get(context.Background(), leaf.String())
	require.NoError(t, err)
	assert.True(t, ok)
}
