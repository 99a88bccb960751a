package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeDeserializeLeaf(t *testing.T) {
	obj := Object{Kind: KindLeaf, Leaf: &Leaf{Bytes: []byte("payload")}}
	data, err := Serialize(obj)
	assert.NoError(t, err)

	out, err := Deserialize(KindLeaf, data)
	assert.NoError(t, err)
	assert.Equal(t, obj.Leaf.Bytes, out.Leaf.Bytes)
}

func TestSerializeDirectoryIsOrderIndependent(t *testing.T) {
	idA := NewID(KindFile, []byte("a"))
	idB := NewID(KindFile, []byte("b"))

	d1 := Object{Kind: KindDirectory, Directory: &Directory{Entries: []DirectoryEntry{
		{Name: "b.txt", Artifact: &idB},
		{Name: "a.txt", Artifact: &idA},
	}}}
	d2 := Object{Kind: KindDirectory, Directory: &Directory{Entries: []DirectoryEntry{
		{Name: "a.txt", Artifact: &idA},
		{Name: "b.txt", Artifact: &idB},
	}}}

	data1, err := Serialize(d1)
	assert.NoError(t, err)
	data2, err := Serialize(d2)
	assert.NoError(t, err)
	assert.Equal(t, data1, data2, "entries should be sorted by name during encoding")
}

func TestComputeIDMatchesNewID(t *testing.T) {
	obj := Object{Kind: KindLeaf, Leaf: &Leaf{Bytes: []byte("x")}}
	data, err := Serialize(obj)
	assert.NoError(t, err)
	want := NewID(KindLeaf, data)

	got, err := ComputeID(obj)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBranchRoundTrip(t *testing.T) {
	leafID := NewID(KindLeaf, []byte("child"))
	obj := Object{Kind: KindBranch, Branch: &Branch{Children: []BranchChild{
		{Blob: leafID, Size: 5},
	}}}
	data, err := Serialize(obj)
	assert.NoError(t, err)

	out, err := Deserialize(KindBranch, data)
	assert.NoError(t, err)
	assert.Len(t, out.Branch.Children, 1)
	assert.Equal(t, leafID, out.Branch.Children[0].Blob)
	assert.Equal(t, uint64(5), out.Branch.Children[0].Size)

	children := Children(obj)
	assert.Equal(t, []ID{leafID}, children)
}

func TestFileWithDependenciesRoundTrip(t *testing.T) {
	contents := NewID(KindLeaf, []byte("#!/bin/sh\necho hi\n"))
	dep := NewID(KindDirectory, []byte("dep"))
	obj := Object{Kind: KindFile, File: &File{
		Contents:   &contents,
		Executable: true,
		Dependencies: map[string]Dependency{
			"./lib": {Artifact: &dep, Subpath: "lib.sh"},
		},
	}}
	data, err := Serialize(obj)
	assert.NoError(t, err)

	out, err := Deserialize(KindFile, data)
	assert.NoError(t, err)
	assert.True(t, out.File.Executable)
	assert.Equal(t, contents, *out.File.Contents)
	assert.Equal(t, dep, *out.File.Dependencies["./lib"].Artifact)
	assert.Equal(t, "lib.sh", out.File.Dependencies["./lib"].Subpath)

	children := Children(obj)
	assert.ElementsMatch(t, []ID{contents, dep}, children)
}

func TestSymlinkRoundTrip(t *testing.T) {
	obj := Object{Kind: KindSymlink, Symlink: &Symlink{Target: "/usr/bin/env"}}
	data, err := Serialize(obj)
	assert.NoError(t, err)

	out, err := Deserialize(KindSymlink, data)
	assert.NoError(t, err)
	assert.Equal(t, "/usr/bin/env", out.Symlink.Target)
}

func TestGraphRoundTripWithSelfReference(t *testing.T) {
	// A directory node whose single entry refers back to index 0 of the
	// same graph (a self-referential directory, e.g. "." convention).
	graph := Object{Kind: KindGraph, Graph: &Graph{Nodes: []GraphNode{
		{
			Kind: KindDirectory,
			Directory: &Directory{Entries: []DirectoryEntry{
				{Name: "self", Reference: &GraphReference{Graph: nil, Index: 0}},
			}},
		},
	}}}
	data, err := Serialize(graph)
	assert.NoError(t, err)

	out, err := Deserialize(KindGraph, data)
	assert.NoError(t, err)
	assert.Len(t, out.Graph.Nodes, 1)
	ref := out.Graph.Nodes[0].Directory.Entries[0].Reference
	assert.NotNil(t, ref)
	assert.Nil(t, ref.Graph)
	assert.Equal(t, 0, ref.Index)

	selfID, err := ComputeID(graph)
	assert.NoError(t, err)
	assert.Equal(t, selfID, ref.Resolve(selfID))
}

func TestCommandRoundTrip(t *testing.T) {
	exe := NewID(KindFile, []byte("executable"))
	cmd := Object{Kind: KindCommand, Command: &Command{
		Args:       []Value{String("run"), String("--flag")},
		Env:        map[string]Value{"PATH": String("/usr/bin")},
		Executable: Object(exe),
		Host:       "x86_64-linux",
		Cwd:        "/work",
	}}
	data, err := Serialize(cmd)
	assert.NoError(t, err)

	out, err := Deserialize(KindCommand, data)
	assert.NoError(t, err)
	assert.Equal(t, "run", out.Command.Args[0].Str)
	assert.Equal(t, "/usr/bin", out.Command.Env["PATH"].Str)
	assert.Equal(t, exe, out.Command.Executable.Object)
	assert.Equal(t, "x86_64-linux", out.Command.Host)

	children := Children(cmd)
	assert.Equal(t, []ID{exe}, children)
}

func TestErrorObjectRoundTrip(t *testing.T) {
	source := NewID(KindError, []byte("cause"))
	obj := Object{Kind: KindError, Error: &StoredError{
		Code:     "checksum_mismatch",
		Message:  "blob checksum did not match",
		Location: &ErrorLocation{Path: "tangram.ts", Line: 10, Column: 2},
		Source:   &source,
	}}
	data, err := Serialize(obj)
	assert.NoError(t, err)

	out, err := Deserialize(KindError, data)
	assert.NoError(t, err)
	assert.Equal(t, "checksum_mismatch", out.Error.Code)
	assert.Equal(t, 10, out.Error.Location.Line)
	assert.Equal(t, source, *out.Error.Source)
}

func TestDeserializeRejectsTrailingBytes(t *testing.T) {
	obj := Object{Kind: KindLeaf, Leaf: &Leaf{Bytes: []byte("ok")}}
	data, err := Serialize(obj)
	assert.NoError(t, err)

	_, err = Deserialize(KindLeaf, append(data, 0xff))
	assert.Error(t, err)
}
