package object

// Graph decomposes a strongly-connected component of the artifact
// graph (directories, files, and symlinks that reference each other
// cyclically) into an ordered, self-contained list of Nodes. Edges
// that stay inside the component are expressed as GraphReference
// rather than ID, since an ID is a hash of bytes the cycle would make
// unresolvable.
type Graph struct {
	Nodes []GraphNode
}

// GraphNode is one member of a Graph: exactly one of Directory, File,
// or Symlink is set, holding the same shape as the corresponding
// top-level artifact but with internal edges as GraphReference.
type GraphNode struct {
	Kind      Kind
	Directory *Directory
	File      *File
	Symlink   *Symlink
}

// GraphReference points at a node inside a graph: either a node of
// this same Graph (Graph == nil) or a node of a different, already
// hash-addressed Graph (Graph pointing at that Graph's ID). Index
// selects the node within Graph.Nodes.
type GraphReference struct {
	Graph *ID
	Index int
}

// Resolve returns the ID to use when graph is the Graph this
// reference was read from and the caller has already computed or
// looked up selfID, the ID graph itself hashes to. If r.Graph is
// non-nil, the reference points outside the current graph and selfID
// is ignored.
func (r GraphReference) Resolve(selfID ID) ID {
	if r.Graph != nil {
		return *r.Graph
	}
	return selfID
}
