package object

// Object is the tagged union of every hash-addressed kind tangram
// stores: the two blob-tree kinds (Leaf, Branch), the three artifact
// kinds (Directory, File, Symlink), the Graph container that breaks
// cycles between artifacts, Command (a cacheable process's
// executable description), and Error (a structured failure captured
// as data so it can be stored, transferred, and replayed).
type Object struct {
	Kind      Kind
	Leaf      *Leaf
	Branch    *Branch
	Directory *Directory
	File      *File
	Symlink   *Symlink
	Graph     *Graph
	Command   *Command
	Error     *StoredError
}

// Leaf is a span of raw bytes: the base case of the blob tree.
type Leaf struct {
	Bytes []byte
}

// Branch joins child blobs (leaves or other branches) in order,
// recording each child's length so a blob reader can seek without
// reading the children themselves.
type Branch struct {
	Children []BranchChild
}

// BranchChild is one entry in a Branch: a reference to a blob object
// (Leaf or Branch) and that object's uncompressed byte length.
type BranchChild struct {
	Blob ID
	Size uint64
}

// DirectoryEntry is one named member of a Directory.
type DirectoryEntry struct {
	Name string
	// Artifact is the entry's referent, either as a direct ID or, when
	// the entry is part of a strongly-connected component, as a
	// GraphReference into the enclosing Graph.
	Artifact  *ID
	Reference *GraphReference
}

// Directory is an artifact mapping names to other artifacts.
type Directory struct {
	Entries []DirectoryEntry
}

// File is an artifact: a blob of content plus executable bit and the
// set of other artifacts the content depends on (for dependency
// tracking and checkout materialization).
type File struct {
	Contents     *ID
	ContentsRef  *GraphReference
	Executable   bool
	Dependencies map[string]Dependency
}

// Dependency names one artifact a File's contents refer to (e.g. an
// import path resolved at evaluation time), alongside the subpath and
// tag it was resolved from, if any.
type Dependency struct {
	Artifact  *ID
	Reference *GraphReference
	Subpath   string
	Tag       string
}

// Symlink is an artifact that is either a literal target path or a
// reference to another artifact plus an optional subpath into it.
type Symlink struct {
	Target    string
	Artifact  *ID
	Reference *GraphReference
	Subpath   string
}

// Command is the description of a cacheable computation: its
// executable, arguments, environment, execution host, mounts, and
// stdin.
type Command struct {
	Args       []Value
	Env        map[string]Value
	Executable Value
	Host       string
	Mounts     []CommandMount
	Stdin      *ID
	Cwd        string
	User       string
}

// CommandMount describes a filesystem mount a Command's sandboxed
// execution environment should set up before running.
type CommandMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// StoredError is an Error object: a tangram error captured as data so
// that a failed process's outcome can be stored and replayed exactly
// like a successful one. Mirrors pkg/tgerror.Error's shape.
type StoredError struct {
	Code     string
	Message  string
	Location *ErrorLocation
	Stack    []ErrorStackFrame
	Values   map[string]string
	Source   *ID
}

// ErrorLocation mirrors tgerror.Location in storable form.
type ErrorLocation struct {
	Path   string
	Line   int
	Column int
}

// ErrorStackFrame mirrors tgerror.StackFrame in storable form.
type ErrorStackFrame struct {
	Symbol   string
	Location *ErrorLocation
}
