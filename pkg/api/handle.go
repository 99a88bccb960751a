package api

import (
	"context"
	"time"
)

// Handle is the full capability surface of spec.md §6.1, composed
// from one interface per noun plus the session-level operations.
// Grounded on original_source/packages/client/src/handle/erased.rs's
// Handle trait (Module + Object + Process + Pipe + Pty + Remote +
// Tag + ... ), translated from Rust's boxed-future-per-method idiom
// to plain Go: context.Context first argument, (Output, error)
// returns, and a <-chan Event in place of a boxed stream.
type Handle interface {
	ObjectHandle
	ProcessHandle
	PipeHandle
	PtyHandle
	TagHandle
	RemoteHandle
	SessionHandle
}

// ProgressEvent is one frame of a streaming session-level operation
// (checkout, pull, push, index, clean): either a progress update or,
// on the last frame, the operation's terminal Output/Err.
type ProgressEvent struct {
	Current int64
	Total   int64 // 0 means unknown/indeterminate
	Message string
	Output  any
	Err     error
	Done    bool
}

// ObjectHandle is object::{try_get_metadata, try_get, put,
// post_batch, touch}.
type ObjectHandle interface {
	TryGetObjectMetadata(ctx context.Context, id string) (*ObjectMetadata, bool, error)
	TryGetObject(ctx context.Context, id string) ([]byte, bool, error)
	PutObject(ctx context.Context, id string, bytes []byte) error
	PostObjectBatch(ctx context.Context, items []ObjectBatchItem) error
	TouchObject(ctx context.Context, id string) error
}

// ObjectBatchItem is one entry of a post_batch call: an id/bytes pair
// to put in a single round trip, per spec.md §4.8's PutObject shape.
type ObjectBatchItem struct {
	ID    string
	Bytes []byte
}

// ObjectMetadata is the subtree summary the indexer maintains per
// object (spec.md §4.4): counts/weights over an object's closure.
type ObjectMetadata struct {
	Count    *int64
	Depth    *int64
	Weight   *int64
	Complete bool
}

// ProcessHandle is process::{...}, per spec.md §4.6.
type ProcessHandle interface {
	ListProcesses(ctx context.Context, arg ProcessListArg) (*ProcessListOutput, error)
	TryGetProcessMetadata(ctx context.Context, id string) (*ProcessMetadata, bool, error)
	TryGetProcess(ctx context.Context, id string) (*ProcessOutput, bool, error)
	TryGetProcessChildrenStream(ctx context.Context, id string) (<-chan ProgressEvent, bool, error)
	TryGetProcessLogStream(ctx context.Context, id string) (<-chan ProgressEvent, bool, error)
	TryGetProcessSignalStream(ctx context.Context, id string) (<-chan ProgressEvent, bool, error)
	TryGetProcessStatusStream(ctx context.Context, id string) (<-chan ProgressEvent, bool, error)
	CancelProcess(ctx context.Context, id, token string) error
	TryDequeueProcess(ctx context.Context) (*ProcessDequeueOutput, bool, error)
	FinishProcess(ctx context.Context, id string, arg ProcessFinishArg) error
	HeartbeatProcess(ctx context.Context, id string) error
	PostProcessLog(ctx context.Context, id string, data []byte) error
	SignalProcess(ctx context.Context, id, signal string) error
	TrySpawnProcess(ctx context.Context, arg ProcessSpawnArg) (<-chan ProgressEvent, error)
	StartProcess(ctx context.Context, id string) error
	TouchProcess(ctx context.Context, id string) error
	TryWaitProcessFuture(ctx context.Context, id string) (<-chan ProcessWaitOutput, bool, error)
}

// ProcessListArg/Output, ProcessMetadata, ProcessOutput mirror
// pkg/process.Process's exported fields through the wire boundary,
// keeping api's request/response shapes independent of the process
// engine's internal Process struct.
type ProcessListArg struct {
	Limit int
}

type ProcessListOutput struct {
	Items []ProcessOutput
}

type ProcessMetadata struct {
	Status string
}

type ProcessOutput struct {
	ID        string
	Command   string
	Status    string
	Exit      *int
	Output    string
	CreatedAt time.Time
}

type ProcessDequeueOutput struct {
	Process string
}

type ProcessFinishArg struct {
	Exit      int
	ErrorCode string
	ErrorData string
	Output    string
}

type ProcessSpawnArg struct {
	Command          string
	ExpectedChecksum string
	Mounts           []string
	Network          bool
	Retry            bool
	Parent           string
}

type ProcessWaitOutput struct {
	Process *ProcessOutput
	Err     error
}

// PipeHandle is pipe::{create, close, delete, try_read, write}.
type PipeHandle interface {
	CreatePipe(ctx context.Context) (string, error)
	ClosePipe(ctx context.Context, id string) error
	DeletePipe(ctx context.Context, id string) error
	TryReadPipe(ctx context.Context, id string) (<-chan []byte, bool, error)
	WritePipe(ctx context.Context, id string, data []byte) error
}

// PtyHandle is pty::{create, close, delete, get_size, try_read, write}.
type PtyHandle interface {
	CreatePty(ctx context.Context, size PtySize) (string, error)
	ClosePty(ctx context.Context, id string) error
	DeletePty(ctx context.Context, id string) error
	GetPtySize(ctx context.Context, id string) (*PtySize, bool, error)
	TryReadPty(ctx context.Context, id string) (<-chan []byte, bool, error)
	WritePty(ctx context.Context, id string, data []byte) error
}

type PtySize struct {
	Rows uint16
	Cols uint16
}

// TagHandle is tag::{list, try_get, put, post_batch, delete}.
type TagHandle interface {
	ListTags(ctx context.Context, pattern string) ([]TagEntry, error)
	TryGetTag(ctx context.Context, pattern string) (*TagEntry, bool, error)
	PutTag(ctx context.Context, tag, item string) error
	PostTagBatch(ctx context.Context, entries []TagEntry) error
	DeleteTag(ctx context.Context, tag string) error
}

type TagEntry struct {
	Tag  string
	Item string
}

// RemoteHandle is remote::{list, try_get, put, delete}.
type RemoteHandle interface {
	ListRemotes(ctx context.Context) ([]RemoteEntry, error)
	TryGetRemote(ctx context.Context, name string) (*RemoteEntry, bool, error)
	PutRemote(ctx context.Context, name, url string) error
	DeleteRemote(ctx context.Context, name string) error
}

type RemoteEntry struct {
	Name string
	URL  string
}

// SessionHandle is the session-level slice of spec.md §6.1: cache,
// check, checkin, checkout, clean, document, format, health, index,
// lsp, pull, push, sync, try_get (by reference), try_read_stream,
// write. Module interpretation (checkin, check, document, format,
// lsp, sync, module::resolve/load) is out of scope per spec.md's
// Non-goals; those methods return a CodeOther "not implemented"
// error.
type SessionHandle interface {
	Health(ctx context.Context) (*HealthOutput, error)
	Index(ctx context.Context) (<-chan ProgressEvent, error)
	Clean(ctx context.Context) (<-chan ProgressEvent, error)
	Checkout(ctx context.Context, arg CheckoutArg) (<-chan ProgressEvent, error)
	Pull(ctx context.Context, arg TransferArg) (<-chan ProgressEvent, error)
	Push(ctx context.Context, arg TransferArg) (<-chan ProgressEvent, error)
	TryReadBlobStream(ctx context.Context, id string, position, length int64) (<-chan []byte, bool, error)
	Write(ctx context.Context, data []byte) (string, error)

	ResolveModule(ctx context.Context) error
	LoadModule(ctx context.Context) error
	Checkin(ctx context.Context) error
	Check(ctx context.Context) error
	Document(ctx context.Context) error
	Format(ctx context.Context) error
	LSP(ctx context.Context) error
	Sync(ctx context.Context) error
}

type HealthOutput struct {
	Version string    `json:"version"`
	Now     time.Time `json:"now"`
}

type CheckoutArg struct {
	Artifact     string
	Path         string
	Dependencies bool
	Force        bool
}

type TransferArg struct {
	Remote    string
	Processes []string
	Objects   []string
}
