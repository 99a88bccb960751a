package process

import (
	"time"

	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// Status is a process's lifecycle state, per spec.md §3.3.
type Status string

const (
	StatusCreated  Status = "created"
	StatusEnqueued Status = "enqueued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
)

// IsFinished reports whether status is terminal.
func (s Status) IsFinished() bool { return s == StatusFinished }

// ReferentOptions names the edge a child occupies in its parent's
// child list: an optional path and tag the child was referred to by.
type ReferentOptions struct {
	Path string `json:"path,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// ObjectRef names one object a process references, tagged with the
// role it plays (command, log, output, error).
type ObjectRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Process is the full operational record of spec.md §3.3.
type Process struct {
	ID               string
	Command          string
	ExpectedChecksum string
	ActualChecksum   string
	Cacheable        bool
	Host             string
	Mounts           []string
	Network          bool
	Retry            bool
	Stdin            string
	Stdout           string
	Stderr           string
	Status           Status
	Exit             *int
	ErrorCode        tgerror.Code
	ErrorData        string
	Output           string
	CreatedAt        time.Time
	EnqueuedAt       *time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	HeartbeatAt      *time.Time
	TouchedAt        time.Time
	Depth            int64
	TokenCount       int64
}

// SpawnArg is the input to TrySpawnProcess, per spec.md §4.6.
type SpawnArg struct {
	Command          string
	ExpectedChecksum string
	Mounts           []string
	Network          bool
	Stdin            string
	Stdout           string
	Stderr           string
	Retry            bool
	Cached           *bool
	Parent           string
	ParentOptions    ReferentOptions
	Host             string
}

// SpawnOutput is TrySpawnProcess's result.
type SpawnOutput struct {
	Process string
	Remote  string
	Token   string
}

// FinishArg is the input to FinishProcess.
type FinishArg struct {
	Exit      int
	ErrorCode tgerror.Code
	ErrorData string
	Output    string
}

// CancelArg is the input to CancelProcess.
type CancelArg struct {
	Token string
}
