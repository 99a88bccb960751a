package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tangramdotdev/tangram/pkg/api"
	"github.com/tangramdotdev/tangram/pkg/process"
	"github.com/tangramdotdev/tangram/pkg/transfer"
)

// ProcessRemote adapts a Client to pkg/process's Remote collaborator
// interface. Remote's TrySpawnProcess/CancelProcess shapes (no ctx,
// *process.SpawnOutput instead of a streamed api.ProcessOutput) don't
// match api.Handle's ProcessHandle methods of the same name, so the
// translation lives here rather than on Client itself: one type per
// collaborator interface, kept apart from Client's own method set.
type ProcessRemote struct {
	client *Client
}

// NewProcessRemote wraps client for use as a process.Manager remote.
func NewProcessRemote(client *Client) *ProcessRemote {
	return &ProcessRemote{client: client}
}

func (r *ProcessRemote) Name() string {
	return r.client.Name()
}

func (r *ProcessRemote) TrySpawnProcess(arg process.SpawnArg) (*process.SpawnOutput, error) {
	events, err := r.client.TrySpawnProcess(context.Background(), api.ProcessSpawnArg{
		Command:          arg.Command,
		ExpectedChecksum: arg.ExpectedChecksum,
		Mounts:           arg.Mounts,
		Network:          arg.Network,
		Retry:            arg.Retry,
		Parent:           arg.Parent,
	})
	if err != nil {
		return nil, err
	}
	ev := <-events
	if ev.Err != nil {
		return nil, ev.Err
	}
	out, ok := ev.Output.(process.SpawnOutput)
	if !ok {
		return &process.SpawnOutput{}, nil
	}
	return &out, nil
}

func (r *ProcessRemote) CancelProcess(id, token string) error {
	return r.client.CancelProcess(context.Background(), id, token)
}

var _ process.Remote = (*ProcessRemote)(nil)

// PushRemote adapts a Client to api.Pusher, the collaborator Push
// hands a local export to. It re-encodes the event stream as the
// same newline-delimited JSON /transfer/export already produces, just
// in the opposite direction, so a push against a peer's
// /transfer/import exercises the identical Importer code path a pull
// against that peer's /transfer/export would have driven locally.
type PushRemote struct {
	client *Client
}

// NewPushRemote wraps client for use as a named remote's Pusher.
func NewPushRemote(client *Client) *PushRemote {
	return &PushRemote{client: client}
}

func (r *PushRemote) Push(ctx context.Context, events <-chan transfer.Event) (*transfer.Progress, error) {
	pr, pw := io.Pipe()
	go func() {
		enc := json.NewEncoder(pw)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()
	resp, err := r.client.do(ctx, http.MethodPost, "/transfer/import", nil, pr)
	if err != nil {
		return nil, err
	}
	var progress transfer.Progress
	if err := decodeJSON(resp, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

var _ api.Pusher = (*PushRemote)(nil)
