package transfer

import "context"

// Remote starts an export session against a peer for arg's roots.
// pkg/client implements this over HTTP once built; tests exercise
// Puller against an in-process Exporter instead.
type Remote interface {
	Export(ctx context.Context, arg ExportArg) (<-chan Event, error)
}

// Puller pulls a single artifact's closure from a remote and imports
// it locally, satisfying pkg/checkout's Puller collaborator interface
// for the completeness gate's pull step (spec.md §4.7 step 1).
type Puller struct {
	remote   Remote
	importer *Importer
}

// NewPuller constructs a Puller.
func NewPuller(remote Remote, importer *Importer) *Puller {
	return &Puller{remote: remote, importer: importer}
}

// Pull imports id's closure from remote.
func (p *Puller) Pull(ctx context.Context, id string) error {
	events, err := p.remote.Export(ctx, DefaultExportArg(nil, []string{id}))
	if err != nil {
		return err
	}
	_, err = p.importer.Import(ctx, events, nil)
	return err
}
