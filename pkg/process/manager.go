package process

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/messenger"
	"github.com/tangramdotdev/tangram/pkg/store"
)

// Remote is the subset of a remote server's Handle the process engine
// needs to forward a spawn or cancel a running local process once a
// remote wins the completion race. pkg/client implements this against
// an HTTP server; tests supply a fake.
type Remote interface {
	Name() string
	TrySpawnProcess(arg SpawnArg) (*SpawnOutput, error)
	CancelProcess(id, token string) error
}

// Manager is the process engine of spec.md §4.6: it owns the
// operational processes/process_children/process_tokens tables, the
// permit hierarchy, the token registry, and the log directory, and
// publishes a PutProcess message to the indexer when it creates a
// process (other mutations publish no indexer message).
type Manager struct {
	db        database.Database
	store     store.Store
	messenger messenger.Messenger
	logger    zerolog.Logger
	logsDir   string

	Permits *Permits
	Tokens  *Tokens
	Remotes func() []Remote
	Runner  Runner

	streams *broker
}

// New constructs a Manager. logsDir is where per-process log files
// live (spec.md §6.3's logs/{process_id}); it is created if absent.
// maxConcurrentProcesses bounds the server-wide semaphore.
func New(db database.Database, st store.Store, m messenger.Messenger, logsDir string, maxConcurrentProcesses int64) (*Manager, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{
		db:        db,
		store:     st,
		messenger: m,
		logger:    log.WithComponent("process"),
		logsDir:   logsDir,
		Permits:   NewPermits(maxConcurrentProcesses),
		Tokens:    NewTokens(),
		Remotes:   func() []Remote { return nil },
		streams:   newBroker(),
	}, nil
}

func (m *Manager) logPath(id string) string {
	return filepath.Join(m.logsDir, id)
}
