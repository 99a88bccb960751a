package process

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// localOutput is the intermediate result of the create-or-reuse step
// of TrySpawnProcess, before the local-vs-remote completion race.
type localOutput struct {
	id     string
	permit *Permit
	status Status
	token  string
}

// NewProcessID mints a time-ordered process id (pcs_<uuid-v7>), per
// original_source/packages/server/src/process/spawn.rs's
// uuid::Uuid::now_v7().
func NewProcessID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate process id: %w", err)
	}
	return "pcs_" + id.String(), nil
}

// TrySpawnProcess implements spec.md §4.6's spawn algorithm: an
// exact-cache-hit lookup, a checksum-mismatch reuse, or a fresh
// create, followed by a race between local completion and a remote
// cached lookup.
func (m *Manager) TrySpawnProcess(ctx context.Context, arg SpawnArg) (*SpawnOutput, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProcessSpawnDuration)

	cacheable := arg.ExpectedChecksum != "" ||
		(len(arg.Mounts) == 0 && !arg.Network && arg.Stdin == "" && arg.Stdout == "" && arg.Stderr == "")

	conn, err := m.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		metrics.ProcessSpawnsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("acquire spawn connection: %w", err)
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin spawn transaction: %w", err)
	}

	var out *localOutput
	cachedAllowed := arg.Cached == nil || *arg.Cached
	if cacheable && cachedAllowed {
		out, err = m.tryGetCachedProcessLocal(ctx, tx, arg)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if out == nil && cacheable && cachedAllowed && arg.ExpectedChecksum != "" {
		out, err = m.tryGetCachedProcessWithMismatchedChecksumLocal(ctx, tx, arg)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if out == nil && (arg.Cached == nil || !*arg.Cached) {
		out, err = m.createLocalProcess(ctx, tx, arg, cacheable)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit spawn transaction: %w", err)
	}

	if out == nil {
		return nil, nil
	}

	if out.permit != nil {
		m.spawnProcessTask(out.id, out.permit)
	} else {
		m.spawnProcessCreatedMessageTask()
		m.spawnProcessParentPermitTask(arg, out.id)
	}

	finalOutput := m.raceLocalAndRemote(ctx, arg, out, cacheable, cachedAllowed)
	if finalOutput == nil {
		return nil, nil
	}

	if finalOutput.Remote == "" && arg.Parent != "" {
		if err := m.AddProcessChild(ctx, arg.Parent, finalOutput.Process, arg.ParentOptions, finalOutput.Token); err != nil {
			metrics.ProcessSpawnsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("add process %s as child of %s: %w", finalOutput.Process, arg.Parent, err)
		}
	}

	outcome := "created"
	if finalOutput.Remote != "" {
		outcome = "remote"
	} else if out.status.IsFinished() {
		outcome = "cached"
	}
	metrics.ProcessSpawnsTotal.WithLabelValues(outcome).Inc()
	return finalOutput, nil
}

// raceLocalAndRemote races a local completion future against a remote
// cached lookup, per spec.md §4.6 step 5. In deployments with no
// configured remotes the remote future resolves to nil immediately,
// so this degenerates to "return the local output without waiting."
func (m *Manager) raceLocalAndRemote(ctx context.Context, arg SpawnArg, out *localOutput, cacheable, cachedAllowed bool) *SpawnOutput {
	finished := out.status.IsFinished()

	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()

	localDone := make(chan bool, 1)
	go func() {
		if finished {
			localDone <- true
			return
		}
		err := m.waitUntilFinished(raceCtx, out.id)
		localDone <- err == nil
	}()

	remoteOut := make(chan *SpawnOutput, 1)
	go func() {
		if finished || !cacheable || !cachedAllowed {
			remoteOut <- nil
			return
		}
		o, err := m.tryGetCachedProcessRemote(arg)
		if err != nil {
			remoteOut <- nil
			return
		}
		remoteOut <- o
	}()

	select {
	case ok := <-localDone:
		if ok {
			return &SpawnOutput{Process: out.id, Token: out.token}
		}
		if remote := <-remoteOut; remote != nil {
			return remote
		}
		return &SpawnOutput{Process: out.id, Token: out.token}
	case remote := <-remoteOut:
		if remote != nil {
			if out.token != "" {
				go func() {
					_ = m.CancelProcess(context.Background(), out.id, CancelArg{Token: out.token})
				}()
			}
			return remote
		}
		return &SpawnOutput{Process: out.id, Token: out.token}
	}
}

func (m *Manager) tryGetCachedProcessRemote(arg SpawnArg) (*SpawnOutput, error) {
	remotes := m.Remotes()
	if len(remotes) == 0 {
		return nil, nil
	}
	cached := true
	remoteArg := arg
	remoteArg.Cached = &cached
	remoteArg.Parent = ""
	type result struct {
		out *SpawnOutput
		err error
	}
	results := make(chan result, len(remotes))
	for _, r := range remotes {
		r := r
		go func() {
			out, err := r.TrySpawnProcess(remoteArg)
			if out != nil {
				out.Remote = r.Name()
			}
			results <- result{out, err}
		}()
	}
	for range remotes {
		res := <-results
		if res.err == nil && res.out != nil {
			return res.out, nil
		}
	}
	return nil, nil
}

func (m *Manager) tryGetCachedProcessLocal(ctx context.Context, tx database.Transaction, arg SpawnArg) (*localOutput, error) {
	row, ok, err := tx.QueryOptional(ctx, `SELECT id, error_code, exit, status FROM processes
		WHERE command = ? AND cacheable = 1
		AND expected_checksum IS ?
		AND (error_code IS NULL OR error_code NOT IN ('cancellation', 'heartbeat_expiration'))
		ORDER BY created_at DESC LIMIT 1`,
		arg.Command, nullableChecksum(arg.ExpectedChecksum))
	if err != nil {
		return nil, fmt.Errorf("exact cache hit lookup: %w", err)
	}
	if !ok {
		return nil, nil
	}
	id, _ := row["id"].(string)
	errorCode, _ := row["error_code"].(string)
	var exit *int
	if v, ok := row["exit"].(int64); ok {
		e := int(v)
		exit = &e
	}
	status := Status(asString(row["status"]))

	failed := errorCode != "" || (exit != nil && *exit != 0)
	if failed && arg.Retry {
		return nil, nil
	}

	var token string
	if status != StatusFinished {
		token, err = Create()
		if err != nil {
			return nil, err
		}
		if _, err := tx.Execute(ctx, `INSERT INTO process_tokens (process, token) VALUES (?, ?)`, id, token); err != nil {
			return nil, fmt.Errorf("insert process token: %w", err)
		}
		if _, err := tx.Execute(ctx, `UPDATE processes SET token_count = token_count + 1 WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("increment token count: %w", err)
		}
		m.Tokens.Bind(token, id)
	}

	return &localOutput{id: id, status: status, token: token}, nil
}

func (m *Manager) tryGetCachedProcessWithMismatchedChecksumLocal(ctx context.Context, tx database.Transaction, arg SpawnArg) (*localOutput, error) {
	row, ok, err := tx.QueryOptional(ctx, `SELECT id, actual_checksum, output FROM processes
		WHERE command = ? AND cacheable = 1 AND error_code = 'checksum_mismatch' AND actual_checksum IS NOT NULL
		ORDER BY created_at DESC LIMIT 1`, arg.Command)
	if err != nil {
		return nil, fmt.Errorf("checksum-mismatch reuse lookup: %w", err)
	}
	if !ok {
		return nil, nil
	}
	existingID, _ := row["id"].(string)
	actualChecksum := asString(row["actual_checksum"])

	exit := 0
	var errCode tgerror.Code
	var errData string
	var output string
	if arg.ExpectedChecksum != actualChecksum {
		exit = 1
		errCode = tgerror.CodeChecksumMismatch
		errData = fmt.Sprintf("expected %s, got %s", arg.ExpectedChecksum, actualChecksum)
	} else {
		output = asString(row["output"])
	}

	id, err := NewProcessID()
	if err != nil {
		return nil, err
	}

	src := m.logPath(existingID)
	dst := m.logPath(id)
	if data, readErr := os.ReadFile(src); readErr == nil {
		_ = os.WriteFile(dst, data, 0o644)
	}

	if _, err := tx.Execute(ctx, `INSERT INTO process_children (process, position, child, options, token)
		SELECT ?, position, child, options, token FROM process_children WHERE process = ?`, id, existingID); err != nil {
		return nil, fmt.Errorf("copy process children: %w", err)
	}

	now := time.Now()
	status := StatusFinished
	exitVal := exit
	params := []any{
		id, actualChecksum, true, arg.Command, now.UnixNano(),
		nullableString(errData), nullableCode(errCode), exitVal, arg.ExpectedChecksum,
		now.UnixNano(), arg.Host, nullableString(joinMounts(arg.Mounts)), arg.Network,
		nullableString(output), arg.Retry, string(status), 0, now.UnixNano(),
	}
	if _, err := tx.Execute(ctx, `INSERT INTO processes (
			id, actual_checksum, cacheable, command, created_at,
			error_data, error_code, exit, expected_checksum,
			finished_at, host, mounts, network,
			output, retry, status, token_count, touched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, params...); err != nil {
		return nil, fmt.Errorf("insert checksum-mismatch reuse process: %w", err)
	}

	if err := updateParentDepths(ctx, tx, []string{id}); err != nil {
		return nil, err
	}

	objects := []index.ObjectRef{{ID: arg.Command, Kind: "command"}}
	if err := recordProcessObjects(ctx, tx, id, objects); err != nil {
		return nil, err
	}
	if err := m.publishPutProcess(ctx, id, now, true, objects); err != nil {
		m.logger.Warn().Err(err).Str("process", id).Msg("failed to publish process index message")
	}

	return &localOutput{id: id, status: status}, nil
}

func (m *Manager) createLocalProcess(ctx context.Context, tx database.Transaction, arg SpawnArg, cacheable bool) (*localOutput, error) {
	id, err := NewProcessID()
	if err != nil {
		return nil, err
	}
	token, err := Create()
	if err != nil {
		return nil, err
	}

	if f, err := os.Create(m.logPath(id)); err == nil {
		f.Close()
	}

	permit, _ := m.Permits.TryAcquire(arg.Parent)

	status := StatusEnqueued
	if permit != nil {
		status = StatusStarted
	}

	now := time.Now()
	var heartbeatAt, startedAt any
	if permit != nil {
		heartbeatAt = now.UnixNano()
		startedAt = now.UnixNano()
	}

	params := []any{
		id, cacheable, arg.Command, now.UnixNano(), int64(1), now.UnixNano(),
		nullableString(arg.ExpectedChecksum), heartbeatAt, arg.Host,
		nullableString(joinMounts(arg.Mounts)), arg.Network, arg.Retry, startedAt,
		string(status), nullableString(arg.Stderr), nullableString(arg.Stdin),
		nullableString(arg.Stdout), 0, now.UnixNano(),
	}
	if _, err := tx.Execute(ctx, `INSERT INTO processes (
			id, cacheable, command, created_at, depth, enqueued_at,
			expected_checksum, heartbeat_at, host, mounts, network, retry,
			started_at, status, stderr, stdin, stdout, token_count, touched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, params...); err != nil {
		return nil, fmt.Errorf("insert process: %w", err)
	}

	if _, err := tx.Execute(ctx, `INSERT INTO process_tokens (process, token) VALUES (?, ?)`, id, token); err != nil {
		return nil, fmt.Errorf("insert process token: %w", err)
	}
	if _, err := tx.Execute(ctx, `UPDATE processes SET token_count = token_count + 1 WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("increment token count: %w", err)
	}
	m.Tokens.Bind(token, id)

	objects := []index.ObjectRef{{ID: arg.Command, Kind: "command"}}
	if err := recordProcessObjects(ctx, tx, id, objects); err != nil {
		return nil, err
	}
	if err := m.publishPutProcess(ctx, id, now, false, objects); err != nil {
		m.logger.Warn().Err(err).Str("process", id).Msg("failed to publish process index message")
	}

	return &localOutput{id: id, permit: permit, status: status, token: token}, nil
}

// recordProcessObjects mirrors the object references a process
// establishes into this engine's own local process_objects table, so
// a process's referenced objects can be queried without round-tripping
// through the indexer (e.g. pkg/checkout resolving a process's command
// object before the index projection has caught up). The indexer's own
// process_object table, populated from the PutProcess message published
// alongside this call, remains the source of truth pkg/clean's
// reference-count recomputation reads from.
func recordProcessObjects(ctx context.Context, tx database.Transaction, id string, objects []index.ObjectRef) error {
	for _, obj := range objects {
		if _, err := tx.Execute(ctx, `INSERT INTO process_objects (process, object, kind) VALUES (?, ?, ?)
			ON CONFLICT (process, object, kind) DO NOTHING`, id, obj.ID, obj.Kind); err != nil {
			return fmt.Errorf("record process object %s for %s: %w", obj.ID, id, err)
		}
	}
	return nil
}

// publishPutProcess publishes a PutProcess message to the indexer for
// id, per spec.md §3.5: every put/touch publishes to the indexer.
// objects names the command/log/output/error objects this process
// references, so the cleaner's reference-count recomputation (which
// reads the indexer's own process_object edge table) sees the
// ownership a running process establishes over them.
func (m *Manager) publishPutProcess(ctx context.Context, id string, touchedAt time.Time, complete bool, objects []index.ObjectRef) error {
	if m.messenger == nil {
		return nil
	}
	msg := index.Message{PutProcess: &index.PutProcess{ID: id, Objects: objects, Complete: complete, TouchedAt: touchedAt}}
	data, err := index.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return m.messenger.Publish(ctx, "index", data)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableCode(c tgerror.Code) any {
	if c == "" {
		return nil
	}
	return string(c)
}

func nullableChecksum(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinMounts(mounts []string) string {
	if len(mounts) == 0 {
		return ""
	}
	out := mounts[0]
	for _, mnt := range mounts[1:] {
		out += "," + mnt
	}
	return out
}
