package runtime

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/log"
)

// LocalRunner satisfies pkg/process's Runner boundary by executing a
// command directly on the host through a shell via os/exec, rather
// than a container or VM client library call. It applies no
// isolation: no checkout-rooted filesystem view, no resource limits,
// no namespace. pkg/server wires LocalRunner as the process
// manager's Runner.
type LocalRunner struct {
	shell  string
	logger zerolog.Logger
}

// NewLocalRunner constructs a LocalRunner that executes commands via
// /bin/sh -c.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{shell: "/bin/sh", logger: log.WithComponent("runtime")}
}

// Run executes command, returning its exit code and combined
// stdout+stderr. A non-zero exit is reported through exit, not err;
// err is reserved for the command never having run at all (the shell
// itself failed to start).
func (r *LocalRunner) Run(ctx context.Context, id, command string) (int, string, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return 0, out.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), out.String(), nil
	}

	r.logger.Warn().Err(err).Str("process", id).Msg("failed to start local process")
	return -1, out.String(), err
}
