/*
Package runtime implements pkg/process's Runner boundary: the thing
that actually executes a process's command once a permit is acquired
and returns its exit code and combined output.

Tangram's real execution sandbox (the isolated environment a command
actually runs in, with its checked-out dependencies on its PATH/in its
filesystem view) is intentionally out of scope for this rework — it is
a collaborator boundary spec.md places behind pkg/process's Runner
interface without specifying its internals. LocalRunner is the minimal
driver that satisfies the boundary: it runs a command through the
host's shell directly, with no isolation. A production deployment
swaps it for a real sandboxing driver without pkg/process, pkg/api, or
pkg/server changing at all; a containerd-backed driver is an
interchangeable implementation of the same Runner boundary.

# Usage

	runner := runtime.NewLocalRunner()
	manager, err := process.New(db, st, m, logsDir, maxConcurrentProcesses)
	if err != nil {
		return err
	}
	manager.Runner = runner
*/
package runtime
