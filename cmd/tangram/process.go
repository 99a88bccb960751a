package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tangramdotdev/tangram/pkg/api"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Spawn and inspect processes",
}

var processSpawnCmd = &cobra.Command{
	Use:   "spawn COMMAND",
	Short: "Spawn a process, waiting for a local or remote slot to run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checksum, _ := cmd.Flags().GetString("checksum")
		mounts, _ := cmd.Flags().GetStringSlice("mount")
		network, _ := cmd.Flags().GetBool("network")
		retry, _ := cmd.Flags().GetBool("retry")
		parent, _ := cmd.Flags().GetString("parent")

		c := newClient(cmd)
		defer c.Close()
		events, err := c.TrySpawnProcess(context.Background(), api.ProcessSpawnArg{
			Command:          args[0],
			ExpectedChecksum: checksum,
			Mounts:           mounts,
			Network:          network,
			Retry:            retry,
			Parent:           parent,
		})
		if err != nil {
			return fmt.Errorf("spawn failed: %v", err)
		}
		ev := <-events
		if ev.Err != nil {
			return fmt.Errorf("spawn failed: %v", ev.Err)
		}
		fmt.Printf("%v\n", ev.Output)
		return nil
	},
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		c := newClient(cmd)
		defer c.Close()
		out, err := c.ListProcesses(context.Background(), api.ProcessListArg{Limit: limit})
		if err != nil {
			return fmt.Errorf("list failed: %v", err)
		}
		if len(out.Items) == 0 {
			fmt.Println("No processes found")
			return nil
		}
		fmt.Printf("%-40s %-10s %s\n", "ID", "STATUS", "COMMAND")
		fmt.Println(strings.Repeat("-", 90))
		for _, p := range out.Items {
			fmt.Printf("%-40s %-10s %s\n", p.ID, p.Status, truncate(p.Command, 36))
		}
		return nil
	},
}

var processGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print a process's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		p, ok, err := c.TryGetProcess(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("process %s not found", args[0])
		}
		fmt.Printf("ID:      %s\n", p.ID)
		fmt.Printf("Status:  %s\n", p.Status)
		fmt.Printf("Command: %s\n", p.Command)
		if p.Exit != nil {
			fmt.Printf("Exit:    %d\n", *p.Exit)
		}
		fmt.Printf("Created: %s\n", p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		if p.Output != "" {
			fmt.Printf("Output:\n%s\n", p.Output)
		}
		return nil
	},
}

var processMetadataCmd = &cobra.Command{
	Use:   "status ID",
	Short: "Print just a process's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		md, ok, err := c.TryGetProcessMetadata(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("status failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("process %s not found", args[0])
		}
		fmt.Println(md.Status)
		return nil
	},
}

var processChildrenCmd = &cobra.Command{
	Use:   "children ID",
	Short: "List a process's immediate children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		events, ok, err := c.TryGetProcessChildrenStream(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("children failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("process %s not found", args[0])
		}
		ev := <-events
		if ev.Err != nil {
			return fmt.Errorf("children failed: %v", ev.Err)
		}
		children, _ := ev.Output.([]string)
		for _, child := range children {
			fmt.Println(child)
		}
		return nil
	},
}

var processLogCmd = &cobra.Command{
	Use:   "log ID",
	Short: "Print a process's accumulated log output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		events, ok, err := c.TryGetProcessLogStream(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("log failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("process %s not found", args[0])
		}
		ev := <-events
		if ev.Err != nil {
			return fmt.Errorf("log failed: %v", ev.Err)
		}
		fmt.Printf("%v", ev.Output)
		return nil
	},
}

var processWaitCmd = &cobra.Command{
	Use:   "wait ID",
	Short: "Block until a process finishes and print its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		future, ok, err := c.TryWaitProcessFuture(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("wait failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("process %s not found", args[0])
		}
		out := <-future
		if out.Err != nil {
			return fmt.Errorf("wait failed: %v", out.Err)
		}
		if out.Process == nil {
			return fmt.Errorf("process %s did not finish", args[0])
		}
		fmt.Printf("Status: %s\n", out.Process.Status)
		if out.Process.Exit != nil {
			fmt.Printf("Exit:   %d\n", *out.Process.Exit)
		}
		return nil
	},
}

var processCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a process and its non-finished children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		c := newClient(cmd)
		defer c.Close()
		if err := c.CancelProcess(context.Background(), args[0], token); err != nil {
			return fmt.Errorf("cancel failed: %v", err)
		}
		fmt.Printf("✓ Process %s cancelled\n", args[0])
		return nil
	},
}

var processSignalCmd = &cobra.Command{
	Use:   "signal ID SIGNAL",
	Short: "Send a signal to a running process",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.SignalProcess(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("signal failed: %v", err)
		}
		fmt.Printf("✓ Sent %s to %s\n", args[1], args[0])
		return nil
	},
}

// Runner-side commands: the operations a remote worker process (not
// an interactive operator) calls against the node it pulled a process
// from, mirroring cmd/warren's split between user-facing noun
// commands and the worker-facing join/heartbeat ones.
var processRunnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Runner-side process lifecycle operations",
}

var processDequeueCmd = &cobra.Command{
	Use:   "dequeue",
	Short: "Dequeue the next runnable process, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		out, ok, err := c.TryDequeueProcess(context.Background())
		if err != nil {
			return fmt.Errorf("dequeue failed: %v", err)
		}
		if !ok {
			fmt.Println("(nothing queued)")
			return nil
		}
		fmt.Println(out.Process)
		return nil
	},
}

var processStartCmd = &cobra.Command{
	Use:   "start ID",
	Short: "Mark a dequeued process as started",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.StartProcess(context.Background(), args[0]); err != nil {
			return fmt.Errorf("start failed: %v", err)
		}
		fmt.Printf("✓ Process %s started\n", args[0])
		return nil
	},
}

var processFinishCmd = &cobra.Command{
	Use:   "finish ID",
	Short: "Report a process's terminal outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exit, _ := cmd.Flags().GetInt("exit")
		errorCode, _ := cmd.Flags().GetString("error-code")
		errorData, _ := cmd.Flags().GetString("error-data")
		output, _ := cmd.Flags().GetString("output")

		c := newClient(cmd)
		defer c.Close()
		err := c.FinishProcess(context.Background(), args[0], api.ProcessFinishArg{
			Exit:      exit,
			ErrorCode: errorCode,
			ErrorData: errorData,
			Output:    output,
		})
		if err != nil {
			return fmt.Errorf("finish failed: %v", err)
		}
		fmt.Printf("✓ Process %s finished\n", args[0])
		return nil
	},
}

var processTouchCmd = &cobra.Command{
	Use:   "touch ID",
	Short: "Refresh a process's touched_at timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.TouchProcess(context.Background(), args[0]); err != nil {
			return fmt.Errorf("touch failed: %v", err)
		}
		fmt.Printf("✓ Process %s touched\n", args[0])
		return nil
	},
}

var processHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat ID",
	Short: "Refresh a running process's heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.HeartbeatProcess(context.Background(), args[0]); err != nil {
			return fmt.Errorf("heartbeat failed: %v", err)
		}
		return nil
	},
}

var processPostLogCmd = &cobra.Command{
	Use:   "post-log ID FILE",
	Short: "Append FILE's bytes to a process's log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		c := newClient(cmd)
		defer c.Close()
		if err := c.PostProcessLog(context.Background(), args[0], data); err != nil {
			return fmt.Errorf("post-log failed: %v", err)
		}
		return nil
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	processSpawnCmd.Flags().String("checksum", "", "Expected output checksum, for a cacheable spawn")
	processSpawnCmd.Flags().StringSlice("mount", nil, "Mount spec (repeatable)")
	processSpawnCmd.Flags().Bool("network", false, "Grant the process network access")
	processSpawnCmd.Flags().Bool("retry", false, "Skip a cached result that failed and run again")
	processSpawnCmd.Flags().String("parent", "", "Parent process id")

	processListCmd.Flags().Int("limit", 100, "Maximum processes to list")

	processCancelCmd.Flags().String("token", "", "Cancellation token")

	processFinishCmd.Flags().Int("exit", 0, "Exit code")
	processFinishCmd.Flags().String("error-code", "", "tgerror code, if the process failed")
	processFinishCmd.Flags().String("error-data", "", "tgerror message, if the process failed")
	processFinishCmd.Flags().String("output", "", "Process output value")

	processCmd.AddCommand(processSpawnCmd)
	processCmd.AddCommand(processListCmd)
	processCmd.AddCommand(processGetCmd)
	processCmd.AddCommand(processMetadataCmd)
	processCmd.AddCommand(processChildrenCmd)
	processCmd.AddCommand(processLogCmd)
	processCmd.AddCommand(processWaitCmd)
	processCmd.AddCommand(processCancelCmd)
	processCmd.AddCommand(processSignalCmd)
	processCmd.AddCommand(processTouchCmd)

	processRunnerCmd.AddCommand(processDequeueCmd)
	processRunnerCmd.AddCommand(processStartCmd)
	processRunnerCmd.AddCommand(processFinishCmd)
	processRunnerCmd.AddCommand(processHeartbeatCmd)
	processRunnerCmd.AddCommand(processPostLogCmd)
	processCmd.AddCommand(processRunnerCmd)
}
