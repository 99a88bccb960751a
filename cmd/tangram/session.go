package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tangramdotdev/tangram/pkg/api"
	"github.com/tangramdotdev/tangram/pkg/checkout"
)

// drainProgress prints every frame of a session-level ProgressEvent
// stream and returns the terminal frame's Output and Err. Every
// streaming SessionHandle operation (index, clean, checkout, pull,
// push) shares this same Current/Total/Message/Output/Err/Done shape,
// so one drain loop covers all of them, the way cmd/warren's service
// commands share one table-printing helper across several leaf
// commands.
func drainProgress(events <-chan api.ProgressEvent) (any, error) {
	var output any
	var outErr error
	for ev := range events {
		if ev.Message != "" {
			if ev.Total > 0 {
				fmt.Printf("  %s (%d/%d)\n", ev.Message, ev.Current, ev.Total)
			} else {
				fmt.Printf("  %s\n", ev.Message)
			}
		}
		if ev.Done {
			output = ev.Output
			outErr = ev.Err
		}
	}
	return output, outErr
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Apply pending index messages synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		events, err := c.Index(context.Background())
		if err != nil {
			return fmt.Errorf("index failed: %v", err)
		}
		if _, err := drainProgress(events); err != nil {
			return fmt.Errorf("index failed: %v", err)
		}
		fmt.Println("✓ Index applied")
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Sweep every partition of the eviction queue once",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		events, err := c.Clean(context.Background())
		if err != nil {
			return fmt.Errorf("clean failed: %v", err)
		}
		output, err := drainProgress(events)
		if err != nil {
			return fmt.Errorf("clean failed: %v", err)
		}
		fmt.Printf("✓ Clean complete, %v entities deleted\n", output)
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout ARTIFACT PATH",
	Short: "Materialize an artifact's subgraph onto disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dependencies, _ := cmd.Flags().GetBool("dependencies")
		force, _ := cmd.Flags().GetBool("force")

		c := newClient(cmd)
		defer c.Close()
		events, err := c.Checkout(context.Background(), api.CheckoutArg{
			Artifact:     args[0],
			Path:         args[1],
			Dependencies: dependencies,
			Force:        force,
		})
		if err != nil {
			return fmt.Errorf("checkout failed: %v", err)
		}
		output, err := drainProgress(events)
		if err != nil {
			return fmt.Errorf("checkout failed: %v", err)
		}
		if out, ok := output.(checkout.Output); ok {
			fmt.Printf("✓ Checked out to %s\n", out.Path)
		} else {
			fmt.Println("✓ Checkout complete")
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull REMOTE",
	Short: "Pull objects/processes from a remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objects, _ := cmd.Flags().GetStringSlice("object")
		processes, _ := cmd.Flags().GetStringSlice("process")

		c := newClient(cmd)
		defer c.Close()
		events, err := c.Pull(context.Background(), api.TransferArg{
			Remote:    args[0],
			Objects:   objects,
			Processes: processes,
		})
		if err != nil {
			return fmt.Errorf("pull failed: %v", err)
		}
		if _, err := drainProgress(events); err != nil {
			return fmt.Errorf("pull failed: %v", err)
		}
		fmt.Printf("✓ Pulled from %s\n", args[0])
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push REMOTE",
	Short: "Push objects/processes to a remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objects, _ := cmd.Flags().GetStringSlice("object")
		processes, _ := cmd.Flags().GetStringSlice("process")

		c := newClient(cmd)
		defer c.Close()
		events, err := c.Push(context.Background(), api.TransferArg{
			Remote:    args[0],
			Objects:   objects,
			Processes: processes,
		})
		if err != nil {
			return fmt.Errorf("push failed: %v", err)
		}
		if _, err := drainProgress(events); err != nil {
			return fmt.Errorf("push failed: %v", err)
		}
		fmt.Printf("✓ Pushed to %s\n", args[0])
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the server's version and current time",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		out, err := c.Health(context.Background())
		if err != nil {
			return fmt.Errorf("health check failed: %v", err)
		}
		fmt.Printf("Version: %s\n", out.Version)
		fmt.Printf("Now:     %s\n", out.Now.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Read and write content-addressed blobs",
}

var blobWriteCmd = &cobra.Command{
	Use:   "write FILE",
	Short: "Write a file's bytes as a blob and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		c := newClient(cmd)
		defer c.Close()
		id, err := c.Write(context.Background(), data)
		if err != nil {
			return fmt.Errorf("write failed: %v", err)
		}
		fmt.Println(id)
		return nil
	},
}

var blobReadCmd = &cobra.Command{
	Use:   "read ID",
	Short: "Read a blob's bytes to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		position, _ := cmd.Flags().GetInt64("position")
		length, _ := cmd.Flags().GetInt64("length")

		c := newClient(cmd)
		defer c.Close()
		chunks, ok, err := c.TryReadBlobStream(context.Background(), args[0], position, length)
		if err != nil {
			return fmt.Errorf("read failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("blob %s not found", args[0])
		}
		for chunk := range chunks {
			os.Stdout.Write(chunk)
		}
		return nil
	},
}

func init() {
	checkoutCmd.Flags().Bool("dependencies", true, "Check out the artifact's full dependency closure")
	checkoutCmd.Flags().Bool("force", false, "Overwrite an existing path")

	pullCmd.Flags().StringSlice("object", nil, "Object id to pull (repeatable)")
	pullCmd.Flags().StringSlice("process", nil, "Process id to pull (repeatable)")
	pushCmd.Flags().StringSlice("object", nil, "Object id to push (repeatable)")
	pushCmd.Flags().StringSlice("process", nil, "Process id to push (repeatable)")

	blobReadCmd.Flags().Int64("position", 0, "Byte offset to start reading from")
	blobReadCmd.Flags().Int64("length", 0, "Maximum bytes to read (0 means to the end)")

	blobCmd.AddCommand(blobWriteCmd)
	blobCmd.AddCommand(blobReadCmd)
}
