package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage the peers this node pulls from and pushes to",
}

var remoteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured remotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		entries, err := c.ListRemotes(context.Background())
		if err != nil {
			return fmt.Errorf("list failed: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("No remotes configured")
			return nil
		}
		fmt.Printf("%-20s %s\n", "NAME", "URL")
		fmt.Println(strings.Repeat("-", 70))
		for _, e := range entries {
			fmt.Printf("%-20s %s\n", e.Name, e.URL)
		}
		return nil
	},
}

var remoteGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Print a remote's URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		entry, ok, err := c.TryGetRemote(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("remote %s not found", args[0])
		}
		fmt.Println(entry.URL)
		return nil
	},
}

var remotePutCmd = &cobra.Command{
	Use:   "put NAME URL",
	Short: "Configure a remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.PutRemote(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("put failed: %v", err)
		}
		fmt.Printf("✓ Remote %s -> %s\n", args[0], args[1])
		return nil
	},
}

var remoteDeleteCmd = &cobra.Command{
	Use:     "delete NAME",
	Aliases: []string{"rm"},
	Short:   "Remove a remote",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.DeleteRemote(context.Background(), args[0]); err != nil {
			return fmt.Errorf("delete failed: %v", err)
		}
		fmt.Printf("✓ Remote %s deleted\n", args[0])
		return nil
	},
}

func init() {
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteGetCmd)
	remoteCmd.AddCommand(remotePutCmd)
	remoteCmd.AddCommand(remoteDeleteCmd)
}
