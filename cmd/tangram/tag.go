package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tangramdotdev/tangram/pkg/api"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage mutable names over content-addressed items",
}

var tagListCmd = &cobra.Command{
	Use:   "list [PATTERN]",
	Short: "List tags matching a pattern (default: all)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		c := newClient(cmd)
		defer c.Close()
		entries, err := c.ListTags(context.Background(), pattern)
		if err != nil {
			return fmt.Errorf("list failed: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("No tags found")
			return nil
		}
		fmt.Printf("%-40s %s\n", "TAG", "ITEM")
		fmt.Println(strings.Repeat("-", 80))
		for _, e := range entries {
			fmt.Printf("%-40s %s\n", e.Tag, e.Item)
		}
		return nil
	},
}

var tagGetCmd = &cobra.Command{
	Use:   "get TAG",
	Short: "Resolve a tag to its current item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		entry, ok, err := c.TryGetTag(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("tag %s not found", args[0])
		}
		fmt.Println(entry.Item)
		return nil
	},
}

var tagPutCmd = &cobra.Command{
	Use:   "put TAG ITEM",
	Short: "Point a tag at an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.PutTag(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("put failed: %v", err)
		}
		fmt.Printf("✓ Tag %s -> %s\n", args[0], args[1])
		return nil
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:     "delete TAG",
	Aliases: []string{"rm"},
	Short:   "Delete a tag",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.DeleteTag(context.Background(), args[0]); err != nil {
			return fmt.Errorf("delete failed: %v", err)
		}
		fmt.Printf("✓ Tag %s deleted\n", args[0])
		return nil
	},
}

var tagPutBatchCmd = &cobra.Command{
	Use:   "put-batch TAG=ITEM [TAG=ITEM ...]",
	Short: "Point several tags at items in a single round trip",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := make([]api.TagEntry, 0, len(args))
		for _, pair := range args {
			tag, item, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid TAG=ITEM pair: %s", pair)
			}
			entries = append(entries, api.TagEntry{Tag: tag, Item: item})
		}
		c := newClient(cmd)
		defer c.Close()
		if err := c.PostTagBatch(context.Background(), entries); err != nil {
			return fmt.Errorf("put-batch failed: %v", err)
		}
		fmt.Printf("✓ Put %d tags\n", len(entries))
		return nil
	},
}

func init() {
	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagGetCmd)
	tagCmd.AddCommand(tagPutCmd)
	tagCmd.AddCommand(tagPutBatchCmd)
	tagCmd.AddCommand(tagDeleteCmd)
}
