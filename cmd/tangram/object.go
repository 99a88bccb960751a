package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tangramdotdev/tangram/pkg/api"
)

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Manage content-addressed objects",
}

var objectGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print an object's bytes to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		bytes, ok, err := c.TryGetObject(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("object %s not found", args[0])
		}
		os.Stdout.Write(bytes)
		return nil
	},
}

var objectMetadataCmd = &cobra.Command{
	Use:   "metadata ID",
	Short: "Print an object's indexed subtree metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		md, ok, err := c.TryGetObjectMetadata(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("metadata failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("object %s not found", args[0])
		}
		fmt.Printf("Complete: %v\n", md.Complete)
		if md.Count != nil {
			fmt.Printf("Count:    %d\n", *md.Count)
		}
		if md.Depth != nil {
			fmt.Printf("Depth:    %d\n", *md.Depth)
		}
		if md.Weight != nil {
			fmt.Printf("Weight:   %d\n", *md.Weight)
		}
		return nil
	},
}

var objectPutCmd = &cobra.Command{
	Use:   "put ID FILE",
	Short: "Store a file's bytes under the given object id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		c := newClient(cmd)
		defer c.Close()
		if err := c.PutObject(context.Background(), args[0], data); err != nil {
			return fmt.Errorf("put failed: %v", err)
		}
		fmt.Printf("✓ Object %s stored\n", args[0])
		return nil
	},
}

var objectTouchCmd = &cobra.Command{
	Use:   "touch ID",
	Short: "Refresh an object's touched_at timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		defer c.Close()
		if err := c.TouchObject(context.Background(), args[0]); err != nil {
			return fmt.Errorf("touch failed: %v", err)
		}
		fmt.Printf("✓ Object %s touched\n", args[0])
		return nil
	},
}

var objectPutBatchCmd = &cobra.Command{
	Use:   "put-batch ID=FILE [ID=FILE ...]",
	Short: "Store several id=file pairs in a single round trip",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items := make([]api.ObjectBatchItem, 0, len(args))
		for _, pair := range args {
			id, file, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid ID=FILE pair: %s", pair)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %v", file, err)
			}
			items = append(items, api.ObjectBatchItem{ID: id, Bytes: data})
		}
		c := newClient(cmd)
		defer c.Close()
		if err := c.PostObjectBatch(context.Background(), items); err != nil {
			return fmt.Errorf("put-batch failed: %v", err)
		}
		fmt.Printf("✓ Stored %d objects\n", len(items))
		return nil
	},
}

func init() {
	objectCmd.AddCommand(objectGetCmd)
	objectCmd.AddCommand(objectMetadataCmd)
	objectCmd.AddCommand(objectPutCmd)
	objectCmd.AddCommand(objectPutBatchCmd)
	objectCmd.AddCommand(objectTouchCmd)
}
