package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tangramdotdev/tangram/pkg/client"
	"github.com/tangramdotdev/tangram/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tangram",
	Short: "Tangram - content-addressed build and artifact system",
	Long: `Tangram stores build artifacts and process executions as a
content-addressed graph, checks out the results to disk, and
pulls/pushes subgraphs between nodes over a small HTTP API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tangram version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("address", "http://localhost:8476", "Tangram server address")
	rootCmd.PersistentFlags().String("api-key", "", "API key, if the server requires one")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(objectCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(blobCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(healthCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// newClient builds a pkg/client.Client from the root command's
// persistent --address/--api-key flags, the same connect-before-every-
// call pattern cmd/warren's subcommands use against client.NewClient.
func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("address")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		return client.NewClient(addr)
	}
	return client.NewClientWithAPIKey(addr, apiKey)
}
