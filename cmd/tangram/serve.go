package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tangramdotdev/tangram/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a tangram node: API server, indexer, and cleaner",
	Long: `Serve starts a tangram node in this process: it opens (or creates)
the on-disk layout under --data-dir, starts the indexer and cleaner
background loops, and serves the HTTP API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listenAddr, _ := cmd.Flags().GetString("listen")
		databaseDSN, _ := cmd.Flags().GetString("database-dsn")
		storeBackend, _ := cmd.Flags().GetString("store-backend")
		sqliteReaders, _ := cmd.Flags().GetInt("sqlite-readers")
		maxConcurrent, _ := cmd.Flags().GetInt64("max-concurrent-processes")
		cleanWatermark, _ := cmd.Flags().GetDuration("clean-watermark")
		apiKey, _ := cmd.Flags().GetString("api-key")
		remoteNames, _ := cmd.Flags().GetStringSlice("remote-name")
		remoteURLs, _ := cmd.Flags().GetStringSlice("remote-url")
		remoteKeys, _ := cmd.Flags().GetStringSlice("remote-api-key")

		if len(remoteNames) != len(remoteURLs) {
			return fmt.Errorf("--remote-name and --remote-url must be given the same number of times")
		}
		remotes := make([]server.RemoteConfig, 0, len(remoteNames))
		for i, name := range remoteNames {
			rc := server.RemoteConfig{Name: name, URL: remoteURLs[i]}
			if i < len(remoteKeys) {
				rc.APIKey = remoteKeys[i]
			}
			remotes = append(remotes, rc)
		}

		fmt.Println("Starting tangram server...")
		fmt.Printf("  Data Directory: %s\n", dataDir)
		fmt.Printf("  Listen Address: %s\n", listenAddr)
		for _, rc := range remotes {
			fmt.Printf("  Remote:         %s -> %s\n", rc.Name, rc.URL)
		}

		ctx := context.Background()
		srv, err := server.New(ctx, server.Config{
			DataDir:                dataDir,
			DatabaseDSN:            databaseDSN,
			StoreBackend:           storeBackend,
			SQLiteReaders:          sqliteReaders,
			MaxConcurrentProcesses: maxConcurrent,
			CleanWatermark:         cleanWatermark,
			APIKey:                 apiKey,
			Remotes:                remotes,
		})
		if err != nil {
			return fmt.Errorf("failed to construct server: %v", err)
		}
		fmt.Println("✓ Database, store, and collaborators initialized")

		srv.Start(ctx)
		fmt.Println("✓ Indexer, cleaner, and heartbeat monitor started")

		httpServer := &http.Server{
			Addr:              listenAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		fmt.Printf("✓ API listening on %s\n", listenAddr)
		fmt.Println()
		fmt.Println("Server is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "HTTP shutdown error: %v\n", err)
		}
		if err := srv.Close(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("data-dir", "./tangram-data", "Data directory for the server")
	serveCmd.Flags().String("listen", "127.0.0.1:8476", "Address the HTTP API listens on")
	serveCmd.Flags().String("database-dsn", "", "Postgres connection string (default: embedded SQLite under --data-dir)")
	serveCmd.Flags().String("store-backend", "bolt", "Object store backend: bolt or memory")
	serveCmd.Flags().Int("sqlite-readers", 0, "SQLite reader pool size (0 selects the default)")
	serveCmd.Flags().Int64("max-concurrent-processes", 0, "Process admission limit (0 selects the default)")
	serveCmd.Flags().Duration("clean-watermark", time.Hour, "Minimum idle time before clean considers an object evictable")
	serveCmd.Flags().String("api-key", "", "Require this API key on every request but /health")
	serveCmd.Flags().StringSlice("remote-name", nil, "Remote name (repeatable, paired by position with --remote-url)")
	serveCmd.Flags().StringSlice("remote-url", nil, "Remote URL (repeatable, paired by position with --remote-name)")
	serveCmd.Flags().StringSlice("remote-api-key", nil, "Remote API key, by position (optional, shorter than --remote-name is fine)")
}
