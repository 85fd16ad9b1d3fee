package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tasuku-app/tasuku/internal/config"
	"github.com/tasuku-app/tasuku/internal/hub"
	"github.com/tasuku-app/tasuku/internal/logging"
	"github.com/tasuku-app/tasuku/internal/migrate"
	"github.com/tasuku-app/tasuku/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync hub",
	Long: `Run the task synchronization hub.

Startup order:
  1. Migrate the legacy store, if one exists and no current store does.
     A migration failure is fatal; the hub never serves a partially
     migrated store.
  2. Open the task store.
  3. Accept WebSocket connections on the configured address.

Connect clients to:
  ws://<listen_addr>/ws

Example usage:
  tasuku serve
  tasuku serve --config /etc/tasuku/tasuku.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Migration must finish before the hub accepts any connection.
		migLogger := logging.NewWithFile("migrate", cfg.LogFile)
		if _, err := migrate.Run(ctx, cfg.LegacyDatabasePath, cfg.DatabasePath, migLogger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: migration failed: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.InitSchemaContext(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		srv := hub.NewServer(st, &hub.Config{
			Addr:       cfg.ListenAddr,
			SendBuffer: cfg.SendBuffer,
			Logger:     logging.NewWithFile("hub", cfg.LogFile),
		})

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start hub: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync hub started on %s\n", srv.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", srv.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			<-ctx.Done()
			return srv.Stop()
		})

		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Sync hub stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
