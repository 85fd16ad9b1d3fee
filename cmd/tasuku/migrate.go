package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tasuku-app/tasuku/internal/config"
	"github.com/tasuku-app/tasuku/internal/logging"
	"github.com/tasuku-app/tasuku/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the legacy store migration standalone",
	Long: `Copy a legacy task store into the current schema and location.

The migration is idempotent: it never overwrites an existing store, and a
missing legacy store is a successful no-op. The legacy store itself is left
in place. serve runs this automatically at startup; this command exists to
run it by hand or to verify an upgrade ahead of time.

Example usage:
  tasuku migrate
  tasuku migrate --from /old/todo.db --to /data/tasuku.db`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if from == "" {
			from = cfg.LegacyDatabasePath
		}
		if to == "" {
			to = cfg.DatabasePath
		}

		result, err := migrate.Run(cmd.Context(), from, to, logging.New("migrate"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: migration failed: %v\n", err)
			os.Exit(1)
		}

		if result.Skipped {
			fmt.Printf("Migration skipped: %s\n", result.Reason)
			return
		}
		fmt.Printf("Migration complete: %d tasks copied from %s to %s\n", result.TasksCopied, from, to)
	},
}

func init() {
	migrateCmd.Flags().String("from", "", "Legacy store path (default: from config)")
	migrateCmd.Flags().String("to", "", "New store path (default: from config)")
	rootCmd.AddCommand(migrateCmd)
}
