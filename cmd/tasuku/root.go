package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tasuku",
	Short: "Synchronization server for shared task lists",
	Long: `tasuku keeps a shared ordered list of task items consistent across
concurrently connected clients.

Clients connect over WebSocket, receive a full ordered snapshot, and then
apply the canonical events the server broadcasts for every committed
mutation. All writes are serialized against a single embedded SQLite store,
so every connection observes the same total order of changes.

At startup the server performs a one-time migration from a legacy store
location when one is present and no current store exists yet.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./tasuku.yaml)")
}
