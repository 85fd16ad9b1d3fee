package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tasuku-app/tasuku/internal/client"
	"github.com/tasuku-app/tasuku/internal/hub"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a sync hub and print the live event stream",
	Long: `Connect to a running sync hub as a client and print the snapshot
followed by every canonical event as it is broadcast.

After a transport drop the client reconnects automatically and prints the
fresh snapshot it resynchronizes from.

Example usage:
  tasuku watch
  tasuku watch --url ws://10.0.0.5:7432/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		url, _ := cmd.Flags().GetString("url")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := client.New(url)
		if err := c.Connect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		go func() {
			_ = c.Run(ctx)
		}()

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", url)

		for ev := range c.Events() {
			switch ev.Type {
			case hub.MessageTypeSnapshot:
				fmt.Printf("snapshot: %d tasks\n", len(ev.Tasks))
				for _, t := range ev.Tasks {
					fmt.Printf("  [%d] %s %s\n", t.OrderIndex, t.ID, t.Title)
				}
			case hub.MessageTypeItemCreated:
				fmt.Printf("created: %s %s\n", ev.Task.ID, ev.Task.Title)
			case hub.MessageTypeItemUpdated:
				fmt.Printf("updated: %s %s\n", ev.Task.ID, ev.Task.Title)
			case hub.MessageTypeItemDeleted:
				fmt.Printf("deleted: %s\n", ev.ID)
			case hub.MessageTypeError:
				fmt.Printf("error: %s\n", ev.Message)
			}
		}
	},
}

func init() {
	watchCmd.Flags().String("url", "ws://127.0.0.1:7432/ws", "WebSocket URL of the sync hub")
	rootCmd.AddCommand(watchCmd)
}
