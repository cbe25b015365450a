package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/energychat/internal/client"
	"github.com/user/energychat/internal/tui"
	"github.com/user/energychat/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("plain", false, "line mode without the terminal UI")
	chatCmd.Flags().String("server", "", "chat server URL (overrides client.server_url)")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the energy assistant",
	Long:  "Chat with the energy assistant. The terminal UI is used when stdin is a terminal; otherwise one message is read per line.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		serverURL := cfg.Client.ServerURL
		if s, _ := cmd.Flags().GetString("server"); s != "" {
			serverURL = s
		}
		transport := client.NewTransport(serverURL, types.NewConversationID())

		plain, _ := cmd.Flags().GetBool("plain")
		if plain || !tui.IsInteractive(os.Stdin) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return tui.RunPlain(ctx, transport, os.Stdin, os.Stdout)
		}

		return tui.Run(transport, tui.Options{
			Title:         "assistant",
			FlushInterval: time.Duration(cfg.Client.FlushIntervalMs) * time.Millisecond,
		})
	},
}
