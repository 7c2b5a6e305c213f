package cmd

import (
	"errors"
	"os"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-group/internal/tui"
	"github.com/spf13/cobra"
)

func newClientCmd() *cobra.Command {
	opts := tui.Options{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a group conversation from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.GroupID == "" {
				return errors.New("--group is required")
			}
			if opts.Name == "" {
				opts.Name = defaultName()
			}
			return tui.Run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:12393/client-ws", "websocket url of the server")
	cmd.Flags().StringVar(&opts.GroupID, "group", "", "group to join")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name shown to the other members (default $USER)")

	return cmd
}

func defaultName() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "guest-" + uuid.NewString()[:8]
}
