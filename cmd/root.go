package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "emagroup",
		Short:         "Group conversations with a shared AI character",
		Long:          "emagroup runs a server where several people talk to one AI character together, and a terminal client to join such a conversation.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./ema-group.yaml or $XDG_CONFIG_HOME/ema-group/ema-group.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(&configPath),
		newClientCmd(),
		newSchemaCmd(),
		newProvidersCmd(),
	)

	return rootCmd
}
