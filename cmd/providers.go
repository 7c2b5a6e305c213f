package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/koscakluka/ema-group/core/providers"
	"github.com/spf13/cobra"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the supported llm providers and their defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tBASE URL\tINTERRUPT METHOD")
			for _, name := range providers.Names() {
				defaults, err := providers.Defaults(string(name))
				if err != nil {
					return err
				}
				baseURL := defaults.BaseURL
				if baseURL == "" {
					baseURL = "-"
				}
				interruptMethod := string(defaults.InterruptMethod)
				if interruptMethod == "" {
					interruptMethod = "user"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, baseURL, interruptMethod)
			}
			return w.Flush()
		},
	}
}
