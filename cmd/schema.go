package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-group/core/transport/ws"
	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [inbound|outbound]",
		Short:     "Print the JSON schema of the websocket messages",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"inbound", "outbound"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "inbound"
			if len(args) == 1 {
				direction = args[0]
			}

			var schema *jsonschema.Schema
			switch direction {
			case "inbound":
				schema = ws.InboundSchema()
			case "outbound":
				schema = ws.OutboundSchema()
			default:
				return fmt.Errorf("unknown direction %q, expected inbound or outbound", direction)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}
