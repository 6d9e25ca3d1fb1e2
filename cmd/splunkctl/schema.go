package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"splunkdesk/internal/config"
	"splunkdesk/internal/splunk"
)

func newSchemaCmd() *cobra.Command {
	var (
		days   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the index data map the query agent is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := splunk.NewClient(splunk.ConfigFromEnv())
			s, err := client.DiscoverSchema(cmd.Context(), days)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			fmt.Fprintln(cmd.OutOrStdout(), splunk.FormatSchema(s))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", config.DefaultSchemaDaysBack, "Look-back window in days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
