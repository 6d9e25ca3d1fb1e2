package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

const defaultRouterURL = "http://localhost:8083"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "splunkctl",
		Short: "Operate the splunkdesk agents",
		Long: `splunkctl loads datasets into Splunk over HEC, shows the index schema the
query agent sees, and sends questions to the routing agent.

Splunk access uses SPLUNK_HOST, SPLUNK_MGMT_PORT, SPLUNK_USERNAME,
SPLUNK_PASSWORD, SPLUNK_HEC_URL and SPLUNK_HEC_TOKEN.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newIngestCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newAuditCmd())
	return root
}

// routerURLFlag registers --router, defaulting to SPLUNKDESK_ROUTER_URL.
func routerURLFlag(cmd *cobra.Command, target *string) {
	def := os.Getenv("SPLUNKDESK_ROUTER_URL")
	if def == "" {
		def = defaultRouterURL
	}
	cmd.Flags().StringVar(target, "router", def, "Routing agent base URL")
}
