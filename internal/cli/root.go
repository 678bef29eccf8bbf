package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds the global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand builds the remediate-engine command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "remediate-engine",
		Short: "Anomaly-driven auto-remediation engine",
		Long: `remediate-engine collects metric snapshots, scores them for anomalies,
matches remediation rules, and dispatches guarded actions through the
action service. Every decision, including the ones not taken, lands in
an append-only audit ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to configuration file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
