package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-remediate/internal/config"
	"github.com/miradorstack/mirador-remediate/internal/rules"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	RulesPath string
}

// NewValidateCommand checks configuration and rule packs without starting
// the engine. Intended as a CI gate for rule changes.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and rule pack without starting the engine",
		Long: `Validate the configuration file and the rule pack it references.

All problems are reported together so a bad file can be fixed in one
pass. Exits non-zero when anything is invalid.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RulesPath, "rules", "", "rule pack to validate (defaults to the configured path)")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	var problems []string

	rulesPath := opts.RulesPath
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		problems = append(problems, fmt.Sprintf("config: %v", err))
	} else {
		if err := cfg.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("config: %v", err))
		} else {
			fmt.Fprintln(out, "config ok")
		}
		if rulesPath == "" {
			rulesPath = cfg.Rules.Path
		}
	}

	if rulesPath != "" {
		pack, err := rules.LoadPack(rulesPath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("rules: %v", err))
		} else {
			fmt.Fprintf(out, "rule pack ok: %d rules (checksum %s)\n", len(pack.Rules), pack.Checksum)
		}
	}

	if len(problems) > 0 {
		for _, problem := range problems {
			fmt.Fprintln(cmd.ErrOrStderr(), problem)
		}
		return fmt.Errorf("validation failed with %d problem(s)", len(problems))
	}
	return nil
}
