package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/config"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/report"
	"github.com/miradorstack/mirador-remediate/internal/store"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Start       string
	End         string
	Limit       int
	Summary     bool
	ExecutionID string
	Format      string
	StorePath   string
}

// NewAuditCommand queries the decision ledger straight from the SQLite
// store, without a running engine.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the decision ledger offline",
		Long: `Query the append-only decision ledger from the SQLite store.

The default window is the trailing 24 hours. --summary folds entries
into per-rule decision counts; --execution reconstructs one execution's
decision path.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&opts.End, "end", "", "window end (RFC3339, default now)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries (0 = all)")
	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "fold entries into per-rule summaries")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "trace one execution's decision path")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.Flags().StringVar(&opts.StorePath, "store", "", "SQLite store path (defaults to the configured path)")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	if opts.Format != "text" && opts.Format != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
	}

	storePath := opts.StorePath
	if storePath == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		storePath = cfg.Store.Path
	}

	st, err := store.Open(storePath)
	if err != nil {
		return utils.NewAppError("audit", "open store", err)
	}
	defer st.Close()

	start, end, err := utils.ResolveRange(opts.Start, opts.End, 24*time.Hour, time.Now().UTC())
	if err != nil {
		return err
	}

	entries, err := st.Range(cmd.Context(), start, end, opts.Limit)
	if err != nil {
		return utils.NewAppError("audit", "query ledger", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case opts.ExecutionID != "":
		trace := audit.Trace(entries, opts.ExecutionID)
		if trace == nil {
			return fmt.Errorf("no entries for execution %s between %s and %s",
				opts.ExecutionID, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		return printEntries(out, trace, opts.Format)
	case opts.Summary:
		return printSummaries(out, report.Summarize(entries), opts.Format)
	default:
		return printEntries(out, entries, opts.Format)
	}
}

func printEntries(w io.Writer, entries []models.AuditEntry, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "no entries in window")
		return nil
	}
	fmt.Fprintf(w, "%-6s %-21s %-11s %-20s %-14s %-22s %s\n",
		"SEQ", "TIME", "KIND", "RULE", "EXECUTION", "REASON", "DETAIL")
	for _, entry := range entries {
		fmt.Fprintf(w, "%-6d %-21s %-11s %-20s %-14s %-22s %s\n",
			entry.Seq,
			entry.Time.UTC().Format(time.RFC3339),
			entry.Kind,
			entry.RuleID,
			entry.ExecutionID,
			entry.Reason,
			entry.Detail,
		)
	}
	return nil
}

func printSummaries(w io.Writer, summaries []report.RuleSummary, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(w, "no decisions in window")
		return nil
	}
	fmt.Fprintf(w, "%-20s %-11s %-9s %-8s %-11s %-10s %-7s %s\n",
		"RULE", "CANDIDATES", "APPROVED", "BLOCKED", "SUPERSEDED", "SUCCEEDED", "FAILED", "SUCCESS")
	for _, summary := range summaries {
		blocked := 0
		for _, count := range summary.BlockedBy {
			blocked += count
		}
		fmt.Fprintf(w, "%-20s %-11d %-9d %-8d %-11d %-10d %-7d %.2f\n",
			summary.RuleID,
			summary.Candidates,
			summary.Approved,
			blocked,
			summary.Superseded,
			summary.Succeeded,
			summary.Failed,
			summary.SuccessRatio,
		)
	}
	return nil
}
