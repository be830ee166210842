package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmarchant/cvsync/internal/history"
	"github.com/jmarchant/cvsync/internal/orcid"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Sandbox  bool
	Database string
	Limit    int
	RunID    int64
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <orcid-id>",
		Short: "Show recorded sync runs",
		Long: `List recorded sync runs for an ORCID iD, newest first.

With --run, shows the per-publication outcomes of one run instead.

Example:
  cvsync history 0000-0002-1825-0097
  cvsync history 0000-0002-1825-0097 --run 12`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Sandbox, "sandbox", false, "show sandbox runs")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the run history database (default ~/.cvsync/history.db)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().Int64Var(&opts.RunID, "run", 0, "show per-publication outcomes for one run id")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, orcidID string) error {
	configureLogging(opts.Verbose)
	env := environmentFor(opts.Sandbox)

	id, err := orcid.ValidateID(orcidID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid ORCID iD", err)
	}

	dbPath, err := resolvePath(opts.Database, "history.db")
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve history path", err)
	}
	ledger, err := history.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open run history", err)
	}
	defer ledger.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: os.Stderr, Verbose: opts.Verbose}
	out := cmd.OutOrStdout()

	if opts.RunID != 0 {
		actions, err := ledger.Actions(cmd.Context(), opts.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "read run actions", err)
		}
		if opts.Format == "json" {
			return formatter.Success(actions)
		}
		for _, a := range actions {
			fmt.Fprintf(out, "  %-7s %-9s %s", a.Outcome, a.Kind, a.Title)
			if a.RemoteID != "" {
				fmt.Fprintf(out, " [%s]", a.RemoteID)
			}
			fmt.Fprintln(out)
		}
		return nil
	}

	runs, err := ledger.Runs(cmd.Context(), id, string(env), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "read run history", err)
	}
	if opts.Format == "json" {
		return formatter.Success(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintf(out, "No recorded runs for %s (%s).\n", id, env)
		return nil
	}
	for _, r := range runs {
		mode := "sync"
		if r.DryRun {
			mode = "dry-run"
		}
		fmt.Fprintf(out, "  #%-4d %s  %-7s  matched %d  created %d  updated %d  skipped %d  failed %d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04"), mode,
			r.Matched, r.Created, r.Updated, r.Skipped, r.Failed)
	}
	return nil
}
