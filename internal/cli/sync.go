package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmarchant/cvsync/internal/auth"
	"github.com/jmarchant/cvsync/internal/cv"
	"github.com/jmarchant/cvsync/internal/history"
	"github.com/jmarchant/cvsync/internal/orcid"
	syncpkg "github.com/jmarchant/cvsync/internal/sync"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	DryRun       bool
	Sandbox      bool
	Publications string
	Credentials  string
	Database     string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <orcid-id>",
		Short: "Push local publications to an ORCID record",
		Long: `Synchronize the local publication list with an ORCID record.

Publications missing from the record are created; matched ones whose
registry copy differs are updated; works that exist only on the record
are reported but never touched. With --dry-run the full plan is shown
and nothing is written.

Example:
  cvsync sync 0000-0002-1825-0097 --dry-run
  cvsync sync 0000-0002-1825-0097 --sandbox`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan and report without writing to the registry")
	cmd.Flags().BoolVar(&opts.Sandbox, "sandbox", false, "use the ORCID sandbox registry")
	cmd.Flags().StringVar(&opts.Publications, "pubs", "", "path to publications.yaml (default ~/.cvsync/publications.yaml)")
	cmd.Flags().StringVar(&opts.Credentials, "credentials", "", "path to the credentials file (default ~/.cvsync/credentials.yaml)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the run history database (default ~/.cvsync/history.db)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions, orcidID string) error {
	configureLogging(opts.Verbose)
	env := environmentFor(opts.Sandbox)

	pubsPath, err := resolvePath(opts.Publications, "publications.yaml")
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve publications path", err)
	}
	credPath, err := resolvePath(opts.Credentials, "credentials.yaml")
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve credentials path", err)
	}
	dbPath, err := resolvePath(opts.Database, "history.db")
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve history path", err)
	}

	client, err := clientConfigFromEnv()
	if err != nil {
		return WrapExitError(ExitCommandError, "missing OAuth client configuration", err)
	}

	store, err := cv.Load(pubsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load publications", err)
	}
	slog.Debug("publications loaded", "path", pubsPath, "count", len(store.List()))

	mapper, err := orcid.NewMapper()
	if err != nil {
		return WrapExitError(ExitCommandError, "configure work type mapping", err)
	}

	registry := orcid.NewClient(env)
	flow := auth.NewFlow(client, auth.NewFileTokenStore(credPath))
	executor := syncpkg.NewExecutor(registry, flow)
	engine := syncpkg.NewEngine(store, registry, flow, mapper, executor)

	slog.Info("sync starting", "orcid_id", orcidID, "environment", env, "dry_run", opts.DryRun)
	report, runErr := engine.Run(cmd.Context(), orcidID, env, opts.DryRun)
	if runErr != nil {
		return syncRunExitError(runErr)
	}

	// Creates may have attached external refs; persist them.
	if !opts.DryRun {
		if err := store.Save(); err != nil {
			return WrapExitError(ExitCommandError, "save publications", err)
		}
	}

	ledger, err := history.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open run history", err)
	}
	defer ledger.Close()
	if _, err := ledger.RecordRun(cmd.Context(), report); err != nil {
		return WrapExitError(ExitCommandError, "record run history", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: os.Stderr, Verbose: opts.Verbose}
	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		renderReport(cmd.OutOrStdout(), report)
	}

	if report.FailedCount > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d publication(s) failed to sync", report.FailedCount))
	}
	return nil
}

// syncRunExitError maps engine run errors to exit-coded CLI errors. All of
// them are command-level: the run never started executing actions.
func syncRunExitError(err error) error {
	code := syncpkg.RunErrorCodeOf(err)
	switch {
	case errors.Is(err, auth.ErrCredentialNotFound):
		return WrapExitError(ExitCommandError, "not connected; run 'cvsync connect' first", err)
	case errors.Is(err, auth.ErrReauthorizationRequired):
		return WrapExitError(ExitCommandError, "credential expired; run 'cvsync connect' again", err)
	case code == syncpkg.CodeRunInFlight:
		return WrapExitError(ExitCommandError, "a sync for this record is already running", err)
	case code == syncpkg.CodeInvalidIdentity:
		return WrapExitError(ExitCommandError, "invalid ORCID iD", err)
	default:
		return WrapExitError(ExitCommandError, "sync failed", err)
	}
}
