package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmarchant/cvsync/internal/cv"
	"github.com/jmarchant/cvsync/internal/orcid"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Sandbox      bool
	Publications string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <orcid-id>",
		Short: "Pull registry-only works into the local publication list",
		Long: `Import works from an ORCID record into the local publication list.

Reads the record through the public API (no authorization needed) and
adds works that are not already present locally, judged by DOI or
title. Works whose registry type has no local category are imported as
"unmapped" and excluded from future syncs.

Example:
  cvsync import 0000-0002-1825-0097
  cvsync import 0000-0002-1825-0097 --sandbox --pubs ./publications.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Sandbox, "sandbox", false, "use the ORCID sandbox registry")
	cmd.Flags().StringVar(&opts.Publications, "pubs", "", "path to publications.yaml (default ~/.cvsync/publications.yaml)")

	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions, orcidID string) error {
	configureLogging(opts.Verbose)
	env := environmentFor(opts.Sandbox)

	id, err := orcid.ValidateID(orcidID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid ORCID iD", err)
	}

	pubsPath, err := resolvePath(opts.Publications, "publications.yaml")
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve publications path", err)
	}
	store, err := cv.Load(pubsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load publications", err)
	}

	mapper, err := orcid.NewMapper()
	if err != nil {
		return WrapExitError(ExitCommandError, "configure work type mapping", err)
	}

	registry := orcid.NewPublicClient(env)
	works, err := registry.Works(cmd.Context(), id, "")
	if err != nil {
		return WrapExitError(ExitCommandError, "fetch works from registry", err)
	}
	slog.Debug("works fetched", "orcid_id", id, "count", len(works))

	incoming := make([]cv.Publication, 0, len(works))
	for _, w := range works {
		category, ok := mapper.CategoryFor(w.WorkType)
		if !ok {
			category = cv.CategoryUnmapped
		}
		incoming = append(incoming, cv.Publication{
			Category:    category,
			Title:       w.Title,
			Year:        w.Year,
			DOI:         w.DOI,
			ExternalRef: w.RemoteID,
		})
	}

	added := store.Merge(incoming)
	if added > 0 {
		if err := store.Save(); err != nil {
			return WrapExitError(ExitCommandError, "save publications", err)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: os.Stderr, Verbose: opts.Verbose}
	return formatter.Success(fmt.Sprintf("Imported %d of %d work(s) from %s (%s).", added, len(works), id, env))
}
