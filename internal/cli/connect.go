package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmarchant/cvsync/internal/auth"
)

// ConnectOptions holds flags for the connect command.
type ConnectOptions struct {
	*RootOptions
	Sandbox     bool
	Credentials string
}

// NewConnectCommand creates the connect command.
func NewConnectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConnectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "connect <orcid-id>",
		Short: "Authorize cvsync to manage an ORCID record",
		Long: `Run the OAuth authorization flow for an ORCID iD.

Prints a URL to open in a browser. After approving access, ORCID shows
an authorization code; paste it back here to finish. The resulting
credential is stored locally and reused by sync until it expires.

The OAuth client registration is read from ORCID_CLIENT_ID,
ORCID_CLIENT_SECRET, and optionally ORCID_REDIRECT_URL.

Example:
  cvsync connect 0000-0002-1825-0097
  cvsync connect 0000-0002-1825-0097 --sandbox`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Sandbox, "sandbox", false, "use the ORCID sandbox registry")
	cmd.Flags().StringVar(&opts.Credentials, "credentials", "", "path to the credentials file (default ~/.cvsync/credentials.yaml)")

	return cmd
}

func runConnect(cmd *cobra.Command, opts *ConnectOptions, orcidID string) error {
	configureLogging(opts.Verbose)
	env := environmentFor(opts.Sandbox)

	client, err := clientConfigFromEnv()
	if err != nil {
		return WrapExitError(ExitCommandError, "missing OAuth client configuration", err)
	}

	credPath, err := resolvePath(opts.Credentials, "credentials.yaml")
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve credentials path", err)
	}

	flow := auth.NewFlow(client, auth.NewFileTokenStore(credPath))

	req, err := flow.BeginAuthorization(orcidID, env)
	if err != nil {
		return WrapExitError(ExitCommandError, "begin authorization", err)
	}
	slog.Debug("authorization started", "orcid_id", orcidID, "environment", env)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Open this URL in a browser and approve access:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  "+req.URL)
	fmt.Fprintln(out)
	fmt.Fprint(out, "Paste the authorization code here: ")

	code, err := readLine(cmd.InOrStdin())
	if err != nil {
		flow.CancelAuthorization(orcidID, env)
		return WrapExitError(ExitCommandError, "read authorization code", err)
	}
	if code == "" {
		flow.CancelAuthorization(orcidID, env)
		return NewExitError(ExitCommandError, "no authorization code entered")
	}

	cred, err := flow.CompleteAuthorization(cmd.Context(), code, req.State)
	if err != nil {
		return WrapExitError(ExitCommandError, "complete authorization", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: out, ErrWriter: os.Stderr, Verbose: opts.Verbose}
	return formatter.Success(fmt.Sprintf("Connected %s (%s). Token valid until %s.",
		cred.OrcidID, cred.Environment, cred.ExpiresAt.Format("2006-01-02 15:04")))
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// configureLogging sets the default slog handler based on the verbose flag.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
