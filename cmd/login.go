// File: cmd/login.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/browser"
	"github.com/zetavg/session-proxy/internal/observability"
	"github.com/zetavg/session-proxy/internal/session"
)

func newLoginCmd() *cobra.Command {
	var startURL string

	loginCmd := &cobra.Command{
		Use:   "login <session-name>",
		Short: "Capture a session interactively in a real browser window",
		Long: `Opens a headful browser for you to log in to the target site.
Session state (cookies and storage) is snapshotted periodically and on exit,
and written to the named session file. Close the browser window when done.
If the session file already exists, its state is restored first so an
expiring login can be refreshed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := currentConfig()
			if err != nil {
				return err
			}
			// Interactive login needs a visible window.
			cfg.Browser.Headless = false

			store := session.NewStore(cfg.Sessions.Dir, logger)
			statePath := store.ResolvePath(args[0])

			manager := browser.NewManager(cfg.Browser, logger)
			defer func() {
				if err := manager.Shutdown(); err != nil {
					logger.Warn("Browser shutdown failed.", zap.Error(err))
				}
			}()

			logger.Info("Starting interactive login.",
				zap.String("session", args[0]),
				zap.String("state_path", statePath),
			)
			if err := browser.RunLogin(ctx, manager, statePath, startURL, logger); err != nil {
				return err
			}

			logger.Info("Session captured.", zap.String("state_path", statePath))
			return nil
		},
	}

	loginCmd.Flags().StringVar(&startURL, "url", "", "page to open first (e.g. the site's login page)")
	return loginCmd
}

func init() {
	rootCmd.AddCommand(newLoginCmd())
}
