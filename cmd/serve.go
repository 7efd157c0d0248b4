// File: cmd/serve.go
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/browser"
	"github.com/zetavg/session-proxy/internal/fetch"
	"github.com/zetavg/session-proxy/internal/observability"
	"github.com/zetavg/session-proxy/internal/proxy"
	"github.com/zetavg/session-proxy/internal/session"
)

const shutdownGracePeriod = 15 * time.Second

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session proxy server",
		Long: `Starts the long-running proxy process. Clients request
GET /v1?session=<name>&url=<target> and receive either a direct streamed
fetch with injected session cookies or, for HTML targets, a fully rendered
document from a browser context restored from the session.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.host", cmd.Flags().Lookup("host")); err != nil {
				return err
			}
			return viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := currentConfig()
			if err != nil {
				return err
			}

			store := session.NewStore(cfg.Sessions.Dir, logger)
			locks := session.NewPathLocks()
			fetcher := fetch.New(cfg.Network, logger)

			manager := browser.NewManager(cfg.Browser, logger)
			defer func() {
				if err := manager.Shutdown(); err != nil {
					logger.Warn("Browser shutdown failed.", zap.Error(err))
				}
			}()

			cache := browser.NewContextCache(store, locks, manager.ContextFactory(), cfg.Browser.ContextIdleTimeout, logger)
			go cache.Run(ctx)

			handler := proxy.NewHandler(store, locks, fetcher, cache, cfg.Network.NavigationTimeout, logger)
			srv := proxy.NewServer(cfg.Server, handler, logger)

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutdown signal received.")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Server drain incomplete.", zap.Error(err))
			}
			cache.PersistAndCloseAll()
			return <-serveErr
		},
	}

	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	return serveCmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
