// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/decentraleyes/loadwatcher/internal/api"
	"github.com/decentraleyes/loadwatcher/internal/config"
	"github.com/decentraleyes/loadwatcher/internal/network"
	"github.com/decentraleyes/loadwatcher/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the interception proxy and the taint lookup API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if err := applyServeFlags(cmd, cfg); err != nil {
				return err
			}
			if !cfg.Proxy().Enabled && !cfg.API().Enabled {
				return fmt.Errorf("nothing to serve: both the proxy and the API are disabled")
			}

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)

			if cfg.Proxy().Enabled {
				proxy, err := newWatchProxy(cfg.Proxy(), components, logger)
				if err != nil {
					_ = components.Shutdown()
					return err
				}
				g.Go(func() error {
					return proxy.Start(gctx, cfg.Proxy().Address)
				})
			}

			if cfg.API().Enabled {
				server := api.NewServer(components.Store, api.Options{
					Gatherer:   components.Registry,
					AuthSecret: cfg.API().AuthSecret,
				}, logger)
				g.Go(func() error {
					return server.Start(gctx, cfg.API().Address)
				})
			}

			logger.Info("Load watcher serving.",
				zap.Bool("proxy", cfg.Proxy().Enabled),
				zap.Bool("api", cfg.API().Enabled),
				zap.Int("tainted_domains", components.Store.Len()),
			)

			runErr := g.Wait()
			if err := components.Shutdown(); err != nil {
				logger.Error("Shutdown completed with errors.", zap.Error(err))
			}
			if runErr != nil {
				return runErr
			}
			logger.Info("Load watcher stopped.")
			return nil
		},
	}

	serveCmd.Flags().String("proxy-addr", "", "Address for the interception proxy. (Overrides config/env)")
	serveCmd.Flags().String("api-addr", "", "Address for the lookup API. (Overrides config/env)")
	serveCmd.Flags().String("backend", "", "Storage backend: file, sqlite, postgres or redis. (Overrides config/env)")
	serveCmd.Flags().String("storage-path", "", "Path for the file and sqlite backends. (Overrides config/env)")
	serveCmd.Flags().Bool("no-proxy", false, "Disable the interception proxy.")
	serveCmd.Flags().Bool("no-api", false, "Disable the lookup API.")
	return serveCmd
}

// applyServeFlags lets explicitly set flags override the loaded configuration.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("proxy-addr") {
		v, _ := flags.GetString("proxy-addr")
		cfg.SetProxyAddress(v)
	}
	if flags.Changed("api-addr") {
		v, _ := flags.GetString("api-addr")
		cfg.SetAPIAddress(v)
	}
	if flags.Changed("backend") {
		v, _ := flags.GetString("backend")
		cfg.SetStorageBackend(v)
	}
	if flags.Changed("storage-path") {
		v, _ := flags.GetString("storage-path")
		cfg.SetStoragePath(v)
	}
	if off, _ := flags.GetBool("no-proxy"); off {
		cfg.ProxyCfg.Enabled = false
	}
	if off, _ := flags.GetBool("no-api"); off {
		cfg.APICfg.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func newWatchProxy(cfg config.ProxyConfig, c *watcherComponents, logger *zap.Logger) (*network.WatchProxy, error) {
	var caCert, caKey []byte
	if cfg.CACert != "" {
		var err error
		caCert, caKey, err = network.LoadCA(cfg.CACert, cfg.CAKey)
		if err != nil {
			return nil, err
		}
	}
	proxy, err := network.NewWatchProxy(c.Deliverer, caCert, caKey, network.NewDefaultUpstreamConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}
	return proxy, nil
}
