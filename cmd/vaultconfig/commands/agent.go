package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultconfig/internal/config"
	"github.com/systmms/vaultconfig/internal/metrics"
)

func NewAgentCommand(cfg *config.Config) *cobra.Command {
	var (
		listen       string
		exposeValues bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Keep a Vault session alive and serve properties and metrics",
		Long: `Resolve properties once, keep the token renewed and serve:

  /metrics               Prometheus metrics
  /healthz               200 while the session is usable, 503 otherwise
  /v1/properties         property keys (values with --expose-values)
  /v1/properties/{key}   one value, only with --expose-values

The agent runs until interrupted and revokes tokens it obtained on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rec := metrics.NewRecorder()
			env, err := runBootstrap(ctx, cfg, true, rec)
			if err != nil {
				return err
			}

			serverCfg := metrics.DefaultServerConfig()
			serverCfg.Address = cfg.Metrics.Address
			if listen != "" {
				serverCfg.Address = listen
			}
			serverCfg.ExposeValues = exposeValues
			if exposeValues {
				cfg.Logger.Warn("Serving property values over HTTP on %s", serverCfg.Address)
			}

			server := metrics.NewServer(serverCfg, env, rec.Registry(), cfg.Logger)
			if err := server.Start(); err != nil {
				_ = env.Close(context.Background())
				return err
			}
			cfg.Logger.Info("Resolved %d properties for %s", env.Properties.Len(), env.Application.Name)

			<-ctx.Done()
			cfg.Logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			serverErr := server.Stop(shutdownCtx)
			if err := env.Close(shutdownCtx); err != nil {
				cfg.Logger.Warn("Token revocation failed: %v", err)
			}
			return serverErr
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: vaultconfig.metrics.address)")
	cmd.Flags().BoolVar(&exposeValues, "expose-values", false, "Serve property values, not only keys")

	return cmd
}
