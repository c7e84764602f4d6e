package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/keksclan/goFwdAuth/fwdauth"
	"github.com/keksclan/goFwdAuth/internal/logging"
	"github.com/keksclan/goFwdAuth/internal/metrics"
	"github.com/keksclan/goFwdAuth/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath, envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forward-auth server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath, envFile)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml, toml or json); empty reads the environment only")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional .env file loaded before environment overrides")
	return cmd
}

func serve(ctx context.Context, configPath, envFile string) error {
	d, err := loadConfig(configPath, envFile)
	if err != nil {
		return err
	}
	log, err := logging.New(d.log, "fwdauthd")
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gw, err := fwdauth.NewGateway(*d.auth,
		fwdauth.WithLogger(log),
		fwdauth.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return err
	}
	if d.auth.WarmOnBootstrap {
		if _, err := gw.Service(ctx); err != nil {
			// Checks answer 503 and the locator retries after RetryAfter.
			log.Warn().Err(err).Msg("initial service bootstrap failed")
		}
	}

	log.Info().Str("version", BuildVersion).Msg("fwdauthd starting")
	return server.New(d.server, gw, reg, log).Run(ctx)
}
