package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the archive sweeper and blob janitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			ctx := cmd.Context()
			application, err := app.New(ctx, cfg, logr)
			if err != nil {
				logr.Error("bootstrap failed", zap.Error(err))
				return err
			}
			defer application.Close(ctx)

			return application.Run(ctx)
		},
	}
}
