package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var migrationsDir string

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			logger := log.New(log.Writer(), "[SERVE] ", log.LstdFlags)

			app, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.close(logger)

			dsn, err := app.cfg.Postgres.DSN()
			if err != nil {
				return err
			}
			if err := server.Migrate(migrationsDir, dsn, "up", 0); err != nil {
				return err
			}

			srv, err := server.New(app.serverDeps())
			if err != nil {
				return err
			}
			return srv.Start(app.cfg.Server.Address)
		},
	}
	serve.Flags().StringVar(&migrationsDir, "migrations", "file://migrations", "migrations source")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
