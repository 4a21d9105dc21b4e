package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/queue/streams"
	"github.com/quarrylabs/quarry/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var sweepInterval time.Duration

	var run = &cobra.Command{
		Use:   "worker",
		Short: "Run the ingestion worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.close(logger)
			if app.redis == nil {
				return fmt.Errorf("worker requires redis (redis.addr)")
			}

			stream := app.cfg.Ingest.Stream
			group := app.cfg.Ingest.ConsumerGroup
			name := app.cfg.Ingest.ConsumerName
			if name == "" {
				host, _ := os.Hostname()
				name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
			}
			if err := streams.EnsureGroup(ctx, app.redis, stream, group); err != nil {
				return err
			}

			consumer := streams.NewConsumer(app.redis, group, name)
			w := worker.New(consumer, app.pipeline, app.store, app.reconciler, worker.Options{
				Stream:        stream,
				SweepInterval: sweepInterval,
			}, logger)

			err = w.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	run.Flags().DurationVar(&sweepInterval, "sweep-interval", 5*time.Minute, "graph reconciliation sweep interval (0 disables)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
