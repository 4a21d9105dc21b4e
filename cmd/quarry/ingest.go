package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/source/fs"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var all bool
	var skipGraph bool

	var run = &cobra.Command{
		Use:   "ingest [source_id...]",
		Short: "Ingest documents synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)

			app, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.close(logger)

			var reqs []ingest.Request
			if all {
				root := app.cfg.Ingest.SourceRoot
				if root == "" {
					root = "."
				}
				conn, err := fs.New(root)
				if err != nil {
					return err
				}
				metas, err := conn.ListDocuments(ctx)
				if err != nil {
					return err
				}
				for _, meta := range metas {
					reqs = append(reqs, ingest.Request{
						SourceType: meta.SourceType,
						SourceID:   meta.SourceID,
						SkipGraph:  skipGraph,
					})
				}
			} else {
				for _, id := range args {
					reqs = append(reqs, ingest.Request{SourceType: fs.SourceType, SourceID: id, SkipGraph: skipGraph})
				}
			}
			if len(reqs) == 0 {
				return fmt.Errorf("nothing to ingest: pass source ids or --all")
			}

			results := app.pipeline.IngestBatch(ctx, reqs)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	run.Flags().BoolVar(&all, "all", false, "ingest every document under the source root")
	run.Flags().BoolVar(&skipGraph, "skip-graph", false, "skip graph synchronization")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}

func reconcileCMD() *cobra.Command {
	var cfgPath string
	var limit int

	var run = &cobra.Command{
		Use:   "reconcile",
		Short: "Retry graph synchronization for unsynced documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			logger := log.New(log.Writer(), "[RECONCILE] ", log.LstdFlags)

			app, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer app.close(logger)
			if app.reconciler == nil {
				return fmt.Errorf("graph engine not configured (graph.enabled)")
			}

			result, err := app.reconciler.Sweep(ctx, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	run.Flags().IntVar(&limit, "limit", 20, "max documents per sweep")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
