package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docpipe/internal/app"
	"github.com/markdave123-py/docpipe/internal/config"
)

func workerCMD() *cobra.Command {
	var consumer, metricsAddr string
	var worker = &cobra.Command{
		Use:   "worker",
		Short: "Run the ingestion worker: one document at a time, plus the stale sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				return a.RunWorker(ctx)
			}, func(cfg *config.Config) {
				if consumer != "" {
					cfg.ConsumerName = consumer
				}
				if metricsAddr != "" {
					cfg.WorkerMetricsAddr = metricsAddr
				}
			})
		},
	}
	worker.Flags().StringVar(&consumer, "consumer", "", "consumer name within the group (default $CONSUMER_NAME or hostname)")
	worker.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (default $WORKER_METRICS_ADDR)")
	return worker
}
