package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docpipe/internal/app"
	"github.com/markdave123-py/docpipe/internal/config"
)

func serveCMD() *cobra.Command {
	var port string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API: uploads, status polling, retrieval context",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				return a.RunAPI(ctx)
			}, func(cfg *config.Config) {
				if port != "" {
					cfg.Port = port
				}
			})
		},
	}
	serve.Flags().StringVar(&port, "port", "", "listen port (default $PORT or 8080)")
	return serve
}
