package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docpipe/internal/app"
	"github.com/markdave123-py/docpipe/internal/config"
)

func main() {
	var root = &cobra.Command{
		Use:           "docpipe",
		Short:         "PDF ingestion and retrieval for document-aware chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCMD(), workerCMD())
	if err := root.Execute(); err != nil {
		log.Fatalf("docpipe: %v", err)
	}
}

// run loads config, builds the App and calls fn until SIGINT/SIGTERM.
func run(fn func(ctx context.Context, a *app.App) error, override func(cfg *config.Config)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if override != nil {
		override(cfg)
	}

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	err = fn(ctx, application)
	log.Println("shutting down...")
	return err
}
