package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pixgrid/internal/cli"
	"pixgrid/internal/config"
	"pixgrid/internal/logging"
	"pixgrid/internal/objectstore"
	"pixgrid/internal/pipeline"
	"pixgrid/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pixgrid:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	objects, err := objectstore.New(cfg.Paths.ObjectRoot)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, cfg)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, logger, store, pipe, objects).ExecuteContext(ctx)
}
