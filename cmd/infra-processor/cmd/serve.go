package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/infobroker"
	"github.com/occopus/infra-processor/internal/infrastructure/composer"
	"github.com/occopus/infra-processor/internal/infrastructure/resource"
	"github.com/occopus/infra-processor/internal/infrastructure/store"
	"github.com/occopus/infra-processor/internal/processor"
	"github.com/occopus/infra-processor/internal/remote"
	"github.com/occopus/infra-processor/internal/shared/logger"
	"github.com/occopus/infra-processor/pkg/events"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the processor as a remote worker",
	Long: `Connects to NATS and processes command batches from the work subject.
Management commands on the control subject are handled before queued work,
so a skip-until flushes the backlog ahead of it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.NewLoader().LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := cfg.Log
	if logCfg.Component == "" {
		logCfg.Component = "infra-processor"
	}
	logCfg.Version = version
	log := logger.New(logCfg)
	log.Info("starting infra-processor", "version", version)

	st, err := store.New(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	handler, err := resource.New(cfg.Resource, log)
	if err != nil {
		return fmt.Errorf("failed to create resource handler: %w", err)
	}

	registry := infobroker.NewRegistry()
	infobroker.RegisterProviders(registry, st, handler)

	bus := events.NewBus(log)
	defer bus.Close()

	deps := &processor.Dependencies{
		Store:                st,
		Resource:             handler,
		Composer:             composer.NewLoggingComposer(log),
		Broker:               registry,
		Events:               bus,
		Logger:               log,
		PollInterval:         cfg.Processor.PollInterval,
		DefaultCreateTimeout: cfg.Processor.DefaultCreateTimeout,
	}
	proc, err := processor.New(deps, cfg.Processor.Strategy)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	worker, err := remote.NewWorker(cfg.NATS, proc, log)
	if err != nil {
		return fmt.Errorf("failed to start remote worker: %w", err)
	}
	defer worker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shutting down")
	return nil
}
